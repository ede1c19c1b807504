package signer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// FutureTolerance is how far IssuedAt may lie ahead of the verifier's clock.
const FutureTolerance = time.Minute

// PhysicalPayload attests a physical token. Times are Unix milliseconds;
// ExpiresAt of zero never expires.
type PhysicalPayload struct {
	TokenID   string  `json:"token_id"`
	Mint      string  `json:"mint"`
	Serial    string  `json:"serial"`
	Owner     string  `json:"owner,omitempty"`
	IssuedAt  int64   `json:"issued_at"`
	ExpiresAt int64   `json:"expires_at,omitempty"`
	ValueEUR  float64 `json:"value_eur"`
}

// SignedPayload is a payload with its hex signature and the signer key ID.
type SignedPayload struct {
	Payload   PhysicalPayload `json:"payload"`
	Signature string          `json:"signature"`
	Signer    string          `json:"signer"`
	Alg       string          `json:"alg"`
	Timestamp time.Time       `json:"timestamp"`
}

// PayloadChecks are the individual verification results.
type PayloadChecks struct {
	SignatureValid bool `json:"signature_valid"`
	NotExpired     bool `json:"not_expired"`
	NotFuture      bool `json:"not_future"`
	SignerValid    bool `json:"signer_valid"`
}

// All reports whether every check passed.
func (c PayloadChecks) All() bool {
	return c.SignatureValid && c.NotExpired && c.NotFuture && c.SignerValid
}

// PayloadVerification is the result of VerifyPayload.
type PayloadVerification struct {
	Valid   bool            `json:"valid"`
	Checks  PayloadChecks   `json:"checks"`
	Payload PhysicalPayload `json:"payload"`
	Error   string          `json:"error,omitempty"`
}

// SignPayload signs the JSON encoding of p. A zero IssuedAt is set to now.
func SignPayload(s Signer, p PhysicalPayload, now time.Time) (SignedPayload, error) {
	if p.TokenID == "" {
		return SignedPayload{}, fmt.Errorf("payload token_id is required")
	}
	if p.IssuedAt == 0 {
		p.IssuedAt = now.UnixMilli()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return SignedPayload{}, fmt.Errorf("marshal payload: %w", err)
	}
	sig, err := s.Sign(data)
	if err != nil {
		return SignedPayload{}, fmt.Errorf("sign payload: %w", err)
	}
	return SignedPayload{
		Payload:   p,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Signer:    s.KeyID(),
		Alg:       s.Algorithm(),
		Timestamp: now.UTC(),
	}, nil
}

// VerifyPayload checks the signature, expiry, issue time and signer identity.
// Every check is reported even when an earlier one fails.
func VerifyPayload(s Signer, sp SignedPayload, now time.Time) PayloadVerification {
	out := PayloadVerification{Payload: sp.Payload}

	data, err := json.Marshal(sp.Payload)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	sig, err := base64.StdEncoding.DecodeString(sp.Signature)
	if err != nil {
		out.Error = "signature is not valid base64"
	} else {
		out.Checks.SignatureValid = s.Verify(data, sig)
	}

	nowMs := now.UnixMilli()
	out.Checks.NotExpired = sp.Payload.ExpiresAt == 0 || sp.Payload.ExpiresAt > nowMs
	out.Checks.NotFuture = sp.Payload.IssuedAt <= nowMs+FutureTolerance.Milliseconds()
	out.Checks.SignerValid = sp.Signer == s.KeyID()
	out.Valid = out.Checks.All()
	return out
}
