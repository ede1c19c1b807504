package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/signer"
)

// EntrySigner seals audit entries so tampering is detectable downstream.
type EntrySigner struct {
	s signer.Signer
}

// NewEntrySigner signs with s.
func NewEntrySigner(s signer.Signer) *EntrySigner {
	return &EntrySigner{s: s}
}

// canonical is the signed form: the entry with an empty signature.
func canonical(e models.AuditEntry) ([]byte, error) {
	e.Signature = ""
	return json.Marshal(e)
}

// Sign returns the hex signature of e.
func (es *EntrySigner) Sign(e models.AuditEntry) (string, error) {
	data, err := canonical(e)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	sig, err := es.s.Sign(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether e.Signature matches its content.
func (es *EntrySigner) Verify(e models.AuditEntry) bool {
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	data, err := canonical(e)
	if err != nil {
		return false
	}
	return es.s.Verify(data, sig)
}
