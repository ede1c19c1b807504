// Package signer provides the signing keys used for audit entries and
// physical token payloads.
package signer

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
)

const (
	AlgHMAC    = "hmac-sha256"
	AlgEd25519 = "ed25519"
)

// Key derivation labels.
const (
	PurposeAudit   = "tokengate/audit/v1"
	PurposePayload = "tokengate/payload/v1"
)

// ErrEmptyKey is returned for a zero-length HMAC key.
var ErrEmptyKey = errors.New("signing key is empty")

// Signer signs and verifies opaque byte strings.
type Signer interface {
	Algorithm() string
	// KeyID identifies the key. For Ed25519 it is the base58 public key.
	KeyID() string
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) bool
}

// DeriveKey expands master into a 32-byte key bound to purpose.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrEmptyKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

// RandomMaster returns a random master secret for development use.
func RandomMaster() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HMAC signs with HMAC-SHA256.
type HMAC struct {
	id  string
	key []byte
}

// NewHMAC copies key. id is reported as the key ID.
func NewHMAC(id string, key []byte) (*HMAC, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return &HMAC{id: id, key: append([]byte(nil), key...)}, nil
}

func (h *HMAC) Algorithm() string { return AlgHMAC }
func (h *HMAC) KeyID() string     { return h.id }

func (h *HMAC) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (h *HMAC) Verify(data, sig []byte) bool {
	expected, _ := h.Sign(data)
	return hmac.Equal(expected, sig)
}

// Ed25519 signs with an Ed25519 key pair. Its key ID is the base58 public key.
type Ed25519 struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519 builds a key pair from a 32-byte seed.
func NewEd25519(seed []byte) (*Ed25519, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (e *Ed25519) Algorithm() string { return AlgEd25519 }
func (e *Ed25519) KeyID() string     { return base58.Encode(e.pub) }

func (e *Ed25519) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(e.priv, data), nil
}

func (e *Ed25519) Verify(data, sig []byte) bool {
	return ed25519.Verify(e.pub, data, sig)
}

// New builds a signer for algorithm from a master secret.
func New(algorithm, id string, master []byte, purpose string) (Signer, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	switch algorithm {
	case "hmac", AlgHMAC:
		return NewHMAC(id, key)
	case AlgEd25519:
		return NewEd25519(key)
	default:
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}
}
