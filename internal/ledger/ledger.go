// Package ledger defines the boundary to the external value-transfer service
// and provides an in-memory ledger and an HTTP gateway client.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// AddressLength is the decoded size of a destination public key.
const AddressLength = 32

var (
	// ErrUnavailable means the ledger could not be reached or timed out.
	ErrUnavailable    = errors.New("ledger unavailable")
	ErrInvalidAddress = errors.New("invalid address")
	ErrUnknownAccount = errors.New("unknown account")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// RejectedError is returned when the ledger refused the transfer.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "ledger rejected transfer: " + e.Reason
}

// Service moves value between accounts. Implementations must honor ctx
// cancellation; callers bound every call with a timeout.
type Service interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error)
}

// ValidateAddress checks that addr is base58 and decodes to a 32-byte key.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AddressLength {
		return fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidAddress, len(raw), AddressLength)
	}
	return nil
}
