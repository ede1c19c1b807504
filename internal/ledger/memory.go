package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Transfer is a completed movement recorded by Memory.
type Transfer struct {
	Reference string
	From      string
	To        string
	Amount    decimal.Decimal
}

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	transfers []Transfer
	failWith  error
}

// NewMemory returns an empty ledger. Accounts exist once funded or credited.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

// Fund sets the balance of account.
func (m *Memory) Fund(account string, amount decimal.Decimal) {
	m.mu.Lock()
	m.balances[account] = amount
	m.mu.Unlock()
}

// FailWith makes every subsequent call return err. nil restores normal
// operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Balance returns ErrUnknownAccount for accounts never funded.
func (m *Memory) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return decimal.Zero, m.failWith
	}
	bal, ok := m.balances[account]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return bal, nil
}

// Transfer moves amount and returns a base58 reference. Unknown sources,
// non-positive amounts and insufficient funds are rejections.
func (m *Memory) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !amount.IsPositive() {
		return "", &RejectedError{Reason: ErrInvalidAmount.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return "", m.failWith
	}
	bal, ok := m.balances[from]
	if !ok {
		return "", &RejectedError{Reason: "unknown source account"}
	}
	if bal.LessThan(amount) {
		return "", &RejectedError{Reason: "insufficient funds"}
	}

	ref, err := newReference()
	if err != nil {
		return "", err
	}
	m.balances[from] = bal.Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	m.transfers = append(m.transfers, Transfer{Reference: ref, From: from, To: to, Amount: amount})
	return ref, nil
}

// Transfers returns a copy of the recorded transfers.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.transfers...)
}

// newReference returns a base58 string shaped like a transaction signature.
func newReference() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return base58.Encode(buf), nil
}
