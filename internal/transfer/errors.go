package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// ErrLimiterUnavailable means the rate-limit backend could not be read. The
// transfer is refused rather than allowed unchecked.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// VerificationError is returned when the physical token precondition fails.
type VerificationError struct {
	TokenID string
	Status  models.TokenStatus
	Reason  string
}

func (e *VerificationError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("physical verification failed for token %q: %s", e.TokenID, e.Reason)
	}
	return fmt.Sprintf("physical verification failed for token %q (%s): %s", e.TokenID, e.Status, e.Reason)
}

// SecurityRejectedError carries the full ordered findings and the risk
// assessment so callers can adjust the request.
type SecurityRejectedError struct {
	Decision models.GateDecision
}

func (e *SecurityRejectedError) Error() string {
	blocking := e.Decision.Blocking()
	if len(blocking) == 0 {
		return "transfer rejected by security gate"
	}
	return fmt.Sprintf("transfer rejected by security gate: %s (%d blocking findings)", blocking[0].Code, len(blocking))
}

// RateLimitError is returned when the recipient reached the window cap.
type RateLimitError struct {
	State   models.RateLimitState
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d of %d transfers this window, resets at %s",
		e.State.Key, e.State.Count, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// NotAllowedError is returned by the network-mode gate.
type NotAllowedError struct {
	Network string
	Reason  string
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("transfers not allowed on %s: %s", e.Network, e.Reason)
}
