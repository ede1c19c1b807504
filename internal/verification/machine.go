// Package verification implements the physical token state machine:
// PENDING events become VERIFIED or FAILED and never leave a terminal state.
package verification

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/store"
)

var (
	// ErrClassificationAmbiguous means the packet matched no presence
	// heuristic. Callers ignore the packet.
	ErrClassificationAmbiguous = errors.New("packet is not a physical-presence event")
	ErrTokenNotFound           = errors.New("token not found")
)

// Failure reasons recorded on FAILED events.
const (
	ReasonNodeUntrusted = "node not trustworthy"
	ReasonImplausible   = "sensor readings not plausible"
	ReasonNoPresence    = "no presence signal"
	ReasonExpired       = "event expired"
)

// NodeTrust is satisfied by registry.Registry.
type NodeTrust interface {
	IsTrustworthy(nodeID string) bool
}

// Config controls the machine. The TTLs drive Cleanup; MaxEventAge and
// UsableWindow drive Verify and IsUsableForTransfer.
type Config struct {
	Policy       Policy
	AutoVerify   bool
	PendingTTL   time.Duration
	VerifiedTTL  time.Duration
	MaxEventAge  time.Duration
	UsableWindow time.Duration
}

// DefaultConfig enables auto-verification with the default policy.
func DefaultConfig() Config {
	return Config{
		Policy:       DefaultPolicy(),
		AutoVerify:   true,
		PendingTTL:   10 * time.Minute,
		VerifiedTTL:  2 * time.Hour,
		MaxEventAge:  5 * time.Minute,
		UsableWindow: time.Hour,
	}
}

// Machine owns the pending, verified and failed pools. Transitions are
// serialized by mu; reads go straight to the stores.
type Machine struct {
	cfg    Config
	nodes  NodeTrust
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	pending  store.Store[models.TokenEvent]
	verified store.Store[models.TokenEvent]
	failed   store.Store[models.TokenEvent]

	listeners []func(models.TokenEvent)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithListener registers fn to be called after every state change,
// including registration.
func WithListener(fn func(models.TokenEvent)) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, fn) }
}

// NewMachine creates a machine with empty pools. nodes decides whether the
// reporting node is trusted.
func NewMachine(cfg Config, nodes NodeTrust, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		cfg:    cfg,
		nodes:  nodes,
		now:    time.Now,
		logger: logger,
		pending: store.NewMemory(func(e models.TokenEvent) time.Time {
			return e.Timestamp
		}),
		verified: store.NewMemory(func(e models.TokenEvent) time.Time {
			if e.VerifiedAt == nil {
				return e.Timestamp
			}
			return *e.VerifiedAt
		}),
		failed: store.NewMemory(func(e models.TokenEvent) time.Time {
			if e.FailedAt == nil {
				return e.Timestamp
			}
			return *e.FailedAt
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify applies the configured policy to p.
func (m *Machine) Classify(p models.Packet) bool {
	return m.cfg.Policy.Classify(p)
}

// Register records a PENDING event for a classified packet and, when
// auto-verification is enabled, resolves it immediately. A token ID that is
// already tracked returns the existing record unchanged.
func (m *Machine) Register(p models.Packet) (*models.TokenEvent, error) {
	if !m.Classify(p) {
		return nil, ErrClassificationAmbiguous
	}

	ev := m.newEvent(p)

	m.mu.Lock()
	if existing, ok := m.lookupLocked(ev.TokenID); ok {
		m.mu.Unlock()
		m.logger.Debug("duplicate token event ignored", logging.TokenID(ev.TokenID), logging.NodeID(p.SourceID))
		return &existing, nil
	}
	m.pending.Put(ev.TokenID, ev)
	m.mu.Unlock()

	metrics.TokenTransitions.WithLabelValues(string(models.TokenPending)).Inc()
	m.logger.Info("token event registered", logging.TokenID(ev.TokenID), logging.NodeID(ev.NodeID))
	m.notify(ev)

	if m.cfg.AutoVerify {
		m.AttemptAutoVerify(&ev)
	}
	return &ev, nil
}

func (m *Machine) newEvent(p models.Packet) models.TokenEvent {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}

	tokenID := p.VerificationCode
	if tokenID == "" {
		tokenID = uuid.Must(uuid.NewV7()).String()
	}

	ev := models.TokenEvent{
		TokenID:          tokenID,
		NodeID:           p.SourceID,
		VerificationCode: p.VerificationCode,
		Timestamp:        ts,
		Sensors: models.SensorSnapshot{
			Temperature:      p.Temperature,
			Humidity:         p.Humidity,
			PresenceDetected: p.PresenceDetected != nil && *p.PresenceDetected,
		},
		Status: models.TokenPending,
	}
	if p.Weight != nil {
		ev.Sensors.Weight = *p.Weight
	}
	if p.Dimensions != nil {
		d := *p.Dimensions
		ev.Sensors.Dimensions = &d
	}
	if p.Location != nil {
		loc := *p.Location
		ev.Location = &loc
	}
	return ev
}

// AttemptAutoVerify resolves a pending event. On success ev is updated to
// VERIFIED; otherwise it becomes FAILED and is not retried. Events that are
// no longer pending are left alone and report their current state.
func (m *Machine) AttemptAutoVerify(ev *models.TokenEvent) bool {
	m.mu.Lock()
	cur, ok := m.pending.Get(ev.TokenID)
	if !ok {
		if existing, found := m.lookupLocked(ev.TokenID); found {
			*ev = existing
		}
		m.mu.Unlock()
		return ev.Status == models.TokenVerified
	}
	next := m.resolveLocked(cur, m.reject(cur, false))
	m.mu.Unlock()

	*ev = next
	m.afterTransition(next)
	return next.Status == models.TokenVerified
}

// Verify re-checks a pending token with the auto-verify criteria plus an age
// limit. Terminal tokens are returned as-is.
func (m *Machine) Verify(tokenID string) (models.TokenStatus, error) {
	m.mu.Lock()
	cur, ok := m.pending.Get(tokenID)
	if !ok {
		existing, found := m.lookupLocked(tokenID)
		m.mu.Unlock()
		if !found {
			return "", ErrTokenNotFound
		}
		return existing.Status, nil
	}
	next := m.resolveLocked(cur, m.reject(cur, true))
	m.mu.Unlock()

	m.afterTransition(next)
	return next.Status, nil
}

// reject returns the failure reason for ev, or "" when it may be verified.
func (m *Machine) reject(ev models.TokenEvent, checkAge bool) string {
	if checkAge && m.cfg.MaxEventAge > 0 && m.now().Sub(ev.Timestamp) > m.cfg.MaxEventAge {
		return ReasonExpired
	}
	if m.nodes == nil || !m.nodes.IsTrustworthy(ev.NodeID) {
		return ReasonNodeUntrusted
	}
	if !m.cfg.Policy.Plausible(ev.Sensors) {
		return ReasonImplausible
	}
	if !m.cfg.Policy.PresenceSignal(ev) {
		return ReasonNoPresence
	}
	return ""
}

func (m *Machine) resolveLocked(ev models.TokenEvent, reason string) models.TokenEvent {
	now := m.now()
	m.pending.Delete(ev.TokenID)
	if reason == "" {
		ev.Status = models.TokenVerified
		ev.VerifiedAt = &now
		m.verified.Put(ev.TokenID, ev)
		return ev
	}
	ev.Status = models.TokenFailed
	ev.FailedAt = &now
	ev.FailureReason = reason
	m.failed.Put(ev.TokenID, ev)
	return ev
}

func (m *Machine) afterTransition(ev models.TokenEvent) {
	metrics.TokenTransitions.WithLabelValues(string(ev.Status)).Inc()
	if ev.Status == models.TokenVerified {
		m.logger.Info("token verified", logging.TokenID(ev.TokenID), logging.NodeID(ev.NodeID))
	} else {
		m.logger.Warn("token verification failed",
			logging.TokenID(ev.TokenID),
			logging.NodeID(ev.NodeID),
			slog.String("reason", ev.FailureReason))
	}
	m.notify(ev)
}

func (m *Machine) notify(ev models.TokenEvent) {
	for _, fn := range m.listeners {
		fn(ev)
	}
}

func (m *Machine) lookupLocked(tokenID string) (models.TokenEvent, bool) {
	if ev, ok := m.verified.Get(tokenID); ok {
		return ev, true
	}
	if ev, ok := m.pending.Get(tokenID); ok {
		return ev, true
	}
	return m.failed.Get(tokenID)
}

// Lookup returns the current record for tokenID in any pool.
func (m *Machine) Lookup(tokenID string) (models.TokenEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(tokenID)
}

// IsUsableForTransfer reports whether the token is VERIFIED and was verified
// within the usable window.
func (m *Machine) IsUsableForTransfer(tokenID string) bool {
	ev, ok := m.verified.Get(tokenID)
	if !ok || ev.VerifiedAt == nil {
		return false
	}
	return m.now().Before(ev.VerifiedAt.Add(m.cfg.UsableWindow))
}

// TokenState summarizes tokenID for status queries.
func (m *Machine) TokenState(tokenID string) *models.TokenState {
	state := &models.TokenState{TokenID: tokenID}
	ev, ok := m.Lookup(tokenID)
	if !ok {
		return state
	}
	state.Found = true
	state.Pending = ev.Status == models.TokenPending
	state.Verified = ev.Status == models.TokenVerified
	state.Usable = m.IsUsableForTransfer(tokenID)
	state.Event = &ev
	return state
}

// PendingCount and VerifiedCount report pool sizes.
func (m *Machine) PendingCount() int  { return m.pending.Len() }
func (m *Machine) VerifiedCount() int { return m.verified.Len() }

// CleanupStats counts the records purged from each pool.
type CleanupStats struct {
	Pending  int
	Verified int
	Failed   int
}

// Cleanup purges expired records. It only affects future eligibility checks.
func (m *Machine) Cleanup(now time.Time) CleanupStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := CleanupStats{
		Pending:  len(m.pending.PurgeExpiredBefore(now.Add(-m.cfg.PendingTTL))),
		Verified: len(m.verified.PurgeExpiredBefore(now.Add(-m.cfg.VerifiedTTL))),
		Failed:   len(m.failed.PurgeExpiredBefore(now.Add(-m.cfg.PendingTTL))),
	}
	metrics.TokensPurged.WithLabelValues("pending").Add(float64(stats.Pending))
	metrics.TokensPurged.WithLabelValues("verified").Add(float64(stats.Verified))
	metrics.TokensPurged.WithLabelValues("failed").Add(float64(stats.Failed))

	if stats.Pending+stats.Verified+stats.Failed > 0 {
		m.logger.Debug("token pools cleaned",
			slog.Int("pending", stats.Pending),
			slog.Int("verified", stats.Verified),
			slog.Int("failed", stats.Failed))
	}
	return stats
}
