// Package transfer executes gated, rate-limited and audited ledger transfers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web8kameleon-hub/tokengate/internal/events"
	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/ratelimit"
)

// Verification failure reasons reported by the executor itself.
const (
	ReasonTokenRequired = "physical token id required"
	ReasonTokenNotFound = "token not found"
	ReasonTokenStale    = "verification is older than the usable window"
	ReasonStillPending  = "token is still pending"
)

// Verifier is the view of the verification state machine the executor needs.
type Verifier interface {
	Lookup(tokenID string) (models.TokenEvent, bool)
	Verify(tokenID string) (models.TokenStatus, error)
	IsUsableForTransfer(tokenID string) bool
}

// Gate evaluates the security checks for a request.
type Gate interface {
	Evaluate(ctx context.Context, req models.TransferRequest) models.GateDecision
}

// AuditRecorder accepts audit entries without blocking on the sink.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditEntry) (string, error)
}

// Config controls the executor.
type Config struct {
	// Policy restricts which recipients the configured network accepts.
	Policy        NetworkPolicy
	// SourceAccount is the custodial account every transfer is debited from.
	SourceAccount string
	// LedgerTimeout bounds a single ledger call. Zero disables the bound.
	LedgerTimeout time.Duration
	// DailyCap is the number of transfers a recipient may receive per Window.
	DailyCap      int
	Window        time.Duration
}

// DefaultConfig allows one transfer per recipient per day on devnet, with a
// 30 second ledger timeout.
func DefaultConfig() Config {
	return Config{
		Policy:        NetworkPolicy{Network: NetworkDevnet, Enabled: true},
		LedgerTimeout: 30 * time.Second,
		DailyCap:      1,
		Window:        24 * time.Hour,
	}
}

// Executor runs transfer requests through verification, the security gate,
// the network policy and the per-recipient limit before calling the ledger.
// Requests for the same recipient are serialized.
type Executor struct {
	cfg      Config
	verifier Verifier
	gate     Gate
	limiter  ratelimit.Limiter
	ledger   ledger.Service
	audit    AuditRecorder
	events   events.Emitter
	logger   *slog.Logger
	locks    *keyedMutex
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the time source used for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithEmitter publishes executed and failed transfers to em.
func WithEmitter(em events.Emitter) Option {
	return func(e *Executor) { e.events = em }
}

// New builds an executor. A nil limiter disables rate limiting and a nil
// logger uses slog.Default.
func New(cfg Config, verifier Verifier, gate Gate, limiter ratelimit.Limiter, svc ledger.Service, rec AuditRecorder, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.NoOpLimiter{}
	}
	e := &Executor{
		cfg:      cfg,
		verifier: verifier,
		gate:     gate,
		limiter:  limiter,
		ledger:   svc,
		audit:    rec,
		events:   events.Discard{},
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor configuration.
func (e *Executor) Config() Config { return e.cfg }

// Execute runs the ordered pipeline: physical verification, security gate,
// network policy, rate limit, ledger. Only an approved request within its
// limits reaches the ledger. The recipient's allowance is reserved before
// the ledger call and released again if the call fails.
func (e *Executor) Execute(ctx context.Context, req models.TransferRequest) (*models.TransferOutcome, error) {
	if req.NeedsPhysicalVerification() {
		if err := e.checkPhysical(req.PhysicalTokenID); err != nil {
			e.reject(ctx, req, nil, models.OutcomeVerificationFailed, err)
			return nil, err
		}
	}

	decision := e.gate.Evaluate(ctx, req)
	if !decision.Approved {
		err := &SecurityRejectedError{Decision: decision}
		e.reject(ctx, req, &decision, models.OutcomeSecurityRejected, err)
		return nil, err
	}

	if err := e.cfg.Policy.Check(req.To); err != nil {
		e.reject(ctx, req, &decision, models.OutcomeNotAllowed, err)
		return nil, err
	}

	unlock := e.locks.Lock(req.To)
	defer unlock()

	state, allowed, err := e.limiter.Reserve(ctx, req.To)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
		e.reject(ctx, req, &decision, models.OutcomeRateLimited, err)
		return nil, err
	}
	if !allowed {
		rlErr := &RateLimitError{State: state, Limit: e.cfg.DailyCap, ResetAt: state.WindowStart.Add(e.cfg.Window)}
		e.reject(ctx, req, &decision, models.OutcomeRateLimited, rlErr)
		return nil, rlErr
	}

	ref, err := e.callLedger(ctx, req.To, req.Amount)
	if err != nil {
		// Nothing moved, so the reservation goes back to the window.
		if relErr := e.limiter.Release(context.WithoutCancel(ctx), state); relErr != nil {
			e.logger.ErrorContext(ctx, "rate limit release failed", logging.Recipient(req.To), logging.Error(relErr))
		}
		metrics.TransfersTotal.WithLabelValues(models.OutcomeLedgerFailed).Inc()
		entry := e.entry(req, &decision, models.AuditTransfer, models.OutcomeLedgerFailed)
		entry.Error = err.Error()
		e.record(ctx, entry)
		e.events.Emit(events.SubjectTransferFailed, entry)
		e.logger.ErrorContext(ctx, "ledger transfer failed",
			logging.Recipient(req.To),
			logging.Amount(req.Amount.String()),
			logging.Error(err))
		return nil, fmt.Errorf("ledger transfer: %w", err)
	}

	entry := e.entry(req, &decision, models.AuditTransfer, models.OutcomeExecuted)
	entry.Reference = ref
	auditID := e.record(ctx, entry)
	metrics.TransfersTotal.WithLabelValues(models.OutcomeExecuted).Inc()

	outcome := &models.TransferOutcome{
		Reference: ref,
		From:      e.cfg.SourceAccount,
		To:        req.To,
		Amount:    req.Amount,
		AmountUSD: decision.Risk.AmountUSD,
		Network:   e.cfg.Policy.Network,
		Decision:  decision,
		AuditID:   auditID,
		Timestamp: e.now().UTC(),
	}
	e.events.Emit(events.SubjectTransferExecuted, outcome)
	e.logger.InfoContext(ctx, "transfer executed",
		logging.Recipient(req.To),
		logging.Amount(req.Amount.String()),
		logging.AmountUSD(decision.Risk.AmountUSD),
		logging.RiskTier(string(decision.Risk.Tier)),
		logging.Reference(ref),
		logging.AuditID(auditID))
	return outcome, nil
}

// checkPhysical requires a token usable for transfer. A PENDING token gets
// exactly one synchronous Verify before the request is refused.
func (e *Executor) checkPhysical(tokenID string) error {
	if tokenID == "" {
		return &VerificationError{Reason: ReasonTokenRequired}
	}
	if e.verifier.IsUsableForTransfer(tokenID) {
		return nil
	}

	ev, ok := e.verifier.Lookup(tokenID)
	if !ok {
		return &VerificationError{TokenID: tokenID, Reason: ReasonTokenNotFound}
	}
	if ev.Status == models.TokenPending {
		if _, err := e.verifier.Verify(tokenID); err != nil {
			return &VerificationError{TokenID: tokenID, Status: ev.Status, Reason: err.Error()}
		}
		if e.verifier.IsUsableForTransfer(tokenID) {
			return nil
		}
		if ev, ok = e.verifier.Lookup(tokenID); !ok {
			return &VerificationError{TokenID: tokenID, Reason: ReasonTokenNotFound}
		}
	}

	switch ev.Status {
	case models.TokenVerified:
		return &VerificationError{TokenID: tokenID, Status: ev.Status, Reason: ReasonTokenStale}
	case models.TokenFailed:
		return &VerificationError{TokenID: tokenID, Status: ev.Status, Reason: ev.FailureReason}
	default:
		return &VerificationError{TokenID: tokenID, Status: ev.Status, Reason: ReasonStillPending}
	}
}

func (e *Executor) callLedger(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if e.cfg.LedgerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LedgerTimeout)
		defer cancel()
	}

	start := time.Now()
	ref, err := e.ledger.Transfer(ctx, e.cfg.SourceAccount, to, amount)
	metrics.LedgerDuration.Observe(time.Since(start).Seconds())
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ledger.ErrUnavailable) {
		err = fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	return ref, err
}

func (e *Executor) reject(ctx context.Context, req models.TransferRequest, decision *models.GateDecision, outcome string, cause error) {
	metrics.TransfersTotal.WithLabelValues(outcome).Inc()
	var rlErr *RateLimitError
	if errors.As(cause, &rlErr) {
		metrics.RateLimitHits.WithLabelValues(limiterName(e.limiter)).Inc()
	}
	entry := e.entry(req, decision, models.AuditDecision, outcome)
	entry.Error = cause.Error()
	e.record(ctx, entry)
	e.logger.WarnContext(ctx, "transfer rejected",
		logging.Recipient(req.To),
		logging.Amount(req.Amount.String()),
		slog.String("outcome", outcome),
		logging.Error(cause))
}

func (e *Executor) entry(req models.TransferRequest, decision *models.GateDecision, kind models.AuditKind, outcome string) models.AuditEntry {
	entry := models.AuditEntry{
		Kind:            kind,
		Outcome:         outcome,
		Operator:        req.Operator,
		From:            e.cfg.SourceAccount,
		To:              req.To,
		Amount:          req.Amount,
		PhysicalTokenID: req.PhysicalTokenID,
		Network:         e.cfg.Policy.Network,
	}
	if decision != nil {
		entry.AmountUSD = decision.Risk.AmountUSD
		entry.RiskTier = decision.Risk.Tier
		entry.WarningCount = len(decision.Warnings())
		entry.LiquidityImpactPct = decision.Risk.LiquidityImpactPct
		entry.Findings = decision.Checks
	}
	return entry
}

// record never fails the caller; audit problems are logged by the recorder.
func (e *Executor) record(ctx context.Context, entry models.AuditEntry) string {
	if e.audit == nil {
		return ""
	}
	id, err := e.audit.Record(ctx, entry)
	if err != nil {
		e.logger.ErrorContext(ctx, "audit_write_failed", logging.AuditID(id), logging.Error(err))
	}
	return id
}

func limiterName(l ratelimit.Limiter) string {
	switch l.(type) {
	case *ratelimit.RedisLimiter:
		return "redis"
	case *ratelimit.MemoryLimiter:
		return "memory"
	default:
		return "none"
	}
}
