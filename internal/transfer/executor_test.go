package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mr-tron/base58"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/gate"
	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/ratelimit"
)

const custody = "custody"

type staticMarket models.MarketSnapshot

func (s staticMarket) Snapshot() models.MarketSnapshot { return models.MarketSnapshot(s) }

type fakeVerifier struct {
	mu       sync.Mutex
	tokens   map[string]models.TokenEvent
	usable   map[string]bool
	onVerify func(id string) models.TokenStatus
	verifies int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: map[string]models.TokenEvent{}, usable: map[string]bool{}}
}

func (f *fakeVerifier) Lookup(id string) (models.TokenEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.tokens[id]
	return ev, ok
}

func (f *fakeVerifier) Verify(id string) (models.TokenStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	ev := f.tokens[id]
	if ev.Status == models.TokenPending && f.onVerify != nil {
		ev.Status = f.onVerify(id)
		f.tokens[id] = ev
		f.usable[id] = ev.Status == models.TokenVerified
	}
	return ev.Status, nil
}

func (f *fakeVerifier) IsUsableForTransfer(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usable[id]
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	err     error
}

func (c *captureRecorder) Record(_ context.Context, e models.AuditEntry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.ID = "audit-" + e.Outcome
	c.entries = append(c.entries, e)
	return e.ID, c.err
}

func (c *captureRecorder) last() models.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[len(c.entries)-1]
}

type captureEmitter struct {
	mu       sync.Mutex
	subjects []string
}

func (c *captureEmitter) Emit(subject string, _ any) {
	c.mu.Lock()
	c.subjects = append(c.subjects, subject)
	c.mu.Unlock()
}

type countingGate struct {
	inner Gate
	calls atomic.Int32
}

func (g *countingGate) Evaluate(ctx context.Context, req models.TransferRequest) models.GateDecision {
	g.calls.Add(1)
	return g.inner.Evaluate(ctx, req)
}

type fixture struct {
	exec     *Executor
	verifier *fakeVerifier
	gate     *countingGate
	ledger   *ledger.Memory
	limiter  *ratelimit.MemoryLimiter
	audit    *captureRecorder
	events   *captureEmitter
	now      time.Time
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	l := ledger.NewMemory()
	l.Fund(custody, decimal.NewFromInt(1000))

	gcfg := gate.DefaultConfig()
	gcfg.SourceAccount = custody
	market := staticMarket{PriceUSD: 1, LiquidityUSD: 2800, Verified: true}
	g := &countingGate{inner: gate.New(gcfg, market, l, logger)}

	cfg := DefaultConfig()
	cfg.SourceAccount = custody
	if mutate != nil {
		mutate(&cfg)
	}
	limiter := ratelimit.NewMemoryLimiter(cfg.DailyCap, cfg.Window, clock)
	f := &fixture{
		verifier: newFakeVerifier(),
		gate:     g,
		ledger:   l,
		limiter:  limiter,
		audit:    &captureRecorder{},
		events:   &captureEmitter{},
		now:      now,
	}
	f.exec = New(cfg, f.verifier, g, limiter, l, f.audit, logger, WithClock(clock), WithEmitter(f.events))
	return f
}

func address(seed byte) string {
	key := make([]byte, ledger.AddressLength)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return base58.Encode(key)
}

func request(to, amount string) models.TransferRequest {
	return models.TransferRequest{To: to, Amount: decimal.RequireFromString(amount)}
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, nil)
	to := address(1)

	out, err := f.exec.Execute(context.Background(), request(to, "50"))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.NotEmpty(t, out.Reference)
	assert.Equal(t, custody, out.From)
	assert.Equal(t, to, out.To)
	assert.InDelta(t, 50, out.AmountUSD, 0.0001)
	assert.True(t, out.Decision.Approved)
	assert.Len(t, out.Decision.Checks, 6)
	assert.Equal(t, "audit-executed", out.AuditID)
	assert.Len(t, f.ledger.Transfers(), 1)

	entry := f.audit.last()
	assert.Equal(t, models.AuditTransfer, entry.Kind)
	assert.Equal(t, out.Reference, entry.Reference)
	assert.Equal(t, models.RiskLow, entry.RiskTier)
	assert.InDelta(t, 1.7857, entry.LiquidityImpactPct, 0.001)

	state, allowed, err := f.limiter.Check(context.Background(), to)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 1, state.Count)

	assert.Contains(t, f.events.subjects, "tokengate.transfers.executed")
}

func TestExecute_SecurityRejectedNeverCallsLedger(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), request(address(1), "150"))
	var rejected *SecurityRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.False(t, rejected.Decision.Approved)
	assert.Len(t, rejected.Decision.Checks, 6)
	assert.Equal(t, gate.CodeAmountLimitExceeded, rejected.Decision.Blocking()[0].Code)

	assert.Empty(t, f.ledger.Transfers())
	entry := f.audit.last()
	assert.Equal(t, models.AuditDecision, entry.Kind)
	assert.Equal(t, models.OutcomeSecurityRejected, entry.Outcome)
	assert.Len(t, entry.Findings, 6)

	// Denied-for-risk attempts do not consume the allowance.
	_, allowed, err := f.limiter.Check(context.Background(), address(1))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestExecute_MissingTokenFailsBeforeGate(t *testing.T) {
	f := newFixture(t, nil)
	req := request(address(1), "10")
	req.RequirePhysicalVerification = true
	req.PhysicalTokenID = "nope"

	_, err := f.exec.Execute(context.Background(), req)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonTokenNotFound, verr.Reason)
	assert.Zero(t, f.gate.calls.Load())
	assert.Empty(t, f.ledger.Transfers())
	assert.Equal(t, models.OutcomeVerificationFailed, f.audit.last().Outcome)
}

func TestExecute_RequireFlagWithoutToken(t *testing.T) {
	f := newFixture(t, nil)
	req := request(address(1), "10")
	req.RequirePhysicalVerification = true

	_, err := f.exec.Execute(context.Background(), req)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonTokenRequired, verr.Reason)
}

func TestExecute_PendingTokenVerifiedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.verifier.tokens["T1"] = models.TokenEvent{TokenID: "T1", Status: models.TokenPending}
	f.verifier.onVerify = func(string) models.TokenStatus { return models.TokenVerified }

	req := request(address(1), "10")
	req.PhysicalTokenID = "T1"
	_, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.verifier.verifies)
}

func TestExecute_PendingTokenFailsVerification(t *testing.T) {
	f := newFixture(t, nil)
	f.verifier.tokens["T1"] = models.TokenEvent{TokenID: "T1", Status: models.TokenPending}
	f.verifier.onVerify = func(string) models.TokenStatus { return models.TokenFailed }

	req := request(address(1), "10")
	req.PhysicalTokenID = "T1"
	_, err := f.exec.Execute(context.Background(), req)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.TokenFailed, verr.Status)
	assert.Equal(t, 1, f.verifier.verifies)
	assert.Zero(t, f.gate.calls.Load())
}

func TestExecute_StaleVerifiedToken(t *testing.T) {
	f := newFixture(t, nil)
	f.verifier.tokens["T1"] = models.TokenEvent{TokenID: "T1", Status: models.TokenVerified}

	req := request(address(1), "10")
	req.PhysicalTokenID = "T1"
	_, err := f.exec.Execute(context.Background(), req)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonTokenStale, verr.Reason)
	assert.Zero(t, f.verifier.verifies)
}

func TestExecute_RateLimitBoundary(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DailyCap = 2 })
	to := address(3)

	for i := 0; i < 2; i++ {
		_, err := f.exec.Execute(context.Background(), request(to, "1"))
		require.NoError(t, err, "transfer %d", i)
	}

	_, err := f.exec.Execute(context.Background(), request(to, "1"))
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 2, rlErr.Limit)
	assert.EqualValues(t, 2, rlErr.State.Count)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), rlErr.ResetAt)
	assert.Len(t, f.ledger.Transfers(), 2)
	assert.Equal(t, models.OutcomeRateLimited, f.audit.last().Outcome)

	// Another recipient is unaffected.
	_, err = f.exec.Execute(context.Background(), request(address(4), "1"))
	require.NoError(t, err)
}

func TestExecute_LedgerFailureDoesNotCount(t *testing.T) {
	f := newFixture(t, nil)
	to := address(5)
	f.ledger.FailWith(ledger.ErrUnavailable)

	// The balance check fails too while the ledger is down, so bypass the gate.
	f.exec.gate = approveAll{}
	_, err := f.exec.Execute(context.Background(), request(to, "10"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)

	entry := f.audit.last()
	assert.Equal(t, models.AuditTransfer, entry.Kind)
	assert.Equal(t, models.OutcomeLedgerFailed, entry.Outcome)
	assert.NotEmpty(t, entry.Error)
	assert.Contains(t, f.events.subjects, "tokengate.transfers.failed")

	_, allowed, err := f.limiter.Check(context.Background(), to)
	require.NoError(t, err)
	assert.True(t, allowed)

	f.ledger.FailWith(nil)
	_, err = f.exec.Execute(context.Background(), request(to, "10"))
	require.NoError(t, err)
}

func TestExecute_LedgerRejection(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.FailWith(&ledger.RejectedError{Reason: "account frozen"})
	f.exec.gate = approveAll{}

	_, err := f.exec.Execute(context.Background(), request(address(6), "10"))
	var rej *ledger.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "account frozen", rej.Reason)
}

func TestExecute_LedgerTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.LedgerTimeout = 20 * time.Millisecond })
	f.exec.gate = approveAll{}
	f.exec.ledger = slowLedger{}

	_, err := f.exec.Execute(context.Background(), request(address(7), "10"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_NetworkPolicy(t *testing.T) {
	allowed := address(8)
	f := newFixture(t, func(c *Config) {
		c.Policy = NetworkPolicy{Network: NetworkMainnet, MainnetEnabled: true, Allowlist: []string{allowed}}
	})

	_, err := f.exec.Execute(context.Background(), request(address(9), "10"))
	var na *NotAllowedError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, NetworkMainnet, na.Network)
	assert.Equal(t, models.OutcomeNotAllowed, f.audit.last().Outcome)

	out, err := f.exec.Execute(context.Background(), request(allowed, "10"))
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, out.Network)
}

func TestExecute_LimiterErrorFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.limiter = brokenLimiter{}

	_, err := f.exec.Execute(context.Background(), request(address(10), "10"))
	require.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.Empty(t, f.ledger.Transfers())
}

func TestExecute_AuditFailureDoesNotFailTransfer(t *testing.T) {
	f := newFixture(t, nil)
	f.audit.err = errors.New("sink down")

	out, err := f.exec.Execute(context.Background(), request(address(11), "10"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.Reference)
}

func TestExecute_ConcurrentSameRecipient(t *testing.T) {
	f := newFixture(t, nil)
	to := address(12)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		limited   atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exec.Execute(context.Background(), request(to, "1"))
			var rlErr *RateLimitError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &rlErr):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 9, limited.Load())
	assert.Len(t, f.ledger.Transfers(), 1)
	assert.Zero(t, f.exec.locks.size())
}

type approveAll struct{}

func (approveAll) Evaluate(_ context.Context, _ models.TransferRequest) models.GateDecision {
	return models.GateDecision{Approved: true}
}

type slowLedger struct{}

func (slowLedger) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (slowLedger) Transfer(ctx context.Context, _, _ string, _ decimal.Decimal) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type brokenLimiter struct{}

func (brokenLimiter) Check(context.Context, string) (models.RateLimitState, bool, error) {
	return models.RateLimitState{}, false, errors.New("connection refused")
}

func (brokenLimiter) Reserve(context.Context, string) (models.RateLimitState, bool, error) {
	return models.RateLimitState{}, false, errors.New("connection refused")
}

func (brokenLimiter) Release(context.Context, models.RateLimitState) error {
	return errors.New("connection refused")
}

func (brokenLimiter) Close() error { return nil }

// delayedLedger holds every transfer long enough for concurrent callers to
// overlap inside the ledger call.
type delayedLedger struct {
	*ledger.Memory
	delay time.Duration
}

func (d delayedLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return d.Memory.Transfer(ctx, from, to, amount)
}

func TestExecute_SharedRedisCapAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	f := newFixture(t, nil)
	shared := delayedLedger{Memory: f.ledger, delay: 50 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Two service instances, each with its own client on the same database.
	newInstance := func() *Executor {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		limiter := ratelimit.NewRedisLimiterWithClient(client, 1, 24*time.Hour, nil)
		return New(f.exec.Config(), f.verifier, f.gate, limiter, shared, f.audit, logger)
	}
	instances := []*Executor{newInstance(), newInstance()}

	to := address(20)
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		limited   atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(exec *Executor) {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), request(to, "1"))
			var rlErr *RateLimitError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &rlErr):
				limited.Add(1)
			}
		}(instances[i%2])
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 5, limited.Load())
	assert.Len(t, f.ledger.Transfers(), 1)
}

func TestExecute_LedgerFailureReleasesSharedReservation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, nil)
	f.exec.gate = approveAll{}
	f.exec.limiter = ratelimit.NewRedisLimiterWithClient(client, 1, 24*time.Hour, nil)
	to := address(21)

	f.ledger.FailWith(ledger.ErrUnavailable)
	_, err = f.exec.Execute(context.Background(), request(to, "10"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)

	st, allowed, err := f.exec.limiter.Check(context.Background(), to)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, st.Count)

	f.ledger.FailWith(nil)
	_, err = f.exec.Execute(context.Background(), request(to, "10"))
	require.NoError(t, err)
}

func rateLimitHits(t *testing.T, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.RateLimitHits.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func TestExecute_RateLimitHitCountedOnce(t *testing.T) {
	f := newFixture(t, nil)
	to := address(22)

	_, err := f.exec.Execute(context.Background(), request(to, "1"))
	require.NoError(t, err)

	before := rateLimitHits(t, "memory")
	_, err = f.exec.Execute(context.Background(), request(to, "1"))
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, before+1, rateLimitHits(t, "memory"))
}
