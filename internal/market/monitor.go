package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// LowLiquidityUSD is the liquidity below which the monitor raises an alert.
const LowLiquidityUSD = 10000

// Health summarizes the monitor state for the info report.
type Health struct {
	Score         int        `json:"health_score"`
	Alerts        []string   `json:"alerts"`
	LastMonitored *time.Time `json:"last_monitored,omitempty"`
	Active        bool       `json:"monitoring_active"`
}

// Monitor holds the latest snapshot. Poll errors never reach callers of
// Snapshot; they lower the health score instead.
type Monitor struct {
	provider Provider
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	snap        models.MarketSnapshot
	lastSuccess time.Time
	lastPoll    time.Time
	failures    int
	lastErr     error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor wraps p. Poll is driven externally; interval is the expected
// poll period used to judge staleness. Until the first successful poll the
// snapshot is empty.
func NewMonitor(p Provider, interval time.Duration, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{provider: p, interval: interval, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval is the configured polling period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Snapshot returns the most recent successful snapshot.
func (m *Monitor) Snapshot() models.MarketSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Poll fetches a fresh snapshot. On error the previous snapshot is kept.
func (m *Monitor) Poll(ctx context.Context) error {
	snap, err := m.provider.Fetch(ctx)

	m.mu.Lock()
	m.lastPoll = m.now()
	if err != nil {
		m.failures++
		m.lastErr = err
	} else {
		m.snap = snap
		m.lastSuccess = m.lastPoll
		m.failures = 0
		m.lastErr = nil
	}
	m.mu.Unlock()

	score := m.Health().Score
	metrics.MarketHealthScore.Set(float64(score))
	if err != nil {
		metrics.MarketFetchErrors.Inc()
		m.logger.WarnContext(ctx, "market data fetch failed",
			slog.String("provider", m.provider.Name()),
			slog.Int("health_score", score),
			logging.Error(err))
		return err
	}
	m.logger.DebugContext(ctx, "market data updated",
		slog.Float64("price_usd", snap.PriceUSD),
		slog.Float64("liquidity_usd", snap.LiquidityUSD),
		slog.Bool("verified", snap.Verified))
	return nil
}

// Health scores the monitor from 0 to 100.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastSuccess.IsZero() {
		h := Health{Alerts: []string{"market data not yet available"}}
		if m.lastErr != nil {
			h.Alerts = append(h.Alerts, "last fetch error: "+m.lastErr.Error())
		}
		return h
	}

	score := 100
	var alerts []string
	if m.failures > 0 {
		score -= min(m.failures*20, 60)
		alerts = append(alerts, fmt.Sprintf("market data fetch failing (%d consecutive errors)", m.failures))
	}
	if m.interval > 0 && m.now().Sub(m.lastSuccess) > 3*m.interval {
		score -= 30
		alerts = append(alerts, "market data is stale")
	}
	if !m.snap.Verified {
		score -= 20
		alerts = append(alerts, "asset is not verified")
	}
	if m.snap.LiquidityUSD < LowLiquidityUSD {
		score -= 20
		alerts = append(alerts, fmt.Sprintf("low liquidity: $%.0f", m.snap.LiquidityUSD))
	}

	last := m.lastSuccess
	return Health{
		Score:         max(score, 0),
		Alerts:        alerts,
		LastMonitored: &last,
		Active:        true,
	}
}

// OperationalLimits is the advisory limit block of the info report.
type OperationalLimits struct {
	MaxTransferUSD    float64 `json:"max_transfer_usd"`
	MaxSlippagePct    float64 `json:"max_slippage_pct"`
	RecommendedMaxUSD float64 `json:"recommended_max_usd"`
}

// Limits derives the operational limits for snap.
func Limits(snap models.MarketSnapshot, capUSD, maxFraction, recommendedFraction, slippageTolerance float64) OperationalLimits {
	return OperationalLimits{
		MaxTransferUSD:    math.Min(capUSD, snap.LiquidityUSD*maxFraction),
		MaxSlippagePct:    slippageTolerance,
		RecommendedMaxUSD: snap.LiquidityUSD * recommendedFraction,
	}
}
