package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web8kameleon-hub/tokengate/internal/gate"
	"github.com/web8kameleon-hub/tokengate/internal/market"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/transfer"
)

// Info report status values.
const (
	InfoOperational         = "operational"
	InfoSourceNotConfigured = "source_not_configured"
	InfoLedgerUnavailable   = "ledger_unavailable"
)

// RateLimitInfo describes the per-recipient transfer cap.
type RateLimitInfo struct {
	PerRecipient int    `json:"per_recipient"`
	Window       string `json:"window"`
}

// InfoReport is the operational summary served on /api/v1/info.
type InfoReport struct {
	Network          string                   `json:"network"`
	TransfersEnabled bool                     `json:"transfers_enabled"`
	Status           string                   `json:"status"`
	SourceAccount    string                   `json:"source_account,omitempty"`
	SourceBalance    *decimal.Decimal         `json:"source_balance,omitempty"`
	SourceBalanceUSD float64                  `json:"source_balance_usd"`
	Error            string                   `json:"error,omitempty"`
	Market           models.MarketSnapshot    `json:"market"`
	Security         market.Health            `json:"security_status"`
	Limits           market.OperationalLimits `json:"operational_limits"`
	RateLimit        RateLimitInfo            `json:"rate_limit"`
}

// Reporter assembles the info report from live components.
type Reporter struct {
	monitor  *market.Monitor
	balances gate.BalanceSource
	gateCfg  gate.Config
	execCfg  transfer.Config
	timeout  time.Duration
}

// NewReporter bounds the balance lookup to five seconds.
func NewReporter(monitor *market.Monitor, balances gate.BalanceSource, gateCfg gate.Config, execCfg transfer.Config) *Reporter {
	return &Reporter{monitor: monitor, balances: balances, gateCfg: gateCfg, execCfg: execCfg, timeout: 5 * time.Second}
}

// Info reports the network, custodial balance, market health and limits.
// A failed balance lookup degrades the status instead of failing.
func (r *Reporter) Info(ctx context.Context) InfoReport {
	snap := r.monitor.Snapshot()
	report := InfoReport{
		Network:          r.execCfg.Policy.Network,
		TransfersEnabled: r.execCfg.Policy.TransfersEnabled(),
		Status:           InfoOperational,
		SourceAccount:    r.execCfg.SourceAccount,
		Market:           snap,
		Security:         r.monitor.Health(),
		Limits: market.Limits(snap,
			r.gateCfg.MaxTransferUSD,
			r.gateCfg.MaxLiquidityFraction,
			r.gateCfg.RecommendedLiquidityFraction,
			r.gateCfg.SlippageTolerance),
		RateLimit: RateLimitInfo{PerRecipient: r.execCfg.DailyCap, Window: r.execCfg.Window.String()},
	}

	if report.SourceAccount == "" || r.balances == nil {
		report.Status = InfoSourceNotConfigured
		report.TransfersEnabled = false
		report.Security.Score = 0
		report.Security.Alerts = append(report.Security.Alerts, "source account not configured")
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	bal, err := r.balances.Balance(ctx, report.SourceAccount)
	if err != nil {
		report.Status = InfoLedgerUnavailable
		report.Error = err.Error()
		return report
	}
	report.SourceBalance = &bal
	report.SourceBalanceUSD = gate.AmountUSD(bal, snap)
	return report
}
