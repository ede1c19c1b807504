// Package gate runs the ordered security checks that must approve a transfer
// before the ledger is called.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/metrics"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/risk"
)

// Check names, in evaluation order.
const (
	CheckAssetTrust      = "ASSET_TRUST"
	CheckAmountLimit     = "AMOUNT_LIMIT"
	CheckLiquidityImpact = "LIQUIDITY_IMPACT"
	CheckSlippage        = "SLIPPAGE"
	CheckAddressFormat   = "ADDRESS_FORMAT"
	CheckSourceBalance   = "SOURCE_BALANCE"
)

// Finding codes.
const (
	CodeAssetUnverified        = "ASSET_UNVERIFIED"
	CodeAmountLimitExceeded    = "AMOUNT_LIMIT_EXCEEDED"
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodePriceUnavailable       = "PRICE_UNAVAILABLE"
	CodeLiquidityImpactTooHigh = "LIQUIDITY_IMPACT_TOO_HIGH"
	CodeLiquidityImpactHigh    = "LIQUIDITY_IMPACT_ELEVATED"
	CodeSlippageTooHigh        = "SLIPPAGE_TOO_HIGH"
	CodeSlippageHigh           = "SLIPPAGE_ELEVATED"
	CodeInvalidAddress         = "INVALID_ADDRESS"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeBalanceUnavailable     = "BALANCE_UNAVAILABLE"
)

// Config holds the gate thresholds. Fractions are of market liquidity.
type Config struct {
	MaxTransferUSD               float64
	MaxLiquidityFraction         float64
	RecommendedLiquidityFraction float64
	LiquidityWarningFraction     float64
	// SlippageTolerance and SlippageWarning are percentages.
	SlippageTolerance float64
	SlippageWarning   float64
	SourceAccount     string
	BalanceTimeout    time.Duration
}

// DefaultConfig caps a transfer at $100 and 5% of liquidity.
func DefaultConfig() Config {
	return Config{
		MaxTransferUSD:               100,
		MaxLiquidityFraction:         0.05,
		RecommendedLiquidityFraction: 0.02,
		LiquidityWarningFraction:     0.02,
		SlippageTolerance:            10,
		SlippageWarning:              5,
		BalanceTimeout:               10 * time.Second,
	}
}

// MarketSource supplies the reference snapshot. market.Monitor implements it.
type MarketSource interface {
	Snapshot() models.MarketSnapshot
}

// BalanceSource reports the custodial balance. ledger.Service implements it.
type BalanceSource interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// Gate runs the ordered security checks against the current market
// snapshot and the custodial balance.
type Gate struct {
	cfg      Config
	market   MarketSource
	balances BalanceSource
	validate func(string) error
	logger   *slog.Logger
}

// New creates a gate. A nil logger uses slog.Default.
func New(cfg Config, market MarketSource, balances BalanceSource, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:      cfg,
		market:   market,
		balances: balances,
		validate: ledger.ValidateAddress,
		logger:   logger,
	}
}

// Limits returns the risk limits derived from the gate configuration.
func (g *Gate) Limits() risk.Limits {
	return risk.Limits{MaxTransferUSD: g.cfg.MaxTransferUSD, MaxLiquidityFraction: g.cfg.MaxLiquidityFraction}
}

// Config returns the gate configuration.
func (g *Gate) Config() Config { return g.cfg }

// AmountUSD values amount at the snapshot price.
func AmountUSD(amount decimal.Decimal, snap models.MarketSnapshot) float64 {
	usd, _ := amount.Mul(decimal.NewFromFloat(snap.PriceUSD)).Float64()
	return usd
}

// Evaluate runs every check and returns the complete ordered list. The
// request is approved when no finding failed at ERROR or CRITICAL.
func (g *Gate) Evaluate(ctx context.Context, req models.TransferRequest) models.GateDecision {
	snap := g.market.Snapshot()
	amountUSD := AmountUSD(req.Amount, snap)
	assessment := risk.Assess(snap, amountUSD, g.Limits())

	checks := []models.CheckResult{
		g.checkAssetTrust(snap),
		g.checkAmountLimit(req.Amount, snap, amountUSD),
		g.checkLiquidityImpact(assessment),
		g.checkSlippage(assessment),
		g.checkAddress(req.To),
		g.checkBalance(ctx, req.Amount),
	}

	decision := models.GateDecision{Approved: true, Checks: checks, Risk: assessment}
	for _, c := range checks {
		metrics.GateChecks.WithLabelValues(c.Check, strconv.FormatBool(c.Passed)).Inc()
		if c.Blocking() {
			decision.Approved = false
		}
	}

	if decision.Approved {
		g.logger.InfoContext(ctx, "security gate approved",
			logging.Recipient(req.To),
			logging.AmountUSD(amountUSD),
			logging.RiskTier(string(assessment.Tier)),
			slog.Int("warnings", len(decision.Warnings())))
	} else {
		for _, c := range decision.Blocking() {
			g.logger.WarnContext(ctx, "security check failed",
				logging.Check(c.Check),
				slog.String("code", c.Code),
				slog.String("severity", string(c.Severity)),
				slog.String("message", c.Message))
		}
	}
	return decision
}

func (g *Gate) checkAssetTrust(snap models.MarketSnapshot) models.CheckResult {
	if snap.Verified {
		return models.CheckResult{
			Check: CheckAssetTrust, Passed: true, Severity: models.SeverityInfo,
			Message: "underlying asset is verified",
		}
	}
	// Informational: flagged CRITICAL but does not block on its own.
	return models.CheckResult{
		Check: CheckAssetTrust, Code: CodeAssetUnverified, Passed: true, Severity: models.SeverityCritical,
		Message: "underlying asset is not verified; proceed with caution",
	}
}

func (g *Gate) checkAmountLimit(amount decimal.Decimal, snap models.MarketSnapshot, amountUSD float64) models.CheckResult {
	r := models.CheckResult{Check: CheckAmountLimit}
	switch {
	case !amount.IsPositive():
		r.Code, r.Severity = CodeInvalidAmount, models.SeverityError
		r.Message = "amount must be positive"
	case snap.PriceUSD <= 0:
		r.Code, r.Severity = CodePriceUnavailable, models.SeverityError
		r.Message = "asset price unavailable; cannot value transfer"
	case amountUSD > g.cfg.MaxTransferUSD:
		r.Code, r.Severity = CodeAmountLimitExceeded, models.SeverityError
		r.Message = fmt.Sprintf("amount $%.2f exceeds single-transfer limit $%.2f", amountUSD, g.cfg.MaxTransferUSD)
	default:
		r.Passed, r.Severity = true, models.SeverityInfo
		r.Message = fmt.Sprintf("amount $%.2f within limit $%.2f", amountUSD, g.cfg.MaxTransferUSD)
	}
	return r
}

func (g *Gate) checkLiquidityImpact(a models.RiskAssessment) models.CheckResult {
	r := models.CheckResult{Check: CheckLiquidityImpact}
	maxPct := g.cfg.MaxLiquidityFraction * 100
	warnPct := g.cfg.LiquidityWarningFraction * 100
	switch {
	case a.LiquidityImpactPct > maxPct:
		r.Code, r.Severity = CodeLiquidityImpactTooHigh, models.SeverityError
		r.Message = fmt.Sprintf("liquidity impact %.2f%% exceeds maximum %.2f%%", a.LiquidityImpactPct, maxPct)
	case a.LiquidityImpactPct > warnPct:
		r.Passed, r.Code, r.Severity = true, CodeLiquidityImpactHigh, models.SeverityWarning
		r.Message = fmt.Sprintf("liquidity impact %.2f%% is moderate", a.LiquidityImpactPct)
	default:
		r.Passed, r.Severity = true, models.SeverityInfo
		r.Message = fmt.Sprintf("liquidity impact %.2f%%", a.LiquidityImpactPct)
	}
	return r
}

func (g *Gate) checkSlippage(a models.RiskAssessment) models.CheckResult {
	r := models.CheckResult{Check: CheckSlippage}
	switch {
	case a.SlippagePct > g.cfg.SlippageTolerance:
		r.Code, r.Severity = CodeSlippageTooHigh, models.SeverityError
		r.Message = fmt.Sprintf("estimated slippage %.2f%% exceeds tolerance %.2f%%", a.SlippagePct, g.cfg.SlippageTolerance)
	case a.SlippagePct > g.cfg.SlippageWarning:
		r.Passed, r.Code, r.Severity = true, CodeSlippageHigh, models.SeverityWarning
		r.Message = fmt.Sprintf("estimated slippage %.2f%% above %.2f%%", a.SlippagePct, g.cfg.SlippageWarning)
	default:
		r.Passed, r.Severity = true, models.SeverityInfo
		r.Message = fmt.Sprintf("estimated slippage %.2f%%", a.SlippagePct)
	}
	return r
}

func (g *Gate) checkAddress(to string) models.CheckResult {
	if err := g.validate(to); err != nil {
		return models.CheckResult{
			Check: CheckAddressFormat, Code: CodeInvalidAddress, Severity: models.SeverityError,
			Message: err.Error(),
		}
	}
	return models.CheckResult{
		Check: CheckAddressFormat, Passed: true, Severity: models.SeverityInfo,
		Message: "destination address is well formed",
	}
}

func (g *Gate) checkBalance(ctx context.Context, amount decimal.Decimal) models.CheckResult {
	unavailable := func(msg string) models.CheckResult {
		return models.CheckResult{
			Check: CheckSourceBalance, Code: CodeBalanceUnavailable, Severity: models.SeverityCritical,
			Message: msg,
		}
	}
	if g.balances == nil || g.cfg.SourceAccount == "" {
		return unavailable("no custodial account configured")
	}

	if g.cfg.BalanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.BalanceTimeout)
		defer cancel()
	}
	bal, err := g.balances.Balance(ctx, g.cfg.SourceAccount)
	if err != nil {
		return unavailable("balance lookup failed: " + err.Error())
	}
	if amount.GreaterThan(bal) {
		return models.CheckResult{
			Check: CheckSourceBalance, Code: CodeInsufficientBalance, Severity: models.SeverityError,
			Message: fmt.Sprintf("amount %s exceeds balance %s", amount.String(), bal.String()),
		}
	}
	return models.CheckResult{
		Check: CheckSourceBalance, Passed: true, Severity: models.SeverityInfo,
		Message: "sufficient balance",
	}
}
