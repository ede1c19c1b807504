package models

import "time"

// RiskTier classifies the market risk of a requested transfer.
type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskMedium   RiskTier = "MEDIUM"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
)

// MarketSnapshot is the reference market state used for risk assessment.
type MarketSnapshot struct {
	PriceUSD     float64   `json:"price_usd"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	Verified     bool      `json:"verified"`
	MarketCap    float64   `json:"market_cap,omitempty"`
	Volume24h    float64   `json:"volume_24h,omitempty"`
	Source       string    `json:"source,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RiskAssessment is computed fresh for every request and never persisted.
type RiskAssessment struct {
	AmountUSD          float64  `json:"amount_usd"`
	LiquidityImpactPct float64  `json:"liquidity_impact_pct"`
	SlippagePct        float64  `json:"slippage_pct"`
	Tier               RiskTier `json:"tier"`
	Warnings           []string `json:"warnings"`
	MaxRecommendedUSD  float64  `json:"max_recommended_usd"`
}

// Severity of a security check finding.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// CheckResult is one entry of the security gate battery. Code carries the
// failure code (for example AMOUNT_LIMIT_EXCEEDED) and is empty for a clean
// result.
type CheckResult struct {
	Check    string   `json:"check"`
	Code     string   `json:"code,omitempty"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Blocking reports whether the finding prevents approval.
func (c CheckResult) Blocking() bool {
	return !c.Passed && (c.Severity == SeverityError || c.Severity == SeverityCritical)
}
