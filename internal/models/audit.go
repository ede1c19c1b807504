package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditKind distinguishes policy decisions from ledger movements.
type AuditKind string

const (
	AuditDecision AuditKind = "decision"
	AuditTransfer AuditKind = "transfer"
)

// AuditOutcome values.
const (
	OutcomeExecuted           = "executed"
	OutcomeLedgerFailed       = "ledger_failed"
	OutcomeVerificationFailed = "verification_failed"
	OutcomeSecurityRejected   = "security_rejected"
	OutcomeNotAllowed         = "not_allowed"
	OutcomeRateLimited        = "rate_limited"
)

// AuditEntry is an immutable, append-only audit record.
type AuditEntry struct {
	ID                 string          `json:"id"`
	Kind               AuditKind       `json:"kind"`
	Outcome            string          `json:"outcome"`
	Operator           string          `json:"operator,omitempty"`
	From               string          `json:"from,omitempty"`
	To                 string          `json:"to"`
	Amount             decimal.Decimal `json:"amount"`
	AmountUSD          float64         `json:"amount_usd"`
	RiskTier           RiskTier        `json:"risk_tier,omitempty"`
	WarningCount       int             `json:"warning_count"`
	LiquidityImpactPct float64         `json:"liquidity_impact_pct"`
	Reference          string          `json:"reference,omitempty"`
	PhysicalTokenID    string          `json:"physical_token_id,omitempty"`
	Network            string          `json:"network,omitempty"`
	Error              string          `json:"error,omitempty"`
	Findings           []CheckResult   `json:"findings,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
	Signature          string          `json:"signature"`
}
