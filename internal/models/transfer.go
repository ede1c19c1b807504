package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest asks the executor to move Amount tokens to To.
type TransferRequest struct {
	To                          string          `json:"to"`
	Amount                      decimal.Decimal `json:"amount"`
	PhysicalTokenID             string          `json:"physical_token_id,omitempty"`
	RequirePhysicalVerification bool            `json:"require_physical_verification,omitempty"`

	// Operator is the authenticated caller, set by the API layer.
	Operator string `json:"-"`
}

// NeedsPhysicalVerification reports whether a verified token is a precondition.
func (r *TransferRequest) NeedsPhysicalVerification() bool {
	return r.RequirePhysicalVerification || r.PhysicalTokenID != ""
}

// GateDecision is the aggregated result of the security gate.
type GateDecision struct {
	Approved bool           `json:"approved"`
	Checks   []CheckResult  `json:"checks"`
	Risk     RiskAssessment `json:"risk_assessment"`
}

// Warnings returns the WARNING-level findings.
func (d *GateDecision) Warnings() []CheckResult {
	var out []CheckResult
	for _, c := range d.Checks {
		if c.Severity == SeverityWarning {
			out = append(out, c)
		}
	}
	return out
}

// Blocking returns the findings that caused a denial.
func (d *GateDecision) Blocking() []CheckResult {
	var out []CheckResult
	for _, c := range d.Checks {
		if c.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

// TransferOutcome is returned for an executed transfer.
type TransferOutcome struct {
	Reference string          `json:"reference"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	AmountUSD float64         `json:"amount_usd"`
	Network   string          `json:"network"`
	Decision  GateDecision    `json:"security_check"`
	AuditID   string          `json:"audit_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// RateLimitState is the per-recipient counter for the current window.
type RateLimitState struct {
	Key         string    `json:"key"`
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
