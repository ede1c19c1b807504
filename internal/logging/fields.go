package logging

import (
	"log/slog"
	"time"
)

// Field names shared by every component.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldNodeID     = "node_id"
	FieldTokenID    = "token_id"
	FieldRecipient  = "recipient"
	FieldAmount     = "amount"
	FieldAmountUSD  = "amount_usd"
	FieldRiskTier   = "risk_tier"
	FieldCheck      = "check"
	FieldReference  = "reference"
	FieldNetwork    = "network"
	FieldSubject    = "subject"
	FieldAuditID    = "audit_id"
	FieldOperator   = "operator"
	FieldPath       = "path"
	FieldMethod     = "method"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldQueueDepth = "queue_depth"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr { return slog.String(FieldService, name) }

// NodeID returns a slog attribute for a radio node ID.
func NodeID(id string) slog.Attr { return slog.String(FieldNodeID, id) }

// TokenID returns a slog attribute for a physical token ID.
func TokenID(id string) slog.Attr { return slog.String(FieldTokenID, id) }

// Recipient returns a slog attribute for a transfer recipient address.
func Recipient(addr string) slog.Attr { return slog.String(FieldRecipient, addr) }

// Amount returns a slog attribute for a token amount.
func Amount(amount string) slog.Attr { return slog.String(FieldAmount, amount) }

// AmountUSD returns a slog attribute for an amount in USD.
func AmountUSD(v float64) slog.Attr { return slog.Float64(FieldAmountUSD, v) }

// RiskTier returns a slog attribute for a risk tier.
func RiskTier(tier string) slog.Attr { return slog.String(FieldRiskTier, tier) }

// Check returns a slog attribute for a security check code.
func Check(code string) slog.Attr { return slog.String(FieldCheck, code) }

// Reference returns a slog attribute for a ledger reference.
func Reference(ref string) slog.Attr { return slog.String(FieldReference, ref) }

// Network returns a slog attribute for the transfer network.
func Network(n string) slog.Attr { return slog.String(FieldNetwork, n) }

// Subject returns a slog attribute for an event subject.
func Subject(s string) slog.Attr { return slog.String(FieldSubject, s) }

// AuditID returns a slog attribute for an audit entry ID.
func AuditID(id string) slog.Attr { return slog.String(FieldAuditID, id) }

// Operator returns a slog attribute for the authenticated operator.
func Operator(name string) slog.Attr { return slog.String(FieldOperator, name) }

// Path returns a slog attribute for the request path.
func Path(p string) slog.Attr { return slog.String(FieldPath, p) }

// Method returns a slog attribute for the HTTP method.
func Method(m string) slog.Attr { return slog.String(FieldMethod, m) }

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

// QueueDepth returns a slog attribute for a queue depth.
func QueueDepth(n int) slog.Attr { return slog.Int(FieldQueueDepth, n) }

// Duration records d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns an error attribute. A nil error yields an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
