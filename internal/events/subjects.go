// Package events publishes pipeline lifecycle notifications.
//
// Subjects follow {service}.{resource}.{action}.
package events

import "github.com/web8kameleon-hub/tokengate/internal/models"

const (
	SubjectTelemetry = "tokengate.telemetry.packet"

	SubjectNodeUpdated = "tokengate.nodes.updated"

	SubjectTokenRegistered = "tokengate.tokens.registered"
	SubjectTokenVerified   = "tokengate.tokens.verified"
	SubjectTokenFailed     = "tokengate.tokens.failed"

	SubjectTransferExecuted = "tokengate.transfers.executed"
	SubjectTransferFailed   = "tokengate.transfers.failed"
)

// TokenSubject maps a token status to its lifecycle subject.
func TokenSubject(status models.TokenStatus) string {
	switch status {
	case models.TokenVerified:
		return SubjectTokenVerified
	case models.TokenFailed:
		return SubjectTokenFailed
	default:
		return SubjectTokenRegistered
	}
}
