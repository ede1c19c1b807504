package models

import "time"

// TokenStatus is the verification state of a physical token event.
type TokenStatus string

const (
	TokenPending  TokenStatus = "PENDING"
	TokenVerified TokenStatus = "VERIFIED"
	TokenFailed   TokenStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenVerified || s == TokenFailed
}

// SensorSnapshot is the sensor state captured when the event was registered.
type SensorSnapshot struct {
	Temperature      float64     `json:"temperature"`
	Humidity         float64     `json:"humidity"`
	PresenceDetected bool        `json:"presence_detected"`
	Weight           float64     `json:"weight,omitempty"`
	Dimensions       *Dimensions `json:"dimensions,omitempty"`
}

// TokenEvent records a physical-presence event and its verification outcome.
type TokenEvent struct {
	TokenID          string         `json:"token_id"`
	NodeID           string         `json:"node_id"`
	VerificationCode string         `json:"verification_code,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Location         *Location      `json:"location,omitempty"`
	Sensors          SensorSnapshot `json:"sensors"`
	Status           TokenStatus    `json:"status"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty"`
	FailedAt         *time.Time     `json:"failed_at,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
}

// TokenState is the per-token part of a status report.
type TokenState struct {
	TokenID  string      `json:"token_id"`
	Found    bool        `json:"found"`
	Pending  bool        `json:"pending"`
	Verified bool        `json:"verified"`
	Usable   bool        `json:"usable_for_transfer"`
	Event    *TokenEvent `json:"event,omitempty"`
}

// StatusReport answers the query interface.
type StatusReport struct {
	ActiveNodes  int         `json:"active_node_count"`
	Pending      int         `json:"pending_count"`
	Verified     int         `json:"verified_count"`
	LastActivity *time.Time  `json:"last_activity_time,omitempty"`
	Token        *TokenState `json:"specific_token,omitempty"`
}
