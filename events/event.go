package events

import "time"

// Type identifies a lifecycle transition published to observers.
type Type string

const (
	TypeTokenIssued         Type = "token-issued"
	TypeTokenVerified       Type = "token-verified"
	TypeTokenExpired        Type = "token-expired"
	TypeTokenDenied         Type = "token-denied"
	TypeSessionOpened       Type = "session-opened"
	TypeSessionExpired      Type = "session-expired"
	TypeSessionForcedLogout Type = "session-forced-logout"
	TypeAttemptThreshold    Type = "attempt-threshold"
)

// Event is a structured lifecycle event consumed by administrative
// observers. Reason carries the precise internal cause (e.g. "reused",
// "device-mismatch") that the caller-facing response deliberately collapses.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Principal string    `json:"principal,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Count     int64     `json:"count,omitempty"`
}

// Notifier publishes lifecycle events. Implementations are best-effort:
// publishing never fails or blocks the triggering operation.
type Notifier interface {
	Publish(event Event)
}

// NoOpNotifier discards every event. Useful default for tests.
type NoOpNotifier struct{}

func (NoOpNotifier) Publish(Event) {}
