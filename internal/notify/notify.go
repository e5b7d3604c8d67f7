// Package notify defines the event sink the engine pushes typed updates
// through. Delivery is fire-and-forget; the engine never waits on a sink.
package notify

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the family of a pushed event.
type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventSessionStopped      EventType = "session_stopped"
	EventBonusAwarded        EventType = "bonus_awarded"
	EventWarning15Min        EventType = "warning_15min"
	EventWarning5Min         EventType = "warning_5min"
	EventWarning1Min         EventType = "warning_1min"
	EventTimeExpired         EventType = "time_expired"
	EventEmergencyStarted    EventType = "emergency_started"
	EventForceStopped        EventType = "force_stopped"
	EventConnectivityChanged EventType = "connectivity_changed"
	EventLongSessionAlert    EventType = "long_session_alert"
	EventControlFailure      EventType = "control_failure"
)

// Event carries a timer update to the affected user and guardians.
type Event struct {
	Type             EventType `json:"type"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	RemainingMinutes int       `json:"remaining_minutes"`
	Message          string    `json:"message"`

	// Event-specific fields.
	ActorID         string `json:"actor_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	BonusMinutes    int    `json:"bonus_minutes,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Enabled         bool   `json:"enabled,omitempty"`
}

// Sink receives engine events. Implementations must not block; at-most-once
// delivery is acceptable and no acknowledgement is expected.
type Sink interface {
	Publish(event Event)
}

// LogSink writes events to the structured log. It is the default sink when
// no real-time transport is wired in.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify").Logger()}
}

// Publish logs the event.
func (s *LogSink) Publish(event Event) {
	s.logger.Info().
		Str("event", string(event.Type)).
		Str("user_id", event.UserID).
		Int("remaining_minutes", event.RemainingMinutes).
		Str("message", event.Message).
		Msg("Event published")
}
