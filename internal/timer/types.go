package timer

import (
	"time"

	"github.com/goodtune/timewarden/internal/storage"
)

// Status is a point-in-time snapshot of one user's day: the ledger totals
// plus the running session, if any. RemainingMinutes already accounts for
// the live session's elapsed time.
type Status struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`

	BaseAllowedMinutes int     `json:"base_allowed_minutes"`
	BonusEarnedMinutes int     `json:"bonus_earned_minutes"`
	UsedMinutes        int     `json:"used_minutes"`
	RemainingMinutes   int     `json:"remaining_minutes"`
	UsagePercent       float64 `json:"usage_percent"`

	ConnectivityEnabled bool `json:"connectivity_enabled"`
	CanStartSession     bool `json:"can_start_session"`

	SessionActive    bool                `json:"session_active"`
	SessionID        string              `json:"session_id,omitempty"`
	SessionType      storage.SessionType `json:"session_type,omitempty"`
	SessionStartedAt time.Time           `json:"session_started_at,omitempty"`
	SessionMinutes   int                 `json:"session_minutes,omitempty"`
}

// StopCause classifies how a session ended.
type StopCause string

const (
	StopRequested StopCause = "stopped"
	StopForced    StopCause = "forced"
	StopExpired   StopCause = "expired"
	StopRollover  StopCause = "rollover"
)
