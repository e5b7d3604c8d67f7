package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role represents a user's role in the household.
type Role string

const (
	RoleKid      Role = "kid"
	RoleGuardian Role = "guardian"
)

// UnmarshalJSON implements json.Unmarshaler to normalize roles to lowercase.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Role(strings.ToLower(s))

	switch normalized {
	case RoleKid, RoleGuardian:
		*r = normalized
		return nil
	default:
		return fmt.Errorf("invalid role: %s (must be kid or guardian)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// SessionType classifies a usage session.
type SessionType string

const (
	SessionRegular   SessionType = "regular"
	SessionBonus     SessionType = "bonus"
	SessionEmergency SessionType = "emergency"
)

// UnmarshalJSON implements json.Unmarshaler to normalize session types.
func (t *SessionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := SessionType(strings.ToLower(s))

	switch normalized {
	case SessionRegular, SessionBonus, SessionEmergency:
		*t = normalized
		return nil
	default:
		return fmt.Errorf("invalid session type: %s (must be regular, bonus, or emergency)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (t SessionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// User represents a managed or guardian account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsGuardian reports whether the user holds the guardian role.
func (u *User) IsGuardian() bool {
	return u.Role == RoleGuardian
}

// Session represents a tracked usage session.
// At most one running session exists per user at any time.
type Session struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Type            SessionType `json:"type"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
	DurationMinutes int         `json:"duration_minutes"`
	Running         bool        `json:"running"`
}

// LiveDurationMinutes returns the session duration as of now. For a running
// session the duration is derived from the wall clock; for an ended session
// the frozen duration is returned.
func (s *Session) LiveDurationMinutes(now time.Time) int {
	if s.Running {
		return int(now.Sub(s.StartedAt).Minutes())
	}
	return s.DurationMinutes
}

// DateFormat is the layout used for ledger dates and retention cutoffs.
const DateFormat = "2006-01-02"

// DailyUsage is the per-user, per-day allowance and consumption ledger row.
type DailyUsage struct {
	UserID             string     `json:"user_id"`
	Date               string     `json:"date"`
	BaseAllowedMinutes int        `json:"base_allowed_minutes"`
	BonusEarnedMinutes int        `json:"bonus_earned_minutes"`
	BonusUsedMinutes   int        `json:"bonus_used_minutes"`
	RegularUsedMinutes int        `json:"regular_used_minutes"`
	RemainingMinutes   int        `json:"remaining_minutes"`
	LastSessionEndedAt *time.Time `json:"last_session_ended_at,omitempty"`
}

// TotalAvailableMinutes returns base allowance plus earned bonus.
func (d *DailyUsage) TotalAvailableMinutes() int {
	return d.BaseAllowedMinutes + d.BonusEarnedMinutes
}

// TotalUsedMinutes returns regular plus bonus consumption.
func (d *DailyUsage) TotalUsedMinutes() int {
	return d.RegularUsedMinutes + d.BonusUsedMinutes
}

// ConnectivityState records the desired network access state for one user.
// The recorded state is the intended state, independent of whether the
// physical backend call succeeded.
type ConnectivityState struct {
	UserID            string    `json:"user_id"`
	Enabled           bool      `json:"enabled"`
	ControlledByTimer bool      `json:"controlled_by_timer"`
	ManualOverrideBy  string    `json:"manual_override_by,omitempty"`
	OverrideReason    string    `json:"override_reason,omitempty"`
	LastControlledAt  time.Time `json:"last_controlled_at"`
}

// ManuallyOverridden reports whether a guardian override is in effect.
func (c *ConnectivityState) ManuallyOverridden() bool {
	return c.ManualOverrideBy != ""
}

// AllowanceSchedule holds the seven per-weekday minute budgets plus the
// bonus policy for one user.
type AllowanceSchedule struct {
	UserID           string `json:"user_id"`
	SundayMinutes    int    `json:"sunday_minutes"`
	MondayMinutes    int    `json:"monday_minutes"`
	TuesdayMinutes   int    `json:"tuesday_minutes"`
	WednesdayMinutes int    `json:"wednesday_minutes"`
	ThursdayMinutes  int    `json:"thursday_minutes"`
	FridayMinutes    int    `json:"friday_minutes"`
	SaturdayMinutes  int    `json:"saturday_minutes"`
	MaxBonusMinutes  int    `json:"max_bonus_minutes"`
	BonusEnabled     bool   `json:"bonus_enabled"`
}

// MinutesForDay returns the base allowance for the given weekday.
func (a *AllowanceSchedule) MinutesForDay(day time.Weekday) int {
	switch day {
	case time.Sunday:
		return a.SundayMinutes
	case time.Monday:
		return a.MondayMinutes
	case time.Tuesday:
		return a.TuesdayMinutes
	case time.Wednesday:
		return a.WednesdayMinutes
	case time.Thursday:
		return a.ThursdayMinutes
	case time.Friday:
		return a.FridayMinutes
	case time.Saturday:
		return a.SaturdayMinutes
	}
	return 0
}

// WeekdayTotalMinutes returns the Monday through Friday budget.
func (a *AllowanceSchedule) WeekdayTotalMinutes() int {
	return a.MondayMinutes + a.TuesdayMinutes + a.WednesdayMinutes +
		a.ThursdayMinutes + a.FridayMinutes
}

// WeekendTotalMinutes returns the Saturday plus Sunday budget.
func (a *AllowanceSchedule) WeekendTotalMinutes() int {
	return a.SaturdayMinutes + a.SundayMinutes
}

// DefaultSchedule builds a uniform schedule for users without one.
func DefaultSchedule(userID string, dailyMinutes, maxBonus int) AllowanceSchedule {
	return AllowanceSchedule{
		UserID:           userID,
		SundayMinutes:    dailyMinutes,
		MondayMinutes:    dailyMinutes,
		TuesdayMinutes:   dailyMinutes,
		WednesdayMinutes: dailyMinutes,
		ThursdayMinutes:  dailyMinutes,
		FridayMinutes:    dailyMinutes,
		SaturdayMinutes:  dailyMinutes,
		MaxBonusMinutes:  maxBonus,
		BonusEnabled:     maxBonus > 0,
	}
}
