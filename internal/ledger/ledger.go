// Package ledger implements the daily screen-time accounting rules. It is
// pure arithmetic over storage.DailyUsage rows; persistence and locking are
// the caller's concern.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
)

// ErrValidation indicates a ledger invariant violation. It signals a logic
// bug rather than bad user input; callers must abort the triggering
// operation without partially applying it.
var ErrValidation = errors.New("ledger: invariant violation")

// Validate checks the ledger row invariants.
func Validate(d *storage.DailyUsage) error {
	switch {
	case d.BaseAllowedMinutes < 0:
		return fmt.Errorf("%w: negative base allowance (%d)", ErrValidation, d.BaseAllowedMinutes)
	case d.BonusEarnedMinutes < 0 || d.BonusUsedMinutes < 0 || d.RegularUsedMinutes < 0:
		return fmt.Errorf("%w: negative usage counters", ErrValidation)
	case d.BonusUsedMinutes > d.BonusEarnedMinutes:
		return fmt.Errorf("%w: bonus used (%d) exceeds bonus earned (%d)",
			ErrValidation, d.BonusUsedMinutes, d.BonusEarnedMinutes)
	case d.TotalUsedMinutes() > d.TotalAvailableMinutes():
		return fmt.Errorf("%w: total used (%d) exceeds total available (%d)",
			ErrValidation, d.TotalUsedMinutes(), d.TotalAvailableMinutes())
	case d.RemainingMinutes != remaining(d):
		return fmt.Errorf("%w: stale remaining minutes (%d, want %d)",
			ErrValidation, d.RemainingMinutes, remaining(d))
	}
	return nil
}

// NewDay creates a fresh ledger row for a user and date.
func NewDay(userID, date string, baseAllowance int) storage.DailyUsage {
	return storage.DailyUsage{
		UserID:             userID,
		Date:               date,
		BaseAllowedMinutes: baseAllowance,
		RemainingMinutes:   baseAllowance,
	}
}

// RecordSessionUsage adds a finished session's duration to the row. Bonus
// sessions consume bonus minutes; regular and emergency sessions consume the
// regular budget. The addition is clamped to the available headroom so the
// row never records more consumption than the day offered, which keeps
// emergency overruns from driving remaining negative.
func RecordSessionUsage(d *storage.DailyUsage, session *storage.Session, endedAt time.Time) error {
	if err := Validate(d); err != nil {
		return err
	}
	if session.UserID != d.UserID {
		return fmt.Errorf("%w: session user %s does not match ledger user %s",
			ErrValidation, session.UserID, d.UserID)
	}

	minutes := session.DurationMinutes
	if headroom := d.TotalAvailableMinutes() - d.TotalUsedMinutes(); minutes > headroom {
		minutes = headroom
	}
	if minutes < 0 {
		minutes = 0
	}

	if session.Type == storage.SessionBonus {
		d.BonusUsedMinutes += minutes
	} else {
		d.RegularUsedMinutes += minutes
	}
	d.LastSessionEndedAt = &endedAt
	d.RemainingMinutes = remaining(d)

	return Validate(d)
}

// AddBonusMinutes grants up to requested bonus minutes, never pushing the
// earned total past cap. Returns the amount actually granted, which may be
// zero.
func AddBonusMinutes(d *storage.DailyUsage, requested, cap int) int {
	if requested <= 0 {
		return 0
	}
	granted := cap - d.BonusEarnedMinutes
	if granted > requested {
		granted = requested
	}
	if granted <= 0 {
		return 0
	}
	d.BonusEarnedMinutes += granted
	d.RemainingMinutes = remaining(d)
	return granted
}

// ResetForNewDay zeroes all consumption and bonus fields and installs the
// new day's base allowance.
func ResetForNewDay(d *storage.DailyUsage, newBaseAllowance int) {
	d.BaseAllowedMinutes = newBaseAllowance
	d.BonusEarnedMinutes = 0
	d.BonusUsedMinutes = 0
	d.RegularUsedMinutes = 0
	d.LastSessionEndedAt = nil
	d.RemainingMinutes = remaining(d)
}

// RemainingWithLive returns the remaining minutes after subtracting the
// elapsed time of a running session, floored at zero. This is the number
// surfaced to clients; it is not persisted while the session runs.
func RemainingWithLive(d *storage.DailyUsage, live *storage.Session, now time.Time) int {
	rem := d.RemainingMinutes
	if live != nil && live.Running {
		rem -= live.LiveDurationMinutes(now)
	}
	if rem < 0 {
		return 0
	}
	return rem
}

// UsagePercent returns the share of the day's budget consumed, in percent
// rounded to one decimal place.
func UsagePercent(d *storage.DailyUsage) float64 {
	avail := d.TotalAvailableMinutes()
	if avail == 0 {
		return 100
	}
	pct := float64(d.TotalUsedMinutes()) / float64(avail) * 100
	return float64(int(pct*10+0.5)) / 10
}

// WeekSummary aggregates a run of ledger rows.
type WeekSummary struct {
	RecordedDays     int
	TotalUsedMinutes int
	TotalBonusUsed   int
	TotalAllowed     int
	TotalBonusEarned int
	DaysExhausted    int
}

// SummarizeWeek folds ledger rows into a summary.
func SummarizeWeek(rows []storage.DailyUsage) WeekSummary {
	var s WeekSummary
	for i := range rows {
		d := &rows[i]
		s.RecordedDays++
		s.TotalUsedMinutes += d.RegularUsedMinutes
		s.TotalBonusUsed += d.BonusUsedMinutes
		s.TotalAllowed += d.BaseAllowedMinutes
		s.TotalBonusEarned += d.BonusEarnedMinutes
		if d.RemainingMinutes == 0 {
			s.DaysExhausted++
		}
	}
	return s
}

// FormatMinutes renders a minute count as a compact duration string.
func FormatMinutes(minutes int) string {
	if minutes <= 0 {
		return "0m"
	}
	hours := minutes / 60
	mins := minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func remaining(d *storage.DailyUsage) int {
	rem := d.TotalAvailableMinutes() - d.TotalUsedMinutes()
	if rem < 0 {
		return 0
	}
	return rem
}
