package timer

import "github.com/goodtune/timewarden/internal/notify"

// Warning pairs a low-time threshold with the event announcing it.
type Warning struct {
	ThresholdMinutes int
	Event            notify.EventType
}

var warningLadder = []Warning{
	{1, notify.EventWarning1Min},
	{5, notify.EventWarning5Min},
	{15, notify.EventWarning15Min},
}

// WarningFor returns the warning owed for the given live remaining minutes.
// Only the tightest applicable threshold is returned so a single check
// produces at most one warning. Zero or negative remaining is expiry, not
// a warning.
func WarningFor(remainingMinutes int) (Warning, bool) {
	if remainingMinutes <= 0 {
		return Warning{}, false
	}
	for _, w := range warningLadder {
		if remainingMinutes <= w.ThresholdMinutes {
			return w, true
		}
	}
	return Warning{}, false
}

// WarningsFor returns the warning events applicable for the given live
// remaining minutes: the tightest crossed threshold while time remains,
// or expiry once the budget is gone.
func WarningsFor(remainingMinutes int) []notify.EventType {
	if remainingMinutes <= 0 {
		return []notify.EventType{notify.EventTimeExpired}
	}
	if w, ok := WarningFor(remainingMinutes); ok {
		return []notify.EventType{w.Event}
	}
	return nil
}
