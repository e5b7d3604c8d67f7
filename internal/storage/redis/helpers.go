package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
)

// parseSession converts a Redis hash to a Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	duration, err := strconv.Atoi(data["duration_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_minutes: %w", err)
	}

	session := &storage.Session{
		ID:              data["id"],
		UserID:          data["user_id"],
		Type:            storage.SessionType(data["type"]),
		StartedAt:       startedAt,
		DurationMinutes: duration,
		Running:         data["running"] == "1",
	}

	if raw, ok := data["ended_at"]; ok && raw != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		session.EndedAt = &endedAt
	}

	return session, nil
}

// parseDailyUsage converts a Redis hash to a DailyUsage ledger row
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	ints := make(map[string]int, 5)
	for _, field := range []string{
		"base_allowed_minutes",
		"bonus_earned_minutes",
		"bonus_used_minutes",
		"regular_used_minutes",
		"remaining_minutes",
	} {
		v, err := strconv.Atoi(data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		ints[field] = v
	}

	usage := &storage.DailyUsage{
		UserID:             data["user_id"],
		Date:               data["date"],
		BaseAllowedMinutes: ints["base_allowed_minutes"],
		BonusEarnedMinutes: ints["bonus_earned_minutes"],
		BonusUsedMinutes:   ints["bonus_used_minutes"],
		RegularUsedMinutes: ints["regular_used_minutes"],
		RemainingMinutes:   ints["remaining_minutes"],
	}

	if raw, ok := data["last_session_ended_at"]; ok && raw != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_session_ended_at: %w", err)
		}
		usage.LastSessionEndedAt = &endedAt
	}

	return usage, nil
}

// parseConnectivityState converts a Redis hash to a ConnectivityState
func parseConnectivityState(data map[string]string) (*storage.ConnectivityState, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	lastControlledAt, err := time.Parse(time.RFC3339Nano, data["last_controlled_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_controlled_at: %w", err)
	}

	return &storage.ConnectivityState{
		UserID:            data["user_id"],
		Enabled:           data["enabled"] == "1",
		ControlledByTimer: data["controlled_by_timer"] == "1",
		ManualOverrideBy:  data["manual_override_by"],
		OverrideReason:    data["override_reason"],
		LastControlledAt:  lastControlledAt,
	}, nil
}
