package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type scheduleStore struct {
	client *redis.Client
}

func scheduleKey(userID string) string {
	return fmt.Sprintf("timewarden:schedule:%s", userID)
}

// Get retrieves one user's allowance schedule
func (s *scheduleStore) Get(ctx context.Context, userID string) (*storage.AllowanceSchedule, error) {
	data, err := s.client.Get(ctx, scheduleKey(userID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var schedule storage.AllowanceSchedule
	if err := json.Unmarshal([]byte(data), &schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return &schedule, nil
}

// Upsert writes one user's allowance schedule
func (s *scheduleStore) Upsert(ctx context.Context, schedule storage.AllowanceSchedule) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	return s.client.Set(ctx, scheduleKey(schedule.UserID), data, 0).Err()
}
