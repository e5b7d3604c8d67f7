package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func usageKey(date, userID string) string {
	return fmt.Sprintf("timewarden:usage:%s:%s", date, userID)
}

func usageIndexKey(date string) string {
	return fmt.Sprintf("timewarden:usage:index:%s", date)
}

// Get retrieves the ledger row for one user and date
func (s *usageStore) Get(ctx context.Context, userID, date string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date, userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseDailyUsage(data)
}

// Upsert writes a ledger row and maintains the date index
func (s *usageStore) Upsert(ctx context.Context, usage storage.DailyUsage) error {
	script := redis.NewScript(upsertDailyUsageScript)

	lastEnded := ""
	if usage.LastSessionEndedAt != nil {
		lastEnded = usage.LastSessionEndedAt.Format(time.RFC3339Nano)
	}

	keys := []string{usageKey(usage.Date, usage.UserID), usageIndexKey(usage.Date)}
	args := []interface{}{
		usage.UserID,
		usage.Date,
		usage.BaseAllowedMinutes,
		usage.BonusEarnedMinutes,
		usage.BonusUsedMinutes,
		usage.RegularUsedMinutes,
		usage.RemainingMinutes,
		lastEnded,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// ListForDate returns all ledger rows for one date
func (s *usageStore) ListForDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	userIDs, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return []storage.DailyUsage{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, usageKey(date, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(userIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		usage, err := parseDailyUsage(data)
		if err == nil {
			usages = append(usages, *usage)
		}
	}

	return usages, nil
}

// ListForUserRange returns the user's ledger rows between two dates inclusive
func (s *usageStore) ListForUserRange(ctx context.Context, userID, fromDate, toDate string) ([]storage.DailyUsage, error) {
	from, err := time.Parse(storage.DateFormat, fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid from date: %w", err)
	}
	to, err := time.Parse(storage.DateFormat, toDate)
	if err != nil {
		return nil, fmt.Errorf("invalid to date: %w", err)
	}

	var usages []storage.DailyUsage
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		usage, err := s.Get(ctx, userID, d.Format(storage.DateFormat))
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		usages = append(usages, *usage)
	}

	return usages, nil
}

// DeleteBefore deletes ledger rows dated before the cutoff.
// Retention TTLs handle most expiry; this covers immediate purges.
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	var cursor uint64
	var deleted int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, "timewarden:usage:index:*", 100).Result()
		if err != nil {
			return deleted, err
		}

		for _, indexKey := range keys {
			date := indexKey[len("timewarden:usage:index:"):]
			if date >= cutoffDate {
				continue
			}

			userIDs, err := s.client.SMembers(ctx, indexKey).Result()
			if err != nil {
				continue
			}
			for _, userID := range userIDs {
				if err := s.client.Del(ctx, usageKey(date, userID)).Err(); err == nil {
					deleted++
				}
			}
			s.client.Del(ctx, indexKey)
		}

		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
