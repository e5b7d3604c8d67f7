package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type connectivityStore struct {
	client *redis.Client
}

func connectivityKey(userID string) string {
	return fmt.Sprintf("timewarden:connectivity:%s", userID)
}

const connectivityIndexKey = "timewarden:connectivity:index"

// Get retrieves one user's connectivity state
func (s *connectivityStore) Get(ctx context.Context, userID string) (*storage.ConnectivityState, error) {
	data, err := s.client.HGetAll(ctx, connectivityKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseConnectivityState(data)
}

// Upsert writes one user's connectivity state
func (s *connectivityStore) Upsert(ctx context.Context, state storage.ConnectivityState) error {
	enabled := "0"
	if state.Enabled {
		enabled = "1"
	}
	byTimer := "0"
	if state.ControlledByTimer {
		byTimer = "1"
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, connectivityKey(state.UserID),
		"user_id", state.UserID,
		"enabled", enabled,
		"controlled_by_timer", byTimer,
		"manual_override_by", state.ManualOverrideBy,
		"override_reason", state.OverrideReason,
		"last_controlled_at", state.LastControlledAt.Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, connectivityIndexKey, state.UserID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns every recorded connectivity state
func (s *connectivityStore) List(ctx context.Context) ([]storage.ConnectivityState, error) {
	userIDs, err := s.client.SMembers(ctx, connectivityIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return []storage.ConnectivityState{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, connectivityKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	states := make([]storage.ConnectivityState, 0, len(userIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		state, err := parseConnectivityState(data)
		if err == nil {
			states = append(states, *state)
		}
	}

	return states, nil
}
