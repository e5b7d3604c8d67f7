package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

func sessionKey(id string) string {
	return fmt.Sprintf("timewarden:session:%s", id)
}

func activePtrKey(userID string) string {
	return fmt.Sprintf("timewarden:session:active:%s", userID)
}

const activeSetKey = "timewarden:sessions:active"

// CreateActive atomically creates a running session unless the user already
// has one.
func (s *sessionStore) CreateActive(ctx context.Context, session storage.Session) error {
	script := redis.NewScript(createActiveSessionScript)

	keys := []string{activePtrKey(session.UserID), sessionKey(session.ID), activeSetKey}
	args := []interface{}{
		session.ID,
		session.UserID,
		string(session.Type),
		session.StartedAt.Format(time.RFC3339Nano),
	}

	created, err := script.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return storage.ErrActiveSessionExists
	}
	return nil
}

// Upsert creates or updates a session and its indexes
func (s *sessionStore) Upsert(ctx context.Context, session storage.Session) error {
	script := redis.NewScript(upsertSessionScript)

	endedAt := ""
	if session.EndedAt != nil {
		endedAt = session.EndedAt.Format(time.RFC3339Nano)
	}
	running := "0"
	if session.Running {
		running = "1"
	}

	keys := []string{activePtrKey(session.UserID), sessionKey(session.ID), activeSetKey}
	args := []interface{}{
		session.ID,
		session.UserID,
		string(session.Type),
		session.StartedAt.Format(time.RFC3339Nano),
		endedAt,
		session.DurationMinutes,
		running,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseSession(data)
}

// GetActive retrieves the user's running session, if any
func (s *sessionStore) GetActive(ctx context.Context, userID string) (*storage.Session, error) {
	id, err := s.client.Get(ctx, activePtrKey(userID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	session, err := s.Get(ctx, id)
	if err == storage.ErrNotFound {
		// Stale pointer; clean it up.
		s.client.Del(ctx, activePtrKey(userID))
		return nil, storage.ErrNotFound
	}
	return session, err
}

// ListActive returns all running sessions
func (s *sessionStore) ListActive(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// DeleteEndedBefore deletes ended sessions started before the cutoff.
// Retention TTLs handle most expiry; this covers immediate purges.
func (s *sessionStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	var deleted int

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, "timewarden:session:*", 100).Result()
		if err != nil {
			return deleted, err
		}

		for _, key := range keys {
			data, err := s.client.HGetAll(ctx, key).Result()
			if err != nil || len(data) == 0 {
				continue
			}
			if data["running"] == "1" {
				continue
			}
			startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
			if err != nil {
				continue
			}
			if startedAt.Before(cutoff) {
				if id, ok := data["id"]; ok {
					s.client.SRem(ctx, activeSetKey, id)
				}
				if err := s.client.Del(ctx, key).Err(); err == nil {
					deleted++
				}
			}
		}

		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
