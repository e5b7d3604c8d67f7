package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type userStore struct {
	client *redis.Client
}

func userKey(id string) string {
	return fmt.Sprintf("timewarden:user:%s", id)
}

const userIndexKey = "timewarden:users"

// Get retrieves a user by id
func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	data, err := s.client.Get(ctx, userKey(id)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var user storage.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// List returns all users
func (s *userStore) List(ctx context.Context) ([]storage.User, error) {
	ids, err := s.client.SMembers(ctx, userIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.User{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	users := make([]storage.User, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		var user storage.User
		if err := json.Unmarshal([]byte(data), &user); err == nil {
			users = append(users, user)
		}
	}

	return users, nil
}

// Upsert writes a user record
func (s *userStore) Upsert(ctx context.Context, user storage.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, userKey(user.ID), data, 0)
	pipe.SAdd(ctx, userIndexKey, user.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a user record
func (s *userStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, userKey(id))
	pipe.SRem(ctx, userIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}
