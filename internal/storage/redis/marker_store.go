package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type markerStore struct {
	client *redis.Client
}

func markerKey(key string) string {
	return fmt.Sprintf("timewarden:marker:%s", key)
}

// SetNX sets the marker if absent and reports whether it was newly set
func (s *markerStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, markerKey(key), "1", ttl).Result()
}

// Exists reports whether the marker is present
func (s *markerStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, markerKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpired is a no-op; Redis expires markers natively via TTL
func (s *markerStore) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}
