package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client            *redis.Client
	userStore         *userStore
	scheduleStore     *scheduleStore
	sessionStore      *sessionStore
	usageStore        *usageStore
	connectivityStore *connectivityStore
	markerStore       *markerStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client:            client,
		userStore:         &userStore{client: client},
		scheduleStore:     &scheduleStore{client: client},
		sessionStore:      &sessionStore{client: client},
		usageStore:        &usageStore{client: client},
		connectivityStore: &connectivityStore{client: client},
		markerStore:       &markerStore{client: client},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Users returns the UserStore implementation
func (s *Store) Users() storage.UserStore {
	return s.userStore
}

// Schedules returns the ScheduleStore implementation
func (s *Store) Schedules() storage.ScheduleStore {
	return s.scheduleStore
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Connectivity returns the ConnectivityStore implementation
func (s *Store) Connectivity() storage.ConnectivityStore {
	return s.connectivityStore
}

// Markers returns the MarkerStore implementation
func (s *Store) Markers() storage.MarkerStore {
	return s.markerStore
}
