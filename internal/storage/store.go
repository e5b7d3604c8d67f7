package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrActiveSessionExists is returned by SessionStore.CreateActive when the
// user already has a running session. The check and the create execute as
// one atomic unit so two concurrent starts can never both succeed.
var ErrActiveSessionExists = errors.New("storage: user already has an active session")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Users() UserStore
	Schedules() ScheduleStore
	Sessions() SessionStore
	Usage() UsageStore
	Connectivity() ConnectivityStore
	Markers() MarkerStore
}

// UserStore manages household accounts.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, user User) error
	Delete(ctx context.Context, id string) error
}

// ScheduleStore manages per-user allowance schedules.
type ScheduleStore interface {
	Get(ctx context.Context, userID string) (*AllowanceSchedule, error)
	Upsert(ctx context.Context, schedule AllowanceSchedule) error
}

// SessionStore manages usage sessions.
type SessionStore interface {
	// CreateActive atomically checks for a running session and creates the
	// given one. Returns ErrActiveSessionExists if the user already has one.
	CreateActive(ctx context.Context, session Session) error
	Upsert(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetActive(ctx context.Context, userID string) (*Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// UsageStore manages the daily ledger rows.
type UsageStore interface {
	Get(ctx context.Context, userID, date string) (*DailyUsage, error)
	Upsert(ctx context.Context, usage DailyUsage) error
	ListForDate(ctx context.Context, date string) ([]DailyUsage, error)
	ListForUserRange(ctx context.Context, userID, fromDate, toDate string) ([]DailyUsage, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// ConnectivityStore manages per-user connectivity state records.
type ConnectivityStore interface {
	Get(ctx context.Context, userID string) (*ConnectivityState, error)
	Upsert(ctx context.Context, state ConnectivityState) error
	List(ctx context.Context) ([]ConnectivityState, error)
}

// MarkerStore is an expiring key-value space used to deduplicate warning
// notifications. Writers race harmlessly because markers are idempotent and
// TTL-bounded.
type MarkerStore interface {
	// SetNX sets the marker if absent and reports whether it was newly set.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// DeleteExpired reclaims stale markers on backends without native TTL.
	DeleteExpired(ctx context.Context) (int, error)
}
