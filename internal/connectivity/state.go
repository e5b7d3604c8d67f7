package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/rs/zerolog"
)

// Source identifies who requested a connectivity change.
type Source string

const (
	SourceTimer  Source = "timer"
	SourceManual Source = "manual"
)

var (
	ErrNotGuardian    = errors.New("manual override requires a guardian")
	ErrReasonRequired = errors.New("manual override requires a reason")
)

// Manager owns per-user connectivity state. The desired state is persisted
// before the backend is asked to apply it, so a backend outage never loses
// a decision. Backend applies run on their own goroutine; callers never
// wait out a network retry.
type Manager struct {
	store        storage.Store
	backend      Backend
	sink         notify.Sink
	clock        clock.Clock
	logger       zerolog.Logger
	applyTimeout time.Duration
	maxRetries   int

	mu        sync.Mutex
	applyLock sync.Mutex
	applies   sync.WaitGroup
}

// NewManager wires the connectivity manager.
func NewManager(store storage.Store, backend Backend, sink notify.Sink, clk clock.Clock, cfg config.ConnectivityConfig, logger zerolog.Logger) *Manager {
	applyTimeout, err := time.ParseDuration(cfg.ApplyTimeout)
	if err != nil {
		applyTimeout = 10 * time.Second
	}
	return &Manager{
		store:        store,
		backend:      backend,
		sink:         sink,
		clock:        clk,
		logger:       logger.With().Str("component", "connectivity").Logger(),
		applyTimeout: applyTimeout,
		maxRetries:   cfg.MaxRetries,
	}
}

// Enable turns the user's network access on.
func (m *Manager) Enable(ctx context.Context, userID string, source Source, actorID, reason string) error {
	return m.setEnabled(ctx, userID, true, source, actorID, reason)
}

// Disable turns the user's network access off.
func (m *Manager) Disable(ctx context.Context, userID string, source Source, actorID, reason string) error {
	return m.setEnabled(ctx, userID, false, source, actorID, reason)
}

func (m *Manager) setEnabled(ctx context.Context, userID string, enabled bool, source Source, actorID, reason string) error {
	if source == SourceManual {
		if err := m.checkGuardian(ctx, actorID); err != nil {
			return err
		}
		if reason == "" {
			return ErrReasonRequired
		}
	}

	m.mu.Lock()
	state, err := m.store.Connectivity().Get(ctx, userID)
	if err != nil && err != storage.ErrNotFound {
		m.mu.Unlock()
		return fmt.Errorf("load connectivity state: %w", err)
	}
	if state == nil {
		state = &storage.ConnectivityState{UserID: userID}
	}

	// Timer-driven changes never fight a standing manual override.
	if source == SourceTimer && state.ManuallyOverridden() {
		m.mu.Unlock()
		m.logger.Debug().Str("user_id", userID).Msg("Skipping timer change, manual override in effect")
		return nil
	}

	state.Enabled = enabled
	state.LastControlledAt = m.clock.Now()
	switch source {
	case SourceManual:
		state.ControlledByTimer = false
		state.ManualOverrideBy = actorID
		state.OverrideReason = reason
	default:
		state.ControlledByTimer = true
		state.ManualOverrideBy = ""
		state.OverrideReason = ""
	}

	if err := m.store.Connectivity().Upsert(ctx, *state); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist connectivity state: %w", err)
	}
	m.mu.Unlock()

	action := "disable"
	if enabled {
		action = "enable"
	}
	metrics.ConnectivityChanges.WithLabelValues(action, string(source)).Inc()

	m.logger.Info().
		Str("user_id", userID).
		Bool("enabled", enabled).
		Str("source", string(source)).
		Msg("Connectivity state changed")

	m.sink.Publish(notify.Event{
		Type:      notify.EventConnectivityChanged,
		UserID:    userID,
		Timestamp: m.clock.Now(),
		Enabled:   enabled,
		ActorID:   actorID,
		Reason:    reason,
	})

	// The apply must not run in the caller's frame: session operations
	// hold a per-user lock while they call Enable/Disable, and a backend
	// retry loop would stall every other operation for that user.
	m.applies.Add(1)
	go func() {
		defer m.applies.Done()
		m.applyDesired(context.WithoutCancel(ctx), userID)
	}()
	return nil
}

// Flush waits for in-flight backend applies to finish. Called on shutdown
// and by tests before asserting on backend state.
func (m *Manager) Flush() {
	m.applies.Wait()
}

// ClearOverride lifts a manual override and returns the user to timer
// control. The current enabled state is left as-is until the timer next
// acts on the user.
func (m *Manager) ClearOverride(ctx context.Context, userID, actorID string) error {
	if err := m.checkGuardian(ctx, actorID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Connectivity().Get(ctx, userID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load connectivity state: %w", err)
	}
	if !state.ManuallyOverridden() {
		return nil
	}

	state.ControlledByTimer = true
	state.ManualOverrideBy = ""
	state.OverrideReason = ""
	state.LastControlledAt = m.clock.Now()

	if err := m.store.Connectivity().Upsert(ctx, *state); err != nil {
		return fmt.Errorf("persist connectivity state: %w", err)
	}

	m.logger.Info().Str("user_id", userID).Str("actor_id", actorID).Msg("Manual override cleared")
	return nil
}

// Status returns the stored connectivity state for one user.
func (m *Manager) Status(ctx context.Context, userID string) (*storage.ConnectivityState, error) {
	return m.store.Connectivity().Get(ctx, userID)
}

// DisableAll disables access for every managed kid account. Used for the
// household-wide bedtime switch. Per-user failures are collected, not
// short-circuited.
func (m *Manager) DisableAll(ctx context.Context, source Source, actorID, reason string) error {
	users, err := m.store.Users().List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var errs []error
	for _, user := range users {
		if user.IsGuardian() {
			continue
		}
		if err := m.Disable(ctx, user.ID, source, actorID, reason); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", user.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkGuardian(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrNotGuardian
	}
	actor, err := m.store.Users().Get(ctx, actorID)
	if err == storage.ErrNotFound {
		return ErrNotGuardian
	}
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if !actor.IsGuardian() {
		return ErrNotGuardian
	}
	return nil
}
