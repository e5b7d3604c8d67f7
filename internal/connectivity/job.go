package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/notify"
)

// applyDesired pushes the stored desired state for one user to the backend.
// The state is re-read under the apply lock so overlapping changes converge
// on the newest decision, whatever order their goroutines were scheduled in.
func (m *Manager) applyDesired(ctx context.Context, userID string) {
	m.applyLock.Lock()
	defer m.applyLock.Unlock()

	state, err := m.store.Connectivity().Get(ctx, userID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load desired state for apply")
		return
	}
	m.applyWithRetry(ctx, userID, state.Enabled)
}

// applyWithRetry pushes the desired state to the backend. Connection
// failures are retried with exponential backoff; authentication and
// unsupported-backend failures are not retryable. A missing device is
// treated as success since there is nothing to control.
func (m *Manager) applyWithRetry(ctx context.Context, userID string, enabled bool) {
	operation := func() error {
		applyCtx, cancel := context.WithTimeout(ctx, m.applyTimeout)
		defer cancel()

		err := m.backend.Apply(applyCtx, userID, enabled)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrDeviceNotFound):
			m.logger.Debug().Str("user_id", userID).Msg("No device registered, nothing to apply")
			return nil
		case errors.Is(err, ErrAuthentication), errors.Is(err, ErrUnsupportedBackend):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = m.applyTimeout

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(m.maxRetries)), ctx))
	if err == nil {
		return
	}

	metrics.BackendApplyFailures.WithLabelValues(errorClass(err)).Inc()
	m.logger.Error().
		Err(err).
		Str("user_id", userID).
		Bool("enabled", enabled).
		Str("backend", m.backend.Name()).
		Msg("Backend apply failed, desired state kept")

	m.sink.Publish(notify.Event{
		Type:      notify.EventControlFailure,
		UserID:    userID,
		Timestamp: m.clock.Now(),
		Enabled:   enabled,
		Message:   fmt.Sprintf("could not apply connectivity change via %s backend", m.backend.Name()),
		Reason:    err.Error(),
	})
}

// SyncStatus reconciles the backend against the stored desired state and
// re-applies any drift. Per-user failures are collected.
func (m *Manager) SyncStatus(ctx context.Context) error {
	states, err := m.store.Connectivity().List(ctx)
	if err != nil {
		return fmt.Errorf("list connectivity states: %w", err)
	}

	var errs []error
	for _, state := range states {
		actual, err := m.backend.CheckStatus(ctx, state.UserID)
		if errors.Is(err, ErrDeviceNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", state.UserID, err))
			continue
		}
		if actual == state.Enabled {
			continue
		}

		m.logger.Warn().
			Str("user_id", state.UserID).
			Bool("desired", state.Enabled).
			Bool("actual", actual).
			Msg("Connectivity drift detected, re-applying")
		metrics.ConnectivityChanges.WithLabelValues(syncAction(state.Enabled), "sync").Inc()
		m.applyDesired(ctx, state.UserID)
	}
	return errors.Join(errs...)
}

func syncAction(enabled bool) string {
	if enabled {
		return "enable"
	}
	return "disable"
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrAPIConnection):
		return "connection"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrUnsupportedBackend):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
