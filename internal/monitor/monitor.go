// Package monitor runs the periodic sweep over active sessions: low-time
// warnings, budget exhaustion enforcement and runaway session alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/goodtune/timewarden/internal/timer"
)

// Monitor sweeps active sessions on a time-of-day dependent interval.
type Monitor struct {
	store   storage.Store
	service *timer.Service
	conn    *connectivity.Manager
	sink    notify.Sink
	clock   clock.Clock
	logger  zerolog.Logger

	activeHourStart int
	activeHourEnd   int
	activeInterval  time.Duration
	idleInterval    time.Duration
	runawayMinutes  int

	stopChan chan struct{}
}

// New builds the monitor from config.
func New(store storage.Store, service *timer.Service, conn *connectivity.Manager, sink notify.Sink, clk clock.Clock, cfg config.MonitorConfig, logger zerolog.Logger) (*Monitor, error) {
	activeInterval, err := time.ParseDuration(cfg.ActiveInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid active_interval: %w", err)
	}
	idleInterval, err := time.ParseDuration(cfg.IdleInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid idle_interval: %w", err)
	}

	return &Monitor{
		store:           store,
		service:         service,
		conn:            conn,
		sink:            sink,
		clock:           clk,
		logger:          logger.With().Str("component", "monitor").Logger(),
		activeHourStart: cfg.ActiveHourStart,
		activeHourEnd:   cfg.ActiveHourEnd,
		activeInterval:  activeInterval,
		idleInterval:    idleInterval,
		runawayMinutes:  cfg.RunawaySessionMinutes,
		stopChan:        make(chan struct{}),
	}, nil
}

// Start begins the monitor loop.
func (m *Monitor) Start() {
	go m.run()
	m.logger.Info().
		Dur("active_interval", m.activeInterval).
		Dur("idle_interval", m.idleInterval).
		Msg("Monitor started")
}

// Stop stops the monitor loop.
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.logger.Info().Msg("Monitor stopped")
}

func (m *Monitor) run() {
	for {
		interval := m.IntervalAt(m.clock.Now())
		select {
		case <-time.After(interval):
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Monitor run finished with errors")
			}
			cancel()
		case <-m.stopChan:
			return
		}
	}
}

// IntervalAt returns the sweep interval for a point in time: tight during
// waking hours, relaxed overnight.
func (m *Monitor) IntervalAt(now time.Time) time.Duration {
	hour := now.Hour()
	if hour >= m.activeHourStart && hour < m.activeHourEnd {
		return m.activeInterval
	}
	return m.idleInterval
}

// RunOnce performs one sweep over all active sessions. Per-user failures
// are collected so one bad user never starves the rest.
func (m *Monitor) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.MonitorRunDuration.Observe(time.Since(start).Seconds())
	}()

	sessions, err := m.store.Sessions().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	var errs []error
	for i := range sessions {
		if err := m.checkSession(ctx, &sessions[i]); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", sessions[i].UserID, err))
		}
	}

	if err := m.conn.SyncStatus(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// checkSession handles one active session: runaway alerting, exhaustion
// enforcement, and at most one low-time warning.
func (m *Monitor) checkSession(ctx context.Context, session *storage.Session) error {
	now := m.clock.Now()
	date := now.Format(storage.DateFormat)

	if m.runawayMinutes > 0 && session.LiveDurationMinutes(now) >= m.runawayMinutes {
		m.alertRunaway(ctx, session, date, now)
	}

	remaining, err := m.service.GetRemainingMinutes(ctx, session.UserID)
	if err != nil {
		return err
	}

	if remaining <= 0 {
		err := m.service.HandleExhausted(ctx, session.UserID)
		if err != nil && err != timer.ErrNoActiveSession {
			return err
		}
		return nil
	}

	warning, ok := timer.WarningFor(remaining)
	if !ok {
		return nil
	}

	key := fmt.Sprintf("warn:%s:%d:%s", session.UserID, warning.ThresholdMinutes, date)
	set, err := m.store.Markers().SetNX(ctx, key, untilMidnight(now))
	if err != nil {
		return fmt.Errorf("set warning marker: %w", err)
	}
	if !set {
		return nil
	}

	metrics.WarningsSent.WithLabelValues(strconv.Itoa(warning.ThresholdMinutes)).Inc()
	m.logger.Info().
		Str("user_id", session.UserID).
		Int("threshold", warning.ThresholdMinutes).
		Int("remaining_minutes", remaining).
		Msg("Low-time warning sent")

	m.sink.Publish(notify.Event{
		Type:             warning.Event,
		UserID:           session.UserID,
		Timestamp:        now,
		RemainingMinutes: remaining,
		Message:          fmt.Sprintf("%d minutes of screen time left", remaining),
	})
	return nil
}

// alertRunaway flags a session that has run suspiciously long. The session
// is left alone; a guardian decides whether to force-stop it.
func (m *Monitor) alertRunaway(ctx context.Context, session *storage.Session, date string, now time.Time) {
	key := fmt.Sprintf("runaway:%s:%s", session.UserID, date)
	set, err := m.store.Markers().SetNX(ctx, key, untilMidnight(now))
	if err != nil || !set {
		return
	}

	minutes := session.LiveDurationMinutes(now)
	m.logger.Warn().
		Str("user_id", session.UserID).
		Str("session_id", session.ID).
		Int("duration_minutes", minutes).
		Msg("Session running unusually long")

	m.sink.Publish(notify.Event{
		Type:            notify.EventLongSessionAlert,
		UserID:          session.UserID,
		Timestamp:       now,
		DurationMinutes: minutes,
		Message:         "session has been running unusually long",
	})
}

// untilMidnight returns the duration to the next local midnight, used as
// marker TTL so dedupe state dies with the day.
func untilMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
