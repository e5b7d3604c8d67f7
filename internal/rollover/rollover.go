// Package rollover implements the midnight day change: running sessions are
// settled into the closing day, every ledger is re-seeded from the schedule,
// timer-controlled connectivity is restored and old rows are purged.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/ledger"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/goodtune/timewarden/internal/timer"
)

// Scheduler runs the rollover at each local midnight.
type Scheduler struct {
	store         storage.Store
	service       *timer.Service
	conn          *connectivity.Manager
	clock         clock.Clock
	logger        zerolog.Logger
	defaults      config.UsageConfig
	retentionDays int

	stopChan chan struct{}
}

// New builds the rollover scheduler.
func New(store storage.Store, service *timer.Service, conn *connectivity.Manager, clk clock.Clock, defaults config.UsageConfig, cfg config.RolloverConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		service:       service,
		conn:          conn,
		clock:         clk,
		logger:        logger.With().Str("component", "rollover").Logger(),
		defaults:      defaults,
		retentionDays: cfg.RetentionDays,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().Int("retention_days", s.retentionDays).Msg("Rollover scheduler started")
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Rollover scheduler stopped")
}

func (s *Scheduler) run() {
	for {
		next := nextMidnight(s.clock.Now())
		wait := time.Until(next)

		s.logger.Info().
			Time("next_rollover", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next rollover")

		select {
		case <-time.After(wait):
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := s.Run(ctx); err != nil {
				// A failed rollover never blocks the next one.
				s.logger.Error().Err(err).Msg("Rollover finished with errors")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// Run performs one rollover for the day that just began. Per-user failures
// are collected; the remaining users still get their fresh budgets.
func (s *Scheduler) Run(ctx context.Context) error {
	metrics.RolloverRuns.Inc()

	now := s.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	newDate := now.Format(storage.DateFormat)

	s.logger.Info().Str("date", newDate).Msg("Running daily rollover")

	var errs []error
	fail := func(err error) {
		metrics.RolloverErrors.Inc()
		errs = append(errs, err)
	}

	// Settle sessions still running across the boundary into the closing
	// day's ledger.
	cutoff := dayStart.Add(-time.Second)
	sessions, err := s.store.Sessions().ListActive(ctx)
	if err != nil {
		fail(fmt.Errorf("list active sessions: %w", err))
	} else {
		for i := range sessions {
			if err := s.service.CloseOutSession(ctx, sessions[i].UserID, cutoff); err != nil {
				fail(fmt.Errorf("close out %s: %w", sessions[i].UserID, err))
			}
		}
	}

	users, err := s.store.Users().List(ctx)
	if err != nil {
		fail(fmt.Errorf("list users: %w", err))
		users = nil
	}

	for _, user := range users {
		if user.IsGuardian() {
			continue
		}
		if err := s.resetUser(ctx, user.ID, now, newDate); err != nil {
			fail(fmt.Errorf("reset %s: %w", user.ID, err))
		}
	}

	s.purge(ctx, now, fail)

	return errors.Join(errs...)
}

// resetUser installs the new day's budget and hands connectivity back to
// the timer. A standing manual override survives untouched.
func (s *Scheduler) resetUser(ctx context.Context, userID string, now time.Time, newDate string) error {
	schedule, err := s.store.Schedules().Get(ctx, userID)
	if err == storage.ErrNotFound {
		fallback := storage.DefaultSchedule(userID, s.defaults.DefaultDailyMinutes, s.defaults.MaxBonusMinutes)
		schedule = &fallback
	} else if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	base := schedule.MinutesForDay(now.Weekday())

	row, err := s.store.Usage().Get(ctx, userID, newDate)
	if err == storage.ErrNotFound {
		fresh := ledger.NewDay(userID, newDate, base)
		row = &fresh
	} else if err != nil {
		return fmt.Errorf("load ledger row: %w", err)
	} else {
		ledger.ResetForNewDay(row, base)
	}
	if err := s.store.Usage().Upsert(ctx, *row); err != nil {
		return fmt.Errorf("persist ledger row: %w", err)
	}

	if err := s.conn.Enable(ctx, userID, connectivity.SourceTimer, "", ""); err != nil {
		return fmt.Errorf("restore connectivity: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int("base_minutes", base).
		Msg("User reset for new day")
	return nil
}

// purge enforces the retention window and reaps expired dedupe markers.
func (s *Scheduler) purge(ctx context.Context, now time.Time, fail func(error)) {
	cutoff := now.AddDate(0, 0, -s.retentionDays)

	rows, err := s.store.Usage().DeleteBefore(ctx, cutoff.Format(storage.DateFormat))
	if err != nil {
		fail(fmt.Errorf("purge ledger rows: %w", err))
	}
	sessions, err := s.store.Sessions().DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		fail(fmt.Errorf("purge sessions: %w", err))
	}
	markers, err := s.store.Markers().DeleteExpired(ctx)
	if err != nil {
		fail(fmt.Errorf("reap markers: %w", err))
	}

	if rows+sessions+markers > 0 {
		s.logger.Info().
			Int("ledger_rows", rows).
			Int("sessions", sessions).
			Int("markers", markers).
			Msg("Retention purge complete")
	}
}
