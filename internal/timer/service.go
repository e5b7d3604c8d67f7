// Package timer orchestrates usage sessions against the daily ledger. It is
// the single writer for session state; all mutations for one user run under
// that user's lock.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/ledger"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/storage"
)

// Service implements session start/stop, bonus grants and status queries.
type Service struct {
	store    storage.Store
	conn     *connectivity.Manager
	sink     notify.Sink
	clock    clock.Clock
	logger   zerolog.Logger
	defaults config.UsageConfig

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewService wires the timer service.
func NewService(store storage.Store, conn *connectivity.Manager, sink notify.Sink, clk clock.Clock, defaults config.UsageConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		conn:      conn,
		sink:      sink,
		clock:     clk,
		logger:    logger.With().Str("component", "timer").Logger(),
		defaults:  defaults,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// lockUser serializes all session mutations for one user.
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// StartSession begins a usage session for the user, turning their network
// access on. Fails if a session is already running or the day's budget is
// exhausted. requestedBy may be empty (the user acting for themselves),
// the user's own ID, or a guardian's ID.
func (s *Service) StartSession(ctx context.Context, userID, requestedBy string) (*storage.Session, error) {
	if err := s.authorizeActor(ctx, userID, requestedBy); err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if row.RemainingMinutes <= 0 {
		return nil, ErrNoTimeRemaining
	}

	sessionType := storage.SessionRegular
	if row.RegularUsedMinutes >= row.BaseAllowedMinutes {
		sessionType = storage.SessionBonus
	}

	// Network access comes back before the session is marked running.
	if err := s.conn.Enable(ctx, userID, connectivity.SourceTimer, "", ""); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to enable connectivity")
	}

	session := storage.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      sessionType,
		StartedAt: now,
		Running:   true,
	}
	if err := s.store.Sessions().CreateActive(ctx, session); err != nil {
		if err == storage.ErrActiveSessionExists {
			return nil, ErrSessionAlreadyActive
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(string(sessionType)).Inc()
	metrics.ActiveSessions.Inc()

	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("type", string(sessionType)).
		Int("remaining_minutes", row.RemainingMinutes).
		Msg("Session started")

	s.sink.Publish(notify.Event{
		Type:             notify.EventSessionStarted,
		UserID:           userID,
		Timestamp:        now,
		RemainingMinutes: row.RemainingMinutes,
	})

	return &session, nil
}

// StopSession ends the user's running session and records the consumed
// minutes. Network access is cut only when the stop leaves the day's budget
// exhausted. requestedBy follows the same rules as StartSession.
func (s *Service) StopSession(ctx context.Context, userID, requestedBy string) (*storage.Session, error) {
	if err := s.authorizeActor(ctx, userID, requestedBy); err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	session, row, err := s.stopLocked(ctx, userID, StopRequested)
	if err != nil {
		return nil, err
	}
	s.disableIfExhausted(ctx, userID, row)

	s.sink.Publish(notify.Event{
		Type:             notify.EventSessionStopped,
		UserID:           userID,
		Timestamp:        s.clock.Now(),
		RemainingMinutes: row.RemainingMinutes,
		DurationMinutes:  session.DurationMinutes,
	})
	return session, nil
}

// ForceStopSession lets a guardian end another user's running session.
// Network access is always cut, recorded as a manual override under the
// guardian's name so the timer does not re-enable it.
func (s *Service) ForceStopSession(ctx context.Context, userID, actorID, reason string) (*storage.Session, error) {
	if err := s.requireGuardian(ctx, actorID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Forced stop"
	}

	unlock := s.lockUser(userID)
	defer unlock()

	session, row, err := s.stopLocked(ctx, userID, StopForced)
	if err != nil {
		return nil, err
	}
	if err := s.conn.Disable(ctx, userID, connectivity.SourceManual, actorID, reason); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to disable connectivity")
	}

	s.sink.Publish(notify.Event{
		Type:             notify.EventForceStopped,
		UserID:           userID,
		Timestamp:        s.clock.Now(),
		RemainingMinutes: row.RemainingMinutes,
		DurationMinutes:  session.DurationMinutes,
		ActorID:          actorID,
		Reason:           reason,
	})
	return session, nil
}

// HandleExhausted ends the running session because the live budget reached
// zero. Returns ErrNoActiveSession when the session ended in the meantime;
// callers treat that as settled.
func (s *Service) HandleExhausted(ctx context.Context, userID string) error {
	unlock := s.lockUser(userID)
	defer unlock()

	session, row, err := s.stopLocked(ctx, userID, StopExpired)
	if err != nil {
		return err
	}
	s.disableIfExhausted(ctx, userID, row)

	s.sink.Publish(notify.Event{
		Type:            notify.EventTimeExpired,
		UserID:          userID,
		Timestamp:       s.clock.Now(),
		DurationMinutes: session.DurationMinutes,
		Message:         "screen time is up for today",
	})
	return nil
}

// CloseOutSession ends a session that is still running at the day boundary,
// crediting its minutes to the ledger row of the cutoff date. A missing
// session is not an error.
func (s *Service) CloseOutSession(ctx context.Context, userID string, cutoff time.Time) error {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.store.Sessions().GetActive(ctx, userID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}

	minutes := int(cutoff.Sub(session.StartedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	session.DurationMinutes = minutes
	session.EndedAt = &cutoff
	session.Running = false
	if err := s.store.Sessions().Upsert(ctx, *session); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	row, err := s.ensureLedgerRow(ctx, userID, cutoff)
	if err != nil {
		return err
	}
	if err := ledger.RecordSessionUsage(row, session, cutoff); err != nil {
		return err
	}
	if err := s.store.Usage().Upsert(ctx, *row); err != nil {
		return fmt.Errorf("persist ledger row: %w", err)
	}

	metrics.SessionsEnded.WithLabelValues(string(StopRollover)).Inc()
	metrics.ActiveSessions.Dec()
	metrics.UsageMinutesConsumed.WithLabelValues(userID, string(session.Type)).Add(float64(session.DurationMinutes))

	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Int("duration_minutes", session.DurationMinutes).
		Msg("Session closed out at day boundary")
	return nil
}

// StartEmergencySession lets a guardian open a session regardless of the
// remaining budget. Any running session is settled first, and connectivity
// is forced on as a manual override under the guardian's name so a standing
// disable cannot keep the network off. The consumed minutes are still
// recorded when it ends. The requested duration is advisory; the session
// runs until stopped.
func (s *Service) StartEmergencySession(ctx context.Context, userID, actorID, reason string, durationMinutes int) (*storage.Session, error) {
	if err := s.requireGuardian(ctx, actorID); err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}

	if stopped, row, err := s.stopLocked(ctx, userID, StopRequested); err == nil {
		s.sink.Publish(notify.Event{
			Type:             notify.EventSessionStopped,
			UserID:           userID,
			Timestamp:        s.clock.Now(),
			RemainingMinutes: row.RemainingMinutes,
			DurationMinutes:  stopped.DurationMinutes,
		})
	} else if err != ErrNoActiveSession {
		return nil, err
	}

	if err := s.conn.Enable(ctx, userID, connectivity.SourceManual, actorID, "Emergency session: "+reason); err != nil {
		return nil, fmt.Errorf("enable connectivity: %w", err)
	}

	now := s.clock.Now()
	session := storage.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      storage.SessionEmergency,
		StartedAt: now,
		Running:   true,
	}
	if err := s.store.Sessions().CreateActive(ctx, session); err != nil {
		if err == storage.ErrActiveSessionExists {
			return nil, ErrSessionAlreadyActive
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(string(storage.SessionEmergency)).Inc()
	metrics.ActiveSessions.Inc()

	s.logger.Warn().
		Str("user_id", userID).
		Str("actor_id", actorID).
		Str("reason", reason).
		Msg("Emergency session started")

	s.sink.Publish(notify.Event{
		Type:            notify.EventEmergencyStarted,
		UserID:          userID,
		Timestamp:       now,
		ActorID:         actorID,
		Reason:          reason,
		DurationMinutes: durationMinutes,
	})
	return &session, nil
}

// AddBonusTime grants extra minutes for today, capped by the user's
// schedule. Returns the amount actually granted.
func (s *Service) AddBonusTime(ctx context.Context, userID, actorID string, minutes int, reason string) (int, error) {
	if err := s.requireGuardian(ctx, actorID); err != nil {
		return 0, err
	}
	if minutes <= 0 {
		return 0, ErrInvalidBonus
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if _, err := s.loadUser(ctx, userID); err != nil {
		return 0, err
	}

	schedule, err := s.loadSchedule(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !schedule.BonusEnabled {
		return 0, ErrBonusDisabled
	}

	now := s.clock.Now()
	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	granted := ledger.AddBonusMinutes(row, minutes, schedule.MaxBonusMinutes)
	if granted > 0 {
		if err := s.store.Usage().Upsert(ctx, *row); err != nil {
			return 0, fmt.Errorf("persist ledger row: %w", err)
		}
		metrics.BonusMinutesGranted.WithLabelValues(userID).Add(float64(granted))
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("actor_id", actorID).
		Int("requested", minutes).
		Int("granted", granted).
		Msg("Bonus time granted")

	s.sink.Publish(notify.Event{
		Type:             notify.EventBonusAwarded,
		UserID:           userID,
		Timestamp:        now,
		RemainingMinutes: row.RemainingMinutes,
		BonusMinutes:     granted,
		ActorID:          actorID,
		Reason:           reason,
	})
	return granted, nil
}

// GetRemainingMinutes returns the user's live remaining minutes for today.
func (s *Service) GetRemainingMinutes(ctx context.Context, userID string) (int, error) {
	now := s.clock.Now()
	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	live, err := s.store.Sessions().GetActive(ctx, userID)
	if err != nil && err != storage.ErrNotFound {
		return 0, fmt.Errorf("load active session: %w", err)
	}
	return ledger.RemainingWithLive(row, live, now), nil
}

// Warnings returns the warning events currently applicable to the user,
// based on live remaining time.
func (s *Service) Warnings(ctx context.Context, userID string) ([]notify.EventType, error) {
	remaining, err := s.GetRemainingMinutes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return WarningsFor(remaining), nil
}

// CanStart reports whether StartSession would currently be allowed.
func (s *Service) CanStart(ctx context.Context, userID string) (bool, error) {
	now := s.clock.Now()
	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return false, err
	}
	if row.RemainingMinutes <= 0 {
		return false, nil
	}

	_, err = s.store.Sessions().GetActive(ctx, userID)
	if err == storage.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load active session: %w", err)
	}
	return false, nil
}

// GetSessionStatus returns the full day snapshot for one user.
func (s *Service) GetSessionStatus(ctx context.Context, userID string) (*Status, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	live, err := s.store.Sessions().GetActive(ctx, userID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("load active session: %w", err)
	}

	status := &Status{
		UserID:             userID,
		Date:               row.Date,
		BaseAllowedMinutes: row.BaseAllowedMinutes,
		BonusEarnedMinutes: row.BonusEarnedMinutes,
		UsedMinutes:        row.TotalUsedMinutes(),
		RemainingMinutes:   ledger.RemainingWithLive(row, live, now),
		UsagePercent:       ledger.UsagePercent(row),
	}
	if live != nil {
		status.SessionActive = true
		status.SessionID = live.ID
		status.SessionType = live.Type
		status.SessionStartedAt = live.StartedAt
		status.SessionMinutes = live.LiveDurationMinutes(now)
	}
	status.CanStartSession = live == nil && status.RemainingMinutes > 0

	connState, err := s.conn.Status(ctx, userID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("load connectivity state: %w", err)
	}
	if connState != nil {
		status.ConnectivityEnabled = connState.Enabled
	}
	return status, nil
}

// WeeklySummary aggregates the last seven ledger rows ending today.
func (s *Service) WeeklySummary(ctx context.Context, userID string) (*ledger.WeekSummary, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	from := now.AddDate(0, 0, -6).Format(storage.DateFormat)
	to := now.Format(storage.DateFormat)

	rows, err := s.store.Usage().ListForUserRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}
	summary := ledger.SummarizeWeek(rows)
	return &summary, nil
}

// stopLocked ends the active session and settles the ledger. Callers hold
// the user lock.
func (s *Service) stopLocked(ctx context.Context, userID string, cause StopCause) (*storage.Session, *storage.DailyUsage, error) {
	session, err := s.store.Sessions().GetActive(ctx, userID)
	if err == storage.ErrNotFound {
		return nil, nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load active session: %w", err)
	}

	now := s.clock.Now()
	session.DurationMinutes = session.LiveDurationMinutes(now)
	session.EndedAt = &now
	session.Running = false
	if err := s.store.Sessions().Upsert(ctx, *session); err != nil {
		return nil, nil, fmt.Errorf("end session: %w", err)
	}

	row, err := s.ensureLedgerRow(ctx, userID, now)
	if err != nil {
		return nil, nil, err
	}
	if err := ledger.RecordSessionUsage(row, session, now); err != nil {
		return nil, nil, err
	}
	if err := s.store.Usage().Upsert(ctx, *row); err != nil {
		return nil, nil, fmt.Errorf("persist ledger row: %w", err)
	}

	metrics.SessionsEnded.WithLabelValues(string(cause)).Inc()
	metrics.ActiveSessions.Dec()
	metrics.UsageMinutesConsumed.WithLabelValues(userID, string(session.Type)).Add(float64(session.DurationMinutes))

	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("cause", string(cause)).
		Int("duration_minutes", session.DurationMinutes).
		Int("remaining_minutes", row.RemainingMinutes).
		Msg("Session ended")

	return session, row, nil
}

// disableIfExhausted cuts network access when the day's budget is gone.
// Connectivity is untouched while time remains.
func (s *Service) disableIfExhausted(ctx context.Context, userID string, row *storage.DailyUsage) {
	if row.RemainingMinutes > 0 {
		return
	}
	if err := s.conn.Disable(ctx, userID, connectivity.SourceTimer, "", "daily time exhausted"); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to disable connectivity")
	}
}

func (s *Service) loadUser(ctx context.Context, userID string) (*storage.User, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err == storage.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// authorizeActor allows the user themselves or any guardian to act on a
// session. An empty requestedBy means the user acting on their own behalf.
func (s *Service) authorizeActor(ctx context.Context, userID, requestedBy string) error {
	if requestedBy == "" || requestedBy == userID {
		return nil
	}
	actor, err := s.store.Users().Get(ctx, requestedBy)
	if err == storage.ErrNotFound {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if !actor.IsGuardian() {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) requireGuardian(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrUnauthorized
	}
	actor, err := s.store.Users().Get(ctx, actorID)
	if err == storage.ErrNotFound {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if !actor.IsGuardian() {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) loadSchedule(ctx context.Context, userID string) (*storage.AllowanceSchedule, error) {
	schedule, err := s.store.Schedules().Get(ctx, userID)
	if err == storage.ErrNotFound {
		fallback := storage.DefaultSchedule(userID, s.defaults.DefaultDailyMinutes, s.defaults.MaxBonusMinutes)
		return &fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return schedule, nil
}

// ensureLedgerRow loads or lazily creates the ledger row for the date of at,
// seeding the base allowance from the user's schedule.
func (s *Service) ensureLedgerRow(ctx context.Context, userID string, at time.Time) (*storage.DailyUsage, error) {
	date := at.Format(storage.DateFormat)
	row, err := s.store.Usage().Get(ctx, userID, date)
	if err == nil {
		return row, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("load ledger row: %w", err)
	}

	schedule, err := s.loadSchedule(ctx, userID)
	if err != nil {
		return nil, err
	}
	fresh := ledger.NewDay(userID, date, schedule.MinutesForDay(at.Weekday()))
	if err := s.store.Usage().Upsert(ctx, fresh); err != nil {
		return nil, fmt.Errorf("persist ledger row: %w", err)
	}
	return &fresh, nil
}
