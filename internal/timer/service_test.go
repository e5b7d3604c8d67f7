package timer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/goodtune/timewarden/internal/storage/bolt"
)

type ServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	store   storage.Store
	backend *connectivity.MockBackend
	conn    *connectivity.Manager
	sink    *notify.CaptureSink
	clock   *clock.TestClock
	service *Service
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := bolt.Open(filepath.Join(s.T().TempDir(), "timewarden.db"))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = store.Close() })
	s.store = store

	// Monday afternoon.
	s.clock = &clock.TestClock{CurrentTime: time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)}
	s.backend = connectivity.NewMockBackend()
	s.sink = notify.NewCaptureSink()

	s.conn = connectivity.NewManager(store, s.backend, s.sink, s.clock,
		config.ConnectivityConfig{Backend: "mock", ApplyTimeout: "1s", MaxRetries: 1}, zerolog.Nop())

	for _, user := range []storage.User{
		{ID: "kid-1", Name: "Sam", Role: storage.RoleKid, CreatedAt: s.clock.Now()},
		{ID: "kid-2", Name: "Robin", Role: storage.RoleKid, CreatedAt: s.clock.Now()},
		{ID: "parent-1", Name: "Alex", Role: storage.RoleGuardian, CreatedAt: s.clock.Now()},
	} {
		s.Require().NoError(store.Users().Upsert(s.ctx, user))
	}
	schedule := storage.DefaultSchedule("kid-1", 60, 30)
	s.Require().NoError(store.Schedules().Upsert(s.ctx, schedule))

	s.service = NewService(store, s.conn, s.sink, s.clock,
		config.UsageConfig{DefaultDailyMinutes: 60, MaxBonusMinutes: 60}, zerolog.Nop())
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) today() string {
	return s.clock.Now().Format(storage.DateFormat)
}

// backendEnabled waits out in-flight applies before reading backend state.
func (s *ServiceTestSuite) backendEnabled(userID string) bool {
	s.conn.Flush()
	enabled, err := s.backend.CheckStatus(s.ctx, userID)
	s.Require().NoError(err)
	return enabled
}

func (s *ServiceTestSuite) TestStartAndStopSession() {
	session, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.Equal(storage.SessionRegular, session.Type)
	s.True(session.Running)

	s.True(s.backendEnabled("kid-1"), "starting a session should enable connectivity")

	s.clock.Advance(25 * time.Minute)

	stopped, err := s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.Equal(25, stopped.DurationMinutes)
	s.False(stopped.Running)

	row, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(25, row.RegularUsedMinutes)
	s.Equal(35, row.RemainingMinutes)
	s.NotNil(row.LastSessionEndedAt)

	s.True(s.backendEnabled("kid-1"), "stopping with time left must not cut connectivity")

	s.Len(s.sink.ByType(notify.EventSessionStarted), 1)
	s.Len(s.sink.ByType(notify.EventSessionStopped), 1)
}

func (s *ServiceTestSuite) TestStopWithTimeLeftKeepsConnectivity() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.clock.Advance(10 * time.Minute)
	_, err = s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.True(s.backendEnabled("kid-1"), "50 minutes remain, network stays on")

	state, err := s.conn.Status(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.True(state.Enabled)
	s.True(state.ControlledByTimer)
}

func (s *ServiceTestSuite) TestStopWithExhaustedBudgetDisablesConnectivity() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.clock.Advance(60 * time.Minute)
	_, err = s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.False(s.backendEnabled("kid-1"), "exhausted budget cuts connectivity")

	row, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(0, row.RemainingMinutes)
}

func (s *ServiceTestSuite) TestStartSessionIsExclusive() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	_, err = s.service.StartSession(s.ctx, "kid-1", "")
	s.Equal(ErrSessionAlreadyActive, err)
}

func (s *ServiceTestSuite) TestStartSessionPermissions() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "kid-2")
	s.Equal(ErrUnauthorized, err)

	session, err := s.service.StartSession(s.ctx, "kid-1", "parent-1")
	s.Require().NoError(err)
	s.True(session.Running)

	_, err = s.service.StopSession(s.ctx, "kid-1", "kid-2")
	s.Equal(ErrUnauthorized, err)

	// The user may stop their own session explicitly.
	_, err = s.service.StopSession(s.ctx, "kid-1", "kid-1")
	s.Require().NoError(err)
}

func (s *ServiceTestSuite) TestStartSessionExhaustedBudget() {
	row := storage.DailyUsage{
		UserID: "kid-1", Date: s.today(),
		BaseAllowedMinutes: 60, RegularUsedMinutes: 60, RemainingMinutes: 0,
	}
	s.Require().NoError(s.store.Usage().Upsert(s.ctx, row))

	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Equal(ErrNoTimeRemaining, err)

	ok, err := s.service.CanStart(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ServiceTestSuite) TestStartSessionUnknownUser() {
	_, err := s.service.StartSession(s.ctx, "nobody", "")
	s.Equal(ErrUserNotFound, err)
}

func (s *ServiceTestSuite) TestStopWithoutActiveSession() {
	_, err := s.service.StopSession(s.ctx, "kid-1", "")
	s.Equal(ErrNoActiveSession, err)
}

func (s *ServiceTestSuite) TestBonusSessionConsumesBonusBudget() {
	// Base budget fully used, bonus granted on top.
	row := storage.DailyUsage{
		UserID: "kid-1", Date: s.today(),
		BaseAllowedMinutes: 60, RegularUsedMinutes: 60,
		BonusEarnedMinutes: 20, RemainingMinutes: 20,
	}
	s.Require().NoError(s.store.Usage().Upsert(s.ctx, row))

	session, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.Equal(storage.SessionBonus, session.Type)

	s.clock.Advance(10 * time.Minute)
	_, err = s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	got, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(10, got.BonusUsedMinutes)
	s.Equal(60, got.RegularUsedMinutes)
	s.Equal(10, got.RemainingMinutes)
}

func (s *ServiceTestSuite) TestForceStopRequiresGuardian() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	_, err = s.service.ForceStopSession(s.ctx, "kid-1", "kid-1", "done")
	s.Equal(ErrUnauthorized, err)

	s.clock.Advance(5 * time.Minute)
	stopped, err := s.service.ForceStopSession(s.ctx, "kid-1", "parent-1", "dinner time")
	s.Require().NoError(err)
	s.Equal(5, stopped.DurationMinutes)

	events := s.sink.ByType(notify.EventForceStopped)
	s.Require().Len(events, 1)
	s.Equal("parent-1", events[0].ActorID)
	s.Equal("dinner time", events[0].Reason)
}

func (s *ServiceTestSuite) TestForceStopRecordsGuardianOverride() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.clock.Advance(5 * time.Minute)
	_, err = s.service.ForceStopSession(s.ctx, "kid-1", "parent-1", "dinner time")
	s.Require().NoError(err)

	// The network goes off even though 55 minutes remain, and the timer
	// may not turn it back on until the override is lifted.
	s.False(s.backendEnabled("kid-1"))

	state, err := s.conn.Status(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.False(state.Enabled)
	s.Equal("parent-1", state.ManualOverrideBy)
	s.Equal("dinner time", state.OverrideReason)

	_, err = s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.False(s.backendEnabled("kid-1"), "timer enable must not undo the override")
}

func (s *ServiceTestSuite) TestEmergencySessionBypassesBudget() {
	row := storage.DailyUsage{
		UserID: "kid-1", Date: s.today(),
		BaseAllowedMinutes: 60, RegularUsedMinutes: 60, RemainingMinutes: 0,
	}
	s.Require().NoError(s.store.Usage().Upsert(s.ctx, row))

	_, err := s.service.StartEmergencySession(s.ctx, "kid-1", "kid-1", "school project", 30)
	s.Equal(ErrUnauthorized, err)

	session, err := s.service.StartEmergencySession(s.ctx, "kid-1", "parent-1", "school project", 30)
	s.Require().NoError(err)
	s.Equal(storage.SessionEmergency, session.Type)

	// Runs well past the requested duration; nothing cuts it off.
	s.clock.Advance(90 * time.Minute)
	stopped, err := s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.Equal(90, stopped.DurationMinutes)

	// The ledger absorbs only what the day offered; remaining never goes
	// negative.
	got, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(0, got.RemainingMinutes)
	s.Equal(60, got.TotalUsedMinutes())
}

func (s *ServiceTestSuite) TestEmergencySessionOverridesManualDisable() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.Require().NoError(s.conn.Disable(s.ctx, "kid-1", connectivity.SourceManual, "parent-1", "homework"))
	s.False(s.backendEnabled("kid-1"))

	s.clock.Advance(10 * time.Minute)
	session, err := s.service.StartEmergencySession(s.ctx, "kid-1", "parent-1", "call with the doctor", 30)
	s.Require().NoError(err)
	s.Equal(storage.SessionEmergency, session.Type)

	// The previous session was settled first.
	got, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(10, got.RegularUsedMinutes)
	s.Len(s.sink.ByType(notify.EventSessionStopped), 1)

	// Connectivity is forced back on under the guardian's name.
	s.True(s.backendEnabled("kid-1"), "emergency session must defeat a standing disable")

	state, err := s.conn.Status(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.True(state.Enabled)
	s.Equal("parent-1", state.ManualOverrideBy)
	s.Equal("Emergency session: call with the doctor", state.OverrideReason)
}

func (s *ServiceTestSuite) TestAddBonusTime() {
	_, err := s.service.AddBonusTime(s.ctx, "kid-1", "kid-1", 15, "chores")
	s.Equal(ErrUnauthorized, err)

	_, err = s.service.AddBonusTime(s.ctx, "kid-1", "parent-1", 0, "chores")
	s.Equal(ErrInvalidBonus, err)

	granted, err := s.service.AddBonusTime(s.ctx, "kid-1", "parent-1", 15, "chores")
	s.Require().NoError(err)
	s.Equal(15, granted)

	// The schedule caps bonus at 30; only 15 more fit.
	granted, err = s.service.AddBonusTime(s.ctx, "kid-1", "parent-1", 25, "more chores")
	s.Require().NoError(err)
	s.Equal(15, granted)

	granted, err = s.service.AddBonusTime(s.ctx, "kid-1", "parent-1", 5, "even more")
	s.Require().NoError(err)
	s.Equal(0, granted)

	row, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(30, row.BonusEarnedMinutes)
	s.Equal(90, row.RemainingMinutes)

	events := s.sink.ByType(notify.EventBonusAwarded)
	s.Require().Len(events, 3)
	s.Equal(15, events[0].BonusMinutes)
}

func (s *ServiceTestSuite) TestAddBonusTimeDisabledBySchedule() {
	schedule := storage.DefaultSchedule("kid-1", 60, 0)
	s.Require().NoError(s.store.Schedules().Upsert(s.ctx, schedule))

	_, err := s.service.AddBonusTime(s.ctx, "kid-1", "parent-1", 15, "chores")
	s.Equal(ErrBonusDisabled, err)
}

func (s *ServiceTestSuite) TestRemainingMinutesCountsLiveSession() {
	remaining, err := s.service.GetRemainingMinutes(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal(60, remaining)

	_, err = s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.clock.Advance(55 * time.Minute)
	remaining, err = s.service.GetRemainingMinutes(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal(5, remaining)

	// Overrun is floored at zero, never negative.
	s.clock.Advance(20 * time.Minute)
	remaining, err = s.service.GetRemainingMinutes(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal(0, remaining)
}

func (s *ServiceTestSuite) TestWarnings() {
	warnings, err := s.service.Warnings(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Empty(warnings)

	_, err = s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	s.clock.Advance(50 * time.Minute)
	warnings, err = s.service.Warnings(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal([]notify.EventType{notify.EventWarning15Min}, warnings)

	s.clock.Advance(15 * time.Minute)
	warnings, err = s.service.Warnings(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal([]notify.EventType{notify.EventTimeExpired}, warnings)
}

func (s *ServiceTestSuite) TestHandleExhausted() {
	s.Equal(ErrNoActiveSession, s.service.HandleExhausted(s.ctx, "kid-1"))

	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.clock.Advance(60 * time.Minute)

	s.Require().NoError(s.service.HandleExhausted(s.ctx, "kid-1"))

	row, err := s.store.Usage().Get(s.ctx, "kid-1", s.today())
	s.Require().NoError(err)
	s.Equal(0, row.RemainingMinutes)

	s.False(s.backendEnabled("kid-1"))

	s.Len(s.sink.ByType(notify.EventTimeExpired), 1)
}

func (s *ServiceTestSuite) TestCloseOutSessionAtDayBoundary() {
	started := s.clock.Now()
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	cutoff := started.Add(30 * time.Minute)
	s.Require().NoError(s.service.CloseOutSession(s.ctx, "kid-1", cutoff))

	row, err := s.store.Usage().Get(s.ctx, "kid-1", cutoff.Format(storage.DateFormat))
	s.Require().NoError(err)
	s.Equal(30, row.RegularUsedMinutes)

	_, err = s.store.Sessions().GetActive(s.ctx, "kid-1")
	s.Equal(storage.ErrNotFound, err)

	// Idempotent when no session is running.
	s.Require().NoError(s.service.CloseOutSession(s.ctx, "kid-1", cutoff))
}

func (s *ServiceTestSuite) TestGetSessionStatus() {
	_, err := s.service.StartSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)
	s.clock.Advance(20 * time.Minute)

	status, err := s.service.GetSessionStatus(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.True(status.SessionActive)
	s.Equal(storage.SessionRegular, status.SessionType)
	s.Equal(20, status.SessionMinutes)
	s.Equal(40, status.RemainingMinutes)
	s.Equal(60, status.BaseAllowedMinutes)
	s.True(status.ConnectivityEnabled)
	s.False(status.CanStartSession, "a running session blocks another start")

	_, err = s.service.StopSession(s.ctx, "kid-1", "")
	s.Require().NoError(err)

	status, err = s.service.GetSessionStatus(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.False(status.SessionActive)
	s.True(status.CanStartSession)
}

func (s *ServiceTestSuite) TestWeeklySummary() {
	dates := []string{"2025-05-28", "2025-05-30", "2025-06-01"}
	for _, date := range dates {
		s.Require().NoError(s.store.Usage().Upsert(s.ctx, storage.DailyUsage{
			UserID: "kid-1", Date: date,
			BaseAllowedMinutes: 60, RegularUsedMinutes: 60, RemainingMinutes: 0,
		}))
	}
	// Outside the window.
	s.Require().NoError(s.store.Usage().Upsert(s.ctx, storage.DailyUsage{
		UserID: "kid-1", Date: "2025-05-20",
		BaseAllowedMinutes: 60, RegularUsedMinutes: 10, RemainingMinutes: 50,
	}))

	summary, err := s.service.WeeklySummary(s.ctx, "kid-1")
	s.Require().NoError(err)
	s.Equal(3, summary.RecordedDays)
	s.Equal(180, summary.TotalUsedMinutes)
	s.Equal(3, summary.DaysExhausted)
}

func TestWarningFor(t *testing.T) {
	cases := []struct {
		remaining int
		threshold int
		want      bool
	}{
		{60, 0, false},
		{16, 0, false},
		{15, 15, true},
		{10, 15, true},
		{5, 5, true},
		{3, 5, true},
		{1, 1, true},
		{0, 0, false},
		{-5, 0, false},
	}
	for _, tc := range cases {
		warning, ok := WarningFor(tc.remaining)
		if ok != tc.want {
			t.Errorf("WarningFor(%d): got ok=%v, want %v", tc.remaining, ok, tc.want)
			continue
		}
		if ok && warning.ThresholdMinutes != tc.threshold {
			t.Errorf("WarningFor(%d): got threshold %d, want %d",
				tc.remaining, warning.ThresholdMinutes, tc.threshold)
		}
	}
}

func TestWarningsFor(t *testing.T) {
	cases := []struct {
		remaining int
		want      []notify.EventType
	}{
		{60, nil},
		{12, []notify.EventType{notify.EventWarning15Min}},
		{4, []notify.EventType{notify.EventWarning5Min}},
		{1, []notify.EventType{notify.EventWarning1Min}},
		{0, []notify.EventType{notify.EventTimeExpired}},
		{-5, []notify.EventType{notify.EventTimeExpired}},
	}
	for _, tc := range cases {
		got := WarningsFor(tc.remaining)
		if len(got) != len(tc.want) {
			t.Errorf("WarningsFor(%d): got %v, want %v", tc.remaining, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("WarningsFor(%d): got %v, want %v", tc.remaining, got, tc.want)
			}
		}
	}
}
