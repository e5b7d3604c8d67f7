package rollover

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/goodtune/timewarden/internal/storage/bolt"
	"github.com/goodtune/timewarden/internal/timer"
)

type fixture struct {
	scheduler *Scheduler
	service   *timer.Service
	conn      *connectivity.Manager
	store     storage.Store
	clock     *clock.TestClock
	backend   *connectivity.MockBackend
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "timewarden.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	// Sunday evening.
	clk := &clock.TestClock{CurrentTime: time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)}
	sink := notify.NewCaptureSink()
	backend := connectivity.NewMockBackend()

	for _, user := range []storage.User{
		{ID: "kid-1", Name: "Sam", Role: storage.RoleKid, CreatedAt: clk.Now()},
		{ID: "kid-2", Name: "Robin", Role: storage.RoleKid, CreatedAt: clk.Now()},
		{ID: "parent-1", Name: "Alex", Role: storage.RoleGuardian, CreatedAt: clk.Now()},
	} {
		if err := store.Users().Upsert(ctx, user); err != nil {
			t.Fatalf("Failed to seed user: %v", err)
		}
	}

	// Weekend budget is double the school-day budget.
	schedule := storage.DefaultSchedule("kid-1", 60, 30)
	schedule.SaturdayMinutes = 120
	schedule.SundayMinutes = 120
	if err := store.Schedules().Upsert(ctx, schedule); err != nil {
		t.Fatalf("Failed to seed schedule: %v", err)
	}

	conn := connectivity.NewManager(store, backend, sink, clk,
		config.ConnectivityConfig{Backend: "mock", ApplyTimeout: "1s", MaxRetries: 1}, zerolog.Nop())
	service := timer.NewService(store, conn, sink, clk,
		config.UsageConfig{DefaultDailyMinutes: 60, MaxBonusMinutes: 30}, zerolog.Nop())
	scheduler := New(store, service, conn, clk,
		config.UsageConfig{DefaultDailyMinutes: 60, MaxBonusMinutes: 30},
		config.RolloverConfig{RetentionDays: 90}, zerolog.Nop())

	return &fixture{scheduler: scheduler, service: service, conn: conn, store: store, clock: clk, backend: backend}
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	next := nextMidnight(now)
	want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Expected %s, got %s", want, next)
	}
}

func TestSessionCrossingMidnightIsSettledIntoOldDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.service.StartSession(ctx, "kid-1", ""); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Clock crosses into Monday; the rollover fires.
	f.clock.Advance(40 * time.Minute)
	if err := f.scheduler.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Sunday absorbed the session minutes up to the boundary.
	sunday, err := f.store.Usage().Get(ctx, "kid-1", "2025-06-01")
	if err != nil {
		t.Fatalf("Get Sunday row failed: %v", err)
	}
	if sunday.RegularUsedMinutes != 29 {
		t.Errorf("Expected 29 minutes on Sunday, got %d", sunday.RegularUsedMinutes)
	}

	// Monday starts fresh with the school-day budget.
	monday, err := f.store.Usage().Get(ctx, "kid-1", "2025-06-02")
	if err != nil {
		t.Fatalf("Get Monday row failed: %v", err)
	}
	if monday.BaseAllowedMinutes != 60 || monday.RemainingMinutes != 60 {
		t.Errorf("Expected fresh 60-minute Monday, got %+v", monday)
	}
	if monday.TotalUsedMinutes() != 0 {
		t.Errorf("Monday should start unused, got %d", monday.TotalUsedMinutes())
	}

	if _, err := f.store.Sessions().GetActive(ctx, "kid-1"); err != storage.ErrNotFound {
		t.Errorf("Session should have been closed out, got %v", err)
	}
}

func TestRolloverResetsBonusAndRestoresConnectivity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.store.Usage().Upsert(ctx, storage.DailyUsage{
		UserID: "kid-1", Date: "2025-06-01",
		BaseAllowedMinutes: 120, BonusEarnedMinutes: 20, BonusUsedMinutes: 10,
		RegularUsedMinutes: 120, RemainingMinutes: 10,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Connectivity was cut when the budget ran out yesterday.
	if err := f.conn.Disable(ctx, "kid-1", connectivity.SourceTimer, "", ""); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	if err := f.scheduler.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	monday, err := f.store.Usage().Get(ctx, "kid-1", "2025-06-02")
	if err != nil {
		t.Fatalf("Get Monday row failed: %v", err)
	}
	if monday.BonusEarnedMinutes != 0 || monday.BonusUsedMinutes != 0 {
		t.Errorf("Bonus must not carry over, got %+v", monday)
	}
	if monday.BaseAllowedMinutes != 60 {
		t.Errorf("Expected Monday base of 60, got %d", monday.BaseAllowedMinutes)
	}

	state, err := f.conn.Status(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !state.Enabled || !state.ControlledByTimer {
		t.Errorf("Expected connectivity restored to timer control, got %+v", state)
	}
}

func TestRolloverPreservesManualOverride(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.conn.Disable(ctx, "kid-1", connectivity.SourceManual, "parent-1", "grounded"); err != nil {
		t.Fatalf("Manual disable failed: %v", err)
	}
	if err := f.conn.Disable(ctx, "kid-2", connectivity.SourceTimer, "", ""); err != nil {
		t.Fatalf("Timer disable failed: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	if err := f.scheduler.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	grounded, err := f.conn.Status(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if grounded.Enabled {
		t.Error("Manual override must survive the rollover")
	}
	if grounded.ManualOverrideBy != "parent-1" || grounded.OverrideReason != "grounded" {
		t.Errorf("Override fields lost: %+v", grounded)
	}

	restored, err := f.conn.Status(ctx, "kid-2")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !restored.Enabled {
		t.Error("Timer-controlled user should be re-enabled")
	}
}

func TestRolloverPurgesOldRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.store.Usage().Upsert(ctx, storage.DailyUsage{
		UserID: "kid-1", Date: "2025-01-01",
		BaseAllowedMinutes: 60, RemainingMinutes: 60,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	ended := f.clock.Now().AddDate(0, 0, -120)
	if err := f.store.Sessions().Upsert(ctx, storage.Session{
		ID: "old-1", UserID: "kid-1", Type: storage.SessionRegular,
		StartedAt: ended.Add(-time.Hour), EndedAt: &ended,
		DurationMinutes: 60, Running: false,
	}); err != nil {
		t.Fatalf("Upsert session failed: %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	if err := f.scheduler.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := f.store.Usage().Get(ctx, "kid-1", "2025-01-01"); err != storage.ErrNotFound {
		t.Errorf("Old ledger row should be purged, got %v", err)
	}
	if _, err := f.store.Sessions().Get(ctx, "old-1"); err != storage.ErrNotFound {
		t.Errorf("Old session should be purged, got %v", err)
	}

	// The new day's row is inside the window.
	if _, err := f.store.Usage().Get(ctx, "kid-1", "2025-06-02"); err != nil {
		t.Errorf("Fresh row should survive the purge: %v", err)
	}
}
