package nesthome

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/audit"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/config"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/notify"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/storage"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/trend"
)

// Monday noon, in the middle of the active part of the default 23-7 window.
var t0 = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, a notify.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.InMemory = true
	cfg.Audit.LogPath = filepath.Join(t.TempDir(), "activity.log")
	return cfg
}

func newTestDB(t *testing.T) (*DB, *recordingSink) {
	t.Helper()
	cfg := testConfig(t)
	journal, err := audit.NewLogger(audit.Config{Enabled: true, LogPath: cfg.AuditPath()})
	require.NoError(t, err)

	sink := &recordingSink{}
	db := New(cfg, storage.NewMemoryEngine(), notify.NewManager(time.Hour, nil, sink), journal, nil)
	db.SetWallClock(func() time.Time { return t0 })
	t.Cleanup(func() { db.Close() })
	return db, sink
}

func TestCreateGetListDelete(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	h, err := db.Create(ctx, "flat-3b", "")
	require.NoError(t, err)
	assert.Equal(t, "flat-3b", h.ID)
	assert.Equal(t, "Home", h.Name)
	assert.True(t, h.CreatedAt.Equal(t0))
	assert.Equal(t, 18.9, h.Water.Capacity)

	_, err = db.Create(ctx, "flat-3b", "Again")
	assert.ErrorIs(t, err, ErrExists)

	other, err := db.Create(ctx, "", "Cabin")
	require.NoError(t, err)
	assert.NotEmpty(t, other.ID)

	got, err := db.Get(ctx, "flat-3b")
	require.NoError(t, err)
	assert.Equal(t, h.Hygiene[0].ID, got.Hygiene[0].ID)

	ids, err := db.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"flat-3b", other.ID}, ids)

	require.NoError(t, db.Delete(ctx, "flat-3b"))
	_, err = db.Get(ctx, "flat-3b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.Delete(ctx, "flat-3b"), ErrNotFound)
}

func TestCreate_UsesConfiguredDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Household.Capacity = 11.3
	cfg.Household.Rate = 0.5
	cfg.Household.TimeZone = "Asia/Shanghai"
	db := New(cfg, storage.NewMemoryEngine(), nil, nil, nil)
	db.SetWallClock(func() time.Time { return t0 })
	defer db.Close()

	h, err := db.Create(context.Background(), "h-1", "Flat")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", h.TimeZone)
	assert.Equal(t, 11.3, h.Water.Capacity)
	assert.Equal(t, 11.3, h.Water.CurrentLevel)
	assert.Equal(t, 0.5, h.Water.LearnedRate)
}

func TestRefill(t *testing.T) {
	ctx := context.Background()

	t.Run("outlier_is_notified", func(t *testing.T) {
		db, sink := newTestDB(t)
		_, err := db.Create(ctx, "h-1", "Flat")
		require.NoError(t, err)

		// A full tank gone in 8 active hours is far above 2x the default rate.
		db.AdvanceClock(8 * time.Hour)
		h, report, err := db.Refill(ctx, "h-1")
		require.NoError(t, err)
		assert.True(t, report.Outlier)
		assert.Equal(t, cycle.OutlierTooFast, report.Kind)
		assert.Equal(t, 0.2, h.Water.LearnedRate, "outliers do not move the learned rate")
		require.Len(t, h.Reports, 1)

		assert.Equal(t, []string{notify.KindWaterTooFast}, sink.kinds())
	})

	t.Run("valid_cycle_is_learned", func(t *testing.T) {
		db, sink := newTestDB(t)
		_, err := db.Create(ctx, "h-1", "Flat")
		require.NoError(t, err)

		// Four days of 16 active hours: 18.9/64 = 0.295 L/h.
		db.AdvanceClock(4 * 24 * time.Hour)
		h, report, err := db.Refill(ctx, "h-1")
		require.NoError(t, err)
		assert.False(t, report.Outlier)
		assert.InDelta(t, 0.7*0.2+0.3*18.9/64, h.Water.LearnedRate, 1e-9)
		assert.True(t, h.Water.LastResetAt.Equal(t0.Add(4*24*time.Hour)))
		assert.Empty(t, sink.kinds())
	})
}

func TestCalibrateAndView(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	_, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)

	db.AdvanceClock(8 * time.Hour)
	h, err := db.Calibrate(ctx, "h-1", 15)
	require.NoError(t, err)
	assert.True(t, h.Water.HasCalibratedThisCycle)
	assert.InDelta(t, 3.9/8, h.Water.CurrentCycleRate, 1e-9)

	view, err := db.View(ctx, "h-1")
	require.NoError(t, err)
	assert.InDelta(t, 15, view.Water.Level, 1e-9)
	assert.Equal(t, cycle.PhaseCalibrated, view.Water.Phase)
	assert.Len(t, view.Hygiene, 4)
	assert.Len(t, view.PetCare, 3)

	_, err = db.Calibrate(ctx, "h-1", -1)
	assert.ErrorIs(t, err, household.ErrInvalidInput)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	_, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)

	h, err := db.ConfigureWater(ctx, "h-1", 11.3)
	require.NoError(t, err)
	assert.Equal(t, 11.3, h.Water.Capacity)

	h, err = db.SetSleepWindow(ctx, "h-1", activetime.Window{Start: 0, End: 6})
	require.NoError(t, err)
	assert.Equal(t, activetime.Window{Start: 0, End: 6}, h.Water.SleepWindow)

	h, err = db.SetOccupants(ctx, "h-1", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Members)
	assert.Equal(t, 2, h.Pets)

	_, err = db.SetSleepWindow(ctx, "h-1", activetime.Window{Start: 25, End: 6})
	assert.ErrorIs(t, err, household.ErrInvalidInput)

	t.Run("factory_reset", func(t *testing.T) {
		db.AdvanceClock(time.Hour)
		reset, err := db.FactoryReset(ctx, "h-1")
		require.NoError(t, err)
		assert.Equal(t, "Flat", reset.Name)
		assert.True(t, reset.CreatedAt.Equal(t0))
		assert.Equal(t, 18.9, reset.Water.Capacity)
		assert.Equal(t, 1, reset.Members)
		assert.True(t, reset.Water.LastResetAt.Equal(t0.Add(time.Hour)))
	})
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	h, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)

	litter := h.PetCare[0]
	db.AdvanceClock(30 * time.Hour)

	view, err := db.View(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, entropy.TierOverdue, view.PetCare[0].Reading.Tier, "30h against a 24h litter box")

	done, err := db.CompleteTask(ctx, "h-1", litter.ID)
	require.NoError(t, err)
	assert.True(t, done.LastResetAt.Equal(t0.Add(30*time.Hour)))

	_, err = db.CompleteTask(ctx, "h-1", "nope")
	assert.ErrorIs(t, err, household.ErrTaskNotFound)

	added, err := db.AddTask(ctx, "h-1", entropy.DomainHygiene, household.Task{Name: "Windows", ThresholdHours: 336})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	require.NoError(t, db.RemoveTask(ctx, "h-1", added.ID))
	assert.ErrorIs(t, db.RemoveTask(ctx, "h-1", added.ID), household.ErrTaskNotFound)
}

func TestInventory(t *testing.T) {
	ctx := context.Background()
	db, sink := newTestDB(t)
	h, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)

	rice, err := db.AddItem(ctx, "h-1", "Rice", "kg", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, rice.Quantity)
	assert.Empty(t, sink.kinds())

	var soapID string
	for _, it := range h.Inventory {
		if it.Name == "Dish soap" {
			soapID = it.ID
		}
	}
	require.NotEmpty(t, soapID)

	db.AdvanceClock(24 * time.Hour)
	soap, err := db.AdjustItem(ctx, "h-1", soapID, -1, "used up")
	require.NoError(t, err)
	assert.Equal(t, 1.0, soap.Quantity)
	assert.Equal(t, []string{notify.KindLowStock}, sink.kinds())

	points, err := db.InventoryTrend(ctx, "h-1", soapID, 7)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, trend.PointSeed, points[0].Kind)
	assert.Equal(t, 2.0, points[0].Balance)
	assert.Equal(t, trend.PointNow, points[3].Kind)
	assert.Equal(t, 1.0, points[3].Balance)

	_, err = db.AdjustItem(ctx, "h-1", "nope", 1, "")
	assert.ErrorIs(t, err, household.ErrItemNotFound)
	_, err = db.InventoryTrend(ctx, "h-1", "nope", 7)
	assert.ErrorIs(t, err, household.ErrItemNotFound)

	t.Run("stocktake", func(t *testing.T) {
		counted, err := db.CountItem(ctx, "h-1", rice.ID, 0.5, "pantry check")
		require.NoError(t, err)
		assert.Equal(t, 0.5, counted.Quantity)
		last := counted.Logs[len(counted.Logs)-1]
		assert.Equal(t, -4.5, last.Delta)
		assert.Equal(t, "pantry check", last.Note)
		assert.Equal(t, []string{notify.KindLowStock, notify.KindLowStock}, sink.kinds())

		_, err = db.CountItem(ctx, "h-1", rice.ID, -1, "")
		assert.ErrorIs(t, err, household.ErrInvalidInput)
		_, err = db.CountItem(ctx, "h-1", "nope", 1, "")
		assert.ErrorIs(t, err, household.ErrItemNotFound)
	})

	require.NoError(t, db.RemoveItem(ctx, "h-1", rice.ID))
}

// stallingSink blocks until its context ends.
type stallingSink struct {
	calls       atomic.Int32
	hadDeadline atomic.Bool
}

func (s *stallingSink) Name() string { return "stalling" }

func (s *stallingSink) Send(ctx context.Context, _ notify.Alert) error {
	s.calls.Add(1)
	_, ok := ctx.Deadline()
	s.hadDeadline.Store(ok)
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowSinkDoesNotBlockActions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Notify.Timeout = 20 * time.Millisecond
	sink := &stallingSink{}
	db := New(cfg, storage.NewMemoryEngine(), notify.NewManager(0, nil, sink), nil, nil)
	db.SetWallClock(func() time.Time { return t0 })
	t.Cleanup(func() { db.Close() })

	h, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)
	var soapID string
	for _, it := range h.Inventory {
		if it.Name == "Dish soap" {
			soapID = it.ID
		}
	}
	require.NotEmpty(t, soapID)

	done := make(chan error, 1)
	go func() {
		// Dish soap starts at 2 with a low mark of 1.
		_, err := db.AdjustItem(ctx, "h-1", soapID, -1, "")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("adjust blocked on the alert sink")
	}
	assert.Equal(t, int32(1), sink.calls.Load())
	assert.True(t, sink.hadDeadline.Load())
}

func TestCollectGarbage(t *testing.T) {
	t.Run("memory_engine_is_skipped", func(t *testing.T) {
		db, _ := newTestDB(t)
		assert.NoError(t, db.CollectGarbage())
	})

	t.Run("badger", func(t *testing.T) {
		cfg := config.Default()
		cfg.Database.DataDir = t.TempDir()
		db, err := Open(cfg, nil)
		require.NoError(t, err)
		_, err = db.Create(context.Background(), "h-1", "Flat")
		require.NoError(t, err)
		assert.NoError(t, db.CollectGarbage())

		stop := db.StartMaintenance(context.Background(), time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		stop()
		db.StartMaintenance(context.Background(), 0)()

		require.NoError(t, db.Close())
		assert.ErrorIs(t, db.CollectGarbage(), ErrClosed)
	})
}

func TestWaterTrend(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	_, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)

	db.AdvanceClock(4 * 24 * time.Hour)
	_, _, err = db.Refill(ctx, "h-1")
	require.NoError(t, err)

	points, err := db.WaterTrend(ctx, "h-1", 0)
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, "2024-03-08", points[6].Day)

	var total float64
	for _, p := range points {
		total += p.Amount
	}
	assert.InDelta(t, 18.9, total, 1e-9, "the archived cycle used the whole tank")
}

func TestClock(t *testing.T) {
	db, _ := newTestDB(t)
	assert.True(t, db.Now().Equal(t0))

	c := db.AdvanceClock(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, c.Offset)
	assert.True(t, db.Now().Equal(t0.Add(90*time.Minute)))
	assert.Equal(t, c, db.Clock())

	db.ResetClock()
	assert.True(t, db.Now().Equal(t0))
}

func TestActivity(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	_, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)
	db.AdvanceClock(8 * time.Hour)
	_, _, err = db.Refill(ctx, "h-1")
	require.NoError(t, err)

	res, err := db.Activity("h-1", 10)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, audit.EventWaterRefill, res.Events[0].Type)
	assert.Equal(t, string(cycle.OutlierTooFast), res.Events[0].Reason)
	assert.True(t, res.Events[0].Timestamp.Equal(t0.Add(8*time.Hour)))
	assert.Equal(t, audit.EventHouseholdCreate, res.Events[1].Type)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	h, err := db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)
	paper := h.Inventory[0]

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.AdjustItem(ctx, "h-1", paper.ID, 1, "restock")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := db.Get(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, paper.Quantity+20, got.Inventory[0].Quantity)
	assert.Equal(t, 0, db.locks.len())
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Get(ctx, "h-1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Create(ctx, "h-1", "Flat")
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = db.Refill(ctx, "h-1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.DataDir = t.TempDir()
	cfg.Notify.Log = true

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = db.Create(ctx, "h-1", "Flat")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Records survive a reopen.
	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	h, err := db.Get(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, "Flat", h.Name)

	res, err := db.Activity("h-1", 0)
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}
