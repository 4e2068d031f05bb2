// Package nesthome is the main API for running NestHome.
//
// A DB ties the pure household model to the outside world: it loads and
// stores household records, reads the virtual clock, hands reset reports
// and low-stock items to the notifier, and journals every change.
//
// Example Usage:
//
//	cfg := config.Default()
//	cfg.Database.InMemory = true
//
//	db, err := nesthome.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	h, _ := db.Create(ctx, "", "Flat 3B")
//	view, _ := db.View(ctx, h.ID)
//	fmt.Printf("Water: %.1f%%\n", view.Water.Percentage)
//
//	_, report, _ := db.Refill(ctx, h.ID)
//	if report.Outlier {
//		fmt.Println("unusual cycle:", report.Kind)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Changes to one household are
//	serialized; different households proceed in parallel.
package nesthome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/audit"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/clock"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/config"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/notify"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/storage"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/trend"
)

var (
	ErrNotFound = storage.ErrNotFound
	ErrExists   = errors.New("household already exists")
	ErrClosed   = errors.New("database is closed")
)

// DefaultNotifyTimeout bounds one alert delivery when the configuration
// leaves it unset.
const DefaultNotifyTimeout = 5 * time.Second

// DB is a running NestHome instance.
type DB struct {
	config   *config.Config
	storage  storage.Engine
	engine   *cycle.Engine
	notifier *notify.Manager
	journal  *audit.Logger
	log      *slog.Logger
	wall     func() time.Time

	mu     sync.RWMutex
	closed bool
	clock  clock.Virtual

	locks keyedMutex
}

// Open builds a DB from configuration: badger on disk (or in memory), the
// configured alert sinks and the activity journal.
func Open(cfg *config.Config, log *slog.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:    cfg.Database.DataDir,
		InMemory:   cfg.Database.InMemory,
		SyncWrites: cfg.Database.SyncWrites,
		LowMemory:  cfg.Database.LowMemory,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	var journal *audit.Logger
	if path := cfg.AuditPath(); path != "" {
		journal, err = audit.NewLogger(audit.Config{Enabled: true, LogPath: path, SyncWrites: cfg.Audit.SyncWrites})
		if err != nil {
			store.Close()
			return nil, err
		}
		log.Info("activity journal enabled", "path", path)
	}

	if cfg.Database.InMemory {
		log.Warn("using in-memory storage (data will not persist)")
	} else {
		log.Info("using persistent storage", "dir", cfg.Database.DataDir)
	}

	return New(cfg, store, NewNotifier(cfg.Notify, log), journal, log), nil
}

// NewNotifier builds the alert manager with the sinks enabled in cfg.
func NewNotifier(cfg config.NotifyConfig, log *slog.Logger) *notify.Manager {
	var sinks []notify.Sink
	if cfg.Log {
		sinks = append(sinks, notify.NewLogSink(log))
	}
	if cfg.Desktop {
		sinks = append(sinks, notify.NewDesktopSink(cfg.AppIcon))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	return notify.NewManager(cfg.RepeatInterval, log, sinks...)
}

// New assembles a DB from parts. notifier and journal may be nil.
func New(cfg *config.Config, store storage.Engine, notifier *notify.Manager, journal *audit.Logger, log *slog.Logger) *DB {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewManager(cfg.Notify.RepeatInterval, log)
	}
	return &DB{
		config:   cfg,
		storage:  store,
		engine:   cycle.New(cfg.Cycle()),
		notifier: notifier,
		journal:  journal,
		log:      log.With("component", "nesthome"),
		wall:     time.Now,
		clock:    clock.Virtual{Offset: cfg.Household.ClockOffset},
	}
}

// SetWallClock replaces the wall clock read by Now.
func (db *DB) SetWallClock(wall func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.wall = wall
}

// Storage returns the underlying engine, shared with the authenticator.
func (db *DB) Storage() storage.Engine { return db.storage }

// Engine returns the learning engine.
func (db *DB) Engine() *cycle.Engine { return db.engine }

// Config returns the configuration the DB was built with.
func (db *DB) Config() *config.Config { return db.config }

// Journal returns the activity journal, or nil when it is disabled.
func (db *DB) Journal() *audit.Logger { return db.journal }

// Now returns the current virtual time.
func (db *DB) Now() time.Time {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.clock.Now(db.wall())
}

// Clock returns the virtual clock.
func (db *DB) Clock() clock.Virtual {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.clock
}

// AdvanceClock moves the virtual clock by d and returns the new clock.
func (db *DB) AdvanceClock(d time.Duration) clock.Virtual {
	db.mu.Lock()
	db.clock = db.clock.Advance(d)
	c := db.clock
	now := c.Now(db.wall())
	db.mu.Unlock()

	db.log.Info("virtual clock moved", "by", d, "offset", c.Offset)
	db.record(audit.Event{
		Type:      audit.EventClockChange,
		Timestamp: now,
		Resource:  "clock",
		Success:   true,
		Metadata:  map[string]string{"advance": d.String(), "offset": c.Offset.String()},
	})
	return c
}

// ResetClock returns the virtual clock to wall time.
func (db *DB) ResetClock() clock.Virtual {
	db.mu.Lock()
	db.clock = db.clock.Reset()
	c := db.clock
	now := c.Now(db.wall())
	db.mu.Unlock()

	db.record(audit.Event{Type: audit.EventClockChange, Timestamp: now, Resource: "clock", Success: true,
		Metadata: map[string]string{"offset": "0s"}})
	return c
}

// Close closes the notifier, the journal and the storage engine.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if err := db.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier close: %w", err))
	}
	if err := db.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal close: %w", err))
	}
	if err := db.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	return errors.Join(errs...)
}

// notifyContext bounds an alert delivery so a slow sink cannot hold up
// the request that raised it.
func (db *DB) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := db.config.Notify.Timeout
	if d <= 0 {
		d = DefaultNotifyTimeout
	}
	return context.WithTimeout(ctx, d)
}

// valueLogCollector is implemented by engines with a reclaimable value log.
type valueLogCollector interface {
	RunGC() error
	Size() (lsm, vlog int64)
}

// CollectGarbage reclaims value log space when the storage engine keeps
// one. Engines without a value log are skipped.
func (db *DB) CollectGarbage() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	c, ok := db.storage.(valueLogCollector)
	if !ok {
		return nil
	}
	if err := c.RunGC(); err != nil {
		return fmt.Errorf("value log gc: %w", err)
	}
	lsm, vlog := c.Size()
	db.log.Debug("value log gc done", "lsm_bytes", lsm, "vlog_bytes", vlog)
	return nil
}

// StartMaintenance runs CollectGarbage every interval until ctx is done or
// the DB is closed. A non-positive interval disables it. The returned stop
// function ends the loop and waits for a running collection to finish; call
// it before Close.
func (db *DB) StartMaintenance(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := db.CollectGarbage()
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					db.log.Warn("storage maintenance failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

func (db *DB) record(e audit.Event) {
	if err := db.journal.Log(e); err != nil {
		db.log.Warn("journal write failed", "type", e.Type, "error", err)
	}
}

// load reads a household and fills missing fields.
func (db *DB) load(ctx context.Context, id string, now time.Time) (household.Household, error) {
	h, err := db.storage.GetHousehold(ctx, id)
	if err != nil {
		return household.Household{}, err
	}
	return household.MergeWithDefaults(h, now), nil
}

// update runs a read-modify-write on one household under its lock. fn
// returns the record to store; an error leaves the stored record as is.
func (db *DB) update(ctx context.Context, id string, fn func(h household.Household, now time.Time) (household.Household, error)) (household.Household, error) {
	if err := db.checkOpen(); err != nil {
		return household.Household{}, err
	}

	unlock := db.locks.Lock(id)
	defer unlock()

	now := db.Now()
	h, err := db.load(ctx, id, now)
	if err != nil {
		return household.Household{}, err
	}
	out, err := fn(h, now)
	if err != nil {
		return household.Household{}, err
	}
	if err := db.storage.PutHousehold(ctx, out); err != nil {
		return household.Household{}, fmt.Errorf("storing household: %w", err)
	}
	return out, nil
}

// Create stores a new household with the configured defaults. An empty id
// is replaced by a UUID and an empty name by the configured default name.
func (db *DB) Create(ctx context.Context, id, name string) (household.Household, error) {
	if err := db.checkOpen(); err != nil {
		return household.Household{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" {
		name = db.config.Household.DefaultName
	}

	unlock := db.locks.Lock(id)
	defer unlock()

	if _, err := db.storage.GetHousehold(ctx, id); err == nil {
		return household.Household{}, fmt.Errorf("%w: %s", ErrExists, id)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return household.Household{}, err
	}

	now := db.Now()
	h := db.fresh(id, name, now)
	if err := db.storage.PutHousehold(ctx, h); err != nil {
		return household.Household{}, fmt.Errorf("storing household: %w", err)
	}

	db.log.Info("household created", "household", id)
	db.record(audit.Event{Type: audit.EventHouseholdCreate, HouseholdID: id, Timestamp: now,
		Resource: "household", ResourceID: id, Success: true})
	return h, nil
}

// fresh builds a default household using the configured tank, rate and
// time zone.
func (db *DB) fresh(id, name string, now time.Time) household.Household {
	hc := db.config.Household
	h := household.New(id, name, now)
	if hc.TimeZone != "" {
		h.TimeZone = hc.TimeZone
	}
	capacity, rate := household.DefaultCapacity, household.DefaultRate
	if hc.Capacity > 0 {
		capacity = hc.Capacity
	}
	if hc.Rate > 0 {
		rate = hc.Rate
	}
	h.Water = cycle.NewState(capacity, rate, h.Local(now), h.SleepWindow)
	return h
}

// Get returns a household.
func (db *DB) Get(ctx context.Context, id string) (household.Household, error) {
	if err := db.checkOpen(); err != nil {
		return household.Household{}, err
	}
	return db.load(ctx, id, db.Now())
}

// View returns the dashboard snapshot of a household at the current
// virtual time.
func (db *DB) View(ctx context.Context, id string) (household.Snapshot, error) {
	if err := db.checkOpen(); err != nil {
		return household.Snapshot{}, err
	}
	now := db.Now()
	h, err := db.load(ctx, id, now)
	if err != nil {
		return household.Snapshot{}, err
	}
	return h.View(db.engine, now), nil
}

// List returns the IDs of all households.
func (db *DB) List(ctx context.Context) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.storage.ListHouseholds(ctx)
}

// Delete removes a household and forgets its alert state.
func (db *DB) Delete(ctx context.Context, id string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	unlock := db.locks.Lock(id)
	defer unlock()

	if err := db.storage.DeleteHousehold(ctx, id); err != nil {
		return err
	}
	db.notifier.ClearAlertState(id)
	db.log.Info("household deleted", "household", id)
	db.record(audit.Event{Type: audit.EventHouseholdDelete, HouseholdID: id, Timestamp: db.Now(),
		Resource: "household", ResourceID: id, Success: true})
	return nil
}

// FactoryReset replaces a household with defaults, keeping its ID, name
// and creation time.
func (db *DB) FactoryReset(ctx context.Context, id string) (household.Household, error) {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		fresh := db.fresh(h.ID, h.Name, now)
		fresh.CreatedAt = h.CreatedAt
		return fresh, nil
	})
	if err != nil {
		return out, err
	}
	db.notifier.ClearAlertState(id)
	db.log.Info("household reset to defaults", "household", id)
	db.record(audit.Event{Type: audit.EventFactoryReset, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "household", ResourceID: id, Success: true})
	return out, nil
}

// Refill closes the open water cycle. Outlier reports are sent to the
// notifier; delivery failures are logged and do not fail the refill.
func (db *DB) Refill(ctx context.Context, id string) (household.Household, cycle.Report, error) {
	var report cycle.Report
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var next household.Household
		next, report = h.Refill(db.engine, now)
		return next, nil
	})
	if err != nil {
		return out, cycle.Report{}, err
	}

	db.log.Info("water refilled",
		"household", id,
		"implied_rate", report.ImpliedRate,
		"learned_rate", report.LearnedRate,
		"outlier", report.Kind)
	db.record(audit.Event{
		Type:        audit.EventWaterRefill,
		HouseholdID: id,
		Timestamp:   report.Timestamp,
		Resource:    "water",
		Success:     true,
		Reason:      string(report.Kind),
		Metadata: map[string]string{
			"implied_rate": formatFloat(report.ImpliedRate),
			"learned_rate": formatFloat(report.LearnedRate),
		},
	})
	nctx, cancel := db.notifyContext(ctx)
	defer cancel()
	if err := db.notifier.Notify(nctx, id, report, report.Timestamp); err != nil {
		db.log.Warn("outlier alert not delivered", "household", id, "error", err)
	}
	return out, report, nil
}

// Calibrate records the water level read off the tank.
func (db *DB) Calibrate(ctx context.Context, id string, level float64) (household.Household, error) {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.CalibrateWater(db.engine, now, level)
	})
	if err != nil {
		return out, err
	}
	db.record(audit.Event{Type: audit.EventWaterCalibrate, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "water", Success: true,
		Metadata: map[string]string{"level": formatFloat(level), "rate": formatFloat(out.Water.CurrentCycleRate)}})
	return out, nil
}

// ConfigureWater changes the tank capacity.
func (db *DB) ConfigureWater(ctx context.Context, id string, capacity float64) (household.Household, error) {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.ConfigureWater(db.engine, now, capacity)
	})
	if err != nil {
		return out, err
	}
	db.record(audit.Event{Type: audit.EventWaterConfig, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "water", Success: true, Metadata: map[string]string{"capacity": formatFloat(capacity)}})
	return out, nil
}

// SetSleepWindow changes the household's quiet hours.
func (db *DB) SetSleepWindow(ctx context.Context, id string, w activetime.Window) (household.Household, error) {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.SetSleepWindow(db.engine, now, w)
	})
	if err != nil {
		return out, err
	}
	db.record(audit.Event{Type: audit.EventSettingsChange, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "household", ResourceID: id, Success: true,
		Metadata: map[string]string{"sleep_start": strconv.Itoa(w.Start), "sleep_end": strconv.Itoa(w.End)}})
	return out, nil
}

// SetOccupants changes the number of members and pets.
func (db *DB) SetOccupants(ctx context.Context, id string, members, pets int) (household.Household, error) {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.SetOccupants(now, members, pets)
	})
	if err != nil {
		return out, err
	}
	db.record(audit.Event{Type: audit.EventSettingsChange, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "household", ResourceID: id, Success: true,
		Metadata: map[string]string{"members": strconv.Itoa(members), "pets": strconv.Itoa(pets)}})
	return out, nil
}

// CompleteTask marks a hygiene or pet-care task as done now.
func (db *DB) CompleteTask(ctx context.Context, id, taskID string) (household.Task, error) {
	var task household.Task
	_, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var (
			next household.Household
			err  error
		)
		next, task, err = h.CompleteTask(taskID, now)
		return next, err
	})
	if err != nil {
		return household.Task{}, err
	}
	db.record(audit.Event{Type: audit.EventTaskComplete, HouseholdID: id, Timestamp: task.LastResetAt,
		Resource: "task", ResourceID: taskID, Success: true, Metadata: map[string]string{"name": task.Name}})
	return task, nil
}

// AddTask adds a task to the hygiene or pet-care list.
func (db *DB) AddTask(ctx context.Context, id string, domain entropy.Domain, t household.Task) (household.Task, error) {
	var task household.Task
	_, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var (
			next household.Household
			err  error
		)
		next, task, err = h.AddTask(domain, t, now)
		return next, err
	})
	if err != nil {
		return household.Task{}, err
	}
	db.record(audit.Event{Type: audit.EventTaskAdd, HouseholdID: id, Timestamp: task.LastResetAt,
		Resource: "task", ResourceID: task.ID, Success: true,
		Metadata: map[string]string{"name": task.Name, "domain": string(domain)}})
	return task, nil
}

// RemoveTask deletes a task.
func (db *DB) RemoveTask(ctx context.Context, id, taskID string) error {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.RemoveTask(taskID, now)
	})
	if err != nil {
		return err
	}
	db.record(audit.Event{Type: audit.EventTaskRemove, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "task", ResourceID: taskID, Success: true})
	return nil
}

// AddItem starts tracking a consumable.
func (db *DB) AddItem(ctx context.Context, id, name, unit string, quantity, lowStock float64) (inventory.Item, error) {
	var item inventory.Item
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var (
			next household.Household
			err  error
		)
		next, item, err = h.AddItem(name, unit, quantity, lowStock, now)
		return next, err
	})
	if err != nil {
		return inventory.Item{}, err
	}
	db.record(audit.Event{Type: audit.EventItemAdd, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "item", ResourceID: item.ID, Success: true,
		Metadata: map[string]string{"name": item.Name, "quantity": formatFloat(item.Quantity)}})
	db.notifyLow(ctx, id, item, out.UpdatedAt)
	return item, nil
}

// AdjustItem applies a signed change to a consumable. Items that end at or
// below their low-stock mark are sent to the notifier.
func (db *DB) AdjustItem(ctx context.Context, id, itemID string, delta float64, note string) (inventory.Item, error) {
	var item inventory.Item
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var (
			next household.Household
			err  error
		)
		next, item, err = h.AdjustItem(itemID, delta, note, now)
		return next, err
	})
	if err != nil {
		return inventory.Item{}, err
	}
	db.record(audit.Event{Type: audit.EventItemAdjust, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "item", ResourceID: itemID, Success: true, Reason: note,
		Metadata: map[string]string{"delta": formatFloat(delta), "balance": formatFloat(item.Quantity)}})
	db.notifyLow(ctx, id, item, out.UpdatedAt)
	return item, nil
}

// CountItem records a stocktake of a consumable.
func (db *DB) CountItem(ctx context.Context, id, itemID string, quantity float64, note string) (inventory.Item, error) {
	var item inventory.Item
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		var (
			next household.Household
			err  error
		)
		next, item, err = h.CountItem(itemID, quantity, note, now)
		return next, err
	})
	if err != nil {
		return inventory.Item{}, err
	}
	db.record(audit.Event{Type: audit.EventItemStocktake, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "item", ResourceID: itemID, Success: true, Reason: note,
		Metadata: map[string]string{"balance": formatFloat(item.Quantity)}})
	db.notifyLow(ctx, id, item, out.UpdatedAt)
	return item, nil
}

// RemoveItem stops tracking a consumable.
func (db *DB) RemoveItem(ctx context.Context, id, itemID string) error {
	out, err := db.update(ctx, id, func(h household.Household, now time.Time) (household.Household, error) {
		return h.RemoveItem(itemID, now)
	})
	if err != nil {
		return err
	}
	db.record(audit.Event{Type: audit.EventItemRemove, HouseholdID: id, Timestamp: out.UpdatedAt,
		Resource: "item", ResourceID: itemID, Success: true})
	return nil
}

func (db *DB) notifyLow(ctx context.Context, id string, item inventory.Item, now time.Time) {
	ctx, cancel := db.notifyContext(ctx)
	defer cancel()
	if err := db.notifier.NotifyLowStock(ctx, id, item, now); err != nil {
		db.log.Warn("low-stock alert not delivered", "household", id, "item", item.ID, "error", err)
	}
}

// WaterTrend returns daily water consumption for the trailing days ending
// today, oldest first. A non-positive days uses the configured length.
func (db *DB) WaterTrend(ctx context.Context, id string, days int) ([]trend.DayPoint, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = db.config.Household.TrendDays
	}
	now := db.Now()
	h, err := db.load(ctx, id, now)
	if err != nil {
		return nil, err
	}
	return trend.Water(db.engine, h.Water, h.Local(now), days), nil
}

// InventoryTrend returns the balance step series of one item over the
// trailing windowDays.
func (db *DB) InventoryTrend(ctx context.Context, id, itemID string, windowDays int) ([]trend.StepPoint, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = db.config.Household.TrendDays
	}
	now := db.Now()
	h, err := db.load(ctx, id, now)
	if err != nil {
		return nil, err
	}
	item, err := h.Item(itemID)
	if err != nil {
		return nil, err
	}
	return trend.Inventory(item.Logs, item.Quantity, windowDays, now), nil
}

// Activity returns the newest journal entries of a household. It is empty
// when the journal is disabled.
func (db *DB) Activity(id string, limit int) (*audit.QueryResult, error) {
	path := db.config.AuditPath()
	if path == "" || !db.journal.Enabled() {
		return &audit.QueryResult{Events: []audit.Event{}}, nil
	}
	return audit.NewReader(path).Query(audit.Query{HouseholdID: id, Newest: true, Limit: limit})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
