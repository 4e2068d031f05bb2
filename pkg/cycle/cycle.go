// Package cycle implements the learning and calibration engine for
// refillable resources such as the household water tank.
//
// A cycle runs from one reset (refill) to the next. During a cycle the
// engine assumes consumption proceeds at CurrentCycleRate per active hour,
// where active hours exclude the household's quiet window (see package
// activetime). At the end of a cycle the engine looks at what actually
// happened, derives the implied rate, and folds it into LearnedRate with an
// exponential moving average, unless the observation is an outlier.
//
// The engine is pure. Every method takes a State value and a caller-chosen
// "now" and returns a new State; nothing reads the wall clock and nothing
// mutates its input.
//
// Per-cycle state machine:
//
//	OBSERVING --calibrate--> CALIBRATED
//	    ^                        |
//	    +--------reset-----------+   (reset from OBSERVING also loops back)
//
// Example Usage:
//
//	eng := cycle.New(nil)
//	st := cycle.NewState(18.9, 0.2, refilledAt, activetime.DefaultWindow)
//
//	level := eng.Level(st, now)
//	st = eng.ProcessCalibration(st, now, 12.0)
//	st, report := eng.ProcessReset(st, later)
//	if report.Outlier {
//		fmt.Println("unusual cycle:", report.Kind)
//	}
package cycle

import (
	"math"
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
)

// Config holds the tuning constants of the engine.
type Config struct {
	// LowerBand and UpperBand bound a valid implied rate as multiples of
	// the learned rate. Default: 0.5 and 2.0.
	LowerBand float64
	UpperBand float64

	// SmoothingWeight is the weight of a new observation in the moving
	// average. Default: 0.3.
	SmoothingWeight float64

	// MinResetActiveHours is the shortest cycle from which a rate is
	// derived at reset. Shorter cycles fall back to the learned rate.
	// Default: 0.1 hours.
	MinResetActiveHours float64

	// MinCalibrationActiveHours is the shortest span over which a
	// calibration recomputes the rate. Shorter spans shift the cycle
	// start instead. Default: 0.5 hours.
	MinCalibrationActiveHours float64

	// HistoryDays bounds the archived daily usage. Default: 30.
	HistoryDays int

	// DefaultRate replaces a missing or non-positive rate. Default: 0.2.
	DefaultRate float64
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() *Config {
	return &Config{
		LowerBand:                 0.5,
		UpperBand:                 2.0,
		SmoothingWeight:           0.3,
		MinResetActiveHours:       0.1,
		MinCalibrationActiveHours: 0.5,
		HistoryDays:               30,
		DefaultRate:               0.2,
	}
}

// Engine evaluates and advances cycle state. It is safe for concurrent use
// because it holds only immutable configuration.
type Engine struct {
	config *Config
}

// New creates an Engine. A nil config uses DefaultConfig.
func New(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return *e.config
}

// DailyUsage is one archived per-day consumption summary.
type DailyUsage struct {
	Day    string  `json:"day"`
	Amount float64 `json:"amount"`
}

// State is the persisted state of one refillable resource.
type State struct {
	Capacity               float64           `json:"capacity"`
	LastResetAt            time.Time         `json:"last_reset_at"`
	CurrentLevel           float64           `json:"current_level"`
	LearnedRate            float64           `json:"learned_rate"`
	CurrentCycleRate       float64           `json:"current_cycle_rate"`
	HasCalibratedThisCycle bool              `json:"has_calibrated_this_cycle"`
	SleepWindow            activetime.Window `json:"sleep_window"`
	History                []DailyUsage      `json:"history,omitempty"`
}

// NewState returns a freshly reset state.
func NewState(capacity, rate float64, resetAt time.Time, w activetime.Window) State {
	return State{
		Capacity:         capacity,
		LastResetAt:      resetAt,
		CurrentLevel:     capacity,
		LearnedRate:      rate,
		CurrentCycleRate: rate,
		SleepWindow:      w,
	}
}

// Phase is the position of a state within its cycle.
type Phase string

const (
	PhaseObserving  Phase = "observing"
	PhaseCalibrated Phase = "calibrated"
)

// Phase reports whether the open cycle has been calibrated.
func (s State) Phase() Phase {
	if s.HasCalibratedThisCycle {
		return PhaseCalibrated
	}
	return PhaseObserving
}

// OutlierKind qualifies an outlier observation.
type OutlierKind string

const (
	OutlierNone    OutlierKind = ""
	OutlierTooFast OutlierKind = "too_fast"
	OutlierTooSlow OutlierKind = "too_slow"
)

// Report describes what a reset observed. It is informational only.
type Report struct {
	Timestamp     time.Time   `json:"timestamp"`
	Outlier       bool        `json:"outlier"`
	Kind          OutlierKind `json:"kind,omitempty"`
	ImpliedRate   float64     `json:"implied_rate"`
	PreviousRate  float64     `json:"previous_rate"`
	LearnedRate   float64     `json:"learned_rate"`
	ElapsedActive float64     `json:"elapsed_active_hours"`
	Consumed      float64     `json:"consumed"`
	Calibrated    bool        `json:"calibrated"`
}

func (e *Engine) positive(v, fallback float64) float64 {
	if v > 0 && !math.IsInf(v, 0) {
		return v
	}
	if fallback > 0 && !math.IsInf(fallback, 0) {
		return fallback
	}
	return e.config.DefaultRate
}

func (e *Engine) learnedRate(s State) float64 {
	return e.positive(s.LearnedRate, e.config.DefaultRate)
}

func (e *Engine) cycleRate(s State) float64 {
	return e.positive(s.CurrentCycleRate, e.learnedRate(s))
}

// notBefore returns now, or t when now precedes it. Evaluations never look
// at an instant earlier than the last reset.
func notBefore(now, t time.Time) time.Time {
	if now.Before(t) {
		return t
	}
	return now
}

// Consumed returns the quantity consumed since the last reset at the
// current cycle rate, without clamping to capacity.
func (e *Engine) Consumed(s State, now time.Time) float64 {
	elapsed := activetime.ActiveHours(s.LastResetAt, now, s.SleepWindow)
	return e.cycleRate(s) * elapsed
}

// Level returns the interpolated quantity left at now, clamped to
// [0, Capacity].
func (e *Engine) Level(s State, now time.Time) float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return clamp(s.Capacity-e.Consumed(s, now), 0, s.Capacity)
}

// HoursToEmpty returns the active hours left before the level reaches zero
// at the current cycle rate.
func (e *Engine) HoursToEmpty(s State, now time.Time) float64 {
	return e.Level(s, now) / e.cycleRate(s)
}

// DaysToEmpty converts HoursToEmpty into calendar days using the quiet
// window's steady-state active share. Returns false when the household has
// no active hours at all.
func (e *Engine) DaysToEmpty(s State, now time.Time) (float64, bool) {
	perDay := 24 * s.SleepWindow.ActiveFraction()
	if perDay <= 0 {
		return 0, false
	}
	return e.HoursToEmpty(s, now) / perDay, true
}

// ProcessReset closes the open cycle at now and starts a new full one.
//
// The implied rate of the closing cycle is the calibrated cycle rate when
// the user corrected the level mid-cycle, otherwise Capacity divided by the
// elapsed active hours. Very short cycles fall back to the learned rate.
// An implied rate outside [LowerBand, UpperBand] × learned rate is reported
// as an outlier and leaves LearnedRate untouched; otherwise LearnedRate is
// smoothed toward it.
//
// The daily archive always records the implied consumption, outlier or
// not: the chart reflects what happened while the model ignores noise.
func (e *Engine) ProcessReset(s State, now time.Time) (State, Report) {
	now = notBefore(now, s.LastResetAt)
	cfg := e.config

	elapsed := activetime.ActiveHours(s.LastResetAt, now, s.SleepWindow)
	learned := e.learnedRate(s)

	var implied float64
	switch {
	case s.HasCalibratedThisCycle:
		implied = e.cycleRate(s)
	case elapsed > cfg.MinResetActiveHours && s.Capacity > 0:
		implied = s.Capacity / elapsed
	default:
		implied = learned
	}

	report := Report{
		Timestamp:     now,
		ImpliedRate:   implied,
		PreviousRate:  learned,
		ElapsedActive: elapsed,
		Calibrated:    s.HasCalibratedThisCycle,
	}

	next := learned
	switch {
	case implied > learned*cfg.UpperBand:
		report.Outlier = true
		report.Kind = OutlierTooFast
	case implied < learned*cfg.LowerBand:
		report.Outlier = true
		report.Kind = OutlierTooSlow
	default:
		next = learned*(1-cfg.SmoothingWeight) + implied*cfg.SmoothingWeight
	}
	report.LearnedRate = next

	consumed := implied * elapsed
	if s.Capacity > 0 && consumed > s.Capacity {
		consumed = s.Capacity
	}
	report.Consumed = consumed

	history := s.History
	if consumed > 0 {
		history = MergeHistory(history, DistributeConsumption(consumed, s.LastResetAt, now, s.SleepWindow))
	}
	history = PruneHistory(history, now, cfg.HistoryDays)

	return State{
		Capacity:               s.Capacity,
		LastResetAt:            now,
		CurrentLevel:           s.Capacity,
		LearnedRate:            next,
		CurrentCycleRate:       next,
		HasCalibratedThisCycle: false,
		SleepWindow:            s.SleepWindow,
		History:                history,
	}, report
}

// ProcessCalibration records a user-asserted level at now.
//
// With enough active time behind it the engine recomputes the cycle rate
// from the asserted consumption. With too little active time a recomputed
// rate would be noise, so the engine keeps the rate and instead moves
// LastResetAt to the instant that makes rate × active hours equal the
// asserted consumption. Either way Level(state, now) equals the asserted
// level right after the call.
//
// An asserted level at or above capacity restarts the cycle at now, which
// keeps the cycle rate positive.
func (e *Engine) ProcessCalibration(s State, now time.Time, asserted float64) State {
	now = notBefore(now, s.LastResetAt)
	if math.IsNaN(asserted) {
		return s
	}
	asserted = clamp(asserted, 0, math.Max(s.Capacity, 0))
	consumed := s.Capacity - asserted
	elapsed := activetime.ActiveHours(s.LastResetAt, now, s.SleepWindow)

	next := s
	next.History = append([]DailyUsage(nil), s.History...)
	if elapsed >= e.config.MinCalibrationActiveHours && consumed > 0 {
		next.CurrentCycleRate = consumed / elapsed
	} else {
		rate := e.cycleRate(s)
		next.CurrentCycleRate = rate
		next.LastResetAt = activetime.BacktrackStart(now, consumed/rate, s.SleepWindow)
	}
	next.CurrentLevel = asserted
	next.HasCalibratedThisCycle = true
	return next
}

// Reconfigure changes the nominal capacity. Rates are per hour and carry
// over unchanged; the stored level is clamped to the new capacity.
func (e *Engine) Reconfigure(s State, capacity float64) State {
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		return s
	}
	next := s
	next.History = append([]DailyUsage(nil), s.History...)
	next.Capacity = capacity
	next.CurrentLevel = clamp(s.CurrentLevel, 0, capacity)
	return next
}

// Snapshot records the interpolated level at now into the stored
// CurrentLevel field without touching anything else.
func (e *Engine) Snapshot(s State, now time.Time) State {
	next := s
	next.CurrentLevel = e.Level(s, now)
	return next
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
