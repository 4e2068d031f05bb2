// Package trend rebuilds chartable series from stored state.
//
// Water is shown as a trailing window of per-day consumption: archived days
// come from the cycle history, the still-open cycle is reconstructed on the
// fly from its rate and active hours. Inventory is shown as a step function
// of the running balance so a chart draws vertical jumps at every event
// instead of sloped lines between them.
package trend

import (
	"sort"
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

// DefaultDays is the length of the water series.
const DefaultDays = 7

// holdOffset places a hold point just before its event.
const holdOffset = time.Millisecond

// DayPoint is one calendar day of consumption.
type DayPoint struct {
	Day    string  `json:"day"`
	Amount float64 `json:"amount"`
}

// OpenCycle distributes the consumption of the open cycle over the days it
// spans. The amount is the cycle rate times elapsed active hours, capped at
// capacity.
func OpenCycle(eng *cycle.Engine, s cycle.State, now time.Time) []cycle.DailyUsage {
	if !now.After(s.LastResetAt) {
		return nil
	}
	consumed := eng.Consumed(s, now)
	if s.Capacity > 0 && consumed > s.Capacity {
		consumed = s.Capacity
	}
	return cycle.DistributeConsumption(consumed, s.LastResetAt, now, s.SleepWindow)
}

// Water returns exactly days entries ending with the day of now, oldest
// first. Days without data are zero. A non-positive days uses DefaultDays.
func Water(eng *cycle.Engine, s cycle.State, now time.Time, days int) []DayPoint {
	if days <= 0 {
		days = DefaultDays
	}
	merged := cycle.MergeHistory(s.History, OpenCycle(eng, s, now))
	byDay := make(map[string]float64, len(merged))
	for _, d := range merged {
		byDay[d.Day] = d.Amount
	}

	out := make([]DayPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := activetime.DayKey(now.AddDate(0, 0, -i))
		out = append(out, DayPoint{Day: key, Amount: byDay[key]})
	}
	return out
}

// PointKind labels a step point.
type PointKind string

const (
	PointSeed  PointKind = "seed"
	PointHold  PointKind = "hold"
	PointEvent PointKind = "event"
	PointNow   PointKind = "now"
)

// StepPoint is one vertex of an inventory step chart.
type StepPoint struct {
	At      time.Time `json:"at"`
	Balance float64   `json:"balance"`
	Kind    PointKind `json:"kind"`
}

// Inventory returns the step series of an item's balance over the trailing
// windowDays before now.
//
// The series opens with a seed point at the window start holding the
// balance implied just before the first in-window event, then a hold/event
// pair per event, and closes with (now, current). An item with no events in
// the window is a flat line at current.
func Inventory(logs []inventory.Event, current float64, windowDays int, now time.Time) []StepPoint {
	if windowDays <= 0 {
		windowDays = DefaultDays
	}
	from := now.Add(-time.Duration(windowDays) * inventory.Day)

	var events []inventory.Event
	for _, e := range logs {
		if e.At.Before(from) || e.At.After(now) {
			continue
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	seed := current
	if len(events) > 0 {
		seed = events[0].BalanceBefore()
	}

	points := make([]StepPoint, 0, 2*len(events)+2)
	points = append(points, StepPoint{At: from, Balance: seed, Kind: PointSeed})
	prev := seed
	for _, e := range events {
		hold := e.At.Add(-holdOffset)
		if hold.Before(from) {
			hold = from
		}
		points = append(points,
			StepPoint{At: hold, Balance: prev, Kind: PointHold},
			StepPoint{At: e.At, Balance: e.BalanceAfter, Kind: PointEvent},
		)
		prev = e.BalanceAfter
	}
	return append(points, StepPoint{At: now, Balance: current, Kind: PointNow})
}
