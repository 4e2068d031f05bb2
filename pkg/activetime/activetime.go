// Package activetime converts wall-clock intervals into "active hours".
//
// A household sleeps. Nobody drinks from the water tank between 23:00 and
// 07:00, so a tank that was refilled at 22:00 and checked at 08:00 has only
// been exposed to two hours of real consumption. This package measures time
// the way the household experiences it: every hour that starts inside the
// recurring quiet Window is skipped.
//
// Two operations are provided and they are exact inverses of each other:
//
//	// Forward: how many active hours elapsed between a refill and now?
//	hours := activetime.ActiveHours(refilledAt, now, window)
//
//	// Inverse: when would a refill have happened so that exactly 3 active
//	// hours have elapsed by now?
//	start := activetime.BacktrackStart(now, 3, window)
//
// Both walk the same hour-aligned segments (see walker), so the round trip
// ActiveHours(BacktrackStart(now, h, w), now, w) == h holds up to float
// rounding for any h that fits inside MaxSpan.
//
// Hours of day are read in the location of the timestamps passed in. Callers
// that care about a household's time zone convert with t.In(loc) first.
//
// ELI12:
//
// Imagine a toll road that is free at night. You pay for every hour you drive
// during the day and nothing for the hours after bedtime. ActiveHours adds up
// the bill for a trip. BacktrackStart answers "I have money for 5 paid hours,
// when should I have started driving to arrive right now?"
package activetime

import (
	"math"
	"time"
)

// MaxSpan bounds the work done by any walk. Longer intervals are estimated
// (forward) or truncated (backward) so both operations always terminate.
const MaxSpan = 60 * 24 * time.Hour

// maxSegments is the hard iteration ceiling: one segment per hour of MaxSpan
// plus the two partial segments at either end and a small margin for DST
// transitions.
const maxSegments = int(MaxSpan/time.Hour) + 4

// Window is a recurring daily quiet period expressed as hours of day.
//
// Start is inclusive and End is exclusive. A window may wrap past midnight
// (Start 23, End 7). Start == End means no quiet hours at all. End may be 24
// to express "until midnight".
type Window struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultWindow is the quiet period new households start with.
var DefaultWindow = Window{Start: 23, End: 7}

// Contains reports whether the given hour of day (0-23) is quiet.
func (w Window) Contains(hour int) bool {
	switch {
	case w.Start == w.End:
		return false
	case w.Start < w.End:
		return hour >= w.Start && hour < w.End
	default:
		return hour >= w.Start || hour < w.End
	}
}

// Valid reports whether both bounds are usable hours.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.Start <= 24 && w.End >= 0 && w.End <= 24
}

// QuietHours returns how many hours per day the window covers.
func (w Window) QuietHours() int {
	n := 0
	for h := 0; h < 24; h++ {
		if w.Contains(h) {
			n++
		}
	}
	return n
}

// ActiveFraction is the steady-state share of a day that counts as active.
func (w Window) ActiveFraction() float64 {
	return float64(24-w.QuietHours()) / 24
}

// ActiveHours returns the number of hours in [start, end) that do not fall
// inside the quiet window.
//
// The result is 0 when end is not after start, never negative, and
// non-decreasing in end. Intervals longer than MaxSpan are walked for
// MaxSpan and the remainder is added at w.ActiveFraction(), which keeps the
// estimate monotonic while bounding the loop.
func ActiveHours(start, end time.Time, w Window) float64 {
	if !end.After(start) {
		return 0
	}

	limit := end
	var remainder time.Duration
	if end.Sub(start) > MaxSpan {
		limit = start.Add(MaxSpan)
		remainder = end.Sub(limit)
	}

	var active time.Duration
	it := forward(start, limit)
	for seg, ok := it.next(); ok; seg, ok = it.next() {
		if !w.Contains(seg.hour) {
			active += seg.length()
		}
	}

	total := active.Hours()
	if remainder > 0 {
		total += remainder.Hours() * w.ActiveFraction()
	}
	return total
}

// BacktrackStart walks backward from now and returns the instant at which
// targetHours of active time would have elapsed by now.
//
// Quiet segments are crossed at zero cost. A non-positive or non-finite
// target returns now unchanged. If MaxSpan is exhausted before the target is
// consumed, the furthest reachable instant is returned instead of an error.
func BacktrackStart(now time.Time, targetHours float64, w Window) time.Time {
	if !(targetHours > 0) || math.IsInf(targetHours, 0) {
		return now
	}

	remaining := time.Duration(targetHours * float64(time.Hour))
	cursor := now
	it := backward(now, now.Add(-MaxSpan))
	for seg, ok := it.next(); ok; seg, ok = it.next() {
		cursor = seg.from
		if w.Contains(seg.hour) {
			continue
		}
		l := seg.length()
		if l >= remaining {
			return seg.to.Add(-remaining)
		}
		remaining -= l
	}
	return cursor
}

// DayHours is the active time that fell on one calendar day.
type DayHours struct {
	// Day is the local calendar day, formatted as 2006-01-02.
	Day   string
	Hours float64
}

// DayLayout is the calendar-day key format shared by archives and charts.
const DayLayout = "2006-01-02"

// DayKey formats t as a calendar-day key in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// HoursByDay splits the active hours of [start, end) by calendar day in
// ascending order. Days with zero active time are omitted. Only the first
// MaxSpan of the interval is walked.
func HoursByDay(start, end time.Time, w Window) []DayHours {
	if !end.After(start) {
		return nil
	}
	if end.Sub(start) > MaxSpan {
		end = start.Add(MaxSpan)
	}

	var out []DayHours
	it := forward(start, end)
	for seg, ok := it.next(); ok; seg, ok = it.next() {
		if w.Contains(seg.hour) {
			continue
		}
		key := DayKey(seg.from)
		h := seg.length().Hours()
		if n := len(out); n > 0 && out[n-1].Day == key {
			out[n-1].Hours += h
			continue
		}
		out = append(out, DayHours{Day: key, Hours: h})
	}
	return out
}
