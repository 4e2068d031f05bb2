// Package inventory tracks consumables through an append-only log of signed
// quantity changes and estimates how fast they are used up.
//
// Every restock or use of an item appends an Event carrying the signed delta
// and the running balance after it. The log is the source of truth for two
// derived figures:
//
//   - DailyRate: how many consumption events happen per day, estimated from
//     the decrease events inside a rolling window.
//   - Projection: how many days the current quantity lasts at that rate.
//
// Both return ok == false when there is not enough data. "Unknown" is
// different from zero and callers should show it as such.
//
// Example Usage:
//
//	item := inventory.NewItem("", "Dish soap", "bottle", 3, 1)
//	item = item.Apply(-1, now, "", "")
//	if rate, ok := inventory.DailyRate(item.Logs, 14, now); ok {
//		days, _ := inventory.Projection(item.Quantity, rate)
//		fmt.Printf("%.1f days left\n", days)
//	}
package inventory

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Day is the unit of the rate window.
const Day = 24 * time.Hour

// Default limits applied by Item.Apply.
const (
	DefaultRetentionDays = 90
	DefaultMaxEvents     = 500
	DefaultWindowDays    = 14
)

// Event is one signed change of an item's quantity.
type Event struct {
	ID           string    `json:"id"`
	At           time.Time `json:"at"`
	Delta        float64   `json:"delta"`
	BalanceAfter float64   `json:"balance_after"`
	Note         string    `json:"note,omitempty"`
}

// Decrease reports whether the event consumed stock.
func (e Event) Decrease() bool {
	return e.Delta < 0
}

// BalanceBefore is the balance implied immediately before the event.
func (e Event) BalanceBefore() float64 {
	return e.BalanceAfter - e.Delta
}

// Item is a tracked consumable.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit,omitempty"`
	Quantity float64 `json:"quantity"`
	// LowStock is the quantity at or below which the item needs buying.
	LowStock float64 `json:"low_stock"`
	Logs     []Event `json:"logs,omitempty"`
}

// NewItem creates an item. An empty id is replaced by a random UUID.
func NewItem(id, name, unit string, quantity, lowStock float64) Item {
	if id == "" {
		id = uuid.NewString()
	}
	if quantity < 0 {
		quantity = 0
	}
	return Item{ID: id, Name: name, Unit: unit, Quantity: quantity, LowStock: lowStock}
}

// Apply appends a signed change at the given instant and returns the
// updated item. The balance never drops below zero; the recorded delta is
// the change that actually happened. A zero or non-finite change returns
// the item unchanged. An empty eventID is replaced by a random UUID. An
// instant earlier than the newest logged event is moved up to it.
//
// Logs older than DefaultRetentionDays, or beyond DefaultMaxEvents, are
// pruned.
func (it Item) Apply(delta float64, at time.Time, note, eventID string) Item {
	if delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return it
	}
	balance := it.Quantity + delta
	if balance < 0 {
		balance = 0
	}
	actual := balance - it.Quantity
	if actual == 0 {
		return it
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}
	// The log is a running balance, so a late-arriving change is recorded
	// at the newest event rather than spliced into the past.
	if n := len(it.Logs); n > 0 && at.Before(it.Logs[n-1].At) {
		at = it.Logs[n-1].At
	}

	next := it
	next.Quantity = balance
	next.Logs = make([]Event, 0, len(it.Logs)+1)
	next.Logs = append(next.Logs, it.Logs...)
	next.Logs = append(next.Logs, Event{
		ID:           eventID,
		At:           at,
		Delta:        actual,
		BalanceAfter: balance,
		Note:         note,
	})
	sortEvents(next.Logs)
	next.Logs = Prune(next.Logs, at, DefaultRetentionDays, DefaultMaxEvents)
	return next
}

// SetQuantity records an absolute stocktake as the delta from the current
// balance.
func (it Item) SetQuantity(quantity float64, at time.Time, note, eventID string) Item {
	if quantity < 0 {
		quantity = 0
	}
	return it.Apply(quantity-it.Quantity, at, note, eventID)
}

// IsLow reports whether the item is at or below its low-stock mark.
func (it Item) IsLow() bool {
	return it.Quantity <= it.LowStock
}

// Prune drops events older than retentionDays before now and keeps at most
// maxEvents of the newest. Non-positive limits disable the respective rule.
func Prune(logs []Event, now time.Time, retentionDays, maxEvents int) []Event {
	out := logs
	if retentionDays > 0 {
		cutoff := now.Add(-time.Duration(retentionDays) * Day)
		kept := make([]Event, 0, len(out))
		for _, e := range out {
			if !e.At.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		out = kept
	}
	if maxEvents > 0 && len(out) > maxEvents {
		out = append([]Event(nil), out[len(out)-maxEvents:]...)
	}
	return out
}

// DailyRate estimates consumption events per day from the decrease events
// in [now - windowDays, now].
//
// At least two decrease events are required; fewer returns ok == false. N
// events bound N-1 intervals, so the rate is (N-1) divided by the days
// between the first and last event, with spans under a day counted as one
// day so a burst of same-day events does not inflate the rate.
func DailyRate(logs []Event, windowDays int, now time.Time) (float64, bool) {
	if windowDays <= 0 {
		return 0, false
	}
	from := now.Add(-time.Duration(windowDays) * Day)

	var decreases []Event
	for _, e := range logs {
		if !e.Decrease() || e.At.Before(from) || e.At.After(now) {
			continue
		}
		decreases = append(decreases, e)
	}
	if len(decreases) < 2 {
		return 0, false
	}
	sortEvents(decreases)

	days := decreases[len(decreases)-1].At.Sub(decreases[0].At).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(len(decreases)-1) / days, true
}

// Projection returns how many days qty lasts at rate. ok is false when the
// rate is not positive.
func Projection(qty, rate float64) (float64, bool) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return 0, false
	}
	if qty < 0 {
		qty = 0
	}
	return qty / rate, true
}

// Estimate is the derived outlook of an item.
type Estimate struct {
	Rate      float64 `json:"rate_per_day"`
	RateKnown bool    `json:"rate_known"`
	DaysLeft  float64 `json:"days_left"`
	DaysKnown bool    `json:"days_known"`
	Low       bool    `json:"low"`
}

// Estimate computes the rate and projection of the item at now.
func (it Item) Estimate(windowDays int, now time.Time) Estimate {
	est := Estimate{Low: it.IsLow()}
	est.Rate, est.RateKnown = DailyRate(it.Logs, windowDays, now)
	if est.RateKnown {
		est.DaysLeft, est.DaysKnown = Projection(it.Quantity, est.Rate)
	}
	return est
}

func sortEvents(logs []Event) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].At.Before(logs[j].At) })
}
