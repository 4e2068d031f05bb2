// Package notify delivers household alerts: unusual water cycles and
// consumables running low.
//
// A Manager decides whether an alert is worth sending and fans it out to
// one or more sinks (log, desktop notification, Kafka topic). Repeats of
// the same alert kind for the same household are suppressed within the
// configured interval. Delivery is best effort; a failing sink is logged
// and never blocks the action that produced the alert.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

// Alert kinds
const (
	KindWaterTooFast = "water_too_fast"
	KindWaterTooSlow = "water_too_slow"
	KindLowStock     = "low_stock"
)

// Alert is one notification.
type Alert struct {
	HouseholdID string        `json:"household_id"`
	Kind        string        `json:"kind"`
	Title       string        `json:"title"`
	Body        string        `json:"body"`
	At          time.Time     `json:"at"`
	Report      *cycle.Report `json:"report,omitempty"`
	ItemID      string        `json:"item_id,omitempty"`
}

// Sink delivers alerts somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Manager handles alert suppression and fan-out.
type Manager struct {
	sinks  []Sink
	repeat time.Duration
	log    *slog.Logger

	mu            sync.Mutex
	lastAlertTime map[string]time.Time
}

// NewManager creates a manager. A zero repeat suppresses every repeat of
// the same household and kind until ClearAlertState.
func NewManager(repeat time.Duration, log *slog.Logger, sinks ...Sink) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sinks:         sinks,
		repeat:        repeat,
		log:           log.With("component", "notify"),
		lastAlertTime: make(map[string]time.Time),
	}
}

// Message builds the title and body for a reset report. ok is false for
// reports that are not outliers.
func Message(r cycle.Report) (kind, title, body string, ok bool) {
	switch r.Kind {
	case cycle.OutlierTooFast:
		return KindWaterTooFast, "Water ran out unusually fast",
			fmt.Sprintf("The tank emptied at %.2f L/h, more than twice the usual %.2f L/h. Check for leaks or a busy week; the learned rate was kept.",
				r.ImpliedRate, r.PreviousRate), true
	case cycle.OutlierTooSlow:
		return KindWaterTooSlow, "Water lasted unusually long",
			fmt.Sprintf("The tank emptied at %.2f L/h, less than half the usual %.2f L/h. Was the refill late? The learned rate was kept.",
				r.ImpliedRate, r.PreviousRate), true
	}
	return "", "", "", false
}

// LowStockMessage builds the title and body for an item at or below its
// low-stock mark.
func LowStockMessage(it inventory.Item, est inventory.Estimate) (title, body string) {
	title = fmt.Sprintf("Running low: %s", it.Name)
	body = fmt.Sprintf("%g %s left.", it.Quantity, it.Unit)
	if est.DaysKnown {
		body += fmt.Sprintf(" About %.1f days at the current pace.", est.DaysLeft)
	}
	return title, body
}

// Notify sends an alert for an outlier reset report. Non-outlier reports
// are ignored.
func (m *Manager) Notify(ctx context.Context, householdID string, r cycle.Report, now time.Time) error {
	kind, title, body, ok := Message(r)
	if !ok {
		return nil
	}
	report := r
	return m.dispatch(ctx, Alert{
		HouseholdID: householdID,
		Kind:        kind,
		Title:       title,
		Body:        body,
		At:          now,
		Report:      &report,
	})
}

// NotifyLowStock sends an alert when an item is at or below its low-stock
// mark. Suppression is per item.
func (m *Manager) NotifyLowStock(ctx context.Context, householdID string, it inventory.Item, now time.Time) error {
	if !it.IsLow() {
		return nil
	}
	title, body := LowStockMessage(it, it.Estimate(inventory.DefaultWindowDays, now))
	return m.dispatch(ctx, Alert{
		HouseholdID: householdID,
		Kind:        KindLowStock,
		Title:       title,
		Body:        body,
		At:          now,
		ItemID:      it.ID,
	})
}

func alertKey(a Alert) string {
	return a.HouseholdID + "/" + a.Kind + "/" + a.ItemID
}

func (m *Manager) dispatch(ctx context.Context, a Alert) error {
	key := alertKey(a)

	m.mu.Lock()
	if last, ok := m.lastAlertTime[key]; ok {
		if m.repeat <= 0 || a.At.Sub(last) < m.repeat {
			m.mu.Unlock()
			return nil
		}
	}
	m.lastAlertTime[key] = a.At
	m.mu.Unlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, a); err != nil {
			m.log.Warn("alert delivery failed", "sink", s.Name(), "household", a.HouseholdID, "kind", a.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ClearAlertState forgets suppression state for a household, or for all
// households when householdID is empty.
func (m *Manager) ClearAlertState(householdID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if householdID == "" {
		m.lastAlertTime = make(map[string]time.Time)
		return
	}
	prefix := householdID + "/"
	for k := range m.lastAlertTime {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.lastAlertTime, k)
		}
	}
}

// Close closes every sink that holds resources.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
