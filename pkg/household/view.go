package household

import (
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

// WaterView is the derived display state of the water tank.
type WaterView struct {
	Capacity     float64         `json:"capacity"`
	Level        float64         `json:"level"`
	Percentage   float64         `json:"percentage"`
	Reading      entropy.Reading `json:"reading"`
	Rate         float64         `json:"rate"`
	LearnedRate  float64         `json:"learned_rate"`
	Phase        cycle.Phase     `json:"phase"`
	LastResetAt  time.Time       `json:"last_reset_at"`
	HoursToEmpty float64         `json:"hours_to_empty"`
	DaysToEmpty  float64         `json:"days_to_empty"`
	DaysKnown    bool            `json:"days_known"`
}

// TaskView is the derived display state of one task.
type TaskView struct {
	Task
	Domain entropy.Domain `json:"domain"`
	// Percentage is the share of the effective interval still left.
	Percentage float64         `json:"percentage"`
	Reading    entropy.Reading `json:"reading"`
}

// ItemView is the derived display state of one consumable.
type ItemView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Unit       string             `json:"unit,omitempty"`
	Quantity   float64            `json:"quantity"`
	LowStock   float64            `json:"low_stock"`
	Estimate   inventory.Estimate `json:"estimate"`
	LastChange *time.Time         `json:"last_change,omitempty"`
}

// Snapshot is everything a dashboard shows for a household at one instant.
type Snapshot struct {
	HouseholdID string        `json:"household_id"`
	Name        string        `json:"name"`
	At          time.Time     `json:"at"`
	Water       WaterView     `json:"water"`
	Hygiene     []TaskView    `json:"hygiene"`
	PetCare     []TaskView    `json:"pet_care"`
	Items       []ItemView    `json:"items"`
	Stats       entropy.Stats `json:"stats"`
}

// View evaluates every resource of the household at now. It is read-only.
func (h Household) View(eng *cycle.Engine, now time.Time) Snapshot {
	now = h.Local(now)
	snap := Snapshot{
		HouseholdID: h.ID,
		Name:        h.Name,
		At:          now,
		Water:       waterView(eng, h.Water, now),
		Hygiene:     make([]TaskView, 0, len(h.Hygiene)),
		PetCare:     make([]TaskView, 0, len(h.PetCare)),
		Items:       make([]ItemView, 0, len(h.Inventory)),
	}

	readings := []entropy.Reading{snap.Water.Reading}
	for _, t := range h.Hygiene {
		v := taskView(entropy.DomainHygiene, t, h.Members, now)
		snap.Hygiene = append(snap.Hygiene, v)
		readings = append(readings, v.Reading)
	}
	for _, t := range h.PetCare {
		v := taskView(entropy.DomainPetCare, t, h.Pets, now)
		snap.PetCare = append(snap.PetCare, v)
		readings = append(readings, v.Reading)
	}
	for _, it := range h.Inventory {
		snap.Items = append(snap.Items, itemView(it, now))
	}
	snap.Stats = entropy.Summarize(readings)
	return snap
}

func waterView(eng *cycle.Engine, s cycle.State, now time.Time) WaterView {
	level := eng.Level(s, now)
	v := WaterView{
		Capacity:     s.Capacity,
		Level:        level,
		Rate:         s.CurrentCycleRate,
		LearnedRate:  s.LearnedRate,
		Phase:        s.Phase(),
		LastResetAt:  s.LastResetAt,
		HoursToEmpty: eng.HoursToEmpty(s, now),
	}
	v.DaysToEmpty, v.DaysKnown = eng.DaysToEmpty(s, now)
	if s.Capacity > 0 {
		v.Percentage = 100 * level / s.Capacity
	}
	// Water wears by consumed volume against capacity. Consumption keeps
	// accruing past empty so a neglected tank escalates.
	v.Reading = entropy.EvaluateElapsed(entropy.PolicyFor(entropy.DomainWater), eng.Consumed(s, now), s.Capacity, false, 0)
	return v
}

func taskView(domain entropy.Domain, t Task, occupants int, now time.Time) TaskView {
	r := entropy.Evaluate(entropy.PolicyFor(domain), t.LastResetAt, now, t.ThresholdHours, t.Shared, occupants)
	pct := 100 * (1 - r.Score)
	if pct < 0 {
		pct = 0
	}
	return TaskView{Task: t, Domain: domain, Percentage: pct, Reading: r}
}

func itemView(it inventory.Item, now time.Time) ItemView {
	v := ItemView{
		ID:       it.ID,
		Name:     it.Name,
		Unit:     it.Unit,
		Quantity: it.Quantity,
		LowStock: it.LowStock,
		Estimate: it.Estimate(inventory.DefaultWindowDays, now),
	}
	if n := len(it.Logs); n > 0 {
		at := it.Logs[n-1].At
		v.LastChange = &at
	}
	return v
}
