// Package household defines the persisted household record and the pure
// operations that change it.
//
// A Household bundles every tracked resource of one home: the water tank
// (a cycle.State), hygiene and pet-care tasks scored by package entropy,
// and consumables tracked by package inventory. Operations are value
// methods that return a new record; the receiver is never modified, so a
// caller can compute a change, persist it, and discard it on failure.
package household

import (
	"errors"
	"time"
	_ "time/tzdata" // households name IANA zones; hosts may lack a zoneinfo database

	"github.com/google/uuid"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

// Defaults for new households.
const (
	DefaultCapacity = 18.9
	DefaultRate     = 0.2
	DefaultTimeZone = "UTC"
	DefaultMembers  = 1

	// DefaultThresholdHours is used for tasks stored without an interval.
	DefaultThresholdHours = 72

	// MaxReports bounds the stored reset reports.
	MaxReports = 20
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrItemNotFound = errors.New("item not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Task is a recurring chore whose condition degrades with wall-clock time.
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Area           string    `json:"area,omitempty"`
	ThresholdHours float64   `json:"threshold_hours"`
	Shared         bool      `json:"shared"`
	LastResetAt    time.Time `json:"last_reset_at"`
}

// Household is the persisted record of one home.
type Household struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Members     int               `json:"members"`
	Pets        int               `json:"pets"`
	TimeZone    string            `json:"time_zone"`
	SleepWindow activetime.Window `json:"sleep_window"`
	Water       cycle.State       `json:"water"`
	Hygiene     []Task            `json:"hygiene"`
	PetCare     []Task            `json:"pet_care"`
	Inventory   []inventory.Item  `json:"inventory"`
	Reports     []cycle.Report    `json:"reports,omitempty"`
}

func defaultHygiene(now time.Time) []Task {
	return []Task{
		{ID: uuid.NewString(), Name: "Kitchen counter", Area: "kitchen", ThresholdHours: 48, Shared: true, LastResetAt: now},
		{ID: uuid.NewString(), Name: "Bathroom", Area: "bathroom", ThresholdHours: 72, Shared: true, LastResetAt: now},
		{ID: uuid.NewString(), Name: "Floors", Area: "living room", ThresholdHours: 96, Shared: true, LastResetAt: now},
		{ID: uuid.NewString(), Name: "Bed sheets", Area: "bedroom", ThresholdHours: 168, LastResetAt: now},
	}
}

func defaultPetCare(now time.Time) []Task {
	return []Task{
		{ID: uuid.NewString(), Name: "Litter box", ThresholdHours: 24, Shared: true, LastResetAt: now},
		{ID: uuid.NewString(), Name: "Water bowl", ThresholdHours: 24, Shared: true, LastResetAt: now},
		{ID: uuid.NewString(), Name: "Grooming", ThresholdHours: 168, LastResetAt: now},
	}
}

func defaultInventory() []inventory.Item {
	return []inventory.Item{
		inventory.NewItem("", "Toilet paper", "roll", 12, 4),
		inventory.NewItem("", "Dish soap", "bottle", 2, 1),
	}
}

// New builds a household with default resources, all reset at now. An empty
// id is replaced by a random UUID.
func New(id, name string, now time.Time) Household {
	if id == "" {
		id = uuid.NewString()
	}
	return Household{
		ID:          id,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
		Members:     DefaultMembers,
		TimeZone:    DefaultTimeZone,
		SleepWindow: activetime.DefaultWindow,
		Water:       cycle.NewState(DefaultCapacity, DefaultRate, now, activetime.DefaultWindow),
		Hygiene:     defaultHygiene(now),
		PetCare:     defaultPetCare(now),
		Inventory:   defaultInventory(),
	}
}

// MergeWithDefaults fills zero or unusable fields of a stored record with
// defaults, so records written by older versions or edited by hand still
// evaluate. Fields that are already set are kept.
func MergeWithDefaults(h Household, now time.Time) Household {
	out := h.clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	if out.Members < 1 {
		out.Members = DefaultMembers
	}
	if out.Pets < 0 {
		out.Pets = 0
	}
	if out.TimeZone == "" {
		out.TimeZone = DefaultTimeZone
	}
	if !out.SleepWindow.Valid() {
		out.SleepWindow = activetime.DefaultWindow
	}

	w := &out.Water
	if !(w.Capacity > 0) {
		w.Capacity = DefaultCapacity
	}
	if !(w.LearnedRate > 0) {
		w.LearnedRate = DefaultRate
	}
	if !(w.CurrentCycleRate > 0) {
		w.CurrentCycleRate = w.LearnedRate
	}
	if w.LastResetAt.IsZero() {
		w.LastResetAt = now
		w.CurrentLevel = w.Capacity
	}
	if w.CurrentLevel < 0 || w.CurrentLevel > w.Capacity {
		w.CurrentLevel = w.Capacity
	}
	w.SleepWindow = out.SleepWindow
	// Stored instants decode with a fixed offset; the quiet window must
	// follow the household's zone across DST changes.
	w.LastResetAt = out.Local(w.LastResetAt)

	if out.Hygiene == nil {
		out.Hygiene = defaultHygiene(now)
	}
	if out.PetCare == nil {
		out.PetCare = defaultPetCare(now)
	}
	fillTasks(out.Hygiene, now, out.Location())
	fillTasks(out.PetCare, now, out.Location())

	if out.Inventory == nil {
		out.Inventory = defaultInventory()
	}
	for i := range out.Inventory {
		if out.Inventory[i].ID == "" {
			out.Inventory[i].ID = uuid.NewString()
		}
	}
	return out
}

func fillTasks(tasks []Task, now time.Time, loc *time.Location) {
	for i := range tasks {
		t := &tasks[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if !(t.ThresholdHours > 0) {
			t.ThresholdHours = DefaultThresholdHours
		}
		if t.LastResetAt.IsZero() {
			t.LastResetAt = now
		}
		t.LastResetAt = t.LastResetAt.In(loc)
	}
}

// Location returns the household's time zone, or UTC when it cannot be
// loaded.
func (h Household) Location() *time.Location {
	if h.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(h.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Local converts t into the household's time zone, which defines its
// calendar days and quiet hours.
func (h Household) Local(t time.Time) time.Time {
	return t.In(h.Location())
}

// Task returns a task by id from either list.
func (h Household) Task(id string) (Task, entropy.Domain, error) {
	for _, t := range h.Hygiene {
		if t.ID == id {
			return t, entropy.DomainHygiene, nil
		}
	}
	for _, t := range h.PetCare {
		if t.ID == id {
			return t, entropy.DomainPetCare, nil
		}
	}
	return Task{}, "", ErrTaskNotFound
}

// Item returns an inventory item by id.
func (h Household) Item(id string) (inventory.Item, error) {
	for _, it := range h.Inventory {
		if it.ID == id {
			return it, nil
		}
	}
	return inventory.Item{}, ErrItemNotFound
}

// clone copies every slice so the result can be changed freely.
func (h Household) clone() Household {
	out := h
	out.Water.History = append([]cycle.DailyUsage(nil), h.Water.History...)
	out.Hygiene = cloneTasks(h.Hygiene)
	out.PetCare = cloneTasks(h.PetCare)
	if h.Inventory != nil {
		out.Inventory = make([]inventory.Item, len(h.Inventory))
		for i, it := range h.Inventory {
			it.Logs = append([]inventory.Event(nil), it.Logs...)
			out.Inventory[i] = it
		}
	}
	out.Reports = append([]cycle.Report(nil), h.Reports...)
	return out
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	return append(make([]Task, 0, len(tasks)), tasks...)
}
