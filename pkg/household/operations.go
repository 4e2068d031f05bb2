package household

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (h Household) touched(now time.Time) Household {
	h.UpdatedAt = now
	return h
}

// Refill closes the open water cycle and starts a full one. The reset
// report is also kept in the record's report ring.
func (h Household) Refill(eng *cycle.Engine, now time.Time) (Household, cycle.Report) {
	now = h.Local(now)
	out := h.clone()
	var report cycle.Report
	out.Water, report = eng.ProcessReset(out.Water, now)
	out.Reports = append(out.Reports, report)
	if n := len(out.Reports); n > MaxReports {
		out.Reports = append([]cycle.Report(nil), out.Reports[n-MaxReports:]...)
	}
	return out.touched(now), report
}

// CalibrateWater records the level the user read off the tank. The level
// must be a finite non-negative number; values above capacity are clamped.
func (h Household) CalibrateWater(eng *cycle.Engine, now time.Time, level float64) (Household, error) {
	if !finite(level) || level < 0 {
		return h, fmt.Errorf("%w: level %v", ErrInvalidInput, level)
	}
	now = h.Local(now)
	out := h.clone()
	out.Water = eng.ProcessCalibration(out.Water, now, level)
	return out.touched(now), nil
}

// ConfigureWater changes the tank capacity.
func (h Household) ConfigureWater(eng *cycle.Engine, now time.Time, capacity float64) (Household, error) {
	if !finite(capacity) || capacity <= 0 {
		return h, fmt.Errorf("%w: capacity %v", ErrInvalidInput, capacity)
	}
	out := h.clone()
	out.Water = eng.Reconfigure(out.Water, capacity)
	return out.touched(now), nil
}

// SetSleepWindow changes the household's quiet hours.
//
// Changing the window changes how many active hours lie behind the open
// cycle, so the cycle start is re-solved under the new window to keep the
// current water level where it was.
func (h Household) SetSleepWindow(eng *cycle.Engine, now time.Time, w activetime.Window) (Household, error) {
	if !w.Valid() {
		return h, fmt.Errorf("%w: sleep window %d-%d", ErrInvalidInput, w.Start, w.End)
	}
	now = h.Local(now)
	out := h.clone()

	level := eng.Level(out.Water, now)
	consumed := out.Water.Capacity - level
	rate := out.Water.CurrentCycleRate
	if consumed > 0 && rate > 0 && !out.Water.LastResetAt.After(now) {
		out.Water.LastResetAt = activetime.BacktrackStart(now, consumed/rate, w)
	}
	out.SleepWindow = w
	out.Water.SleepWindow = w
	out.Water = eng.Snapshot(out.Water, now)
	return out.touched(now), nil
}

// SetOccupants changes the number of members and pets.
func (h Household) SetOccupants(now time.Time, members, pets int) (Household, error) {
	if members < 1 || pets < 0 {
		return h, fmt.Errorf("%w: members %d pets %d", ErrInvalidInput, members, pets)
	}
	out := h.clone()
	out.Members = members
	out.Pets = pets
	return out.touched(now), nil
}

// CompleteTask resets a hygiene or pet-care task at now.
func (h Household) CompleteTask(id string, now time.Time) (Household, Task, error) {
	out := h.clone()
	for _, list := range [][]Task{out.Hygiene, out.PetCare} {
		for i := range list {
			if list[i].ID == id {
				list[i].LastResetAt = now
				return out.touched(now), list[i], nil
			}
		}
	}
	return h, Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// AddTask adds a task to the hygiene or pet-care list. The task starts
// fresh at now; an empty ID is generated.
func (h Household) AddTask(domain entropy.Domain, t Task, now time.Time) (Household, Task, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return h, Task{}, fmt.Errorf("%w: task name is required", ErrInvalidInput)
	}
	if !finite(t.ThresholdHours) || t.ThresholdHours <= 0 {
		return h, Task{}, fmt.Errorf("%w: threshold %v", ErrInvalidInput, t.ThresholdHours)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, _, err := h.Task(t.ID); err == nil {
		return h, Task{}, fmt.Errorf("%w: task %s exists", ErrInvalidInput, t.ID)
	}
	t.LastResetAt = now

	out := h.clone()
	switch domain {
	case entropy.DomainHygiene:
		out.Hygiene = append(out.Hygiene, t)
	case entropy.DomainPetCare:
		out.PetCare = append(out.PetCare, t)
	default:
		return h, Task{}, fmt.Errorf("%w: domain %q", ErrInvalidInput, domain)
	}
	return out.touched(now), t, nil
}

// RemoveTask deletes a task from either list.
func (h Household) RemoveTask(id string, now time.Time) (Household, error) {
	out := h.clone()
	if i := indexTask(out.Hygiene, id); i >= 0 {
		out.Hygiene = append(out.Hygiene[:i], out.Hygiene[i+1:]...)
		return out.touched(now), nil
	}
	if i := indexTask(out.PetCare, id); i >= 0 {
		out.PetCare = append(out.PetCare[:i], out.PetCare[i+1:]...)
		return out.touched(now), nil
	}
	return h, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

func indexTask(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// AddItem starts tracking a consumable. The initial quantity is recorded as
// a restock event so the log replays to the current balance.
func (h Household) AddItem(name, unit string, quantity, lowStock float64, now time.Time) (Household, inventory.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return h, inventory.Item{}, fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	if !finite(quantity) || quantity < 0 || !finite(lowStock) || lowStock < 0 {
		return h, inventory.Item{}, fmt.Errorf("%w: quantity %v low stock %v", ErrInvalidInput, quantity, lowStock)
	}
	item := inventory.NewItem("", name, unit, 0, lowStock)
	item = item.Apply(quantity, now, "initial stock", "")

	out := h.clone()
	out.Inventory = append(out.Inventory, item)
	return out.touched(now), item, nil
}

// AdjustItem applies a signed quantity change to an item.
func (h Household) AdjustItem(id string, delta float64, note string, now time.Time) (Household, inventory.Item, error) {
	if !finite(delta) {
		return h, inventory.Item{}, fmt.Errorf("%w: delta %v", ErrInvalidInput, delta)
	}
	out := h.clone()
	for i := range out.Inventory {
		if out.Inventory[i].ID == id {
			out.Inventory[i] = out.Inventory[i].Apply(delta, now, note, "")
			return out.touched(now), out.Inventory[i], nil
		}
	}
	return h, inventory.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// CountItem records a stocktake: the counted quantity replaces the balance
// and the difference is logged as a change.
func (h Household) CountItem(id string, quantity float64, note string, now time.Time) (Household, inventory.Item, error) {
	if !finite(quantity) || quantity < 0 {
		return h, inventory.Item{}, fmt.Errorf("%w: quantity %v", ErrInvalidInput, quantity)
	}
	out := h.clone()
	for i := range out.Inventory {
		if out.Inventory[i].ID == id {
			out.Inventory[i] = out.Inventory[i].SetQuantity(quantity, now, note, "")
			return out.touched(now), out.Inventory[i], nil
		}
	}
	return h, inventory.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// RemoveItem stops tracking a consumable.
func (h Household) RemoveItem(id string, now time.Time) (Household, error) {
	out := h.clone()
	for i := range out.Inventory {
		if out.Inventory[i].ID == id {
			out.Inventory = append(out.Inventory[:i], out.Inventory[i+1:]...)
			return out.touched(now), nil
		}
	}
	return h, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}
