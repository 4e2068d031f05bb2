package household

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
)

var t0 = time.Date(2024, time.May, 6, 8, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	h := New("", "Flat 3B", t0)

	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "Flat 3B", h.Name)
	assert.Equal(t, DefaultCapacity, h.Water.Capacity)
	assert.Equal(t, DefaultRate, h.Water.LearnedRate)
	assert.Equal(t, activetime.DefaultWindow, h.SleepWindow)
	assert.Equal(t, h.SleepWindow, h.Water.SleepWindow)
	assert.NotEmpty(t, h.Hygiene)
	assert.NotEmpty(t, h.PetCare)
	assert.NotEmpty(t, h.Inventory)
	for _, task := range h.Hygiene {
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, t0, task.LastResetAt)
	}
}

func TestMergeWithDefaults(t *testing.T) {
	t.Run("fills_missing", func(t *testing.T) {
		stored := Household{
			ID:          "h1",
			SleepWindow: activetime.Window{Start: 30, End: 7},
			Hygiene:     []Task{{Name: "Sink"}},
		}

		h := MergeWithDefaults(stored, t0)

		assert.Equal(t, "h1", h.ID)
		assert.Equal(t, t0, h.CreatedAt)
		assert.Equal(t, DefaultMembers, h.Members)
		assert.Equal(t, DefaultTimeZone, h.TimeZone)
		assert.Equal(t, activetime.DefaultWindow, h.SleepWindow)
		assert.Equal(t, DefaultCapacity, h.Water.Capacity)
		assert.Equal(t, DefaultCapacity, h.Water.CurrentLevel)
		assert.Equal(t, DefaultRate, h.Water.CurrentCycleRate)
		require.Len(t, h.Hygiene, 1)
		assert.NotEmpty(t, h.Hygiene[0].ID)
		assert.Equal(t, float64(DefaultThresholdHours), h.Hygiene[0].ThresholdHours)
		assert.NotEmpty(t, h.PetCare)
		assert.Empty(t, stored.Hygiene[0].ID, "input must not change")
	})

	t.Run("keeps_set_fields", func(t *testing.T) {
		orig := New("h2", "Home", t0)
		orig.Members = 4
		orig.Water.LearnedRate = 0.35
		orig.Water.CurrentCycleRate = 0.3

		h := MergeWithDefaults(orig, t0.Add(time.Hour))

		assert.Equal(t, 4, h.Members)
		assert.Equal(t, 0.35, h.Water.LearnedRate)
		assert.Equal(t, 0.3, h.Water.CurrentCycleRate)
		assert.Equal(t, t0, h.CreatedAt)
		assert.Equal(t, orig.Hygiene, h.Hygiene)
	})

	t.Run("survives_json_round_trip", func(t *testing.T) {
		orig := New("h3", "Home", t0)
		data, err := json.Marshal(orig)
		require.NoError(t, err)

		var decoded Household
		require.NoError(t, json.Unmarshal(data, &decoded))
		h := MergeWithDefaults(decoded, t0)

		assert.Equal(t, orig.ID, h.ID)
		assert.True(t, orig.Water.LastResetAt.Equal(h.Water.LastResetAt))
		assert.Len(t, h.Inventory, len(orig.Inventory))
	})

	t.Run("restores_zone_across_dst", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		reset := time.Date(2024, time.March, 1, 12, 0, 0, 0, ny)
		orig := New("h4", "Home", reset)
		orig.TimeZone = "America/New_York"

		data, err := json.Marshal(orig)
		require.NoError(t, err)
		var decoded Household
		require.NoError(t, json.Unmarshal(data, &decoded))
		h := MergeWithDefaults(decoded, reset)

		assert.Equal(t, "America/New_York", h.Water.LastResetAt.Location().String())
		assert.Equal(t, "America/New_York", h.Hygiene[0].LastResetAt.Location().String())

		// 07:00-08:00 EDT is awake time; under the stored EST offset it
		// would fall inside the 23-7 quiet window.
		eng := cycle.New(nil)
		from := time.Date(2024, time.March, 20, 7, 0, 0, 0, ny)
		to := from.Add(time.Hour)
		want := eng.Consumed(orig.Water, to) - eng.Consumed(orig.Water, from)
		got := eng.Consumed(h.Water, to) - eng.Consumed(h.Water, from)
		assert.InDelta(t, DefaultRate, want, 1e-9)
		assert.InDelta(t, want, got, 1e-9)
	})
}

func TestRefill(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)
	h.SleepWindow = activetime.Window{}
	h.Water.SleepWindow = activetime.Window{}

	next, report := h.Refill(eng, t0.Add(90*time.Hour))

	assert.False(t, report.Outlier)
	assert.InDelta(t, 0.203, next.Water.LearnedRate, 1e-12)
	require.Len(t, next.Reports, 1)
	assert.Equal(t, report, next.Reports[0])
	assert.Equal(t, DefaultRate, h.Water.LearnedRate, "receiver must not change")
	assert.Empty(t, h.Reports)

	t.Run("report_ring_is_bounded", func(t *testing.T) {
		cur := h
		for i := 1; i <= MaxReports+5; i++ {
			cur, _ = cur.Refill(eng, t0.Add(time.Duration(i)*90*time.Hour))
		}
		assert.Len(t, cur.Reports, MaxReports)
	})
}

func TestCalibrateWater(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)

	next, err := h.CalibrateWater(eng, t0.Add(3*time.Hour), 17.1)
	require.NoError(t, err)
	assert.True(t, next.Water.HasCalibratedThisCycle)
	assert.InDelta(t, 17.1, eng.Level(next.Water, t0.Add(3*time.Hour)), 1e-9)

	_, err = h.CalibrateWater(eng, t0, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConfigureWater(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)

	next, err := h.ConfigureWater(eng, t0, 12)
	require.NoError(t, err)
	assert.Equal(t, 12.0, next.Water.Capacity)
	assert.Equal(t, 12.0, next.Water.CurrentLevel)

	_, err = h.ConfigureWater(eng, t0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetSleepWindow(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)
	now := t0.Add(30 * time.Hour)
	before := eng.Level(h.Water, now)

	next, err := h.SetSleepWindow(eng, now, activetime.Window{Start: 0, End: 6})
	require.NoError(t, err)

	assert.Equal(t, activetime.Window{Start: 0, End: 6}, next.SleepWindow)
	assert.Equal(t, next.SleepWindow, next.Water.SleepWindow)
	assert.InDelta(t, before, eng.Level(next.Water, now), 1e-9)
	assert.InDelta(t, before, next.Water.CurrentLevel, 1e-9)

	_, err = h.SetSleepWindow(eng, now, activetime.Window{Start: -1, End: 6})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTasks(t *testing.T) {
	h := New("h", "Home", t0)

	t.Run("add_and_complete", func(t *testing.T) {
		next, task, err := h.AddTask(entropy.DomainHygiene, Task{Name: " Oven ", ThresholdHours: 240}, t0)
		require.NoError(t, err)
		assert.Equal(t, "Oven", task.Name)
		assert.Len(t, next.Hygiene, len(h.Hygiene)+1)

		done, completed, err := next.CompleteTask(task.ID, t0.Add(100*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, t0.Add(100*time.Hour), completed.LastResetAt)
		got, domain, err := done.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, entropy.DomainHygiene, domain)
		assert.Equal(t, t0.Add(100*time.Hour), got.LastResetAt)

		orig, _, err := next.Task(task.ID)
		require.NoError(t, err)
		assert.Equal(t, t0, orig.LastResetAt, "receiver must not change")
	})

	t.Run("complete_pet_task", func(t *testing.T) {
		id := h.PetCare[0].ID
		next, _, err := h.CompleteTask(id, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Hour), next.PetCare[0].LastResetAt)
	})

	t.Run("invalid", func(t *testing.T) {
		_, _, err := h.AddTask(entropy.DomainHygiene, Task{Name: ""}, t0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, _, err = h.AddTask(entropy.DomainHygiene, Task{Name: "x", ThresholdHours: 0}, t0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, _, err = h.AddTask(entropy.DomainWater, Task{Name: "x", ThresholdHours: 1}, t0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, _, err = h.AddTask(entropy.DomainPetCare, Task{ID: h.Hygiene[0].ID, Name: "dup", ThresholdHours: 1}, t0)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("not_found", func(t *testing.T) {
		_, _, err := h.CompleteTask("missing", t0)
		assert.ErrorIs(t, err, ErrTaskNotFound)
		_, err = h.RemoveTask("missing", t0)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		id := h.PetCare[1].ID
		next, err := h.RemoveTask(id, t0)
		require.NoError(t, err)
		assert.Len(t, next.PetCare, len(h.PetCare)-1)
		_, _, err = next.Task(id)
		assert.ErrorIs(t, err, ErrTaskNotFound)
		_, _, err = h.Task(id)
		assert.NoError(t, err, "receiver must not change")
	})
}

func TestItems(t *testing.T) {
	h := New("h", "Home", t0)

	next, item, err := h.AddItem("Rice", "kg", 5, 1, t0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, item.Quantity)
	require.Len(t, item.Logs, 1)
	assert.Equal(t, 5.0, item.Logs[0].Delta)

	next, item, err = next.AdjustItem(item.ID, -2, "dinner", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3.0, item.Quantity)
	stored, err := next.Item(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item, stored)

	counted, item2, err := next.CountItem(item.ID, 1.5, "stocktake", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.5, item2.Quantity)
	assert.Equal(t, -1.5, item2.Logs[len(item2.Logs)-1].Delta)
	assert.Equal(t, 3.0, item.Quantity, "receiver must not change")
	_, err = counted.Item(item.ID)
	require.NoError(t, err)
	_, _, err = next.CountItem(item.ID, math.NaN(), "", t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = next.CountItem("missing", 1, "", t0)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, _, err = next.AdjustItem("missing", 1, "", t0)
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, _, err = h.AddItem("  ", "", 1, 0, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	removed, err := next.RemoveItem(item.ID, t0)
	require.NoError(t, err)
	_, err = removed.Item(item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestSetOccupants(t *testing.T) {
	h := New("h", "Home", t0)

	next, err := h.SetOccupants(t0, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, next.Members)
	assert.Equal(t, 2, next.Pets)

	_, err = h.SetOccupants(t0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestView(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)
	h.Members = 3
	h.Pets = 2
	now := t0.Add(48 * time.Hour)

	snap := h.View(eng, now)

	assert.Equal(t, "h", snap.HouseholdID)
	assert.True(t, snap.At.Equal(now))
	assert.InDelta(t, 100*snap.Water.Level/snap.Water.Capacity, snap.Water.Percentage, 1e-9)
	assert.Equal(t, entropy.DomainWater, snap.Water.Reading.Domain)
	assert.True(t, snap.Water.DaysKnown)
	require.Len(t, snap.Hygiene, len(h.Hygiene))
	require.Len(t, snap.PetCare, len(h.PetCare))
	require.Len(t, snap.Items, len(h.Inventory))

	// Kitchen counter: 48 h, shared, 3 members -> effective 40 h, score 1.2.
	kitchen := snap.Hygiene[0]
	assert.InDelta(t, 1.2, kitchen.Reading.Score, 1e-9)
	assert.Equal(t, entropy.TierOverdue, kitchen.Reading.Tier)
	assert.Equal(t, "dirty", kitchen.Reading.Label)
	assert.Equal(t, 0.0, kitchen.Percentage)

	// Litter box: 24 h, shared, 2 pets -> effective 16 h, score 3.
	litter := snap.PetCare[0]
	assert.InDelta(t, 3.0, litter.Reading.Score, 1e-9)
	assert.Equal(t, "neglected", litter.Reading.Label)

	assert.Equal(t, 1+len(h.Hygiene)+len(h.PetCare), snap.Stats.Total)
	assert.Equal(t, entropy.DomainPetCare, snap.Stats.Worst.Domain)
	assert.Greater(t, snap.Stats.NeedsAttention(), 0)

	for _, item := range snap.Items {
		assert.False(t, item.Estimate.RateKnown)
	}
}

func TestView_EmptyTank(t *testing.T) {
	eng := cycle.New(nil)
	h := New("h", "Home", t0)
	h.Water.SleepWindow = activetime.Window{}

	t.Run("overdue", func(t *testing.T) {
		// 118 h at 0.2 L/h is 23.6 L drawn from an 18.9 L tank.
		w := h.View(eng, t0.Add(118*time.Hour)).Water
		assert.Equal(t, 0.0, w.Level)
		assert.InDelta(t, 23.6/DefaultCapacity, w.Reading.Score, 1e-9)
		assert.Equal(t, entropy.TierOverdue, w.Reading.Tier)
		assert.Equal(t, "empty", w.Reading.Label)
	})

	t.Run("critical", func(t *testing.T) {
		w := h.View(eng, t0.Add(30*24*time.Hour)).Water
		assert.Equal(t, 0.0, w.Level)
		assert.Equal(t, 0.0, w.Percentage)
		assert.Greater(t, w.Reading.Score, entropy.OverdueLimit)
		assert.Equal(t, entropy.TierCritical, w.Reading.Tier)
		assert.Equal(t, "dry", w.Reading.Label)
	})
}

func TestLocation(t *testing.T) {
	h := Household{TimeZone: "Not/AZone"}
	assert.Equal(t, time.UTC, h.Location())
	h.TimeZone = ""
	assert.Equal(t, time.UTC, h.Location())
}
