package entropy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   float64
		threshold float64
		load      float64
		want      float64
	}{
		{"half way", 36, 72, 1.0, 0.5},
		{"exactly due", 72, 72, 1.0, 1.0},
		{"load shortens threshold", 60, 72, 1.2, 1.0},
		{"pet load", 8, 12, 1.5, 1.0},
		{"negative elapsed is zero", -5, 72, 1.0, 0},
		{"zero load falls back to one", 36, 72, 0, 0.5},
		{"zero threshold saturates", 10, 0, 1.0, SaturatedScore},
		{"negative threshold saturates", 10, -1, 1.0, SaturatedScore},
		{"nan elapsed saturates", math.NaN(), 10, 1.0, SaturatedScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.elapsed, tt.threshold, tt.load)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{0, TierFresh},
		{0.5, TierFresh},
		{0.5000001, TierDue},
		{1.0, TierDue},
		{1.2, TierOverdue},
		{1.5, TierOverdue},
		{1.51, TierCritical},
		{SaturatedScore, TierCritical},
		{math.NaN(), TierCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestPolicy_LoadFactor(t *testing.T) {
	hygiene := PolicyFor(DomainHygiene)
	pet := PolicyFor(DomainPetCare)

	t.Run("hygiene_shared_large_household", func(t *testing.T) {
		assert.Equal(t, 1.2, hygiene.LoadFactor(true, 3))
	})
	t.Run("hygiene_shared_two_people", func(t *testing.T) {
		assert.Equal(t, 1.0, hygiene.LoadFactor(true, 2))
	})
	t.Run("hygiene_private", func(t *testing.T) {
		assert.Equal(t, 1.0, hygiene.LoadFactor(false, 6))
	})
	t.Run("pet_shared_two_pets", func(t *testing.T) {
		assert.Equal(t, 1.5, pet.LoadFactor(true, 2))
	})
	t.Run("pet_single_pet", func(t *testing.T) {
		assert.Equal(t, 1.0, pet.LoadFactor(true, 1))
	})
	t.Run("unknown_domain", func(t *testing.T) {
		assert.Equal(t, 1.0, PolicyFor("garden").LoadFactor(true, 10))
	})
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	p := PolicyFor(DomainHygiene)

	t.Run("fresh_after_cleaning", func(t *testing.T) {
		r := Evaluate(p, now.Add(-10*time.Hour), now, 72, false, 1)
		assert.Equal(t, TierFresh, r.Tier)
		assert.Equal(t, "clean", r.Label)
		assert.InDelta(t, 62, r.Remaining, 1e-9)
	})

	t.Run("shared_area_degrades_faster", func(t *testing.T) {
		private := Evaluate(p, now.Add(-70*time.Hour), now, 72, false, 4)
		shared := Evaluate(p, now.Add(-70*time.Hour), now, 72, true, 4)
		assert.Equal(t, TierDue, private.Tier)
		assert.Equal(t, TierOverdue, shared.Tier)
		assert.InDelta(t, 60, shared.Effective, 1e-9)
		assert.Equal(t, 0.0, shared.Remaining)
	})

	t.Run("future_reset_clamps_to_zero", func(t *testing.T) {
		r := Evaluate(p, now.Add(time.Hour), now, 72, false, 1)
		assert.Equal(t, 0.0, r.Score)
	})

	t.Run("zero_threshold_is_critical", func(t *testing.T) {
		r := Evaluate(PolicyFor(DomainPetCare), now, now, 0, false, 1)
		assert.Equal(t, TierCritical, r.Tier)
		assert.Equal(t, "neglected", r.Label)
	})
}

func TestEvaluate_MonotonicInElapsed(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	p := PolicyFor(DomainPetCare)
	prev := -1.0
	for h := 0; h < 200; h++ {
		r := Evaluate(p, now.Add(-time.Duration(h)*time.Hour), now, 24, true, 3)
		require.GreaterOrEqual(t, r.Score, prev)
		prev = r.Score
	}
}

func TestSummarize(t *testing.T) {
	readings := []Reading{
		{Domain: DomainHygiene, Score: 0.2, Tier: TierFresh},
		{Domain: DomainHygiene, Score: 1.4, Tier: TierOverdue},
		{Domain: DomainPetCare, Score: 2.0, Tier: TierCritical},
	}

	stats := Summarize(readings)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.NeedsAttention())
	assert.InDelta(t, 3.6/3, stats.AvgScore, 1e-9)
	assert.InDelta(t, 0.8, stats.AvgByDomain[DomainHygiene], 1e-9)
	require.NotNil(t, stats.Worst)
	assert.Equal(t, DomainPetCare, stats.Worst.Domain)

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Total)
	assert.Nil(t, empty.Worst)
}
