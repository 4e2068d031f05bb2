// Package entropy scores how far a resource has drifted from its freshly
// reset state.
//
// Cleaning, pet care and drinking water all share one shape: something was
// reset at some instant, time passes, and the thing gets "worse" at a rate
// that depends on how hard the household uses it. The package expresses
// that with a single function,
//
//	score = elapsed / (threshold / loadFactor)
//
// and a small Policy table that supplies the per-domain details (load
// multiplier, tier labels, whether quiet hours count). A score of 1.0 means
// the nominal interval has been used up exactly.
//
// Scores are classified into four tiers with fixed breakpoints:
//
//	score ≤ 0.5  -> TierFresh
//	score ≤ 1.0  -> TierDue
//	score ≤ 1.5  -> TierOverdue
//	score > 1.5  -> TierCritical
//
// Example Usage:
//
//	p := entropy.PolicyFor(entropy.DomainHygiene)
//	r := entropy.Evaluate(p, task.LastResetAt, now, 72, true, 4)
//	fmt.Printf("%s: %.2f (%s)\n", task.Name, r.Score, r.Label)
package entropy

import (
	"math"
	"time"
)

// Domain identifies a family of resources that share a policy.
type Domain string

const (
	// DomainWater is the drinking-water tank. Its elapsed time is active
	// consumption, so quiet hours are excluded upstream.
	DomainWater Domain = "water"

	// DomainHygiene covers cleaning tasks (kitchen, bathroom, bedding).
	DomainHygiene Domain = "hygiene"

	// DomainPetCare covers feeding, litter, walks and similar.
	DomainPetCare Domain = "petcare"
)

// Tier is a discrete status derived from a score.
type Tier int

const (
	TierFresh Tier = iota
	TierDue
	TierOverdue
	TierCritical
)

// Breakpoints between tiers. A score equal to a breakpoint belongs to the
// lower tier.
const (
	FreshLimit   = 0.5
	DueLimit     = 1.0
	OverdueLimit = 1.5
)

// SaturatedScore is returned when a score cannot be computed, for example a
// zero threshold. It classifies as TierCritical.
const SaturatedScore = 2.0

// String returns the domain-neutral tier name.
func (t Tier) String() string {
	switch t {
	case TierFresh:
		return "fresh"
	case TierDue:
		return "due"
	case TierOverdue:
		return "overdue"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name. Unknown names decode as TierCritical.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fresh":
		*t = TierFresh
	case "due":
		*t = TierDue
	case "overdue":
		*t = TierOverdue
	default:
		*t = TierCritical
	}
	return nil
}

// Policy carries the per-domain knobs of the evaluator.
type Policy struct {
	Domain Domain

	// LoadMultiplier scales the threshold down when the resource is shared
	// and used by more than MinOccupants people or pets.
	LoadMultiplier float64
	MinOccupants   int

	// ExcludesQuiet marks domains whose elapsed time is measured in active
	// hours rather than wall-clock hours.
	ExcludesQuiet bool

	// Labels names the four tiers for display, indexed by Tier.
	Labels [4]string
}

var policies = map[Domain]Policy{
	DomainWater: {
		Domain:         DomainWater,
		LoadMultiplier: 1.0,
		ExcludesQuiet:  true,
		Labels:         [4]string{"plenty", "draining", "empty", "dry"},
	},
	DomainHygiene: {
		Domain:         DomainHygiene,
		LoadMultiplier: 1.2,
		MinOccupants:   2,
		Labels:         [4]string{"clean", "normal", "dirty", "filthy"},
	},
	DomainPetCare: {
		Domain:         DomainPetCare,
		LoadMultiplier: 1.5,
		MinOccupants:   1,
		Labels:         [4]string{"fresh", "due", "overdue", "neglected"},
	},
}

// PolicyFor returns the policy for a domain. Unknown domains get a neutral
// policy with no load scaling.
func PolicyFor(d Domain) Policy {
	if p, ok := policies[d]; ok {
		return p
	}
	return Policy{
		Domain:         d,
		LoadMultiplier: 1.0,
		Labels:         [4]string{"fresh", "due", "overdue", "critical"},
	}
}

// LoadFactor returns the multiplier applied to a resource given whether it
// is shared and how many occupants use it.
func (p Policy) LoadFactor(shared bool, occupants int) float64 {
	if shared && occupants > p.MinOccupants && p.LoadMultiplier > 0 {
		return p.LoadMultiplier
	}
	return 1.0
}

// Label returns the display name of a tier under this policy.
func (p Policy) Label(t Tier) string {
	if t < TierFresh || t > TierCritical {
		return TierCritical.String()
	}
	return p.Labels[t]
}

// Score computes elapsed / (threshold / loadFactor).
//
// The score is unbounded above and non-decreasing in elapsed. A threshold of
// zero or less, or any non-finite input, yields SaturatedScore rather than
// NaN or Inf. Negative elapsed time is treated as zero.
func Score(elapsed, threshold, loadFactor float64) float64 {
	if !(threshold > 0) || math.IsInf(threshold, 0) || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return SaturatedScore
	}
	if !(loadFactor > 0) || math.IsInf(loadFactor, 0) {
		loadFactor = 1.0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed / (threshold / loadFactor)
}

// Classify maps a score to a tier.
func Classify(score float64) Tier {
	switch {
	case math.IsNaN(score):
		return TierCritical
	case score <= FreshLimit:
		return TierFresh
	case score <= DueLimit:
		return TierDue
	case score <= OverdueLimit:
		return TierOverdue
	default:
		return TierCritical
	}
}

// Reading is the evaluated condition of one resource at one instant.
type Reading struct {
	Domain    Domain  `json:"domain"`
	Score     float64 `json:"score"`
	Tier      Tier    `json:"tier"`
	Label     string  `json:"label"`
	Elapsed   float64 `json:"elapsed_hours"`
	Effective float64 `json:"effective_threshold_hours"`
	// Remaining is the number of hours until the score reaches 1.0. Zero
	// once the effective threshold has passed.
	Remaining float64 `json:"remaining_hours"`
}

// Evaluate scores a resource that degrades with raw wall-clock time, which
// is every domain except water.
//
// thresholdHours is the nominal interval between resets. occupants is the
// number of people (hygiene) or pets (pet care) using the resource.
func Evaluate(p Policy, lastResetAt, now time.Time, thresholdHours float64, shared bool, occupants int) Reading {
	elapsed := now.Sub(lastResetAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	return EvaluateElapsed(p, elapsed, thresholdHours, shared, occupants)
}

// EvaluateElapsed scores a resource from a precomputed elapsed amount. Water
// passes active-hour-weighted consumption here.
func EvaluateElapsed(p Policy, elapsed, threshold float64, shared bool, occupants int) Reading {
	lf := p.LoadFactor(shared, occupants)
	score := Score(elapsed, threshold, lf)
	tier := Classify(score)

	r := Reading{
		Domain:  p.Domain,
		Score:   score,
		Tier:    tier,
		Label:   p.Label(tier),
		Elapsed: elapsed,
	}
	if threshold > 0 {
		r.Effective = threshold / lf
		if rem := r.Effective - elapsed; rem > 0 {
			r.Remaining = rem
		}
	}
	return r
}
