package entropy

// Stats holds aggregate figures across a set of readings.
//
// Useful for a household dashboard: how many things need attention, and
// how worn the home is on average per domain.
//
// Example:
//
//	stats := entropy.Summarize(readings)
//	fmt.Printf("Needs attention: %d of %d\n", stats.NeedsAttention(), stats.Total)
type Stats struct {
	Total       int                `json:"total"`
	ByTier      map[Tier]int       `json:"by_tier"`
	AvgScore    float64            `json:"avg_score"`
	AvgByDomain map[Domain]float64 `json:"avg_by_domain"`
	Worst       *Reading           `json:"worst,omitempty"`
}

// NeedsAttention counts readings that are overdue or worse.
func (s Stats) NeedsAttention() int {
	return s.ByTier[TierOverdue] + s.ByTier[TierCritical]
}

// Summarize aggregates readings into Stats.
func Summarize(readings []Reading) Stats {
	stats := Stats{
		ByTier:      make(map[Tier]int),
		AvgByDomain: make(map[Domain]float64),
	}

	domainScores := make(map[Domain][]float64)
	var total float64

	for i := range readings {
		r := readings[i]
		stats.Total++
		stats.ByTier[r.Tier]++
		total += r.Score
		domainScores[r.Domain] = append(domainScores[r.Domain], r.Score)

		if stats.Worst == nil || r.Score > stats.Worst.Score {
			worst := r
			stats.Worst = &worst
		}
	}

	if stats.Total > 0 {
		stats.AvgScore = total / float64(stats.Total)
	}

	for d, scores := range domainScores {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		stats.AvgByDomain[d] = sum / float64(len(scores))
	}

	return stats
}
