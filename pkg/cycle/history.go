package cycle

import (
	"sort"
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
)

// DistributeConsumption spreads total over the calendar days of
// [start, end) in proportion to each day's active hours. Returns nil when
// the interval has no active time.
func DistributeConsumption(total float64, start, end time.Time, w activetime.Window) []DailyUsage {
	days := activetime.HoursByDay(start, end, w)
	var sum float64
	for _, d := range days {
		sum += d.Hours
	}
	if sum <= 0 || total <= 0 {
		return nil
	}

	out := make([]DailyUsage, 0, len(days))
	for _, d := range days {
		out = append(out, DailyUsage{Day: d.Day, Amount: total * d.Hours / sum})
	}
	return out
}

// MergeHistory adds the amounts of extra into history by day key and
// returns a new slice sorted by day. Keys stay unique.
func MergeHistory(history, extra []DailyUsage) []DailyUsage {
	byDay := make(map[string]float64, len(history)+len(extra))
	for _, h := range history {
		byDay[h.Day] += h.Amount
	}
	for _, h := range extra {
		byDay[h.Day] += h.Amount
	}

	out := make([]DailyUsage, 0, len(byDay))
	for day, amount := range byDay {
		out = append(out, DailyUsage{Day: day, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// PruneHistory drops entries older than days calendar days before now.
// A non-positive days keeps everything.
func PruneHistory(history []DailyUsage, now time.Time, days int) []DailyUsage {
	if days <= 0 || len(history) == 0 {
		return history
	}
	cutoff := activetime.DayKey(now.AddDate(0, 0, -days))
	out := make([]DailyUsage, 0, len(history))
	for _, h := range history {
		if h.Day >= cutoff {
			out = append(out, h)
		}
	}
	return out
}
