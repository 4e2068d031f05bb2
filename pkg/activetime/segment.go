package activetime

import "time"

// segment is a slice of time that lies within a single clock hour.
// hour is the hour of day of from, which classifies the whole segment.
type segment struct {
	from time.Time
	to   time.Time
	hour int
}

func (s segment) length() time.Duration {
	return s.to.Sub(s.from)
}

// walker yields hour-aligned segments between two instants, either
// forward from lo to hi or backward from hi to lo. Both directions cut
// at the same local hour boundaries, which is what keeps ActiveHours and
// BacktrackStart consistent with each other.
type walker struct {
	cursor  time.Time
	limit   time.Time
	reverse bool
	steps   int
}

func forward(from, to time.Time) *walker {
	return &walker{cursor: from, limit: to}
}

func backward(from, to time.Time) *walker {
	return &walker{cursor: from, limit: to, reverse: true}
}

func (w *walker) next() (segment, bool) {
	if w.steps >= maxSegments {
		return segment{}, false
	}
	w.steps++

	if w.reverse {
		if !w.cursor.After(w.limit) {
			return segment{}, false
		}
		from := hourFloor(w.cursor)
		if !from.Before(w.cursor) {
			from = hourFloor(w.cursor.Add(-time.Nanosecond))
		}
		if from.Before(w.limit) {
			from = w.limit
		}
		seg := segment{from: from, to: w.cursor, hour: from.Hour()}
		w.cursor = from
		return seg, true
	}

	if !w.cursor.Before(w.limit) {
		return segment{}, false
	}
	to := hourFloor(w.cursor).Add(time.Hour)
	if !to.After(w.cursor) {
		// Repeated wall-clock hour during a DST fall-back.
		to = w.cursor.Add(time.Hour)
	}
	if to.After(w.limit) {
		to = w.limit
	}
	seg := segment{from: w.cursor, to: to, hour: w.cursor.Hour()}
	w.cursor = to
	return seg, true
}

// hourFloor truncates t to the start of its local clock hour.
func hourFloor(t time.Time) time.Time {
	f := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	if f.After(t) {
		// Ambiguous hour resolved to the later offset; fall back to
		// absolute truncation which is always <= t.
		return t.Add(-time.Duration(t.Minute())*time.Minute -
			time.Duration(t.Second())*time.Second -
			time.Duration(t.Nanosecond()))
	}
	return f
}
