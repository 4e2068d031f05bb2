// Package clock provides the virtual time used by every entry point.
//
// A Virtual clock is a plain value holding an offset from the wall clock.
// Callers read the wall clock once at the edge, apply the offset, and pass
// the resulting instant down. Nothing below the edge calls time.Now.
package clock

import "time"

// Virtual is a wall-clock offset. The zero value is real time.
type Virtual struct {
	Offset time.Duration `json:"offset" yaml:"offset"`
}

// Now applies the offset to wall.
func (v Virtual) Now(wall time.Time) time.Time {
	return wall.Add(v.Offset)
}

// Advance returns a clock moved forward by d. Negative d moves it back.
func (v Virtual) Advance(d time.Duration) Virtual {
	return Virtual{Offset: v.Offset + d}
}

// Reset returns real time.
func (v Virtual) Reset() Virtual {
	return Virtual{}
}

// FromMillis converts milliseconds since the Unix epoch to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts t to milliseconds since the Unix epoch.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}
