package overlay

import (
	"fmt"
	"time"

	"nudgecal/internal/model"
)

// FormatClock renders t as a wall-clock time in the chosen format.
func FormatClock(t time.Time, f model.TimeFormat) string {
	if f == model.TimeFormat24h {
		return t.Format("15:04")
	}
	return t.Format("3:04 PM")
}

// FormatRange renders "start - end" for a timed event, "All day" otherwise.
func FormatRange(ev model.Event, f model.TimeFormat) string {
	if ev.AllDay {
		return "All day"
	}
	if ev.End.IsZero() || !ev.End.After(ev.Start) {
		return FormatClock(ev.Start, f)
	}
	return FormatClock(ev.Start, f) + " - " + FormatClock(ev.End, f)
}

// StartsIn describes how far away start is from now, rounded up to whole
// minutes.
func StartsIn(start, now time.Time) string {
	d := start.Sub(now)
	if d <= 0 {
		return "started"
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	switch {
	case mins == 1:
		return "starts in 1 min"
	case mins < 60:
		return fmt.Sprintf("starts in %d min", mins)
	}
	h, m := mins/60, mins%60
	if m == 0 {
		return fmt.Sprintf("starts in %d h", h)
	}
	return fmt.Sprintf("starts in %d h %d min", h, m)
}
