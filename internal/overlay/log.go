package overlay

import (
	"context"
	"time"

	appLog "nudgecal/internal/log"
	"nudgecal/internal/reminder"
)

// Log writes each reminder to the log and closes it immediately with
// ActionNone. Useful for headless runs.
type Log struct {
	now func() time.Time
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

func (l *Log) Present(_ context.Context, n reminder.Notice) (reminder.Action, error) {
	ev := n.Event
	appLog.Info("reminder",
		"event_id", ev.ID,
		"title", ev.Title,
		"location", ev.Location,
		"when", FormatRange(ev, n.TimeFormat),
		"starts_in", StartsIn(ev.Start, l.now()),
		"has_attendees", ev.HasAttendees,
	)
	return reminder.Action{Kind: reminder.ActionNone}, nil
}

func (l *Log) IsPresenting() bool { return false }
