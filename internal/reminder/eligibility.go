package reminder

import (
	"time"

	"nudgecal/internal/model"
	"nudgecal/internal/prefs"
)

// FireTime decides whether ev should have a pending reminder at now and,
// if so, when it fires. An event qualifies when it is not all-day, has not
// started, has reminders enabled, is not dismissed today, and its fire time
// is still in the future. An active snooze replaces start minus lead time
// as the fire time; expired snoozes are ignored.
func FireTime(ev model.Event, p *prefs.Preferences, st *State, now time.Time) (time.Time, bool) {
	if ev.AllDay {
		return time.Time{}, false
	}
	if ev.Started(now) {
		return time.Time{}, false
	}
	if !p.ReminderEnabled(ev.ID) {
		return time.Time{}, false
	}
	if st.IsDismissedToday(ev.ID) {
		return time.Time{}, false
	}

	fireAt := ev.Start.Add(-p.LeadTime())
	if until, ok := st.ActiveSnooze(ev.ID, now); ok {
		fireAt = until
	}
	if !fireAt.After(now) {
		return time.Time{}, false
	}
	return fireAt, true
}
