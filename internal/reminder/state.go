package reminder

import "time"

// State holds per-event dismissal and snooze data. Dismissals last until
// the next local midnight and are never persisted; snoozes are persisted by
// the scheduler through the preference store.
//
// State is not safe for concurrent use; the Scheduler serializes access.
type State struct {
	dismissed map[string]struct{}
	snoozes   map[string]time.Time
}

// NewState seeds a State with previously persisted snoozes.
func NewState(snoozes map[string]time.Time) *State {
	s := &State{
		dismissed: make(map[string]struct{}),
		snoozes:   make(map[string]time.Time, len(snoozes)),
	}
	for id, until := range snoozes {
		s.snoozes[id] = until
	}
	return s
}

func (s *State) IsDismissedToday(id string) bool {
	_, ok := s.dismissed[id]
	return ok
}

func (s *State) SetDismissedToday(id string, dismissed bool) {
	if dismissed {
		s.dismissed[id] = struct{}{}
		return
	}
	delete(s.dismissed, id)
}

// ClearAllDismissalsForToday empties the dismissal set. Only the daily
// boundary calls this.
func (s *State) ClearAllDismissalsForToday() {
	s.dismissed = make(map[string]struct{})
}

// DismissedCount returns the number of events dismissed today.
func (s *State) DismissedCount() int {
	return len(s.dismissed)
}

// IsSnoozed reports whether id has a snooze ending after now.
func (s *State) IsSnoozed(id string, now time.Time) bool {
	_, ok := s.ActiveSnooze(id, now)
	return ok
}

// ActiveSnooze returns the end of id's snooze if it ends after now.
func (s *State) ActiveSnooze(id string, now time.Time) (time.Time, bool) {
	until, ok := s.snoozes[id]
	if !ok || !until.After(now) {
		return time.Time{}, false
	}
	return until, true
}

func (s *State) SetSnooze(id string, until time.Time) {
	s.snoozes[id] = until
}

func (s *State) ClearSnooze(id string) {
	delete(s.snoozes, id)
}

// PruneSnoozes drops snoozes ending at or before now and reports whether
// any were removed.
func (s *State) PruneSnoozes(now time.Time) bool {
	pruned := false
	for id, until := range s.snoozes {
		if !until.After(now) {
			delete(s.snoozes, id)
			pruned = true
		}
	}
	return pruned
}

// Snoozes returns a copy of all snooze entries, expired ones included.
func (s *State) Snoozes() map[string]time.Time {
	out := make(map[string]time.Time, len(s.snoozes))
	for id, until := range s.snoozes {
		out[id] = until
	}
	return out
}

// ReplaceSnoozes swaps in a new snooze map, keeping dismissals.
func (s *State) ReplaceSnoozes(snoozes map[string]time.Time) {
	s.snoozes = make(map[string]time.Time, len(snoozes))
	for id, until := range snoozes {
		s.snoozes[id] = until
	}
}
