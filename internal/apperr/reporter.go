package apperr

import (
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "nudgecal/internal/log"
)

const defaultHistoryCap = 20

// Entry is one reported error.
type Entry struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	ReportedAt time.Time `json:"reported_at"`
}

// Reporter keeps the most recent error and a bounded history of earlier
// ones. The oldest entry is dropped once the cap is reached.
type Reporter struct {
	mu      sync.RWMutex
	now     func() time.Time
	cap     int
	current *Entry
	history []Entry
}

// NewReporter creates a Reporter. A non-positive capacity uses the default
// of 20; a nil now uses time.Now.
func NewReporter(capacity int, now func() time.Time) *Reporter {
	if capacity <= 0 {
		capacity = defaultHistoryCap
	}
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		now:     now,
		cap:     capacity,
		history: make([]Entry, 0, capacity),
	}
}

// Report records err as the current error and appends it to the history.
// Unclassified errors are recorded as event fetch failures.
func (r *Reporter) Report(err error) Entry {
	if r == nil || err == nil {
		return Entry{}
	}
	classified := Classify(err, KindEventFetchFailed)
	entry := Entry{
		ID:         uuid.NewString(),
		Kind:       classified.Kind,
		Message:    classified.Error(),
		ReportedAt: r.now(),
	}

	r.mu.Lock()
	r.current = &entry
	if len(r.history) >= r.cap {
		copy(r.history, r.history[1:])
		r.history = r.history[:len(r.history)-1]
	}
	r.history = append(r.history, entry)
	r.mu.Unlock()

	appLog.Error("error reported", err, "kind", entry.Kind, "id", entry.ID)
	return entry
}

// Current returns the most recently reported error, if any.
func (r *Reporter) Current() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Entry{}, false
	}
	return *r.current, true
}

// ClearCurrent forgets the current error but keeps the history.
func (r *Reporter) ClearCurrent() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// ClearCurrentIf forgets the current error only when its kind is one of
// kinds, and reports whether it did.
func (r *Reporter) ClearCurrentIf(kinds ...Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return false
	}
	for _, k := range kinds {
		if r.current.Kind == k {
			r.current = nil
			return true
		}
	}
	return false
}

// History returns a copy of the recorded entries, oldest first.
func (r *Reporter) History() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.history))
	copy(out, r.history)
	return out
}
