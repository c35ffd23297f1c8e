package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nudgecal/internal/apperr"
	"nudgecal/internal/clock"
	"nudgecal/internal/kv"
	"nudgecal/internal/model"
	"nudgecal/internal/prefs"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

var errBusy = errors.New("fake presenter busy")

type fakePresenter struct {
	mu         sync.Mutex
	presenting bool
	count      int
	calls      chan Notice
	answers    chan Action
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		calls:   make(chan Notice, 16),
		answers: make(chan Action),
	}
}

func (f *fakePresenter) Present(ctx context.Context, n Notice) (Action, error) {
	f.mu.Lock()
	if f.presenting {
		f.mu.Unlock()
		return Action{}, errBusy
	}
	f.presenting = true
	f.count++
	f.mu.Unlock()

	f.calls <- n

	a := Action{Kind: ActionNone}
	select {
	case a = <-f.answers:
	case <-ctx.Done():
	}

	f.mu.Lock()
	f.presenting = false
	f.mu.Unlock()
	return a, nil
}

func (f *fakePresenter) IsPresenting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presenting
}

func (f *fakePresenter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeSource struct {
	mu     sync.Mutex
	events []model.Event
	err    error
	calls  int
	window [2]time.Time
}

func (f *fakeSource) Fetch(_ context.Context, start, end time.Time) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.window = [2]time.Time{start, end}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Event, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *fakeSource) set(events []model.Event, err error) {
	f.mu.Lock()
	f.events = events
	f.err = err
	f.mu.Unlock()
}

type harness struct {
	t        *testing.T
	clk      *clock.Fake
	src      *fakeSource
	pres     *fakePresenter
	backend  kv.Store
	store    *prefs.Store
	reporter *apperr.Reporter
	s        *Scheduler
}

type harnessOption func(*Config)

func withPreferences(p *prefs.Preferences) harnessOption {
	return func(c *Config) { c.Preferences = p }
}

func newHarness(t *testing.T, now time.Time, events []model.Event, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     clock.NewFake(now),
		src:     &fakeSource{},
		pres:    newFakePresenter(),
		backend: kv.NewMemory(),
	}
	h.store = prefs.NewStore(h.backend)
	h.reporter = apperr.NewReporter(5, h.clk.Now)

	cfg := Config{
		Clock:     h.clk,
		Source:    h.src,
		Presenter: h.pres,
		Store:     h.store,
		Reporter:  h.reporter,
		Location:  time.UTC,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	h.s = s
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	if events != nil {
		s.SetEvents(events)
	}
	return h
}

// waitPresented returns the next notice handed to the presenter.
func (h *harness) waitPresented() Notice {
	h.t.Helper()
	select {
	case n := <-h.pres.calls:
		return n
	case <-time.After(2 * time.Second):
		h.t.Fatal("expected a reminder to be presented")
		return Notice{}
	}
}

// answer replies to the visible reminder and waits until the scheduler has
// applied the action.
func (h *harness) answer(a Action) {
	h.t.Helper()
	select {
	case h.pres.answers <- a:
	case <-time.After(2 * time.Second):
		h.t.Fatal("no presentation waiting for an answer")
	}
	require.Eventually(h.t, func() bool { return !h.s.IsPresenting() }, 2*time.Second, time.Millisecond)
}

func (h *harness) pendingAt(id string) (time.Time, bool) {
	at, ok := h.s.Pending()[id]
	return at, ok
}

func meeting(id string, start time.Time) model.Event {
	return model.Event{
		ID:           id,
		Title:        id,
		Start:        start,
		End:          start.Add(30 * time.Minute),
		HasAttendees: true,
	}
}

func allDay(id string, day time.Time) model.Event {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return model.Event{ID: id, Title: id, Start: d.AddDate(0, 0, 1), End: d.AddDate(0, 0, 2), AllDay: true}
}
