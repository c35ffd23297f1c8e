package reminder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudgecal/internal/apperr"
	"nudgecal/internal/clock"
	"nudgecal/internal/kv"
	"nudgecal/internal/model"
	"nudgecal/internal/prefs"
)

func TestRecomputeSchedulesEligibleEventsAtLeadTime(t *testing.T) {
	h := newHarness(t, t0, []model.Event{
		meeting("standup", t0.Add(10*time.Minute)),
		meeting("review", t0.Add(3*time.Hour)),
		meeting("already-started", t0.Add(-5*time.Minute)),
		meeting("too-close", t0.Add(3*time.Minute)),
		allDay("offsite", t0),
	})

	assert.Equal(t, map[string]time.Time{
		"standup": t0.Add(5 * time.Minute),
		"review":  t0.Add(3*time.Hour - 5*time.Minute),
	}, h.s.Pending())
}

func TestStandupScenario(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("standup", t0.Add(10*time.Minute))})

	at, ok := h.pendingAt("standup")
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Minute), at)

	h.clk.Advance(5 * time.Minute)
	n := h.waitPresented()
	assert.Equal(t, "standup", n.Event.ID)
	assert.Equal(t, t0.Add(5*time.Minute), n.FiredAt)
	_, ok = h.pendingAt("standup")
	assert.False(t, ok, "fire is one-shot")

	h.answer(Snooze(5))
	at, ok = h.pendingAt("standup")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Minute), at)

	h.clk.Advance(5 * time.Minute)
	n = h.waitPresented()
	assert.Equal(t, "standup", n.Event.ID)
	assert.Equal(t, 2, h.pres.Count())
}

func TestSnoozeFiresExactlyOnceAtDeadline(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("sync", t0.Add(30*time.Minute))})

	h.clk.Advance(25 * time.Minute)
	h.waitPresented()
	h.answer(Snooze(5))

	h.clk.Advance(5*time.Minute - time.Second)
	assert.False(t, h.s.IsPresenting())
	assert.Equal(t, 1, h.pres.Count())

	h.clk.Advance(time.Second)
	h.waitPresented()
	assert.Equal(t, 2, h.pres.Count())
	h.answer(Action{Kind: ActionNone})

	h.clk.Advance(time.Hour)
	assert.False(t, h.s.IsPresenting())
	assert.Equal(t, 2, h.pres.Count())
}

func TestToggleReminderRemovesTimerUntilReenabled(t *testing.T) {
	events := []model.Event{meeting("1on1", t0.Add(time.Hour))}
	h := newHarness(t, t0, events)

	assert.False(t, h.s.ToggleReminder("1on1"))
	_, ok := h.pendingAt("1on1")
	assert.False(t, ok)

	h.s.Recompute()
	h.s.SetEvents(events)
	_, ok = h.pendingAt("1on1")
	assert.False(t, ok, "recompute must not recreate a disabled reminder")

	assert.True(t, h.s.ToggleReminder("1on1"))
	at, ok := h.pendingAt("1on1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(55*time.Minute), at)
}

func TestDismissForTodayHoldsUntilMidnight(t *testing.T) {
	start := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	ev := meeting("late-call", time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC))
	h := newHarness(t, start, []model.Event{ev})

	_, ok := h.pendingAt("late-call")
	require.True(t, ok)

	h.s.DismissForToday("late-call")
	_, ok = h.pendingAt("late-call")
	assert.False(t, ok)
	assert.True(t, h.s.Preferences().ReminderEnabled("late-call"), "dismissal must not touch the enable flag")

	h.s.Recompute()
	_, ok = h.pendingAt("late-call")
	assert.False(t, ok)

	h.clk.Set(time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC))
	_, ok = h.pendingAt("late-call")
	assert.False(t, ok)

	h.clk.Set(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	at, ok := h.pendingAt("late-call")
	require.True(t, ok, "daily boundary should reschedule the event")
	assert.Equal(t, time.Date(2024, 5, 2, 0, 25, 0, 0, time.UTC), at)

	h.clk.Set(at)
	assert.Equal(t, "late-call", h.waitPresented().Event.ID)
}

func TestDailyBoundaryRearmsItself(t *testing.T) {
	h := newHarness(t, t0, nil)

	for day := 0; day < 3; day++ {
		h.s.DismissForToday("recurring")
		next := NextMidnight(h.clk.Now(), time.UTC)
		h.clk.Set(next)

		h.s.mu.Lock()
		dismissed := h.s.state.DismissedCount()
		h.s.mu.Unlock()
		assert.Zero(t, dismissed, "day %d", day)
	}
	assert.Equal(t, []time.Time{time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)}, h.clk.Deadlines())
}

func TestSecondFireIsDroppedWhilePresenting(t *testing.T) {
	h := newHarness(t, t0, []model.Event{
		meeting("a", t0.Add(10*time.Minute)),
		meeting("b", t0.Add(10*time.Minute)),
	})

	h.clk.Advance(5 * time.Minute)
	first := h.waitPresented()
	assert.Empty(t, h.s.Pending(), "dropped fire must not requeue")
	assert.Equal(t, 1, h.pres.Count())

	h.answer(Action{Kind: ActionNone})
	h.clk.Advance(time.Hour)
	assert.Equal(t, 1, h.pres.Count())
	assert.Contains(t, []string{"a", "b"}, first.Event.ID)
}

func TestRefreshFailureKeepsExistingTimers(t *testing.T) {
	h := newHarness(t, t0, nil)
	h.src.set([]model.Event{meeting("planning", t0.Add(time.Hour))}, nil)
	require.NoError(t, h.s.Refresh(context.Background()))
	assert.Equal(t, t0.Add(24*time.Hour), h.src.window[1])

	before := h.s.Pending()
	require.Len(t, before, 1)

	h.src.set(nil, apperr.New(apperr.KindPermissionDenied, "calendar access revoked", nil))
	err := h.s.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, before, h.s.Pending())

	cur, ok := h.reporter.Current()
	require.True(t, ok)
	assert.Equal(t, apperr.KindPermissionDenied, cur.Kind)

	h.src.set(nil, errors.New("connection reset"))
	err = h.s.Refresh(context.Background())
	assert.ErrorIs(t, err, apperr.ErrEventFetchFailed)
	assert.Equal(t, before, h.s.Pending())

	h.src.set([]model.Event{meeting("planning", t0.Add(time.Hour))}, nil)
	require.NoError(t, h.s.Refresh(context.Background()))
	_, ok = h.reporter.Current()
	assert.False(t, ok)
	assert.Len(t, h.reporter.History(), 2)
}

func TestEventRemovedFromSourceCancelsTimer(t *testing.T) {
	h := newHarness(t, t0, []model.Event{
		meeting("kept", t0.Add(time.Hour)),
		meeting("cancelled", t0.Add(2*time.Hour)),
	})
	require.Len(t, h.s.Pending(), 2)

	h.s.SetEvents([]model.Event{meeting("kept", t0.Add(time.Hour))})
	assert.Equal(t, []string{"kept"}, keys(h.s.Pending()))

	h.clk.Advance(3 * time.Hour)
	h.waitPresented()
	assert.Equal(t, 1, h.pres.Count())
}

func TestSnoozeUntilBeforeEvent(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("demo", t0.Add(10*time.Minute))})

	err := h.s.SnoozeUntilBeforeEvent("demo", 15)
	assert.ErrorIs(t, err, ErrSnoozeNotInFuture)
	at, _ := h.pendingAt("demo")
	assert.Equal(t, t0.Add(5*time.Minute), at, "rejected snooze is a no-op")

	err = h.s.SnoozeUntilBeforeEvent("demo", 10)
	assert.ErrorIs(t, err, ErrSnoozeNotInFuture, "event start equal to now is not in the future")

	require.NoError(t, h.s.SnoozeUntilBeforeEvent("demo", 2))
	at, ok := h.pendingAt("demo")
	require.True(t, ok)
	assert.Equal(t, t0.Add(8*time.Minute), at)

	assert.ErrorIs(t, h.s.SnoozeUntilBeforeEvent("ghost", 2), ErrUnknownEvent)
}

func TestSnoozeClearsDismissal(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("retro", t0.Add(time.Hour))})
	h.s.DismissForToday("retro")
	require.Empty(t, h.s.Pending())

	require.NoError(t, h.s.Snooze("retro", 10))
	at, ok := h.pendingAt("retro")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Minute), at)

	h.s.ClearSnooze("retro")
	at, ok = h.pendingAt("retro")
	require.True(t, ok)
	assert.Equal(t, t0.Add(55*time.Minute), at)
}

func TestSetDismissedFalseRestoresReminder(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("retro", t0.Add(time.Hour))})
	h.s.DismissForToday("retro")
	h.s.SetDismissed("retro", false)
	_, ok := h.pendingAt("retro")
	assert.True(t, ok)
}

func TestDismissFromOverlayCancelsTimer(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("retro", t0.Add(10*time.Minute))})
	h.clk.Advance(5 * time.Minute)
	h.waitPresented()
	h.answer(Snooze(1))
	_, ok := h.pendingAt("retro")
	require.True(t, ok)

	h.clk.Advance(time.Minute)
	h.waitPresented()
	h.answer(DismissForToday())
	assert.Empty(t, h.s.Pending())

	snap := h.s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].DismissedToday)
	assert.True(t, snap[0].Enabled)
}

func TestSetLeadTimeRecomputes(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("allhands", t0.Add(time.Hour))})
	require.NoError(t, h.s.SetLeadTime(15))
	at, _ := h.pendingAt("allhands")
	assert.Equal(t, t0.Add(45*time.Minute), at)

	assert.ErrorIs(t, h.s.SetLeadTime(0), ErrInvalidLeadTime)
}

func TestMutationsArePersisted(t *testing.T) {
	h := newHarness(t, t0, []model.Event{
		meeting("a", t0.Add(time.Hour)),
		meeting("b", t0.Add(2*time.Hour)),
	})

	require.NoError(t, h.s.SetLeadTime(10))
	h.s.ToggleReminder("a")
	require.NoError(t, h.s.Snooze("b", 20))
	require.NoError(t, h.s.SetDisplay(model.StyleFullscreen, model.TimeFormat24h))
	h.s.DismissForToday("b")

	loaded, err := h.store.Load(context.Background(), h.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.LeadTimeMinutes)
	assert.Equal(t, map[string]bool{"a": false}, loaded.Overrides)
	assert.True(t, loaded.SnoozeUntil["b"].Equal(t0.Add(20*time.Minute)))
	assert.Equal(t, model.StyleFullscreen, loaded.Style)
	assert.Equal(t, model.TimeFormat24h, loaded.TimeFormat)

	assert.ErrorIs(t, h.s.SetDisplay("neon", model.TimeFormat24h), ErrInvalidDisplay)
}

func TestRestartRecomputesFromPersistedPreferences(t *testing.T) {
	events := []model.Event{meeting("board", t0.Add(2*time.Hour))}
	h := newHarness(t, t0, events)
	require.NoError(t, h.s.Snooze("board", 30))
	h.s.DismissForToday("other")
	h.s.Stop()

	loaded, err := h.store.Load(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)

	clk := clock.NewFake(t0.Add(time.Minute))
	s2, err := New(Config{
		Clock:       clk,
		Source:      &fakeSource{},
		Presenter:   newFakePresenter(),
		Store:       h.store,
		Preferences: loaded,
		Location:    time.UTC,
	})
	require.NoError(t, err)
	require.NoError(t, s2.Start())
	t.Cleanup(s2.Stop)
	s2.SetEvents(events)

	assert.Equal(t, map[string]time.Time{"board": t0.Add(30 * time.Minute)}, s2.Pending())
}

type failingKV struct{ kv.Store }

func (failingKV) Set(context.Context, string, string) error { return errors.New("disk full") }

func TestSaveFailureIsReportedAndStateKept(t *testing.T) {
	clk := clock.NewFake(t0)
	reporter := apperr.NewReporter(5, clk.Now)
	s, err := New(Config{
		Clock:     clk,
		Source:    &fakeSource{},
		Presenter: newFakePresenter(),
		Store:     prefs.NewStore(failingKV{kv.NewMemory()}),
		Reporter:  reporter,
		Location:  time.UTC,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	s.SetEvents([]model.Event{meeting("x", t0.Add(time.Hour))})

	assert.False(t, s.ToggleReminder("x"))
	assert.Empty(t, s.Pending())

	cur, ok := reporter.Current()
	require.True(t, ok)
	assert.Equal(t, apperr.KindPreferencesSaveFailed, cur.Kind)
}

func TestStaleTimerCallbackIsNoop(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("x", t0.Add(time.Hour))})

	h.s.mu.Lock()
	staleGen := h.s.pending["x"].gen
	h.s.mu.Unlock()

	require.NoError(t, h.s.SetLeadTime(10))
	h.s.fire("x", staleGen)

	assert.False(t, h.s.IsPresenting())
	_, ok := h.pendingAt("x")
	assert.True(t, ok, "current timer must survive a stale callback")
}

func TestStopAbortsOutstandingPresentation(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("x", t0.Add(10*time.Minute))})
	h.clk.Advance(5 * time.Minute)
	h.waitPresented()

	done := make(chan struct{})
	go func() {
		h.s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Zero(t, h.clk.Pending())
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, t0, nil)
	assert.ErrorIs(t, h.s.Start(), ErrAlreadyStarted)
}

func TestSnapshotReportsState(t *testing.T) {
	h := newHarness(t, t0, []model.Event{
		meeting("later", t0.Add(2*time.Hour)),
		meeting("sooner", t0.Add(time.Hour)),
		meeting("sooner", t0.Add(3*time.Hour)),
	})
	require.NoError(t, h.s.Snooze("later", 30))

	snap := h.s.Snapshot()
	require.Len(t, snap, 2, "duplicate ids collapse to the first occurrence")
	assert.Equal(t, "sooner", snap[0].Event.ID)
	require.NotNil(t, snap[0].NextFire)
	assert.Equal(t, t0.Add(55*time.Minute), *snap[0].NextFire)
	assert.Nil(t, snap[0].SnoozedUntil)

	require.NotNil(t, snap[1].SnoozedUntil)
	assert.Equal(t, t0.Add(30*time.Minute), *snap[1].SnoozedUntil)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Presenter: newFakePresenter()})
	assert.Error(t, err)
	_, err = New(Config{Source: &fakeSource{}})
	assert.Error(t, err)
}

func TestOverlayAnswerUsesCurrentEvent(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("sync", t0.Add(10*time.Minute))})

	h.clk.Advance(5 * time.Minute)
	h.waitPresented()

	h.s.SetEvents([]model.Event{meeting("sync", t0.Add(time.Hour))})
	h.answer(SnoozeUntilBeforeEvent(2))

	at, ok := h.pendingAt("sync")
	require.True(t, ok)
	assert.Equal(t, t0.Add(58*time.Minute), at)
}

func TestOversizedSnoozeIsRejected(t *testing.T) {
	h := newHarness(t, t0, []model.Event{meeting("x", t0.Add(time.Hour))})

	assert.ErrorIs(t, h.s.Snooze("x", math.MaxInt64/1000), ErrInvalidAction)
	assert.ErrorIs(t, h.s.SnoozeUntilBeforeEvent("x", MaxActionMinutes+1), ErrInvalidAction)
	assert.Empty(t, h.s.Preferences().SnoozeUntil)
	at, _ := h.pendingAt("x")
	assert.Equal(t, t0.Add(55*time.Minute), at)
}

func TestRefreshKeepsUnrelatedCurrentError(t *testing.T) {
	clk := clock.NewFake(t0)
	reporter := apperr.NewReporter(5, clk.Now)
	src := &fakeSource{}
	s, err := New(Config{
		Clock:     clk,
		Source:    src,
		Presenter: newFakePresenter(),
		Store:     prefs.NewStore(failingKV{kv.NewMemory()}),
		Reporter:  reporter,
		Location:  time.UTC,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	s.ToggleReminder("x")
	src.set([]model.Event{meeting("x", t0.Add(time.Hour))}, nil)
	require.NoError(t, s.Refresh(context.Background()))

	cur, ok := reporter.Current()
	require.True(t, ok, "a save failure survives a good refresh")
	assert.Equal(t, apperr.KindPreferencesSaveFailed, cur.Kind)

	src.set(nil, errors.New("timeout"))
	require.Error(t, s.Refresh(context.Background()))
	src.set([]model.Event{meeting("x", t0.Add(time.Hour))}, nil)
	require.NoError(t, s.Refresh(context.Background()))
	_, ok = reporter.Current()
	assert.False(t, ok)
}

type flakyKV struct {
	kv.Store
	fail bool
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func TestOlderSnapshotNeverOverwritesNewerAttempt(t *testing.T) {
	backend := &flakyKV{Store: kv.NewMemory()}
	reporter := apperr.NewReporter(5, nil)
	s, err := New(Config{
		Clock:     clock.NewFake(t0),
		Source:    &fakeSource{},
		Presenter: newFakePresenter(),
		Store:     prefs.NewStore(backend),
		Reporter:  reporter,
	})
	require.NoError(t, err)

	older := prefs.Default()
	older.LeadTimeMinutes = 10
	newer := prefs.Default()
	newer.LeadTimeMinutes = 20

	backend.fail = true
	s.persist(newer, 2)
	backend.fail = false
	s.persist(older, 1)

	_, err = backend.Get(context.Background(), string(prefs.KeyLeadTime))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	cur, ok := reporter.Current()
	require.True(t, ok)
	assert.Equal(t, apperr.KindPreferencesSaveFailed, cur.Kind)

	s.persist(newer, 3)
	loaded, err := prefs.NewStore(backend).Load(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.LeadTimeMinutes)
}

func TestMissedMidnightClearsDismissalsOnRecompute(t *testing.T) {
	start := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	h := newHarness(t, start, []model.Event{
		meeting("late-call", time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC)),
	})
	h.s.DismissForToday("late-call")
	require.Empty(t, h.s.Pending())

	// Lose the midnight timer, as after a suspend across midnight.
	h.s.mu.Lock()
	h.s.midnight.Stop()
	h.s.mu.Unlock()

	h.clk.Set(time.Date(2024, 5, 2, 0, 10, 0, 0, time.UTC))
	require.Empty(t, h.s.Pending())

	h.s.Recompute()
	at, ok := h.pendingAt("late-call")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 25, 0, 0, time.UTC), at)

	h.s.DismissForToday("late-call")
	h.s.Recompute()
	assert.Empty(t, h.s.Pending(), "a dismissal made on the new day holds")
}

func keys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
