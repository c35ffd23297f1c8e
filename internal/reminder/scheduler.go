package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nudgecal/internal/apperr"
	"nudgecal/internal/clock"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
	"nudgecal/internal/prefs"
)

var (
	ErrUnknownEvent      = errors.New("reminder: unknown event")
	ErrSnoozeNotInFuture = errors.New("reminder: snooze time is not in the future")
	ErrInvalidAction     = errors.New("reminder: invalid action")
	ErrInvalidLeadTime   = errors.New("reminder: lead time must be positive")
	ErrInvalidDisplay    = errors.New("reminder: invalid display style or time format")
	ErrAlreadyStarted    = errors.New("reminder: scheduler already started")
)

const (
	// DefaultHorizon bounds how far ahead events are fetched.
	DefaultHorizon = 24 * time.Hour

	persistTimeout = 5 * time.Second
)

// Config wires a Scheduler. Source and Presenter are required.
type Config struct {
	Clock     clock.Clock
	Source    Source
	Presenter Presenter
	// Store persists preferences after every mutation. Nil disables
	// persistence.
	Store *prefs.Store
	// Preferences is the loaded starting point; nil means defaults.
	Preferences *prefs.Preferences
	Reporter    *apperr.Reporter
	// Location defines "local midnight". Nil means time.Local.
	Location *time.Location
	Horizon  time.Duration
}

type scheduled struct {
	fireAt time.Time
	timer  clock.Timer
	gen    uint64
}

// EventStatus is one upcoming event together with its reminder state.
type EventStatus struct {
	Event          model.Event
	Enabled        bool
	DismissedToday bool
	SnoozedUntil   *time.Time
	NextFire       *time.Time
}

// Scheduler keeps at most one pending reminder timer per eligible event and
// hands matured reminders to the Presenter. All state is guarded by mu;
// timer callbacks and presenter results re-enter through it.
type Scheduler struct {
	mu        sync.Mutex
	clock     clock.Clock
	source    Source
	presenter Presenter
	store     *prefs.Store
	reporter  *apperr.Reporter
	loc       *time.Location
	horizon   time.Duration

	prefs   *prefs.Preferences
	state   *State
	events  []model.Event
	byID    map[string]model.Event
	pending map[string]*scheduled
	gen     uint64

	presenting  bool
	midnight    clock.Timer
	midnightGen uint64
	running     bool
	stopped     bool
	lastRefresh time.Time

	// dismissDay is the local date today's dismissals belong to.
	dismissDay string

	// version increments on every mutation that needs persisting.
	version          uint64
	persistMu        sync.Mutex
	attemptedVersion uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. It does not arm any timer until Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Source == nil {
		return nil, errors.New("reminder: source is required")
	}
	if cfg.Presenter == nil {
		return nil, errors.New("reminder: presenter is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Preferences == nil {
		cfg.Preferences = prefs.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = apperr.NewReporter(0, cfg.Clock.Now)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}

	p := cfg.Preferences.Clone()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:     cfg.Clock,
		source:    cfg.Source,
		presenter: cfg.Presenter,
		store:     cfg.Store,
		reporter:  cfg.Reporter,
		loc:       cfg.Location,
		horizon:   cfg.Horizon,
		prefs:     p,
		state:     NewState(p.SnoozeUntil),
		byID:      make(map[string]model.Event),
		pending:   make(map[string]*scheduled),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start arms the daily boundary and schedules reminders for whatever events
// are already known. Call Refresh to load events.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return ErrAlreadyStarted
	}
	s.running = true
	now := s.clock.Now()
	s.dismissDay = s.localDay(now)
	s.armMidnightLocked(now)
	s.recomputeLocked(now)
	appLog.Info("reminder scheduler started", "next_midnight", NextMidnight(now, s.loc).Format(time.RFC3339))
	return nil
}

// Stop cancels every timer, aborts an outstanding presentation and waits
// for it to return. A stopped Scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		s.cancel()
		return
	}
	s.running = false
	s.stopped = true
	for id := range s.pending {
		s.cancelLocked(id)
	}
	if s.midnight != nil {
		s.midnight.Stop()
		s.midnight = nil
	}
	s.midnightGen++
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	appLog.Info("reminder scheduler stopped")
}

// Refresh queries the source for the next horizon of events and recomputes
// the schedule. On failure the error is reported and the existing schedule
// is left untouched.
func (s *Scheduler) Refresh(ctx context.Context) error {
	now := s.clock.Now()
	events, err := s.source.Fetch(ctx, now, now.Add(s.horizon))
	if err != nil {
		classified := apperr.Classify(err, apperr.KindEventFetchFailed)
		s.reporter.Report(classified)
		appLog.Info("refresh failed; keeping existing reminders", "kind", classified.Kind)
		return classified
	}

	s.reporter.ClearCurrentIf(apperr.FetchKinds...)
	s.mu.Lock()
	s.lastRefresh = now
	s.setEventsLocked(events)
	s.recomputeLocked(s.clock.Now())
	pending := len(s.pending)
	s.mu.Unlock()

	appLog.Info("events refreshed", "events", len(events), "pending_reminders", pending)
	return nil
}

// SetEvents replaces the event list and recomputes the schedule.
func (s *Scheduler) SetEvents(events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEventsLocked(events)
	s.recomputeLocked(s.clock.Now())
}

// Recompute rebuilds every timer from the current events and state.
func (s *Scheduler) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeLocked(s.clock.Now())
}

// Apply performs a user action for a known event, as if answered from the
// overlay.
func (s *Scheduler) Apply(id string, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	ev, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	persist, err := s.applyLocked(ev, a, s.clock.Now())
	snap, version := s.snapshotIfLocked(persist)
	s.mu.Unlock()

	s.persist(snap, version)
	return err
}

// Snooze defers id's reminder by minutes from now.
func (s *Scheduler) Snooze(id string, minutes int) error {
	return s.Apply(id, Snooze(minutes))
}

// SnoozeUntilBeforeEvent defers id's reminder to minutes before its start.
// It fails with ErrSnoozeNotInFuture when that instant has passed.
func (s *Scheduler) SnoozeUntilBeforeEvent(id string, minutes int) error {
	return s.Apply(id, SnoozeUntilBeforeEvent(minutes))
}

// DismissForToday suppresses id's reminders until the next local midnight.
// It works for any id, known or not, and leaves the enable flag alone.
func (s *Scheduler) DismissForToday(id string) {
	s.SetDismissed(id, true)
}

// SetDismissed sets or clears today's dismissal for id.
func (s *Scheduler) SetDismissed(id string, dismissed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.rolloverLocked(now)
	s.state.SetDismissedToday(id, dismissed)
	s.rescheduleLocked(id, now)
	appLog.Info("dismissal changed", "event_id", id, "dismissed", dismissed)
}

// ClearSnooze removes id's snooze and reschedules it.
func (s *Scheduler) ClearSnooze(id string) {
	s.mu.Lock()
	s.state.ClearSnooze(id)
	s.rescheduleLocked(id, s.clock.Now())
	snap, version := s.snapshotIfLocked(true)
	s.mu.Unlock()

	s.persist(snap, version)
}

// ToggleReminder flips the per-event enable override and returns the new
// value.
func (s *Scheduler) ToggleReminder(id string) bool {
	s.mu.Lock()
	enabled := !s.prefs.ReminderEnabled(id)
	s.prefs.Overrides[id] = enabled
	s.rescheduleLocked(id, s.clock.Now())
	snap, version := s.snapshotIfLocked(true)
	s.mu.Unlock()

	appLog.Info("reminder toggled", "event_id", id, "enabled", enabled)
	s.persist(snap, version)
	return enabled
}

// SetLeadTime changes the default lead time and recomputes.
func (s *Scheduler) SetLeadTime(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLeadTime, minutes)
	}
	s.mu.Lock()
	s.prefs.LeadTimeMinutes = minutes
	s.recomputeLocked(s.clock.Now())
	snap, version := s.snapshotIfLocked(true)
	s.mu.Unlock()

	s.persist(snap, version)
	return nil
}

// SetDisplay changes the overlay style and clock format.
func (s *Scheduler) SetDisplay(style model.DisplayStyle, format model.TimeFormat) error {
	if !style.Valid() || !format.Valid() {
		return fmt.Errorf("%w: style=%q format=%q", ErrInvalidDisplay, style, format)
	}
	s.mu.Lock()
	s.prefs.Style = style
	s.prefs.TimeFormat = format
	snap, version := s.snapshotIfLocked(true)
	s.mu.Unlock()

	s.persist(snap, version)
	return nil
}

// ReplacePreferences installs p wholesale (used by import) and recomputes.
// Today's dismissals are kept.
func (s *Scheduler) ReplacePreferences(p *prefs.Preferences) {
	s.mu.Lock()
	s.prefs = p.Clone()
	s.state.ReplaceSnoozes(p.SnoozeUntil)
	s.recomputeLocked(s.clock.Now())
	snap, version := s.snapshotIfLocked(true)
	s.mu.Unlock()

	s.persist(snap, version)
}

// Preferences returns a copy of the current preferences including live
// snoozes.
func (s *Scheduler) Preferences() *prefs.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prefs.Clone()
	p.SnoozeUntil = s.state.Snoozes()
	return p
}

// Pending returns the fire time of every scheduled reminder.
func (s *Scheduler) Pending() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.pending))
	for id, p := range s.pending {
		out[id] = p.fireAt
	}
	return out
}

// Snapshot lists the known events in start order with their reminder
// state.
func (s *Scheduler) Snapshot() []EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]EventStatus, 0, len(s.events))
	for _, ev := range s.events {
		st := EventStatus{
			Event:          ev,
			Enabled:        s.prefs.ReminderEnabled(ev.ID),
			DismissedToday: s.state.IsDismissedToday(ev.ID),
		}
		if until, ok := s.state.ActiveSnooze(ev.ID, now); ok {
			st.SnoozedUntil = &until
		}
		if p, ok := s.pending[ev.ID]; ok {
			fireAt := p.fireAt
			st.NextFire = &fireAt
		}
		out = append(out, st)
	}
	return out
}

// IsPresenting reports whether a reminder is currently on screen.
func (s *Scheduler) IsPresenting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenting || s.presenter.IsPresenting()
}

// LastRefresh returns when events were last fetched successfully.
func (s *Scheduler) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// Reporter exposes the error reporter.
func (s *Scheduler) Reporter() *apperr.Reporter {
	return s.reporter
}

func (s *Scheduler) setEventsLocked(events []model.Event) {
	byID := make(map[string]model.Event, len(events))
	list := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if _, dup := byID[ev.ID]; dup {
			continue
		}
		byID[ev.ID] = ev
		list = append(list, ev)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	s.events = list
	s.byID = byID
}

// recomputeLocked cancels every pending timer and arms one per eligible
// event.
func (s *Scheduler) recomputeLocked(now time.Time) {
	for id := range s.pending {
		s.cancelLocked(id)
	}
	s.rolloverLocked(now)
	s.state.PruneSnoozes(now)
	for _, ev := range s.events {
		if fireAt, ok := FireTime(ev, s.prefs, s.state, now); ok {
			s.armLocked(ev.ID, fireAt, now)
		}
	}
	appLog.Debug("schedule recomputed", "events", len(s.events), "pending", len(s.pending))
}

// rescheduleLocked re-evaluates a single event.
func (s *Scheduler) rescheduleLocked(id string, now time.Time) {
	s.cancelLocked(id)
	ev, ok := s.byID[id]
	if !ok {
		return
	}
	if fireAt, ok := FireTime(ev, s.prefs, s.state, now); ok {
		s.armLocked(id, fireAt, now)
	}
}

func (s *Scheduler) armLocked(id string, fireAt, now time.Time) {
	if !s.running {
		return
	}
	s.cancelLocked(id)
	s.gen++
	gen := s.gen
	timer := s.clock.AfterFunc(fireAt.Sub(now), func() { s.fire(id, gen) })
	s.pending[id] = &scheduled{fireAt: fireAt, timer: timer, gen: gen}
	appLog.Debug("reminder scheduled", "event_id", id, "fire_at", fireAt.Format(time.RFC3339))
}

func (s *Scheduler) cancelLocked(id string) {
	p, ok := s.pending[id]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(s.pending, id)
}

// fire runs on the timer goroutine. A callback whose generation no longer
// matches the pending entry was superseded and does nothing.
func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok || p.gen != gen {
		return
	}
	delete(s.pending, id)
	if !s.running {
		return
	}
	ev, ok := s.byID[id]
	if !ok {
		return
	}
	// TODO: requeue the dropped reminder once the visible overlay is answered.
	if s.presenting || s.presenter.IsPresenting() {
		appLog.Info("reminder dropped", "event_id", id, "reason", "presenter_busy")
		return
	}

	s.presenting = true
	n := Notice{
		Event:      ev,
		FiredAt:    s.clock.Now(),
		Style:      s.prefs.Style,
		TimeFormat: s.prefs.TimeFormat,
	}
	s.wg.Add(1)
	go s.present(n)
}

func (s *Scheduler) present(n Notice) {
	defer s.wg.Done()
	appLog.Info("presenting reminder", "event_id", n.Event.ID, "title", n.Event.Title, "start", n.Event.Start.Format(time.RFC3339))

	action, err := s.presenter.Present(s.ctx, n)

	s.mu.Lock()
	s.presenting = false
	if err != nil {
		s.mu.Unlock()
		appLog.Error("presenter failed", err, "event_id", n.Event.ID)
		return
	}
	if !s.running {
		s.mu.Unlock()
		return
	}
	if err := action.Validate(); err != nil {
		s.mu.Unlock()
		appLog.Error("presenter returned invalid action", err, "event_id", n.Event.ID)
		return
	}
	// A refresh may have moved the event while the overlay was up.
	ev := n.Event
	if cur, ok := s.byID[ev.ID]; ok {
		ev = cur
	}
	persist, err := s.applyLocked(ev, action, s.clock.Now())
	snap, version := s.snapshotIfLocked(persist)
	s.mu.Unlock()

	if err != nil {
		appLog.Info("reminder action rejected", "event_id", n.Event.ID, "action", action.Kind, "reason", err.Error())
	}
	s.persist(snap, version)
}

// applyLocked performs a validated action and reports whether persisted
// preferences changed.
func (s *Scheduler) applyLocked(ev model.Event, a Action, now time.Time) (bool, error) {
	s.rolloverLocked(now)
	switch a.Kind {
	case ActionSnooze:
		until := now.Add(time.Duration(a.Minutes) * time.Minute)
		s.state.SetSnooze(ev.ID, until)
		s.state.SetDismissedToday(ev.ID, false)
		s.rescheduleLocked(ev.ID, now)
		appLog.Info("reminder snoozed", "event_id", ev.ID, "until", until.Format(time.RFC3339))
		return true, nil

	case ActionSnoozeUntilBeforeEvent:
		until := ev.Start.Add(-time.Duration(a.Minutes) * time.Minute)
		if !until.After(now) {
			return false, fmt.Errorf("%w: %s is not after %s", ErrSnoozeNotInFuture,
				until.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		s.state.SetSnooze(ev.ID, until)
		s.state.SetDismissedToday(ev.ID, false)
		s.rescheduleLocked(ev.ID, now)
		appLog.Info("reminder snoozed until before event", "event_id", ev.ID, "until", until.Format(time.RFC3339))
		return true, nil

	case ActionDismissForToday:
		s.state.SetDismissedToday(ev.ID, true)
		s.cancelLocked(ev.ID)
		appLog.Info("reminder dismissed for today", "event_id", ev.ID)
		return false, nil

	default:
		return false, nil
	}
}

func (s *Scheduler) armMidnightLocked(now time.Time) {
	if s.midnight != nil {
		s.midnight.Stop()
	}
	s.midnightGen++
	gen := s.midnightGen
	next := NextMidnight(now, s.loc)
	s.midnight = s.clock.AfterFunc(next.Sub(now), func() { s.onMidnight(gen) })
}

// onMidnight clears today's dismissals, recomputes, and re-arms itself for
// the following midnight.
func (s *Scheduler) onMidnight(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || gen != s.midnightGen {
		return
	}
	now := s.clock.Now()
	cleared := s.state.DismissedCount()
	s.state.ClearAllDismissalsForToday()
	s.dismissDay = s.localDay(now)
	s.recomputeLocked(now)
	s.armMidnightLocked(now)
	appLog.Info("daily boundary", "cleared_dismissals", cleared, "pending", len(s.pending))
}

// rolloverLocked clears dismissals left over from an earlier local day. The
// midnight timer waits on the monotonic clock, so it can fire late after a
// suspend or a wall-clock change.
func (s *Scheduler) rolloverLocked(now time.Time) {
	day := s.localDay(now)
	if day == s.dismissDay {
		return
	}
	if s.dismissDay != "" {
		cleared := s.state.DismissedCount()
		s.state.ClearAllDismissalsForToday()
		appLog.Info("local date changed", "from", s.dismissDay, "to", day, "cleared_dismissals", cleared)
	}
	s.dismissDay = day
}

func (s *Scheduler) localDay(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// snapshotIfLocked captures preferences for an out-of-lock save.
func (s *Scheduler) snapshotIfLocked(needed bool) (*prefs.Preferences, uint64) {
	if !needed || s.store == nil {
		return nil, 0
	}
	s.prefs.SnoozeUntil = s.state.Snoozes()
	s.version++
	return s.prefs.Clone(), s.version
}

// persist writes snap unless a newer snapshot has already been attempted,
// so an older snapshot never overwrites a newer one even when the newer
// save failed. Failures are reported and otherwise ignored; the next
// mutation retries implicitly because every save writes all keys.
func (s *Scheduler) persist(snap *prefs.Preferences, version uint64) {
	if snap == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.attemptedVersion {
		return
	}
	s.attemptedVersion = version
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		s.reporter.Report(err)
	}
}
