// Package overlay contains Presenter implementations. Web keeps the visible
// reminder in memory for an HTTP client (menu-bar shell or browser) to poll
// and answer; Log only writes the reminder to the log.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
	"nudgecal/internal/reminder"
)

var (
	ErrPresenterBusy  = errors.New("overlay: a reminder is already visible")
	ErrNoPresentation = errors.New("overlay: no reminder is visible")
)

// View is the visible reminder as served to clients.
type View struct {
	Token        string             `json:"token"`
	EventID      string             `json:"event_id"`
	Title        string             `json:"title"`
	Location     string             `json:"location,omitempty"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	AllDay       bool               `json:"all_day"`
	HasAttendees bool               `json:"has_attendees"`
	TimeRange    string             `json:"time_range"`
	StartsIn     string             `json:"starts_in"`
	Style        model.DisplayStyle `json:"style"`
	TimeFormat   model.TimeFormat   `json:"time_format"`
	ShownAt      time.Time          `json:"shown_at"`
}

type presentation struct {
	token   string
	notice  reminder.Notice
	shownAt time.Time
	answer  chan reminder.Action
}

// Web is a reminder.Presenter whose overlay lives behind the HTTP API.
// Present blocks until Respond is called with the matching token, the
// timeout elapses, or ctx is done; the last two close the overlay with
// ActionNone.
type Web struct {
	mu      sync.Mutex
	current *presentation
	timeout time.Duration
	now     func() time.Time
}

// NewWeb creates a Web presenter. A zero timeout waits for an answer
// indefinitely. now defaults to time.Now.
func NewWeb(timeout time.Duration, now func() time.Time) *Web {
	if now == nil {
		now = time.Now
	}
	return &Web{timeout: timeout, now: now}
}

func (w *Web) Present(ctx context.Context, n reminder.Notice) (reminder.Action, error) {
	w.mu.Lock()
	if w.current != nil {
		w.mu.Unlock()
		return reminder.Action{}, ErrPresenterBusy
	}
	p := &presentation{
		token:   uuid.NewString(),
		notice:  n,
		shownAt: w.now(),
		answer:  make(chan reminder.Action, 1),
	}
	w.current = p
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.current == p {
			w.current = nil
		}
		w.mu.Unlock()
	}()

	appLog.Info("overlay shown", "event_id", n.Event.ID, "token", p.token, "style", n.Style)

	var timeout <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case a := <-p.answer:
		return a, nil
	case <-timeout:
		appLog.Info("overlay timed out", "event_id", n.Event.ID, "token", p.token)
		return reminder.Action{Kind: reminder.ActionNone}, nil
	case <-ctx.Done():
		return reminder.Action{Kind: reminder.ActionNone}, nil
	}
}

func (w *Web) IsPresenting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil
}

// Current returns the visible reminder, if any.
func (w *Web) Current() (View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return View{}, false
	}
	p := w.current
	ev := p.notice.Event
	return View{
		Token:        p.token,
		EventID:      ev.ID,
		Title:        ev.Title,
		Location:     ev.Location,
		Start:        ev.Start,
		End:          ev.End,
		AllDay:       ev.AllDay,
		HasAttendees: ev.HasAttendees,
		TimeRange:    FormatRange(ev, p.notice.TimeFormat),
		StartsIn:     StartsIn(ev.Start, w.now()),
		Style:        p.notice.Style,
		TimeFormat:   p.notice.TimeFormat,
		ShownAt:      p.shownAt,
	}, true
}

// Respond answers the visible reminder identified by token. Only the
// first answer counts.
func (w *Web) Respond(token string, a reminder.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.token != token {
		return fmt.Errorf("%w: token %q", ErrNoPresentation, token)
	}
	select {
	case w.current.answer <- a:
		return nil
	default:
		return fmt.Errorf("%w: already answered", ErrNoPresentation)
	}
}
