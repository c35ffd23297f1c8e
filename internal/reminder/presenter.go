package reminder

import (
	"context"
	"fmt"
	"time"

	"nudgecal/internal/model"
)

// ActionKind is the user's answer to a reminder overlay.
type ActionKind string

const (
	ActionNone                   ActionKind = "none"
	ActionSnooze                 ActionKind = "snooze"
	ActionSnoozeUntilBeforeEvent ActionKind = "snooze_until_before_event"
	ActionDismissForToday        ActionKind = "dismiss_for_today"
)

// MaxActionMinutes caps snooze offsets at one week.
const MaxActionMinutes = 7 * 24 * 60

// Action is returned by a Presenter once the overlay closes. Minutes is
// used by the two snooze kinds.
type Action struct {
	Kind    ActionKind `json:"action"`
	Minutes int        `json:"minutes,omitempty"`
}

func Snooze(minutes int) Action {
	return Action{Kind: ActionSnooze, Minutes: minutes}
}

func SnoozeUntilBeforeEvent(minutes int) Action {
	return Action{Kind: ActionSnoozeUntilBeforeEvent, Minutes: minutes}
}

func DismissForToday() Action {
	return Action{Kind: ActionDismissForToday}
}

// Validate checks that the kind is known and snooze minutes are usable.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionNone, ActionDismissForToday:
		return nil
	case ActionSnooze:
		if a.Minutes <= 0 {
			return fmt.Errorf("%w: snooze needs positive minutes, got %d", ErrInvalidAction, a.Minutes)
		}
	case ActionSnoozeUntilBeforeEvent:
		if a.Minutes < 0 {
			return fmt.Errorf("%w: minutes before event must not be negative, got %d", ErrInvalidAction, a.Minutes)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)
	}
	if a.Minutes > MaxActionMinutes {
		return fmt.Errorf("%w: %d minutes exceeds %d", ErrInvalidAction, a.Minutes, MaxActionMinutes)
	}
	return nil
}

// Notice is what a Presenter shows.
type Notice struct {
	Event      model.Event
	FiredAt    time.Time
	Style      model.DisplayStyle
	TimeFormat model.TimeFormat
}

// Presenter displays one reminder at a time. Present blocks until the
// user answers or ctx is done, and must reject a call made while another
// is outstanding.
type Presenter interface {
	Present(ctx context.Context, n Notice) (Action, error)
	IsPresenting() bool
}

// Source supplies upcoming events within a window.
type Source interface {
	Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Event, error)
}
