package model

import "time"

// Event is a single concrete calendar entry as delivered by an event
// source, after recurrence expansion and timezone normalization.
type Event struct {
	// ID is unique and stable across fetches. For recurring events it
	// identifies one occurrence.
	ID string

	// SourceID names the calendar source the event came from.
	SourceID string

	Title    string
	Location string

	Start time.Time
	End   time.Time

	AllDay       bool
	HasAttendees bool
}

// Started reports whether the event has started at t.
func (e Event) Started(t time.Time) bool {
	return !e.Start.After(t)
}

// DisplayStyle selects the overlay surface.
type DisplayStyle string

const (
	StyleCompact    DisplayStyle = "compact"
	StyleFullscreen DisplayStyle = "fullscreen"
)

// Valid reports whether s is a known style.
func (s DisplayStyle) Valid() bool {
	return s == StyleCompact || s == StyleFullscreen
}

// TimeFormat selects 12 or 24 hour clock rendering.
type TimeFormat string

const (
	TimeFormat12h TimeFormat = "12h"
	TimeFormat24h TimeFormat = "24h"
)

func (f TimeFormat) Valid() bool {
	return f == TimeFormat12h || f == TimeFormat24h
}
