// Package prefs holds user preferences and maps them onto a kv.Store over
// a closed set of keys.
package prefs

import (
	"time"

	"nudgecal/internal/model"
)

// Key names a persisted preference.
type Key string

const (
	KeyLeadTime    Key = "lead_time_minutes"
	KeyOverrides   Key = "reminder_overrides"
	KeySnoozeUntil Key = "snooze_until"
	KeyStyle       Key = "display_style"
	KeyTimeFormat  Key = "time_format"
)

// AllKeys lists every persisted key.
var AllKeys = []Key{KeyLeadTime, KeyOverrides, KeySnoozeUntil, KeyStyle, KeyTimeFormat}

const DefaultLeadTimeMinutes = 5

// Preferences is the user's reminder configuration.
type Preferences struct {
	LeadTimeMinutes int
	// Overrides records explicit per-event enable (true) or disable (false)
	// choices. An absent id means enabled.
	Overrides map[string]bool
	// SnoozeUntil maps event ids to the instant their snooze ends.
	SnoozeUntil map[string]time.Time
	Style       model.DisplayStyle
	TimeFormat  model.TimeFormat
}

// Default returns the preferences used before anything was saved.
func Default() *Preferences {
	return &Preferences{
		LeadTimeMinutes: DefaultLeadTimeMinutes,
		Overrides:       make(map[string]bool),
		SnoozeUntil:     make(map[string]time.Time),
		Style:           model.StyleCompact,
		TimeFormat:      model.TimeFormat12h,
	}
}

// LeadTime returns the lead time as a duration.
func (p *Preferences) LeadTime() time.Duration {
	return time.Duration(p.LeadTimeMinutes) * time.Minute
}

// ReminderEnabled reports whether reminders are on for id.
func (p *Preferences) ReminderEnabled(id string) bool {
	enabled, ok := p.Overrides[id]
	return !ok || enabled
}

// PruneSnoozes drops snooze entries that ended at or before now and
// reports whether anything was removed.
func (p *Preferences) PruneSnoozes(now time.Time) bool {
	pruned := false
	for id, until := range p.SnoozeUntil {
		if !until.After(now) {
			delete(p.SnoozeUntil, id)
			pruned = true
		}
	}
	return pruned
}

// Clone returns a deep copy.
func (p *Preferences) Clone() *Preferences {
	out := *p
	out.Overrides = make(map[string]bool, len(p.Overrides))
	for k, v := range p.Overrides {
		out.Overrides[k] = v
	}
	out.SnoozeUntil = make(map[string]time.Time, len(p.SnoozeUntil))
	for k, v := range p.SnoozeUntil {
		out.SnoozeUntil[k] = v
	}
	return &out
}

// normalize replaces invalid values with defaults.
func (p *Preferences) normalize() {
	if p.LeadTimeMinutes <= 0 {
		p.LeadTimeMinutes = DefaultLeadTimeMinutes
	}
	if p.Overrides == nil {
		p.Overrides = make(map[string]bool)
	}
	if p.SnoozeUntil == nil {
		p.SnoozeUntil = make(map[string]time.Time)
	}
	if !p.Style.Valid() {
		p.Style = model.StyleCompact
	}
	if !p.TimeFormat.Valid() {
		p.TimeFormat = model.TimeFormat12h
	}
}
