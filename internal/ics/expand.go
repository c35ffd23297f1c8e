package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// instanceLayout formats the original start of a recurring instance into
// its event ID.
const instanceLayout = "20060102T150405Z"

type expandConfig struct {
	// DisplayLocation is the zone every occurrence is converted to. Nil
	// means time.Local.
	DisplayLocation *time.Location

	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps the expansion of a single RRULE.
	MaxOccurrencesPerEvent int
}

// expandEvents turns parsed VEVENTs into concrete events within the
// configured range, applying RRULE, EXDATE and RECURRENCE-ID overrides.
// Cancelled events and cancelled instances are dropped. The result is
// sorted by start.
//
// Non-recurring events use their UID as ID. Recurring instances use
// UID/<original start in UTC>, so an instance keeps its ID when an
// override moves it.
func expandEvents(events []parsedEvent, cfg expandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]parsedEvent)
	overridesByUID := make(map[string][]parsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0)
	for uid, bases := range baseByUID {
		for _, ev := range bases {
			if ev.RawRRule == "" {
				if e, ok := expandSingle(ev, cfg); ok {
					out = append(out, e)
				}
				continue
			}
			occ, hitCap := expandRecurring(ev, overridesByUID[uid], cfg)
			if hitCap {
				appLog.Error("expand: truncated occurrences", errors.New("max occurrences reached"),
					"uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandSingle(ev parsedEvent, cfg expandConfig) (model.Event, bool) {
	if ev.Cancelled || !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return model.Event{}, false
	}
	return makeEvent(ev, ev.UID, ev.Start, ev.End, cfg.DisplayLocation), true
}

func expandRecurring(ev parsedEvent, overrides []parsedEvent, cfg expandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	if ev.Cancelled {
		return out, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so instances already in
	// progress at RangeStart are kept.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range starts {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart, occEnd = day, day.AddDate(0, 0, 1)
		}
		id := ev.UID + "/" + occStart.UTC().Format(instanceLayout)

		inst, start, end := ev, occStart, occEnd
		if o, ok := findOverride(overrides, occStart); ok {
			if o.Cancelled {
				continue
			}
			inst, start, end = o, o.Start, o.End
		}
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeEvent(inst, id, start, end, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []parsedEvent, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func makeEvent(ev parsedEvent, id string, start, end time.Time, loc *time.Location) model.Event {
	return model.Event{
		ID:           id,
		SourceID:     ev.Feed.ID,
		Title:        ev.Summary,
		Location:     ev.Location,
		Start:        start.In(loc),
		End:          end.In(loc),
		AllDay:       ev.AllDay,
		HasAttendees: ev.HasAttendees,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	return !bEnd.Before(aStart)
}
