package ics

import (
	"context"
	"fmt"
	"time"

	"nudgecal/internal/apperr"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
)

// Calendar merges a set of ICS feeds into a single event source.
type Calendar struct {
	fetcher  *Fetcher
	feeds    []Feed
	location *time.Location
}

// NewCalendar builds a Calendar over feeds. Occurrences are reported in
// loc (time.Local when nil).
func NewCalendar(fetcher *Fetcher, feeds []Feed, loc *time.Location) *Calendar {
	if fetcher == nil {
		fetcher = NewFetcher("", 0)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{fetcher: fetcher, feeds: feeds, location: loc}
}

// Fetch returns every event overlapping [windowStart, windowEnd] across all
// feeds, sorted by start.
//
// With no feeds configured there is no calendar access to speak of, which
// is reported as apperr.KindPermissionUnknown. Any failing feed fails the
// whole fetch so callers keep their previous schedule instead of silently
// dropping that feed's meetings.
func (c *Calendar) Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Event, error) {
	if len(c.feeds) == 0 {
		return nil, apperr.Errorf(apperr.KindPermissionUnknown, "no calendar feeds configured")
	}

	parsed := make([]parsedEvent, 0)
	for _, feed := range c.feeds {
		res, err := c.fetcher.FetchOne(ctx, feed)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", feed.ID, "url", redactURL(feed.URL))
			return nil, apperr.Classify(err, apperr.KindEventFetchFailed)
		}
		evs, err := parseICS(feed, res.Body)
		if err != nil {
			return nil, apperr.New(apperr.KindEventFetchFailed, fmt.Sprintf("feed %q is not valid ICS", feed.ID), err)
		}
		parsed = append(parsed, evs...)
	}

	events, err := expandEvents(parsed, expandConfig{
		DisplayLocation: c.location,
		RangeStart:      windowStart,
		RangeEnd:        windowEnd,
	})
	if err != nil {
		return nil, apperr.New(apperr.KindEventFetchFailed, "expand events", err)
	}
	appLog.Debug("calendar fetched", "feeds", len(c.feeds), "events", len(events))
	return events, nil
}
