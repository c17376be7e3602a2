package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "studycal/internal/log"
)

const defaultFeedTTL = 5 * time.Minute

// Feed fetches and parses the subscribed sources and keeps the parsed
// events for a short TTL, so repeated month renders do not refetch.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	events    []ParsedEvent
	updatedAt time.Time
}

// NewFeed builds a Feed over sources. ttl <= 0 uses five minutes.
func NewFeed(fetcher *Fetcher, sources []Source, ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = defaultFeedTTL
	}
	return &Feed{fetcher: fetcher, sources: sources, ttl: ttl, now: time.Now}
}

// Sources returns the configured subscriptions.
func (f *Feed) Sources() []Source {
	return append([]Source(nil), f.sources...)
}

// Events returns the parsed events of all sources, refreshing when the
// cached copy is older than the TTL. Per-source failures are joined into
// the returned error alongside whatever events could be read.
func (f *Feed) Events(ctx context.Context) ([]ParsedEvent, error) {
	if len(f.sources) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.events != nil && f.now().Sub(f.updatedAt) < f.ttl {
		return f.events, nil
	}

	results, errs := f.fetcher.FetchAll(ctx, f.sources)
	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, evs...)
	}

	f.events = parsed
	f.updatedAt = f.now()
	appLog.Info("ics feed refreshed", "sources", len(f.sources), "events", len(parsed), "errors", len(errs))
	return parsed, errors.Join(errs...)
}

// Occurrences expands the feed into [from, to] in loc.
func (f *Feed) Occurrences(ctx context.Context, from, to time.Time, loc *time.Location) (ExpandResult, error) {
	events, fetchErr := f.Events(ctx)
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return res, err
	}
	return res, fetchErr
}

// Invalidate drops the cached events.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}
