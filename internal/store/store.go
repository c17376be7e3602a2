// Package store keeps calendar events. The backends are thin key/value
// sync targets: every event is stored and replaced as a whole document.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"studycal/internal/model"
)

// ErrNotFound is returned when no event has the requested ID.
var ErrNotFound = errors.New("event not found")

// Store is the persistence contract used by the calendar service.
type Store interface {
	Get(ctx context.Context, id string) (model.CalendarEvent, error)
	List(ctx context.Context) ([]model.CalendarEvent, error)
	// Put inserts or replaces the event with ev.ID.
	Put(ctx context.Context, ev model.CalendarEvent) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]model.CalendarEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]model.CalendarEvent)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	return ev.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, ev model.CalendarEvent) error {
	if ev.ID == "" {
		return errors.New("event id is empty")
	}
	s.mu.Lock()
	s.events[ev.ID] = ev.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// sortEvents orders by date, then ID, so listings are stable.
func sortEvents(evs []model.CalendarEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Date.Equal(evs[j].Date) {
			return evs[i].Date.Before(evs[j].Date)
		}
		return evs[i].ID < evs[j].ID
	})
}
