package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"studycal/internal/fileutil"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

const fileDocumentVersion = 1

// fileDocument is the on-disk YAML layout.
type fileDocument struct {
	Version int                   `yaml:"version"`
	Events  []model.CalendarEvent `yaml:"events"`
}

// FileStore keeps all events in a single YAML document. Every write
// rewrites the document atomically (temp file + rename, 0600).
type FileStore struct {
	path string

	mu     sync.RWMutex
	events map[string]model.CalendarEvent
}

// OpenFileStore reads path, or starts empty if it does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	s := &FileStore{path: path, events: make(map[string]model.CalendarEvent)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("file store starting empty", "path", path)
			return s, nil
		}
		return nil, err
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Version > fileDocumentVersion {
		return nil, fmt.Errorf("%s: unsupported document version %d", path, doc.Version)
	}
	for _, ev := range doc.Events {
		s.events[ev.ID] = ev
	}
	appLog.Info("file store loaded", "path", path, "event_count", len(s.events))
	return s, nil
}

func (s *FileStore) Get(_ context.Context, id string) (model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	return ev.Clone(), nil
}

func (s *FileStore) List(_ context.Context) ([]model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *FileStore) Put(_ context.Context, ev model.CalendarEvent) error {
	if ev.ID == "" {
		return errors.New("event id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.events[ev.ID]
	s.events[ev.ID] = ev.Clone()
	if err := s.flushLocked(); err != nil {
		// Keep memory consistent with disk.
		if had {
			s.events[ev.ID] = prev
		} else {
			delete(s.events, ev.ID)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	if err := s.flushLocked(); err != nil {
		s.events[id] = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) snapshotLocked() []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	return out
}

func (s *FileStore) flushLocked() error {
	doc := fileDocument{Version: fileDocumentVersion, Events: s.snapshotLocked()}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(s.path, data, ".studycal-events-*.tmp"); err != nil {
		appLog.Error("file store write failed", err, "path", s.path)
		return err
	}
	return nil
}
