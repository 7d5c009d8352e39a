// Package memstore provides an in-memory implementation of store.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
)

type entry struct {
	alert *models.Alert
	count int
}

var _ store.Store = (*Store)(nil)

// Store holds alerts in memory. Suitable for single-instance deployments.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Get returns a copy of the stored alert and its occurrence count.
func (s *Store) Get(_ context.Context, id string) (*models.Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, 0, nil
	}
	return e.alert.Clone(), e.count, nil
}

// Put stores a copy of the alert and bumps its count.
func (s *Store) Put(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[a.ID]
	if !ok {
		e = &entry{}
		s.entries[a.ID] = e
	}
	e.count++
	cp := a.Clone()
	cp.Occurrences = e.count
	e.alert = cp
	return nil
}

// Has reports whether an alert is currently stored under id.
func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.alert != nil, nil
}

// Remove drops the alert but keeps its count.
func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.alert = nil
	}
	return nil
}

// Count returns how many times id has been stored.
func (s *Store) Count(_ context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.count, nil
	}
	return 0, nil
}
