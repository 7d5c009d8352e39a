// Package cachestore implements store.Store on top of a cache.Provider so
// alert state can live in Valkey.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/miradorstack/mirador-correlator/internal/cache"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

var _ store.Store = (*Store)(nil)

// Store keeps two keys per alert: the JSON alert and an INCR counter. The
// counter key is never deleted.
type Store struct {
	provider cache.Provider
	prefix   string
}

// New builds a Store; keys are namespaced with prefix.
func New(provider cache.Provider, prefix string) *Store {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Store{provider: provider, prefix: prefix}
}

func (s *Store) alertKey(id string) string { return s.prefix + "alert:" + id }
func (s *Store) countKey(id string) string { return s.prefix + "count:" + id }

// Get decodes the stored alert and reads its count.
func (s *Store) Get(ctx context.Context, id string) (*models.Alert, int, error) {
	count, err := s.Count(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	data, err := s.provider.Get(ctx, s.alertKey(id))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, count, nil
		}
		return nil, 0, utils.Wrap("store get", id, err)
	}
	var a models.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, 0, utils.Wrap("store decode", id, err)
	}
	return &a, count, nil
}

// Put bumps the counter then writes the alert with the new count.
func (s *Store) Put(ctx context.Context, a *models.Alert) error {
	n, err := s.provider.Incr(ctx, s.countKey(a.ID))
	if err != nil {
		return utils.Wrap("store incr", a.ID, err)
	}
	cp := a.Clone()
	cp.Occurrences = int(n)
	data, err := json.Marshal(cp)
	if err != nil {
		return utils.Wrap("store encode", a.ID, err)
	}
	if err := s.provider.Set(ctx, s.alertKey(a.ID), data, 0); err != nil {
		return utils.Wrap("store put", a.ID, err)
	}
	return nil
}

// Has reports whether the alert key exists.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.provider.Get(ctx, s.alertKey(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	return false, utils.Wrap("store has", id, err)
}

// Remove deletes the alert key only.
func (s *Store) Remove(ctx context.Context, id string) error {
	return utils.Wrap("store remove", id, s.provider.Del(ctx, s.alertKey(id)))
}

// Count reads the counter key; a missing key counts as zero.
func (s *Store) Count(ctx context.Context, id string) (int, error) {
	data, err := s.provider.Get(ctx, s.countKey(id))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, utils.Wrap("store count", id, err)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, utils.Wrap("store count", id, fmt.Errorf("counter is not an integer: %q", data))
	}
	return n, nil
}
