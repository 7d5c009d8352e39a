package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the key-value surface the alert store and graph cache run on.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// Incr atomically adds one to the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (NoopProvider) Del(context.Context, string) error { return nil }

// Incr always reports 1 because nothing is retained between calls.
func (NoopProvider) Incr(context.Context, string) (int64, error) { return 1, nil }

func (NoopProvider) Close() error { return nil }
