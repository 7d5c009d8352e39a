package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// MemoryProvider is an in-process Provider with per-key TTL. It backs the
// single-instance deployment and tests.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryProvider) lookup(key string) (memoryItem, bool) {
	it, ok := m.data[key]
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(m.now()) {
		delete(m.data, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *MemoryProvider) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (m *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores value under key; ttl <= 0 keeps it forever.
func (m *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

// SetNX stores value only when key is absent or expired.
func (m *MemoryProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return true, nil
}

// Del removes key.
func (m *MemoryProvider) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Incr treats a missing key as zero and keeps any existing expiry.
func (m *MemoryProvider) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(it.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = parsed
	}
	n++
	it.value = []byte(strconv.FormatInt(n, 10))
	m.data[key] = it
	return n, nil
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}
