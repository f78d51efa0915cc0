package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// LocalResponseCache is an in-process ResponseCache used when Redis is disabled
type LocalResponseCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

// NewLocalResponseCache creates an empty in-process cache
func NewLocalResponseCache() *LocalResponseCache {
	return &LocalResponseCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (c *LocalResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *LocalResponseCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// LocalLocker is a single-process Locker. Leases expire after their ttl.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

type localLease struct {
	generation uint64
	expiresAt  time.Time
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	current, held := l.leases[key]
	if held && now.Before(current.expiresAt) {
		return nil, false, nil
	}

	lease := localLease{generation: current.generation + 1, expiresAt: now.Add(ttl)}
	l.leases[key] = lease

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existing, ok := l.leases[key]; ok && existing.generation == lease.generation {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
