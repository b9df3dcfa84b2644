// Package cache memoizes image probe verdicts between runs.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is how long a probe verdict is trusted.
const DefaultTTL = 6 * time.Hour

// ProbeKey returns the cache key for an image URL.
func ProbeKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("image-probe:%x", hash[:12])
}

type memoryEntry struct {
	status  string
	expires time.Time
}

// Memory is an in-process probe cache. It is used when no redis URL is configured.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
	// nextSweep is when Store next drops expired entries.
	nextSweep time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Lookup returns a cached, unexpired verdict.
func (m *Memory) Lookup(_ context.Context, url string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[ProbeKey(url)]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expires) {
		return "", false
	}
	return e.status, true
}

// Store records a verdict. At most once per TTL it also drops expired entries.
func (m *Memory) Store(_ context.Context, url, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !now.Before(m.nextSweep) {
		for key, e := range m.entries {
			if now.After(e.expires) {
				delete(m.entries, key)
			}
		}
		m.nextSweep = now.Add(m.ttl)
	}
	m.entries[ProbeKey(url)] = memoryEntry{status: status, expires: now.Add(m.ttl)}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
