package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeKey(t *testing.T) {
	a := ProbeKey("https://img.example.com/a.jpg")
	assert.Equal(t, a, ProbeKey("https://img.example.com/a.jpg"))
	assert.NotEqual(t, a, ProbeKey("https://img.example.com/b.jpg"))
	assert.Regexp(t, `^image-probe:[0-9a-f]{24}$`, a)
}

func TestMemory_StoreAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	_, ok := m.Lookup(ctx, "https://img.example.com/a.jpg")
	assert.False(t, ok)

	m.Store(ctx, "https://img.example.com/a.jpg", "ok")
	status, ok := m.Lookup(ctx, "https://img.example.com/a.jpg")
	assert.True(t, ok)
	assert.Equal(t, "ok", status)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	m.Store(ctx, "u", "broken")
	now = now.Add(59 * time.Second)
	_, ok := m.Lookup(ctx, "u")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = m.Lookup(ctx, "u")
	assert.False(t, ok)
}

func TestMemory_StorePrunesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	m.Store(ctx, "a", "ok")
	m.Store(ctx, "b", "broken")
	assert.Equal(t, 2, m.Len())

	now = now.Add(30 * time.Second)
	m.Store(ctx, "c", "ok")
	assert.Equal(t, 3, m.Len(), "nothing expired yet")

	now = now.Add(45 * time.Second)
	m.Store(ctx, "d", "ok")
	assert.Equal(t, 2, m.Len(), "a and b expired")
	_, ok := m.Lookup(ctx, "c")
	assert.True(t, ok)
}

func TestNewMemory_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewMemory(0).ttl)
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url", time.Minute)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}
