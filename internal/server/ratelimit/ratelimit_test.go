package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.now
	return l, clock
}

func testConfig() Config {
	return Config{
		Enabled: true,
		Trigger: Rule{Every: time.Minute, Burst: 2},
		Read:    Rule{Every: time.Second, Burst: 3},
		IdleTTL: 10 * time.Minute,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   Class
	}{
		{http.MethodPost, "/ingest", Trigger},
		{http.MethodGet, "/ingest", Trigger},
		{http.MethodGet, "/progress", Read},
		{http.MethodGet, "/progress/stream", Read},
		{http.MethodGet, "/runs/abc", Read},
		{http.MethodGet, "/health", Exempt},
		{http.MethodOptions, "/ingest", Exempt},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.method, tt.path))
		})
	}
}

func TestTake_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	for i := 0; i < 2; i++ {
		d := l.Take("1.2.3.4", Trigger)
		require.True(t, d.Allowed, "trigger %d", i+1)
		assert.Equal(t, 2, d.Limit)
		assert.Equal(t, 1-i, d.Remaining)
	}

	d := l.Take("1.2.3.4", Trigger)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	clock.advance(30 * time.Second)
	d = l.Take("1.2.3.4", Trigger)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter, "denied takes must not push the refill out")

	clock.advance(30 * time.Second)
	assert.True(t, l.Take("1.2.3.4", Trigger).Allowed)
}

func TestTake_RefundRestoresToken(t *testing.T) {
	l, _ := newTestLimiter(testConfig())

	first := l.Take("1.2.3.4", Trigger)
	require.True(t, first.Allowed)

	for i := 0; i < 10; i++ {
		d := l.Take("1.2.3.4", Trigger)
		require.True(t, d.Allowed, "attempt %d", i+1)
		assert.Equal(t, 0, d.Remaining)
		d.Refund()
	}

	assert.True(t, l.Take("1.2.3.4", Trigger).Allowed)
	assert.False(t, l.Take("1.2.3.4", Trigger).Allowed)
}

func TestTake_RefundOfUnlimitedIsNoop(t *testing.T) {
	l, _ := newTestLimiter(testConfig())
	d := l.Take("1.2.3.4", Exempt)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Limit)
	assert.NotPanics(t, d.Refund)
}

func TestTake_ClassesAndClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(testConfig())

	for i := 0; i < 2; i++ {
		require.True(t, l.Take("a", Trigger).Allowed)
	}
	require.False(t, l.Take("a", Trigger).Allowed)

	assert.True(t, l.Take("a", Read).Allowed, "reads draw from their own budget")
	assert.True(t, l.Take("b", Trigger).Allowed, "other clients are unaffected")
	assert.True(t, l.Take("a", Exempt).Allowed)
}

func TestTake_Bypass(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		client string
	}{
		{"disabled", func(c *Config) { c.Enabled = false }, "1.2.3.4"},
		{"exempt client", func(c *Config) { c.ExemptClients = []string{"10.0.0.1"} }, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			l, _ := newTestLimiter(cfg)
			for i := 0; i < 20; i++ {
				d := l.Take(tt.client, Trigger)
				require.True(t, d.Allowed)
				assert.Zero(t, d.Limit)
			}
			assert.Zero(t, l.Len())
		})
	}
}

func TestNewLimiter_Normalizes(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, Trigger: Rule{Every: time.Hour}})
	assert.Equal(t, time.Hour, l.cfg.IdleTTL)
	assert.Equal(t, 1, l.cfg.Trigger.Burst)

	assert.True(t, l.Take("a", Trigger).Allowed)
	assert.False(t, l.Take("a", Trigger).Allowed)

	// A zero interval is unlimited.
	for i := 0; i < 50; i++ {
		require.True(t, l.Take("a", Read).Allowed)
	}
}

func TestTake_SweepsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(testConfig())

	l.Take("a", Read)
	l.Take("b", Read)
	require.Equal(t, 2, l.Len())

	clock.advance(5 * time.Minute)
	l.Take("b", Read)
	clock.advance(6 * time.Minute)
	l.Take("c", Read)

	assert.Equal(t, 2, l.Len(), "a was idle past the TTL")

	// A returning client starts with a full burst.
	clock.advance(11 * time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, l.Take("b", Read).Allowed)
	}
	assert.Equal(t, 1, l.Len())
}

func TestTake_Concurrent(t *testing.T) {
	cfg := testConfig()
	cfg.Trigger = Rule{Every: time.Hour, Burst: 10}
	l, _ := newTestLimiter(cfg)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		client := fmt.Sprintf("client-%d", c)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Take(client, Trigger).Allowed {
					allowed.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(40), allowed.Load())
	assert.Equal(t, 4, l.Len())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5, cfg.Trigger.Burst)
	assert.Greater(t, cfg.Read.Burst, cfg.Trigger.Burst)
}
