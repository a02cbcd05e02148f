package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testLimiter struct {
	*Limiter
	store    *MemoryStore
	clock    *fakeClock
	registry *Registry
}

func newTestLimiter(t *testing.T, overrides map[string]PolicyOverride) *testLimiter {
	t.Helper()

	registry, err := NewRegistry(overrides)
	require.NoError(t, err)

	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	recorder := NewRecorder(store, RecorderConfig{}, nil, nil)

	return &testLimiter{
		Limiter:  NewLimiter(store, registry, recorder, Options{Now: clock.Now}),
		store:    store,
		clock:    clock,
		registry: registry,
	}
}

func ipContext(ip string) RequestContext {
	return RequestContext{RemoteIP: ip}
}
