package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
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

func TestBurstLimiter_DeniesAfterMax(t *testing.T) {
	clock := newFakeClock()
	l := NewBurstLimiter(WithClock(clock.Now))
	policy := DefaultBurstPolicy()

	for i := 0; i < policy.MaxRequests; i++ {
		ok, retry := l.Allow("u1", policy)
		require.True(t, ok, "request %d", i+1)
		assert.Zero(t, retry)
		clock.Advance(100 * time.Millisecond)
	}

	ok, retry := l.Allow("u1", policy)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, retry, time.Second)
	assert.LessOrEqual(t, retry, policy.Window)

	// Other keys have their own window.
	ok, _ = l.Allow("u2", policy)
	assert.True(t, ok)
}

func TestBurstLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	l := NewBurstLimiter(WithClock(clock.Now))
	policy := BurstPolicy{MaxRequests: 2, Window: 10 * time.Second}

	ok, _ := l.Allow("u1", policy)
	require.True(t, ok)
	clock.Advance(4 * time.Second)
	ok, _ = l.Allow("u1", policy)
	require.True(t, ok)

	ok, retry := l.Allow("u1", policy)
	require.False(t, ok)
	assert.Equal(t, 6*time.Second, retry)

	// The first request leaves the window exactly at its boundary.
	clock.Advance(6 * time.Second)
	ok, _ = l.Allow("u1", policy)
	assert.True(t, ok)

	ok, retry = l.Allow("u1", policy)
	assert.False(t, ok)
	assert.Equal(t, 4*time.Second, retry)
}

func TestBurstLimiter_DeniedRequestsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := NewBurstLimiter(WithClock(clock.Now))
	policy := BurstPolicy{MaxRequests: 1, Window: 10 * time.Second}

	ok, _ := l.Allow("u1", policy)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		ok, _ = l.Allow("u1", policy)
		require.False(t, ok)
	}
	clock.Advance(5 * time.Second)
	ok, _ = l.Allow("u1", policy)
	assert.True(t, ok)
}

func TestBurstLimiter_RetryAfterFloor(t *testing.T) {
	clock := newFakeClock()
	l := NewBurstLimiter(WithClock(clock.Now))
	policy := BurstPolicy{MaxRequests: 1, Window: 2 * time.Second}

	ok, _ := l.Allow("u1", policy)
	require.True(t, ok)
	clock.Advance(1900 * time.Millisecond)

	ok, retry := l.Allow("u1", policy)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)
}

func TestBurstLimiter_InvalidPolicyUsesDefault(t *testing.T) {
	l := NewBurstLimiter(WithClock(newFakeClock().Now))
	for i := 0; i < 20; i++ {
		ok, _ := l.Allow("u1", BurstPolicy{})
		require.True(t, ok)
	}
	ok, _ := l.Allow("u1", BurstPolicy{})
	assert.False(t, ok)
}

func TestBurstLimiter_Concurrent(t *testing.T) {
	l := NewBurstLimiter(WithClock(newFakeClock().Now))
	policy := BurstPolicy{MaxRequests: 7, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("u1", policy); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 7, allowed)
}

func TestBurstLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := NewBurstLimiter(WithClock(clock.Now), WithIdleTTL(time.Minute))
	policy := DefaultBurstPolicy()

	l.Allow("idle", policy)
	clock.Advance(50 * time.Second)
	l.Allow("active", policy)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep(clock.Now()))
	assert.Equal(t, 1, l.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, l.Sweep(clock.Now()))
	assert.Zero(t, l.Len())
}

func TestBurstLimiter_JanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewBurstLimiter(WithSweepInterval(time.Millisecond), WithIdleTTL(time.Nanosecond))
	l.Allow("u1", DefaultBurstPolicy())

	l.Start(context.Background())
	l.Start(context.Background())
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestBurstLimiter_JanitorStopsOnContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	l := NewBurstLimiter(WithSweepInterval(time.Millisecond))
	l.Start(ctx)
	cancel()
	l.Stop()
}
