package gate

import (
	"context"
	"sync"
	"time"
)

// BurstPolicy bounds requests per sliding window.
type BurstPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBurstPolicy allows 20 requests per minute.
func DefaultBurstPolicy() BurstPolicy {
	return BurstPolicy{MaxRequests: 20, Window: time.Minute}
}

const (
	minRetryAfter     = time.Second
	defaultIdleTTL    = 10 * time.Minute
	defaultSweepEvery = 5 * time.Minute
)

// BurstLimiter is a process-local sliding-window log per key. History is
// not persisted: a restart resets every window.
type BurstLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now        func() time.Time
	idleTTL    time.Duration
	sweepEvery time.Duration

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	last   time.Time
}

// BurstOption configures a BurstLimiter.
type BurstOption func(*BurstLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BurstOption {
	return func(l *BurstLimiter) { l.now = now }
}

// WithIdleTTL sets how long an unused key survives a sweep. It should be
// at least the longest window in use.
func WithIdleTTL(d time.Duration) BurstOption {
	return func(l *BurstLimiter) { l.idleTTL = d }
}

// WithSweepInterval sets the janitor period.
func WithSweepInterval(d time.Duration) BurstOption {
	return func(l *BurstLimiter) { l.sweepEvery = d }
}

// NewBurstLimiter creates an empty limiter.
func NewBurstLimiter(opts ...BurstOption) *BurstLimiter {
	l := &BurstLimiter{
		windows:    make(map[string]*window),
		now:        time.Now,
		idleTTL:    defaultIdleTTL,
		sweepEvery: defaultSweepEvery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request for key if the window has room. When denied,
// retryAfter is the time until the oldest retained request leaves the
// window, rounded up to whole seconds and never below one second.
func (l *BurstLimiter) Allow(key string, p BurstPolicy) (allowed bool, retryAfter time.Duration) {
	if p.MaxRequests <= 0 || p.Window <= 0 {
		p = DefaultBurstPolicy()
	}

	// Lock order is l.mu then w.mu, shared with Sweep, so a window cannot be
	// swept between lookup and use.
	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	w.mu.Lock()
	l.mu.Unlock()
	defer w.mu.Unlock()

	now := l.now()
	w.last = now
	w.evict(now.Add(-p.Window))

	if len(w.stamps) >= p.MaxRequests {
		wait := w.stamps[0].Add(p.Window).Sub(now)
		return false, roundRetry(wait)
	}
	w.stamps = append(w.stamps, now)
	return true, 0
}

// evict drops stamps at or before cutoff. Stamps are appended in clock
// order, so the retained ones are a suffix.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func roundRetry(d time.Duration) time.Duration {
	if d < minRetryAfter {
		return minRetryAfter
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// Sweep removes keys idle since before now minus the idle TTL and returns
// how many were removed.
func (l *BurstLimiter) Sweep(now time.Time) int {
	cutoff := now.Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		idle := !w.last.After(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
			removed++
		}
	}
	BurstKeys.Set(float64(len(l.windows)))
	return removed
}

// Len returns the number of tracked keys.
func (l *BurstLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start runs Sweep periodically until ctx is done or Stop is called.
// Calling Start on a running limiter is a no-op.
func (l *BurstLimiter) Start(ctx context.Context) {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				l.Sweep(l.now())
			}
		}
	}(l.stop, l.done)
}

// Stop halts the janitor and waits for it to exit.
func (l *BurstLimiter) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
}
