package cvedb

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟，sleep 直接把时间往前拨
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return ctx.Err()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func fakeLimiter(interval time.Duration, clock *fakeClock) *RateLimiter {
	r := NewRateLimiter(interval)
	r.now = clock.now
	r.sleep = clock.sleep
	return r
}

func TestRateLimiterConcurrentSpacing(t *testing.T) {
	const interval = 20 * time.Millisecond
	r := NewRateLimiter(interval)

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at, err := r.Acquire(context.Background())
			require.NoError(t, err)
			mu.Lock()
			stamps = append(stamps, at)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 8)
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), interval)
	}
}

func TestRateLimiterFirstCallDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	r := fakeLimiter(NVDAnonymousInterval, clock)

	_, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clock.slept)
}

func TestRateLimiterWaitsRemainder(t *testing.T) {
	clock := newFakeClock()
	r := fakeLimiter(NVDKeyedInterval, clock)

	first, err := r.Acquire(context.Background())
	require.NoError(t, err)
	clock.advance(200 * time.Millisecond)

	second, err := r.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{400 * time.Millisecond}, clock.slept)
	assert.Equal(t, NVDKeyedInterval, second.Sub(first))
}

func TestRateLimiterNoWaitAfterInterval(t *testing.T) {
	clock := newFakeClock()
	r := fakeLimiter(NVDKeyedInterval, clock)

	_, err := r.Acquire(context.Background())
	require.NoError(t, err)
	clock.advance(time.Second)
	_, err = r.Acquire(context.Background())
	require.NoError(t, err)

	assert.Empty(t, clock.slept)
}

func TestRateLimiterCancelled(t *testing.T) {
	r := NewRateLimiter(time.Hour)
	_, err := r.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
