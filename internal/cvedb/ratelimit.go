package cvedb

import (
	"context"
	"sync"
	"time"
)

const (
	// NVDAnonymousInterval 无API Key时NVD两次请求的最小间隔
	NVDAnonymousInterval = 6100 * time.Millisecond
	// NVDKeyedInterval 有API Key时的最小间隔
	NVDKeyedInterval = 600 * time.Millisecond
)

// RateLimiter 保证任意两次请求的发起时间至少间隔 interval，可被多个goroutine共享
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Acquire 阻塞到可以发起下一次请求，返回分配到的时间点。
// 检查、等待和记录时间在同一个临界区内完成。
func (r *RateLimiter) Acquire(ctx context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if !r.last.IsZero() {
		if wait := r.interval - r.now().Sub(r.last); wait > 0 {
			if err := r.sleep(ctx, wait); err != nil {
				return time.Time{}, err
			}
		}
	}

	r.last = r.now()
	return r.last, nil
}

// Interval 返回最小间隔
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// sleepContext 等待 d 或 ctx 取消
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
