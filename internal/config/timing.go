package config

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCheckIntervalMinutes is used whenever the persisted setting is
// missing or unreadable.
const DefaultCheckIntervalMinutes = 5

// IntervalSource reads checkIntervalMinutes from the persisted settings
// document.
type IntervalSource interface {
	CheckIntervalMinutes(ctx context.Context) (int, error)
}

// TimingCache caches the sweep interval with a short TTL so the sweep does
// not hit the store on every tick. Invalidate forces a re-read on the next
// access; an unreadable source degrades to the default, it never fails.
type TimingCache struct {
	src IntervalSource
	ttl time.Duration
	log *logrus.Entry

	mu      sync.Mutex
	minutes int
	fetched time.Time
}

func NewTimingCache(src IntervalSource, ttl time.Duration, log *logrus.Entry) *TimingCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TimingCache{src: src, ttl: ttl, log: log}
}

// CheckInterval returns the configured interval as a duration.
func (c *TimingCache) CheckInterval(ctx context.Context) time.Duration {
	return time.Duration(c.checkIntervalMinutes(ctx)) * time.Minute
}

// OfflineThreshold is 2 x checkIntervalMinutes: one full missed-heartbeat
// cycle plus slack for network jitter.
func (c *TimingCache) OfflineThreshold(ctx context.Context) time.Duration {
	return 2 * c.CheckInterval(ctx)
}

// Invalidate drops the cached value so the next read goes to the source.
func (c *TimingCache) Invalidate() {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
}

func (c *TimingCache) checkIntervalMinutes(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.minutes > 0 && time.Since(c.fetched) < c.ttl {
		return c.minutes
	}
	n, err := c.src.CheckIntervalMinutes(ctx)
	if err != nil || n <= 0 {
		if err != nil {
			c.log.WithError(err).Debug("timing config unreadable, using default")
		}
		n = DefaultCheckIntervalMinutes
	}
	c.minutes = n
	c.fetched = time.Now()
	return n
}
