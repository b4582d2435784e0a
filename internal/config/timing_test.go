package config

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type countingSource struct {
	minutes int
	err     error
	calls   int
}

func (s *countingSource) CheckIntervalMinutes(context.Context) (int, error) {
	s.calls++
	return s.minutes, s.err
}

func TestTimingCacheServesFromCache(t *testing.T) {
	src := &countingSource{minutes: 10}
	c := NewTimingCache(src, time.Minute, testLog())
	ctx := context.Background()

	assert.Equal(t, 10*time.Minute, c.CheckInterval(ctx))
	assert.Equal(t, 10*time.Minute, c.CheckInterval(ctx))
	assert.Equal(t, 1, src.calls, "second read must hit the cache")
}

func TestTimingCacheInvalidate(t *testing.T) {
	src := &countingSource{minutes: 10}
	c := NewTimingCache(src, time.Hour, testLog())
	ctx := context.Background()

	assert.Equal(t, 10*time.Minute, c.CheckInterval(ctx))
	src.minutes = 3
	c.Invalidate()
	assert.Equal(t, 3*time.Minute, c.CheckInterval(ctx))
	assert.Equal(t, 2, src.calls)
}

func TestTimingCacheTTLExpiry(t *testing.T) {
	src := &countingSource{minutes: 10}
	c := NewTimingCache(src, time.Millisecond, testLog())
	ctx := context.Background()

	c.CheckInterval(ctx)
	time.Sleep(5 * time.Millisecond)
	c.CheckInterval(ctx)
	assert.Equal(t, 2, src.calls)
}

func TestTimingCacheFallsBackToDefault(t *testing.T) {
	src := &countingSource{err: errors.New("settings unavailable")}
	c := NewTimingCache(src, time.Minute, testLog())
	ctx := context.Background()

	assert.Equal(t, time.Duration(DefaultCheckIntervalMinutes)*time.Minute, c.CheckInterval(ctx))
	assert.Equal(t, 2*time.Duration(DefaultCheckIntervalMinutes)*time.Minute, c.OfflineThreshold(ctx))
}

func TestTimingCacheRejectsNonPositive(t *testing.T) {
	src := &countingSource{minutes: -3}
	c := NewTimingCache(src, time.Minute, testLog())

	assert.Equal(t, time.Duration(DefaultCheckIntervalMinutes)*time.Minute, c.CheckInterval(context.Background()))
}
