package sweep

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/metrics"
)

// DeviceStore is the slice of the registry store the sweep needs: one atomic
// batch transition of stale devices.
type DeviceStore interface {
	MarkStaleOffline(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

// IntervalSource yields the configured check interval; in production this is
// the TTL-cached timing config.
type IntervalSource interface {
	CheckInterval(ctx context.Context) time.Duration
}

// Sweeper re-derives device connectivity from lastSeen timestamps on a fixed
// schedule. It is the backstop for disconnects the broker never told us
// about: abrupt power loss without an LWT, or a dropped delivery.
type Sweeper struct {
	store    DeviceStore
	interval IntervalSource
	log      *logrus.Entry
	met      *metrics.Metrics

	running atomic.Bool
}

func New(store DeviceStore, interval IntervalSource, log *logrus.Entry, met *metrics.Metrics) *Sweeper {
	return &Sweeper{store: store, interval: interval, log: log, met: met}
}

// Start blocks until ctx is cancelled, running one sweep per check interval.
// The ticker follows configuration changes; a failing run is logged and the
// next tick proceeds independently.
func (s *Sweeper) Start(ctx context.Context) {
	period := s.interval.CheckInterval(ctx)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	s.log.WithField("interval", period.String()).Info("reconciliation sweep started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, time.Now().UTC()); err != nil {
				s.log.WithError(err).Error("sweep failed")
			}
			if p := s.interval.CheckInterval(ctx); p != period {
				period = p
				ticker.Reset(period)
				s.log.WithField("interval", period.String()).Info("sweep interval updated")
			}
		}
	}
}

// RunOnce marks every non-offline, non-maintenance device whose lastSeen is
// absent or older than 2 x checkInterval as offline, in a single batch
// write. Overlapping runs are skipped rather than queued: the next tick will
// see anything this one would have.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("sweep already in flight, skipping tick")
		s.met.SweepRuns.WithLabelValues("skipped").Inc()
		return 0, nil
	}
	defer s.running.Store(false)

	threshold := 2 * s.interval.CheckInterval(ctx)
	cutoff := now.Add(-threshold)

	ids, err := s.store.MarkStaleOffline(ctx, cutoff, now)
	if err != nil {
		s.met.SweepRuns.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("mark stale devices offline: %w", err)
	}

	s.met.SweepRuns.WithLabelValues("ok").Inc()
	if len(ids) == 0 {
		s.log.Debug("sweep found nothing to change")
		return 0, nil
	}
	s.met.SweepOffline.Add(float64(len(ids)))
	s.log.WithFields(logrus.Fields{"count": len(ids), "devices": ids, "threshold": threshold.String()}).
		Info("sweep marked stale devices offline")
	return len(ids), nil
}
