// Package retention compacts the event log on a cron schedule. Messages are
// never touched; only change history older than the window is dropped, and
// subscribers resuming from before it are told to reload.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Compactor interface {
	CompactEvents(ctx context.Context, before time.Time) (int64, error)
}

type Runner struct {
	store  Compactor
	cron   string
	window time.Duration
	log    *logrus.Entry
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func NewRunner(store Compactor, cron string, window time.Duration, log *logrus.Entry) (*Runner, error) {
	if !gronx.IsValid(cron) {
		return nil, errors.Errorf("invalid retention schedule %q", cron)
	}
	if window <= 0 {
		return nil, errors.Errorf("retention window must be positive, got %s", window)
	}
	return &Runner{store: store, cron: cron, window: window, log: log, now: time.Now}, nil
}

// Run compacts at every tick of the schedule until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	r.log.WithFields(logrus.Fields{"cron": r.cron, "window": r.window}).Info("retention enabled")
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now(), false)
		if err != nil {
			r.log.WithError(err).Error("retention next tick failed")
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.WithError(err).Error("retention run failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce compacts now. A run already in progress makes it a no-op.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return 0, nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := r.now()
	cutoff := start.Add(-r.window)
	removed, err := r.store.CompactEvents(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "compact events")
	}
	r.log.WithFields(logrus.Fields{
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
		"removed": removed,
		"took":    time.Since(start),
	}).Info("event log compacted")
	return removed, nil
}
