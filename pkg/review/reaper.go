package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const staleRunSummary = failurePrefix + "run did not finish before the stale run timeout"

// ReapStaleRuns fails every queued or running run older than olderThan and
// returns how many were failed. Such runs were orphaned, typically by a
// restart that dropped the in-memory queue.
func (o *Orchestrator) ReapStaleRuns(
	ctx context.Context, olderThan time.Duration,
) (int, error) {
	ids, err := o.store.FailStaleRuns(ctx, o.now().Add(-olderThan), staleRunSummary)
	if err != nil {
		return 0, fmt.Errorf("reaping stale runs: %w", err)
	}

	if len(ids) > 0 {
		o.log.WithFields(logrus.Fields{
			"count":   len(ids),
			"run_ids": ids,
		}).Warn("Failed stale runs")
	}

	return len(ids), nil
}

// Reaper periodically calls ReapStaleRuns.
type Reaper struct {
	log      logrus.FieldLogger
	orch     *Orchestrator
	timeout  time.Duration
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewReaper creates a reaper that fails runs older than timeout every
// interval.
func NewReaper(
	log logrus.FieldLogger,
	orch *Orchestrator,
	timeout, interval time.Duration,
) *Reaper {
	return &Reaper{
		log:      log.WithField("component", "reaper"),
		orch:     orch,
		timeout:  timeout,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then ticks at the interval.
func (r *Reaper) Start(ctx context.Context) error {
	r.log.WithFields(logrus.Fields{
		"timeout":  r.timeout.String(),
		"interval": r.interval.String(),
	}).Info("Starting stale run reaper")

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		r.sweep(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the reaper goroutine to stop and waits for it.
func (r *Reaper) Stop() error {
	close(r.done)
	r.wg.Wait()

	r.log.Info("Reaper stopped")

	return nil
}

func (r *Reaper) sweep(ctx context.Context) {
	if _, err := r.orch.ReapStaleRuns(ctx, r.timeout); err != nil {
		r.log.WithError(err).Warn("Stale run sweep failed")
	}
}
