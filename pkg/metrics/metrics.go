// Package metrics records run outcomes as OpenTelemetry instruments.
//
// Instruments:
//   - reviewoor.run.duration (Float64Histogram, s): processing time, by status
//   - reviewoor.runs (Int64Counter): finished runs, by status
//   - reviewoor.files.analyzed (Int64Counter): files sent to the analyzer
//   - reviewoor.issues (Int64Counter): issues found, by severity and category
//   - reviewoor.queue.depth (Int64ObservableGauge): pending jobs
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ethpandaops/reviewoor"

// IssueKey groups issue counts.
type IssueKey struct {
	Severity string
	Category string
}

// RunOutcome is what the orchestrator reports once a run is terminal.
type RunOutcome struct {
	Status   string
	Duration time.Duration
	Files    int
	Issues   map[IssueKey]int
}

// Recorder wraps the run instruments. A nil *Recorder is a valid no-op.
type Recorder struct {
	meter         metric.Meter
	runDuration   metric.Float64Histogram
	runs          metric.Int64Counter
	filesAnalyzed metric.Int64Counter
	issues        metric.Int64Counter
}

// NewWithMeter creates a recorder on the given meter.
func NewWithMeter(meter metric.Meter) *Recorder {
	// On error the API hands back no-op instruments.
	runDuration, _ := meter.Float64Histogram(
		"reviewoor.run.duration",
		metric.WithDescription("Duration of run processing in seconds"),
		metric.WithUnit("s"),
	)

	runs, _ := meter.Int64Counter(
		"reviewoor.runs",
		metric.WithDescription("Runs that reached a terminal status"),
		metric.WithUnit("{run}"),
	)

	filesAnalyzed, _ := meter.Int64Counter(
		"reviewoor.files.analyzed",
		metric.WithDescription("Files submitted to the analyzer"),
		metric.WithUnit("{file}"),
	)

	issues, _ := meter.Int64Counter(
		"reviewoor.issues",
		metric.WithDescription("Issues reported by the analyzer"),
		metric.WithUnit("{issue}"),
	)

	return &Recorder{
		meter:         meter,
		runDuration:   runDuration,
		runs:          runs,
		filesAnalyzed: filesAnalyzed,
		issues:        issues,
	}
}

// RecordRun records a terminal run.
func (r *Recorder) RecordRun(ctx context.Context, outcome RunOutcome) {
	if r == nil {
		return
	}

	status := metric.WithAttributes(attribute.String("status", outcome.Status))

	r.runDuration.Record(ctx, outcome.Duration.Seconds(), status)
	r.runs.Add(ctx, 1, status)

	if outcome.Files > 0 {
		r.filesAnalyzed.Add(ctx, int64(outcome.Files))
	}

	for key, n := range outcome.Issues {
		if n == 0 {
			continue
		}

		r.issues.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("severity", key.Severity),
			attribute.String("category", key.Category),
		))
	}
}

// ObserveQueueDepth registers a gauge reporting depth() on every
// collection.
func (r *Recorder) ObserveQueueDepth(depth func() int) error {
	if r == nil {
		return nil
	}

	_, err := r.meter.Int64ObservableGauge(
		"reviewoor.queue.depth",
		metric.WithDescription("Jobs waiting in the run queue"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(depth()))

			return nil
		}),
	)

	return err
}
