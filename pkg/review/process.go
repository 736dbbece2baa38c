package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/correlation"
	"github.com/ethpandaops/reviewoor/pkg/metrics"
	"github.com/ethpandaops/reviewoor/pkg/selector"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

// ProcessRun executes a queued job. Runs that are no longer running are
// skipped. On error the run is marked failed before the error is returned.
// ctx is checked between steps; adapter calls already in flight run to
// completion or their own timeout.
func (o *Orchestrator) ProcessRun(ctx context.Context, job Job) error {
	ctx = correlation.WithID(ctx, job.CorrelationID)

	log := o.log.WithFields(logrus.Fields{
		"run_id":         job.RunID,
		"correlation_id": job.CorrelationID,
	})

	run, err := o.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("loading run %d: %w", job.RunID, err)
	}

	if run.Status != store.StatusRunning {
		log.WithField("status", run.Status).Debug("Skipping run that is not running")

		return nil
	}

	start := o.now()

	if err := o.process(ctx, log, run, job, start); err != nil {
		if errors.Is(err, store.ErrRunNotActive) {
			log.Warn("Run left the running state while it was processed")

			return nil
		}

		log.WithError(err).Warn("Run failed")
		o.markFailed(context.WithoutCancel(ctx), log, run.ID, err, job.Request.HostToken, start)

		return err
	}

	return nil
}

// HandleJobError is the worker's failure hook. It covers handler panics;
// runs already failed by ProcessRun are left untouched.
func (o *Orchestrator) HandleJobError(ctx context.Context, job Job, err error) {
	log := o.log.WithFields(logrus.Fields{
		"run_id":         job.RunID,
		"correlation_id": job.CorrelationID,
	})

	o.markFailed(ctx, log, job.RunID, err, job.Request.HostToken, time.Time{})
}

func (o *Orchestrator) process(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	job Job,
	start time.Time,
) error {
	ref, err := source.ParseRepoURL(job.Request.RepoURL)
	if err != nil {
		return err
	}

	client := o.host.Client(job.Request.HostToken)
	adapterCtx := context.WithoutCancel(ctx)

	files, stats, err := source.FetchEligibleFiles(
		adapterCtx, log, client, ref, run.HeadCommitSHA, o.sel,
	)
	if err != nil {
		return fmt.Errorf("fetching files: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tree_entries": stats.TreeEntries,
		"eligible":     len(files),
		"binary":       stats.Binary,
		"failed":       stats.Failed,
	}).Info("Fetched eligible files")

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(files) == 0 {
		if err := o.store.CompleteRun(ctx, run.ID, &store.RunOutcome{
			Summary: ZeroFileSummary,
		}); err != nil {
			return fmt.Errorf("recording zero-file run: %w", err)
		}

		o.metrics.RecordRun(ctx, metrics.RunOutcome{
			Status:   store.StatusCompleted,
			Duration: o.now().Sub(start),
		})

		log.Info("Run completed with no eligible files")

		return nil
	}

	files, truncated := selector.Truncate(files, o.cfg.MaxFiles)
	if truncated {
		log.WithField("max_files", o.cfg.MaxFiles).Warn("File set truncated")
	}

	result, err := o.analyzer.AnalyzeFiles(adapterCtx, toAnalyzerFiles(files))
	if err != nil {
		return fmt.Errorf("analyzing files: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	agg := AggregateResult(result)

	metricsJSON, err := json.Marshal(agg.FileMetrics)
	if err != nil {
		return fmt.Errorf("encoding file metrics: %w", err)
	}

	gz, err := Gzip(result.Raw)
	if err != nil {
		return fmt.Errorf("compressing analyzer output: %w", err)
	}

	if err := o.store.CompleteRun(ctx, run.ID, &store.RunOutcome{
		FilesAnalyzed: agg.FilesAnalyzed,
		AverageScore:  agg.AverageScore,
		TotalIssues:   agg.TotalIssues,
		Truncated:     truncated,
		Summary:       agg.Summary(),
		RawOutput:     EncodeRawOutput(gz),
		Issues:        agg.Issues,
		MetricsJSON:   string(metricsJSON),
	}); err != nil {
		return fmt.Errorf("recording results: %w", err)
	}

	o.metrics.RecordRun(ctx, metrics.RunOutcome{
		Status:   store.StatusCompleted,
		Duration: o.now().Sub(start),
		Files:    agg.FilesAnalyzed,
		Issues:   agg.ByKey,
	})

	if err := o.archive.Put(ctx, run.ID, gz); err != nil {
		log.WithError(err).Warn("Failed to archive analyzer output")
	}

	log.WithFields(logrus.Fields{
		"files":         agg.FilesAnalyzed,
		"issues":        agg.TotalIssues,
		"average_score": agg.AverageScore,
		"truncated":     truncated,
		"duration":      o.now().Sub(start).Round(time.Millisecond),
	}).Info("Run completed")

	return nil
}

// markFailed records err on the run. Errors are logged, never returned.
func (o *Orchestrator) markFailed(
	ctx context.Context,
	log logrus.FieldLogger,
	runID uint,
	cause error,
	token string,
	start time.Time,
) {
	if err := o.store.FailRun(ctx, runID, FailureSummary(cause, token)); err != nil {
		if errors.Is(err, store.ErrRunNotActive) {
			log.Debug("Run already terminal, failure not recorded")
		} else {
			log.WithError(err).Error("Failed to mark run as failed")
		}

		return
	}

	outcome := metrics.RunOutcome{Status: store.StatusFailed}
	if !start.IsZero() {
		outcome.Duration = o.now().Sub(start)
	}

	o.metrics.RecordRun(ctx, outcome)
}

func toAnalyzerFiles(files []selector.File) []analyzer.File {
	out := make([]analyzer.File, 0, len(files))
	for _, f := range files {
		out = append(out, analyzer.File{Path: f.Path, Content: f.Content})
	}

	return out
}
