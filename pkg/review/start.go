package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/correlation"
	"github.com/ethpandaops/reviewoor/pkg/queue"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

// StartResult describes the run a StartRun call resolved to.
type StartResult struct {
	RunID         uint
	Status        string
	Created       bool
	FilesAnalyzed int
	TotalIssues   int
	AverageScore  float64
}

// StartRun resolves the commit pair of req and returns the run analyzing
// it, creating and enqueueing a new run unless a live or successful one
// already exists. It never waits for analysis.
func (o *Orchestrator) StartRun(
	ctx context.Context, req Request, userID uint,
) (*StartResult, error) {
	req.BranchName = strings.TrimSpace(req.BranchName)
	if req.BranchName == "" {
		return nil, fmt.Errorf("%w: branch name is required", ErrInvalidRequest)
	}

	ref, err := source.ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{
		"repo":           ref.FullName(),
		"branch":         req.BranchName,
		"correlation_id": correlation.FromContext(ctx),
	})

	client := o.host.Client(req.HostToken)

	meta, err := client.GetRepository(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving repository: %w", err)
	}

	repo, err := o.store.GetOrCreateRepository(ctx, &store.Repository{
		UserID:     userID,
		Host:       "github",
		Owner:      ref.Owner,
		Name:       ref.Name,
		FullName:   ref.FullName(),
		HostRepoID: meta.HostID,
		CloneURL:   ref.CloneURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("registering repository: %w", err)
	}

	defaultBranch := meta.DefaultBranch
	if defaultBranch == "" {
		if defaultBranch, err = client.GetDefaultBranch(ctx, ref); err != nil {
			return nil, fmt.Errorf("resolving default branch: %w", err)
		}
	}

	var baseSHA, headSHA string

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sha, err := client.GetBranchTip(gctx, ref, defaultBranch)
		if err != nil {
			return fmt.Errorf("resolving tip of %s: %w", defaultBranch, err)
		}

		baseSHA = sha

		return nil
	})

	g.Go(func() error {
		sha, err := client.GetBranchTip(gctx, ref, req.BranchName)
		if err != nil {
			return fmt.Errorf("resolving tip of %s: %w", req.BranchName, err)
		}

		headSHA = sha

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	existing, err := o.store.FindLatestRun(ctx, repo.ID, baseSHA, headSHA)

	switch {
	case errors.Is(err, store.ErrNotFound):
		// First run for this commit pair.
	case err != nil:
		return nil, fmt.Errorf("looking up run: %w", err)
	case reusable(existing):
		log.WithFields(logrus.Fields{
			"run_id": existing.ID,
			"status": existing.Status,
		}).Info("Reusing existing run")

		return resultFor(existing, false), nil
	default:
		log.WithFields(logrus.Fields{
			"run_id": existing.ID,
			"status": existing.Status,
		}).Info("Previous run is not reusable, starting a new one")
	}

	run := &store.Run{
		RepositoryID:  repo.ID,
		BranchName:    req.BranchName,
		DefaultBranch: defaultBranch,
		BaseCommitSHA: baseSHA,
		HeadCommitSHA: headSHA,
		Status:        store.StatusRunning,
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		if !errors.Is(err, store.ErrDuplicateRun) {
			return nil, fmt.Errorf("creating run: %w", err)
		}

		// Another request created the live run first.
		winner, err := o.store.FindLatestRun(ctx, repo.ID, baseSHA, headSHA)
		if err != nil {
			return nil, fmt.Errorf("looking up concurrent run: %w", err)
		}

		return resultFor(winner, false), nil
	}

	log = log.WithField("run_id", run.ID)

	job := Job{
		RunID:         run.ID,
		Request:       req,
		UserID:        userID,
		CorrelationID: correlation.FromContext(ctx),
	}

	if !o.queue.Enqueue(ctx, job) {
		enqueueErr := queue.ErrClosed
		if ctx.Err() != nil {
			enqueueErr = ctx.Err()
		}

		if err := o.store.FailRun(
			context.WithoutCancel(ctx), run.ID, FailureSummary(enqueueErr, ""),
		); err != nil {
			log.WithError(err).Warn("Failed to mark unqueued run as failed")
		}

		return nil, fmt.Errorf("enqueueing run %d: %w", run.ID, enqueueErr)
	}

	log.WithFields(logrus.Fields{
		"base": baseSHA,
		"head": headSHA,
	}).Info("Run queued")

	return resultFor(run, true), nil
}

// reusable reports whether a StartRun for the same commit pair should
// return run instead of creating a new one.
func reusable(run *store.Run) bool {
	switch run.Status {
	case store.StatusQueued, store.StatusRunning:
		return true
	case store.StatusCompleted:
		// Zero-file completions are not trusted as final.
		return run.FilesAnalyzed > 0
	default:
		return false
	}
}

func resultFor(run *store.Run, created bool) *StartResult {
	res := &StartResult{
		RunID:   run.ID,
		Status:  run.Status,
		Created: created,
	}

	if run.Status == store.StatusCompleted {
		res.FilesAnalyzed = run.FilesAnalyzed
		res.TotalIssues = run.TotalIssues
		res.AverageScore = run.AverageScore
	}

	return res
}
