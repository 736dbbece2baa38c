// Package review drives analysis runs: it accepts requests, hands them to
// the background worker, records results and serves run details.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/archive"
	"github.com/ethpandaops/reviewoor/pkg/cache"
	"github.com/ethpandaops/reviewoor/pkg/metrics"
	"github.com/ethpandaops/reviewoor/pkg/selector"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

// ErrInvalidRequest is returned for requests missing required fields.
var ErrInvalidRequest = errors.New("invalid analysis request")

const defaultContentFetchConcurrency = 8

// Request asks for a branch to be analyzed.
type Request struct {
	RepoURL    string
	BranchName string
	HostToken  string
}

// Job tells the worker which run to process. It only lives in the queue.
type Job struct {
	RunID         uint
	Request       Request
	UserID        uint
	CorrelationID string
}

// Enqueuer accepts jobs. It blocks while full and reports false only when
// it can no longer accept work.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) bool
}

// CacheKey scopes cached run details to their owner.
type CacheKey struct {
	RunID  uint
	UserID uint
}

// Config tunes the orchestrator.
type Config struct {
	MaxFiles                int
	Selector                selector.Config
	ContentFetchConcurrency int
}

// Deps are the collaborators of the orchestrator. Cache, Metrics and
// Archive are optional.
type Deps struct {
	Store    store.Store
	Host     source.Host
	Analyzer analyzer.Analyzer
	Queue    Enqueuer
	Cache    *cache.Cache[CacheKey, *RunDetail]
	Metrics  *metrics.Recorder
	Archive  archive.Archiver
}

// Orchestrator owns the run state machine.
type Orchestrator struct {
	log      logrus.FieldLogger
	cfg      Config
	store    store.Store
	host     source.Host
	analyzer analyzer.Analyzer
	queue    Enqueuer
	cache    *cache.Cache[CacheKey, *RunDetail]
	metrics  *metrics.Recorder
	archive  archive.Archiver
	sel      *selector.Selector
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(log logrus.FieldLogger, cfg Config, deps Deps) *Orchestrator {
	if cfg.ContentFetchConcurrency <= 0 {
		cfg.ContentFetchConcurrency = defaultContentFetchConcurrency
	}

	arch := deps.Archive
	if arch == nil {
		arch = archive.Noop{}
	}

	return &Orchestrator{
		log:      log.WithField("component", "orchestrator"),
		cfg:      cfg,
		store:    deps.Store,
		host:     deps.Host,
		analyzer: deps.Analyzer,
		queue:    deps.Queue,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		archive:  arch,
		sel:      selector.New(cfg.Selector),
		now:      time.Now,
	}
}

// RedactSecrets masks host tokens in s, including token itself when set.
func RedactSecrets(s, token string) string {
	if token != "" {
		s = strings.ReplaceAll(s, token, "[REDACTED]")
	}

	return source.RedactTokens(s)
}

// FailureSummary is the summary recorded for a run that failed with err.
func FailureSummary(err error, token string) string {
	if errors.Is(err, source.ErrRateLimited) {
		return RateLimitSummary
	}

	return failurePrefix + RedactSecrets(err.Error(), token)
}
