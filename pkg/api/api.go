// Package api serves the HTTP interface and owns the lifecycle of the
// analysis pipeline behind it.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/archive"
	"github.com/ethpandaops/reviewoor/pkg/cache"
	"github.com/ethpandaops/reviewoor/pkg/config"
	"github.com/ethpandaops/reviewoor/pkg/metrics"
	"github.com/ethpandaops/reviewoor/pkg/queue"
	"github.com/ethpandaops/reviewoor/pkg/review"
	"github.com/ethpandaops/reviewoor/pkg/selector"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

// Option customizes a server before it starts.
type Option func(*server)

// WithSourceHost replaces the GitHub host adapter.
func WithSourceHost(h source.Host) Option {
	return func(s *server) { s.host = h }
}

// WithAnalyzer replaces the HTTP analyzer adapter.
func WithAnalyzer(a analyzer.Analyzer) Option {
	return func(s *server) { s.analyzer = a }
}

type server struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	store    store.Store
	host     source.Host
	analyzer analyzer.Analyzer
	archive  archive.Archiver
	queue    *queue.Queue[review.Job]
	worker   *queue.Worker[review.Job]
	orch     *review.Orchestrator
	reaper   *review.Reaper
	metrics  *metrics.Provider

	router     http.Handler
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	opts ...Option,
) Server {
	s := &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start wires the pipeline, starts the background worker and reaper, and
// starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	if s.reaper != nil {
		if err := s.reaper.Start(ctx); err != nil {
			return fmt.Errorf("starting reaper: %w", err)
		}
	}

	s.startSessionCleanup(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup builds every collaborator and the router without starting any
// goroutines that outlive it.
func (s *server) setup(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if len(s.cfg.Auth.Users) > 0 {
		if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	if s.host == nil {
		host, err := source.NewGitHubHost(s.log, source.GitHubConfig{
			Token:             s.cfg.GitHub.Token,
			BaseURL:           s.cfg.GitHub.BaseURL,
			RequestsPerSecond: s.cfg.GitHub.RequestsPerSecond,
		})
		if err != nil {
			return fmt.Errorf("creating github host: %w", err)
		}

		s.host = host
	}

	if s.analyzer == nil {
		s.analyzer = analyzer.NewHTTPAnalyzer(s.log, analyzer.HTTPConfig{
			URL:     s.cfg.Analyzer.URL,
			Secret:  s.cfg.Analyzer.Secret,
			Timeout: s.cfg.Analyzer.TimeoutDuration(),
		})
	}

	arch, err := archive.New(s.log, &s.cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	if err := arch.Preflight(ctx); err != nil {
		return fmt.Errorf("archive preflight: %w", err)
	}

	s.archive = arch
	s.queue = queue.New[review.Job](s.cfg.Analysis.QueueSize)

	var recorder *metrics.Recorder

	if s.cfg.Metrics.Enabled {
		s.metrics = metrics.NewProvider()
		recorder = s.metrics.Recorder()

		if err := recorder.ObserveQueueDepth(s.queue.Len); err != nil {
			return fmt.Errorf("registering queue depth gauge: %w", err)
		}
	}

	s.orch = review.NewOrchestrator(s.log, review.Config{
		MaxFiles: s.cfg.Analysis.MaxFiles,
		Selector: selector.Config{
			Extensions:   s.cfg.Analysis.Extensions,
			ExcludePaths: s.cfg.Analysis.ExcludePaths,
			MaxFileSize:  s.cfg.Analysis.MaxFileSizeBytes(),
		},
		ContentFetchConcurrency: s.cfg.Analysis.ContentFetchConcurrency,
	}, review.Deps{
		Store:    s.store,
		Host:     s.host,
		Analyzer: s.analyzer,
		Queue:    s.queue,
		Cache: cache.New[review.CacheKey, *review.RunDetail](
			s.cfg.Analysis.CacheSize, s.cfg.Analysis.CacheTTLDuration(),
		),
		Metrics: recorder,
		Archive: s.archive,
	})

	s.worker = queue.NewWorker(
		s.log, s.queue, s.orch.ProcessRun, s.orch.HandleJobError,
	)

	if timeout := s.cfg.Analysis.StaleRunTimeoutDuration(); timeout > 0 {
		s.reaper = review.NewReaper(
			s.log, s.orch, timeout, s.cfg.Analysis.ReapIntervalDuration(),
		)
	}

	s.router = s.buildRouter()

	return nil
}

func (s *server) startSessionCleanup(ctx context.Context) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.store.DeleteExpiredSessions(ctx); err != nil {
					s.log.WithError(err).
						Warn("Failed to clean expired sessions")
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Stop shuts down the HTTP server, closes the queue, waits for the worker
// and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	if s.queue != nil {
		s.queue.Close()
	}

	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			s.log.WithError(err).Warn("Worker stop error")
		}
	}

	if s.reaper != nil {
		if err := s.reaper.Stop(); err != nil {
			s.log.WithError(err).Warn("Reaper stop error")
		}
	}

	s.wg.Wait()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(context.Background()); err != nil {
			s.log.WithError(err).Warn("Metrics shutdown error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
