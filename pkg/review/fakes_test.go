package review

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/cache"
	"github.com/ethpandaops/reviewoor/pkg/config"
	"github.com/ethpandaops/reviewoor/pkg/selector"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

const (
	widgetsURL = "https://github.com/acme/widgets"
	baseSHA    = "aaa111"
	headSHA    = "bbb222"
)

// fakeHost serves one repository from memory.
type fakeHost struct {
	mu sync.Mutex

	repo       source.Repository
	repoErr    error
	tips       map[string]string
	tipErr     error
	tree       []source.TreeEntry
	treeErr    error
	onTree     func()
	blobs      map[string][]byte
	contents   map[string]string
	branches   []string
	tokens     []string
	contentHit int
}

func newWidgetsHost() *fakeHost {
	return &fakeHost{
		repo: source.Repository{
			HostID: 42, Owner: "acme", Name: "widgets", FullName: "acme/widgets",
			DefaultBranch: "main", CloneURL: widgetsURL,
		},
		tips: map[string]string{"main": baseSHA, "feature-x": headSHA},
		tree: []source.TreeEntry{
			{Path: "src/a.js", SHA: "sha-a", Size: 10},
			{Path: "src/b.py", SHA: "sha-b", Size: 10},
			{Path: "src/c.go", SHA: "sha-c", Size: 10},
			{Path: "README.md", SHA: "sha-readme", Size: 10},
			{Path: "node_modules/x/index.js", SHA: "sha-nm", Size: 10},
		},
		blobs: map[string][]byte{
			"sha-a": []byte("alert(1)"),
			"sha-b": []byte("print('hi')"),
			"sha-c": []byte("package main"),
		},
		contents: map[string]string{
			"src/a.js": "alert(1)",
			"src/b.py": "print('hi')",
		},
		branches: []string{"main", "feature-x", "develop"},
	}
}

func (h *fakeHost) Client(token string) source.Client {
	h.mu.Lock()
	h.tokens = append(h.tokens, token)
	h.mu.Unlock()

	return &fakeSourceClient{h: h}
}

func (h *fakeHost) setTree(entries []source.TreeEntry, blobs map[string][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tree = entries
	h.blobs = blobs
}

func (h *fakeHost) contentCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.contentHit
}

type fakeSourceClient struct {
	h *fakeHost
}

func (c *fakeSourceClient) GetRepository(_ context.Context, _ source.RepoRef) (*source.Repository, error) {
	if c.h.repoErr != nil {
		return nil, c.h.repoErr
	}

	repo := c.h.repo

	return &repo, nil
}

func (c *fakeSourceClient) GetDefaultBranch(_ context.Context, _ source.RepoRef) (string, error) {
	return c.h.repo.DefaultBranch, nil
}

func (c *fakeSourceClient) GetBranchTip(_ context.Context, _ source.RepoRef, branch string) (string, error) {
	if c.h.tipErr != nil {
		return "", c.h.tipErr
	}

	sha, ok := c.h.tips[branch]
	if !ok {
		return "", fmt.Errorf("branch %s: %w", branch, source.ErrNotFound)
	}

	return sha, nil
}

func (c *fakeSourceClient) ListBranches(_ context.Context, _ source.RepoRef) ([]string, error) {
	return append([]string(nil), c.h.branches...), nil
}

func (c *fakeSourceClient) GetFileTree(_ context.Context, _ source.RepoRef, _ string) ([]source.TreeEntry, error) {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()

	if c.h.onTree != nil {
		c.h.onTree()
	}

	if c.h.treeErr != nil {
		return nil, c.h.treeErr
	}

	return append([]source.TreeEntry(nil), c.h.tree...), nil
}

func (c *fakeSourceClient) GetBlobContent(_ context.Context, _ source.RepoRef, sha string) ([]byte, error) {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()

	data, ok := c.h.blobs[sha]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", sha, source.ErrNotFound)
	}

	return data, nil
}

func (c *fakeSourceClient) GetFileContentAtRef(
	_ context.Context, _ source.RepoRef, path, _ string,
) (string, error) {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()

	c.h.contentHit++

	content, ok := c.h.contents[path]
	if !ok {
		return "", fmt.Errorf("content %s: %w", path, source.ErrNotFound)
	}

	return content, nil
}

// fakeAnalyzer scores every file from a fixed table.
type fakeAnalyzer struct {
	mu     sync.Mutex
	scores map[string]float64
	issues map[string][]analyzer.Issue
	err    error
	calls  [][]analyzer.File

	// panicWith, when set, makes AnalyzeFiles panic with it.
	panicWith any
}

func newWidgetsAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		scores: map[string]float64{"src/a.js": 80, "src/b.py": 95, "src/c.go": 72.5},
		issues: map[string][]analyzer.Issue{
			"src/a.js": {
				{Line: 1, Severity: "major", Message: "Possible XSS sink"},
				{Line: 3, Severity: "minor", Category: "Style", Message: "missing semicolon", RuleID: "semi"},
			},
			"src/c.go": {
				{Line: 0, Severity: "info", Message: "consider a doc comment"},
			},
		},
	}
}

func (a *fakeAnalyzer) AnalyzeFiles(_ context.Context, files []analyzer.File) (*analyzer.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, files)

	if a.err != nil {
		return nil, a.err
	}

	if a.panicWith != nil {
		panic(a.panicWith)
	}

	// Per-file results only; run totals are the orchestrator's job.
	res := &analyzer.Result{Raw: []byte(`{"success":true}`)}

	for _, f := range files {
		res.Files = append(res.Files, analyzer.FileResult{
			Path:   f.Path,
			Score:  a.scores[f.Path],
			Issues: a.issues[f.Path],
		})
	}

	return res, nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.calls)
}

// recordingQueue captures jobs instead of running them.
type recordingQueue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, job)

	return true
}

func (q *recordingQueue) taken() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]Job(nil), q.jobs...)
}

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	s := store.NewStore(quietLog(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

type harness struct {
	orch     *Orchestrator
	store    store.Store
	host     *fakeHost
	analyzer *fakeAnalyzer
	queue    *recordingQueue
	cache    *cache.Cache[CacheKey, *RunDetail]
}

func newHarness(t *testing.T, maxFiles int) *harness {
	t.Helper()

	h := &harness{
		store:    setupTestStore(t),
		host:     newWidgetsHost(),
		analyzer: newWidgetsAnalyzer(),
		queue:    &recordingQueue{},
		cache:    cache.New[CacheKey, *RunDetail](16, 0),
	}

	h.orch = NewOrchestrator(quietLog(), Config{
		MaxFiles: maxFiles,
		Selector: selector.Config{
			Extensions:   config.DefaultExtensions,
			ExcludePaths: config.DefaultExcludePaths,
			MaxFileSize:  512000,
		},
	}, Deps{
		Store:    h.store,
		Host:     h.host,
		Analyzer: h.analyzer,
		Queue:    h.queue,
		Cache:    h.cache,
	})

	return h
}

func widgetsRequest() Request {
	return Request{RepoURL: widgetsURL, BranchName: "feature-x"}
}
