package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/archive"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunDetail is the poll response for a run. While the run is live only the
// identifying fields, status and file count are set.
type RunDetail struct {
	ID               uint                   `json:"id"`
	RepositoryID     uint                   `json:"repositoryId,omitempty"`
	RepoName         string                 `json:"repoName"`
	BranchName       string                 `json:"branchName"`
	DefaultBranch    string                 `json:"defaultBranch,omitempty"`
	BaseCommitSHA    string                 `json:"baseCommitSha,omitempty"`
	HeadCommitSHA    string                 `json:"headCommitSha,omitempty"`
	Status           string                 `json:"status"`
	FilesAnalyzed    int                    `json:"filesAnalyzed"`
	AverageScore     float64                `json:"averageScore"`
	TotalIssues      int                    `json:"totalIssues"`
	Truncated        bool                   `json:"truncated,omitempty"`
	Summary          string                 `json:"summary,omitempty"`
	IssuesBySeverity map[string]int         `json:"issuesBySeverity,omitempty"`
	FileMetrics      map[string]FileMetrics `json:"fileMetrics,omitempty"`
	Issues           []IssueView            `json:"issues,omitempty"`
	FileContents     map[string]string      `json:"fileContents,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
}

// IssueView is the API shape of an issue.
type IssueView struct {
	ID        uint    `json:"id"`
	FilePath  string  `json:"filePath"`
	LineStart *int    `json:"lineStart"`
	LineEnd   *int    `json:"lineEnd"`
	Severity  string  `json:"severity"`
	Category  string  `json:"category"`
	Message   string  `json:"message"`
	RuleID    *string `json:"ruleId"`
}

// RunListItem is one row of ListRuns.
type RunListItem struct {
	ID            uint       `json:"id"`
	RepositoryID  uint       `json:"repositoryId"`
	RepoName      string     `json:"repoName"`
	BranchName    string     `json:"branchName"`
	DefaultBranch string     `json:"defaultBranch"`
	BaseCommitSHA string     `json:"baseCommitSha"`
	HeadCommitSHA string     `json:"headCommitSha"`
	Status        string     `json:"status"`
	FilesAnalyzed int        `json:"filesAnalyzed"`
	AverageScore  float64    `json:"averageScore"`
	TotalIssues   int        `json:"totalIssues"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// RunFilter narrows ListRuns. RepoURL is matched on its canonical form.
type RunFilter struct {
	RepoURL    string
	BranchName string
	Limit      int
}

// Stats summarizes runs since a cutoff.
type Stats struct {
	Since           time.Time        `json:"since"`
	CompletedRuns   int64            `json:"completedRuns"`
	FailedRuns      int64            `json:"failedRuns"`
	FilesAnalyzed   int64            `json:"filesAnalyzed"`
	TotalIssues     int64            `json:"totalIssues"`
	AverageScore    float64          `json:"averageScore"`
	AverageDuration string           `json:"averageDuration"`
	Distribution    map[string]int64 `json:"distribution"`
}

// GetRunDetail returns the run if userID owns it. Terminal details are
// served from the cache when present and cached after computation.
func (o *Orchestrator) GetRunDetail(
	ctx context.Context, runID, userID uint,
) (*RunDetail, error) {
	key := CacheKey{RunID: runID, UserID: userID}

	if o.cache != nil {
		if detail, ok := o.cache.Get(key); ok {
			return detail, nil
		}
	}

	run, err := o.store.GetRunForUser(ctx, runID, userID)
	if err != nil {
		return nil, err
	}

	if !store.IsTerminal(run.Status) {
		return &RunDetail{
			ID:            run.ID,
			RepoName:      repoName(run),
			BranchName:    run.BranchName,
			Status:        run.Status,
			FilesAnalyzed: run.FilesAnalyzed,
			CreatedAt:     run.CreatedAt,
		}, nil
	}

	detail, err := o.buildDetail(ctx, run)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Set(key, detail)
	}

	return detail, nil
}

func (o *Orchestrator) buildDetail(
	ctx context.Context, run *store.Run,
) (*RunDetail, error) {
	log := o.log.WithField("run_id", run.ID)

	issues, err := o.store.ListIssues(ctx, run.ID, store.IssueFilter{})
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{
		ID:               run.ID,
		RepositoryID:     run.RepositoryID,
		RepoName:         repoName(run),
		BranchName:       run.BranchName,
		DefaultBranch:    run.DefaultBranch,
		BaseCommitSHA:    run.BaseCommitSHA,
		HeadCommitSHA:    run.HeadCommitSHA,
		Status:           run.Status,
		FilesAnalyzed:    run.FilesAnalyzed,
		AverageScore:     run.AverageScore,
		TotalIssues:      run.TotalIssues,
		Truncated:        run.Truncated,
		Summary:          run.Summary,
		IssuesBySeverity: NewSeverityCounts(),
		FileMetrics:      map[string]FileMetrics{},
		Issues:           make([]IssueView, 0, len(issues)),
		FileContents:     map[string]string{},
		CreatedAt:        run.CreatedAt,
		CompletedAt:      run.CompletedAt,
	}

	for _, is := range issues {
		detail.IssuesBySeverity[is.Severity]++
		detail.Issues = append(detail.Issues, toIssueView(is))
	}

	m, err := o.store.GetRunMetrics(ctx, run.ID)

	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(m.MetricsJSON), &detail.FileMetrics); err != nil {
			log.WithError(err).Warn("Failed to decode file metrics")

			detail.FileMetrics = map[string]FileMetrics{}
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if len(issues) > 0 && run.Repository != nil && run.HeadCommitSHA != "" {
		detail.FileContents = o.fetchContents(ctx, log, run, issues)
	}

	return detail, nil
}

// fetchContents loads every distinct issue path at the head commit.
// Files that cannot be fetched are omitted.
func (o *Orchestrator) fetchContents(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	issues []store.Issue,
) map[string]string {
	contents := make(map[string]string, len(issues))

	ref, err := source.ParseRepoURL(run.Repository.CloneURL)
	if err != nil {
		log.WithError(err).Warn("Stored repository URL is not parseable")

		return contents
	}

	// Tokens are not persisted, so reads use the system credential.
	client := o.host.Client("")

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, len(issues))
	)

	p := pool.New().WithMaxGoroutines(o.cfg.ContentFetchConcurrency)

	for _, is := range issues {
		if _, ok := seen[is.FilePath]; ok {
			continue
		}

		seen[is.FilePath] = struct{}{}
		path := is.FilePath

		p.Go(func() {
			content, err := client.GetFileContentAtRef(ctx, ref, path, run.HeadCommitSHA)
			if err != nil {
				log.WithError(err).WithField("path", path).
					Warn("Failed to fetch file content")

				return
			}

			mu.Lock()
			contents[path] = content
			mu.Unlock()
		})
	}

	p.Wait()

	log.WithFields(logrus.Fields{
		"requested": len(seen),
		"fetched":   len(contents),
	}).Debug("Fetched file contents")

	return contents
}

// ListRuns returns the user's runs, newest first.
func (o *Orchestrator) ListRuns(
	ctx context.Context, userID uint, filter RunFilter,
) ([]RunListItem, error) {
	limit := filter.Limit

	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	storeFilter := store.RunFilter{
		UserID:     userID,
		BranchName: strings.TrimSpace(filter.BranchName),
		Limit:      limit,
	}

	if filter.RepoURL != "" {
		storeFilter.CloneURL = source.SanitizeRepoURL(filter.RepoURL)
	}

	runs, err := o.store.ListRuns(ctx, storeFilter)
	if err != nil {
		return nil, err
	}

	items := make([]RunListItem, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		items = append(items, RunListItem{
			ID:            r.ID,
			RepositoryID:  r.RepositoryID,
			RepoName:      repoName(r),
			BranchName:    r.BranchName,
			DefaultBranch: r.DefaultBranch,
			BaseCommitSHA: r.BaseCommitSHA,
			HeadCommitSHA: r.HeadCommitSHA,
			Status:        r.Status,
			FilesAnalyzed: r.FilesAnalyzed,
			AverageScore:  r.AverageScore,
			TotalIssues:   r.TotalIssues,
			CreatedAt:     r.CreatedAt,
			CompletedAt:   r.CompletedAt,
		})
	}

	return items, nil
}

// ListIssues returns the issues of a run owned by userID. Severity and
// category filters match case-insensitively.
func (o *Orchestrator) ListIssues(
	ctx context.Context, runID, userID uint, filter store.IssueFilter,
) ([]IssueView, error) {
	if _, err := o.store.GetRunForUser(ctx, runID, userID); err != nil {
		return nil, err
	}

	filter.Severity = strings.ToLower(strings.TrimSpace(filter.Severity))
	filter.Category = strings.TrimSpace(filter.Category)

	issues, err := o.store.ListIssues(ctx, runID, store.IssueFilter{Severity: filter.Severity})
	if err != nil {
		return nil, err
	}

	views := make([]IssueView, 0, len(issues))
	for _, is := range issues {
		if filter.Category != "" && !strings.EqualFold(is.Category, filter.Category) {
			continue
		}

		views = append(views, toIssueView(is))
	}

	return views, nil
}

// ListBranches returns the branch names of a repository, sorted.
func (o *Orchestrator) ListBranches(
	ctx context.Context, repoURL, token string,
) ([]string, error) {
	ref, err := source.ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	branches, err := o.host.Client(token).ListBranches(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	sort.Strings(branches)

	return branches, nil
}

// Stats aggregates runs created since the cutoff.
func (o *Orchestrator) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	s, err := o.store.RunStats(ctx, since)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Since:           s.Since,
		CompletedRuns:   s.CompletedRuns,
		FailedRuns:      s.FailedRuns,
		FilesAnalyzed:   s.FilesAnalyzed,
		TotalIssues:     s.TotalIssues,
		AverageScore:    analyzer.Round2(s.AverageScore),
		AverageDuration: s.AverageDuration.Round(time.Millisecond).String(),
		Distribution:    s.Distribution,
	}, nil
}

// GetRawOutput returns the analyzer response of a completed run owned by
// userID, falling back to the archive when the row holds none.
func (o *Orchestrator) GetRawOutput(
	ctx context.Context, runID, userID uint,
) ([]byte, error) {
	run, err := o.store.GetRunForUser(ctx, runID, userID)
	if err != nil {
		return nil, err
	}

	if run.RawOutput != "" {
		return DecodeRawOutput(run.RawOutput)
	}

	gz, err := o.archive.Fetch(ctx, run.ID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, fmt.Errorf("raw output of run %d: %w", run.ID, store.ErrNotFound)
		}

		return nil, err
	}

	return Gunzip(gz)
}

func toIssueView(is store.Issue) IssueView {
	return IssueView{
		ID:        is.ID,
		FilePath:  is.FilePath,
		LineStart: is.LineStart,
		LineEnd:   is.LineEnd,
		Severity:  is.Severity,
		Category:  is.Category,
		Message:   is.Message,
		RuleID:    is.RuleID,
	}
}

func repoName(run *store.Run) string {
	if run.Repository == nil {
		return ""
	}

	if run.Repository.FullName != "" {
		return run.Repository.FullName
	}

	return run.Repository.Name
}
