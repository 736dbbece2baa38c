package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	issueBatchSize  = 200
	maxListRunLimit = 100
)

// GetOrCreateRepository returns the repository owned by repo.UserID with
// repo.CloneURL, inserting repo when none exists. Host metadata of an
// existing row is refreshed.
func (s *store) GetOrCreateRepository(
	ctx context.Context, repo *Repository,
) (*Repository, error) {
	db := s.db.WithContext(ctx)

	var existing Repository

	err := db.Where("user_id = ? AND clone_url = ?", repo.UserID, repo.CloneURL).
		First(&existing).Error
	if err == nil {
		if existing.HostRepoID != repo.HostRepoID || existing.FullName != repo.FullName {
			existing.HostRepoID = repo.HostRepoID
			existing.FullName = repo.FullName
			existing.Owner = repo.Owner
			existing.Name = repo.Name

			if err := db.Save(&existing).Error; err != nil {
				return nil, fmt.Errorf("updating repository: %w", err)
			}
		}

		return &existing, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up repository: %w", err)
	}

	created := *repo
	if err := db.Create(&created).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("creating repository: %w", err)
		}

		// Lost a race with a concurrent insert.
		if err := db.Where("user_id = ? AND clone_url = ?", repo.UserID, repo.CloneURL).
			First(&existing).Error; err != nil {
			return nil, notFound("reloading repository", err)
		}

		return &existing, nil
	}

	return &created, nil
}

// CreateRun inserts run. ErrDuplicateRun is returned when another run for
// the same commit pair is still queued or running.
func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Omit("Repository").Create(run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("creating run: %w", ErrDuplicateRun)
		}

		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

// FindLatestRun returns the most recently created run for the commit pair.
func (s *store) FindLatestRun(
	ctx context.Context, repositoryID uint, baseSHA, headSHA string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where(
			"repository_id = ? AND base_commit_sha = ? AND head_commit_sha = ?",
			repositoryID, baseSHA, headSHA,
		).
		Order("created_at DESC, id DESC").
		First(&run).Error; err != nil {
		return nil, notFound("finding latest run", err)
	}

	return &run, nil
}

func (s *store) GetRun(ctx context.Context, id uint) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, notFound("getting run", err)
	}

	return &run, nil
}

// GetRunForUser returns the run with its repository when the repository
// belongs to userID. Runs of other users are reported as ErrNotFound.
func (s *store) GetRunForUser(
	ctx context.Context, id, userID uint,
) (*Run, error) {
	db := s.db.WithContext(ctx)
	owned := db.Model(&Repository{}).Select("id").Where("user_id = ?", userID)

	var run Run
	if err := db.Preload("Repository").
		Where("id = ? AND repository_id IN (?)", id, owned).
		First(&run).Error; err != nil {
		return nil, notFound("getting run for user", err)
	}

	return &run, nil
}

// CompleteRun moves an active run to completed and stores its issues and
// metrics in one transaction.
func (s *store) CompleteRun(
	ctx context.Context, id uint, outcome *RunOutcome,
) error {
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Run{}).
			Where("id = ? AND status IN ?", id, activeStatuses).
			Updates(map[string]any{
				"status":         StatusCompleted,
				"files_analyzed": outcome.FilesAnalyzed,
				"average_score":  outcome.AverageScore,
				"total_issues":   outcome.TotalIssues,
				"truncated":      outcome.Truncated,
				"summary":        outcome.Summary,
				"raw_output":     outcome.RawOutput,
				"completed_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("updating run: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return ErrRunNotActive
		}

		if len(outcome.Issues) > 0 {
			for i := range outcome.Issues {
				outcome.Issues[i].RunID = id
			}

			if err := tx.Omit("Run").
				CreateInBatches(outcome.Issues, issueBatchSize).Error; err != nil {
				return fmt.Errorf("inserting issues: %w", err)
			}
		}

		if outcome.MetricsJSON != "" {
			if err := tx.Omit("Run").Create(&RunMetrics{
				RunID:       id,
				MetricsJSON: outcome.MetricsJSON,
			}).Error; err != nil {
				return fmt.Errorf("inserting run metrics: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("completing run %d: %w", id, err)
	}

	return nil
}

// FailRun moves an active run to failed.
func (s *store) FailRun(ctx context.Context, id uint, summary string) error {
	res := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":       StatusFailed,
			"summary":      summary,
			"completed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failing run %d: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("failing run %d: %w", id, ErrRunNotActive)
	}

	return nil
}

// FailStaleRuns fails every active run created before createdBefore and
// returns their ids.
func (s *store) FailStaleRuns(
	ctx context.Context, createdBefore time.Time, summary string,
) ([]uint, error) {
	var ids []uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Run{}).
			Where("status IN ? AND created_at < ?", activeStatuses, createdBefore.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("listing stale runs: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&Run{}).
			Where("id IN ? AND status IN ?", ids, activeStatuses).
			Updates(map[string]any{
				"status":       StatusFailed,
				"summary":      summary,
				"completed_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("failing stale runs: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// ListRuns returns the user's runs, newest first.
func (s *store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	db := s.db.WithContext(ctx)

	repos := db.Model(&Repository{}).Select("id").Where("user_id = ?", filter.UserID)
	if filter.CloneURL != "" {
		repos = repos.Where("clone_url = ?", filter.CloneURL)
	}

	query := db.Preload("Repository").
		Where("repository_id IN (?)", repos).
		Order("created_at DESC, id DESC")

	if filter.BranchName != "" {
		query = query.Where("branch_name = ?", filter.BranchName)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListRunLimit {
		limit = maxListRunLimit
	}

	var runs []Run
	if err := query.Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListIssues returns a run's issues ordered by file path then line.
func (s *store) ListIssues(
	ctx context.Context, runID uint, filter IssueFilter,
) ([]Issue, error) {
	query := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("file_path ASC, line_start ASC, id ASC")

	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var issues []Issue
	if err := query.Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}

	return issues, nil
}

func (s *store) GetRunMetrics(
	ctx context.Context, runID uint,
) (*RunMetrics, error) {
	var m RunMetrics
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&m).Error; err != nil {
		return nil, notFound("getting run metrics", err)
	}

	return &m, nil
}

// RunStats aggregates runs created at or after since.
func (s *store) RunStats(
	ctx context.Context, since time.Time,
) (*RunStats, error) {
	db := s.db.WithContext(ctx)
	since = since.UTC()

	stats := &RunStats{
		Since:        since,
		Distribution: make(map[string]int64, 8),
	}

	var totals struct {
		Runs     int64
		Files    int64
		Issues   int64
		AvgScore float64
	}

	if err := db.Model(&Run{}).
		Select(
			"COUNT(*) AS runs, "+
				"COALESCE(SUM(files_analyzed), 0) AS files, "+
				"COALESCE(SUM(total_issues), 0) AS issues, "+
				"COALESCE(AVG(average_score), 0) AS avg_score",
		).
		Where("status = ? AND created_at >= ?", StatusCompleted, since).
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("aggregating runs: %w", err)
	}

	stats.CompletedRuns = totals.Runs
	stats.FilesAnalyzed = totals.Files
	stats.TotalIssues = totals.Issues
	stats.AverageScore = totals.AvgScore

	if err := db.Model(&Run{}).
		Where("status = ? AND created_at >= ?", StatusFailed, since).
		Count(&stats.FailedRuns).Error; err != nil {
		return nil, fmt.Errorf("counting failed runs: %w", err)
	}

	// Durations are computed here; date arithmetic differs per dialect.
	var finished []Run
	if err := db.Select("created_at", "completed_at").
		Where("status = ? AND created_at >= ? AND completed_at IS NOT NULL",
			StatusCompleted, since).
		Find(&finished).Error; err != nil {
		return nil, fmt.Errorf("loading run durations: %w", err)
	}

	if len(finished) > 0 {
		var total time.Duration
		for _, r := range finished {
			total += r.CompletedAt.Sub(r.CreatedAt)
		}

		stats.AverageDuration = total / time.Duration(len(finished))
	}

	var rows []struct {
		Severity string
		Category string
		Count    int64
	}

	if err := db.Model(&Issue{}).
		Select("issues.severity, issues.category, COUNT(*) AS count").
		Joins("JOIN runs ON runs.id = issues.run_id").
		Where("runs.created_at >= ?", since).
		Group("issues.severity, issues.category").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("aggregating issues: %w", err)
	}

	for _, row := range rows {
		stats.Distribution[row.Severity+":"+row.Category] += row.Count
	}

	return stats, nil
}
