package store

import (
	"time"
)

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// activeStatuses are the statuses a run may leave.
var activeStatuses = []string{StatusQueued, StatusRunning}

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an active user session.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// Repository is a source repository registered by a user.
type Repository struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_repos_user_url" json:"user_id"`
	Host       string    `gorm:"not null" json:"host"`
	Owner      string    `gorm:"not null" json:"owner"`
	Name       string    `gorm:"not null" json:"name"`
	FullName   string    `gorm:"not null" json:"full_name"`
	HostRepoID int64     `json:"host_repo_id"`
	CloneURL   string    `gorm:"not null;uniqueIndex:idx_repos_user_url" json:"clone_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Run is one analysis of a (base, head) commit pair. At most one run per
// (repository, base, head) may be queued or running at a time.
type Run struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	RepositoryID  uint        `gorm:"not null;index:idx_runs_key,priority:1;uniqueIndex:idx_runs_live_key,priority:1,where:status <> 'completed' AND status <> 'failed'" json:"repository_id"`
	Repository    *Repository `gorm:"constraint:OnDelete:CASCADE" json:"repository,omitempty"`
	BranchName    string      `gorm:"not null;index" json:"branch_name"`
	DefaultBranch string      `gorm:"not null" json:"default_branch"`
	BaseCommitSHA string      `gorm:"not null;index:idx_runs_key,priority:2;uniqueIndex:idx_runs_live_key,priority:2" json:"base_commit_sha"`
	HeadCommitSHA string      `gorm:"not null;index:idx_runs_key,priority:3;uniqueIndex:idx_runs_live_key,priority:3" json:"head_commit_sha"`
	Status        string      `gorm:"not null;index" json:"status"`
	FilesAnalyzed int         `gorm:"not null;default:0" json:"files_analyzed"`
	AverageScore  float64     `gorm:"not null;default:0" json:"average_score"`
	TotalIssues   int         `gorm:"not null;default:0" json:"total_issues"`
	Truncated     bool        `gorm:"not null;default:false" json:"truncated"`
	Summary       string      `gorm:"type:text" json:"summary"`
	RawOutput     string      `gorm:"type:text" json:"-"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at"`
}

// Issue is a single finding attached to a completed run.
type Issue struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     uint      `gorm:"not null;index" json:"run_id"`
	Run       *Run      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	FilePath  string    `gorm:"not null;index" json:"file_path"`
	LineStart *int      `json:"line_start"`
	LineEnd   *int      `json:"line_end"`
	Severity  string    `gorm:"not null;index" json:"severity"`
	Category  string    `gorm:"not null" json:"category"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	RuleID    *string   `json:"rule_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RunMetrics holds the serialized per-file metrics of a completed run.
type RunMetrics struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       uint      `gorm:"not null;uniqueIndex" json:"run_id"`
	Run         *Run      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	MetricsJSON string    `gorm:"type:text;not null" json:"metrics_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunOutcome is everything written when a run completes.
type RunOutcome struct {
	FilesAnalyzed int
	AverageScore  float64
	TotalIssues   int
	Truncated     bool
	Summary       string
	RawOutput     string
	Issues        []Issue
	MetricsJSON   string
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	UserID     uint
	CloneURL   string
	BranchName string
	Limit      int
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	Severity string
	Category string
}

// RunStats aggregates completed runs over a window.
type RunStats struct {
	Since           time.Time        `json:"since"`
	CompletedRuns   int64            `json:"completed_runs"`
	FailedRuns      int64            `json:"failed_runs"`
	FilesAnalyzed   int64            `json:"files_analyzed"`
	TotalIssues     int64            `json:"total_issues"`
	AverageScore    float64          `json:"average_score"`
	AverageDuration time.Duration    `json:"-"`
	Distribution    map[string]int64 `json:"distribution"`
}
