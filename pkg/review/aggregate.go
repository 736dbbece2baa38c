package review

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/metrics"
)

// Complexity levels derived from a file's score and issue counts.
const (
	ComplexityLow      = "low"
	ComplexityMedium   = "medium"
	ComplexityHigh     = "high"
	ComplexityVeryHigh = "very_high"
)

// Inferred categories.
const (
	CategorySecurity    = "Security"
	CategoryPerformance = "Performance"
	CategoryStyle       = "Style"
	CategoryGeneral     = "General"
)

// Summaries written on terminal transitions.
const (
	ZeroFileSummary = "No files found for analysis. This may occur if: " +
		"1) Branch has no changes compared to default, " +
		"2) All files were filtered out, 3) Branch is empty."
	RateLimitSummary = "GitHub API rate limit exceeded. " +
		"Please provide a GitHub token or wait before retrying."
	failurePrefix = "Analysis failed: "
)

// FileMetrics is the per-file entry of a run's metrics blob.
type FileMetrics struct {
	ComplexityLevel string `json:"complexity_level"`
	FunctionCount   int    `json:"function_count"`
	LinesOfCode     int    `json:"lines_of_code"`
}

// Aggregate is the persisted shape of an analyzer batch result.
type Aggregate struct {
	FilesAnalyzed int
	AverageScore  float64
	TotalIssues   int
	BySeverity    map[string]int
	ByKey         map[metrics.IssueKey]int
	FileMetrics   map[string]FileMetrics
	Issues        []store.Issue
}

// Summary formats the completion summary.
func (a *Aggregate) Summary() string {
	return fmt.Sprintf(
		"Analyzed %d files. Score: %.2f/100. Issues: %d",
		a.FilesAnalyzed, a.AverageScore, a.TotalIssues,
	)
}

// AggregateResult turns an analyzer result into issue rows, severity
// counts and per-file metrics. Run totals are derived from the per-file
// results; batch totals reported by the analyzer are ignored.
func AggregateResult(res *analyzer.Result) *Aggregate {
	agg := &Aggregate{
		FilesAnalyzed: len(res.Files),
		BySeverity:    NewSeverityCounts(),
		ByKey:         make(map[metrics.IssueKey]int, 8),
		FileMetrics:   make(map[string]FileMetrics, len(res.Files)),
		Issues:        make([]store.Issue, 0, len(res.Files)),
	}

	var scoreSum float64

	for _, f := range res.Files {
		var errs, warnings int

		scoreSum += f.Score

		for _, is := range f.Issues {
			severity := analyzer.NormalizeSeverity(is.Severity)

			switch severity {
			case analyzer.SeverityCritical, analyzer.SeverityMajor:
				errs++
			case analyzer.SeverityMinor:
				warnings++
			}

			category := is.Category
			if category == "" {
				category = InferCategory(is.Message)
			}

			agg.BySeverity[severity]++
			agg.ByKey[metrics.IssueKey{Severity: severity, Category: category}]++
			agg.Issues = append(agg.Issues, toIssueRow(f.Path, severity, category, is))
		}

		agg.FileMetrics[f.Path] = FileMetrics{
			ComplexityLevel: ComplexityLevel(f.Score, errs, warnings),
		}
	}

	agg.TotalIssues = len(agg.Issues)
	if agg.FilesAnalyzed > 0 {
		agg.AverageScore = analyzer.Round2(scoreSum / float64(agg.FilesAnalyzed))
	}

	return agg
}

func toIssueRow(path, severity, category string, is analyzer.Issue) store.Issue {
	row := store.Issue{
		FilePath: path,
		Severity: severity,
		Category: category,
		Message:  is.Message,
	}

	if is.Line > 0 {
		line := is.Line
		row.LineStart = &line
		row.LineEnd = &line
	}

	if is.RuleID != "" {
		rule := is.RuleID
		row.RuleID = &rule
	}

	return row
}

// NewSeverityCounts returns a count map seeded with every severity.
func NewSeverityCounts() map[string]int {
	return map[string]int{
		analyzer.SeverityCritical: 0,
		analyzer.SeverityMajor:    0,
		analyzer.SeverityMinor:    0,
		analyzer.SeverityInfo:     0,
	}
}

// ComplexityLevel classifies a file. errs counts critical and major
// issues, warnings counts minor ones.
func ComplexityLevel(score float64, errs, warnings int) string {
	switch {
	case score < 50 || errs > 10:
		return ComplexityVeryHigh
	case score < 70 || errs > 5:
		return ComplexityHigh
	case score < 85 || warnings > 10:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

// InferCategory guesses a category from an issue message.
func InferCategory(message string) string {
	msg := strings.ToLower(message)

	switch {
	case containsAny(msg, "security", "injection", "xss"):
		return CategorySecurity
	case containsAny(msg, "performance", "slow", "optimization"):
		return CategoryPerformance
	case containsAny(msg, "style", "format", "indentation"):
		return CategoryStyle
	default:
		return CategoryGeneral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}
