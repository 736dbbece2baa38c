package review

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reviewoor/pkg/analyzer"
	"github.com/ethpandaops/reviewoor/pkg/metrics"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

func TestComplexityLevel(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		errs     int
		warnings int
		expected string
	}{
		{name: "clean file", score: 95, expected: ComplexityLow},
		{name: "boundary 85 is low", score: 85, expected: ComplexityLow},
		{name: "score below 85", score: 84.99, expected: ComplexityMedium},
		{name: "many warnings", score: 99, warnings: 11, expected: ComplexityMedium},
		{name: "ten warnings stay low", score: 99, warnings: 10, expected: ComplexityLow},
		{name: "score below 70", score: 69, expected: ComplexityHigh},
		{name: "six errors", score: 99, errs: 6, expected: ComplexityHigh},
		{name: "score below 50", score: 49.9, expected: ComplexityVeryHigh},
		{name: "eleven errors", score: 99, errs: 11, expected: ComplexityVeryHigh},
		{name: "zero score", score: 0, expected: ComplexityVeryHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComplexityLevel(tt.score, tt.errs, tt.warnings))
		})
	}
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{"Possible SQL Injection", CategorySecurity},
		{"reflected XSS", CategorySecurity},
		{"security hotspot", CategorySecurity},
		{"Slow loop", CategoryPerformance},
		{"missed optimization", CategoryPerformance},
		{"bad Indentation", CategoryStyle},
		{"format string", CategoryStyle},
		{"unused variable", CategoryGeneral},
		{"", CategoryGeneral},
		// Security wins over later matches.
		{"slow xss check", CategorySecurity},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferCategory(tt.message))
		})
	}
}

func TestAggregateResult(t *testing.T) {
	res := &analyzer.Result{
		FilesAnalyzed: 2,
		AverageScore:  60,
		TotalIssues:   4,
		Files: []analyzer.FileResult{
			{
				Path:  "a.go",
				Score: 40,
				Issues: []analyzer.Issue{
					{Line: 4, Severity: "critical", Category: "Bug", Message: "nil deref", RuleID: "SA5011"},
					{Line: 9, Severity: "ERROR", Message: "slow path"},
					{Severity: "warning", Message: "style nit"},
				},
			},
			{
				Path:   "b.go",
				Score:  80,
				Issues: []analyzer.Issue{{Line: 2, Severity: "weird", Message: "note"}},
			},
		},
	}

	agg := AggregateResult(res)

	assert.Equal(t, 2, agg.FilesAnalyzed)
	assert.InDelta(t, 60, agg.AverageScore, 0.001)
	assert.Equal(t, 4, agg.TotalIssues)
	assert.Equal(t, "Analyzed 2 files. Score: 60.00/100. Issues: 4", agg.Summary())

	assert.Equal(t, map[string]int{
		"critical": 1, "major": 1, "minor": 1, "info": 1,
	}, agg.BySeverity)

	assert.Equal(t, 1, agg.ByKey[metrics.IssueKey{Severity: "critical", Category: "Bug"}])
	assert.Equal(t, 1, agg.ByKey[metrics.IssueKey{Severity: "major", Category: CategoryPerformance}])
	assert.Equal(t, 1, agg.ByKey[metrics.IssueKey{Severity: "minor", Category: CategoryStyle}])
	assert.Equal(t, 1, agg.ByKey[metrics.IssueKey{Severity: "info", Category: CategoryGeneral}])

	assert.Equal(t, ComplexityVeryHigh, agg.FileMetrics["a.go"].ComplexityLevel)
	assert.Equal(t, ComplexityMedium, agg.FileMetrics["b.go"].ComplexityLevel)

	require.Len(t, agg.Issues, 4)

	first := agg.Issues[0]
	assert.Equal(t, "a.go", first.FilePath)
	require.NotNil(t, first.LineStart)
	require.NotNil(t, first.LineEnd)
	assert.Equal(t, 4, *first.LineStart)
	assert.Equal(t, 4, *first.LineEnd)
	require.NotNil(t, first.RuleID)
	assert.Equal(t, "SA5011", *first.RuleID)

	third := agg.Issues[2]
	assert.Nil(t, third.LineStart)
	assert.Nil(t, third.RuleID)
}

func TestAggregateResult_DerivesTotalsFromFiles(t *testing.T) {
	tests := []struct {
		name  string
		batch analyzer.Result
	}{
		{name: "no batch totals"},
		{name: "wrong batch totals", batch: analyzer.Result{FilesAnalyzed: 9, AverageScore: 12.5, TotalIssues: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.batch
			res.Files = []analyzer.FileResult{
				{Path: "a.go", Score: 70, Issues: []analyzer.Issue{{Severity: "major", Message: "a"}}},
				{Path: "b.go", Score: 80, Issues: []analyzer.Issue{{Severity: "minor", Message: "b"}}},
				{Path: "c.go", Score: 90.005, Issues: []analyzer.Issue{{Severity: "info", Message: "c"}}},
			}

			agg := AggregateResult(&res)

			assert.Equal(t, 3, agg.FilesAnalyzed)
			assert.Equal(t, 3, agg.TotalIssues)
			assert.InDelta(t, 80, agg.AverageScore, 0.001)
			assert.Len(t, agg.Issues, 3)
			assert.Equal(t, "Analyzed 3 files. Score: 80.00/100. Issues: 3", agg.Summary())
		})
	}
}

func TestAggregateResult_Empty(t *testing.T) {
	agg := AggregateResult(&analyzer.Result{})

	assert.Empty(t, agg.Issues)
	assert.Empty(t, agg.FileMetrics)
	assert.Equal(t, NewSeverityCounts(), agg.BySeverity)
	assert.Equal(t, "Analyzed 0 files. Score: 0.00/100. Issues: 0", agg.Summary())
}

func TestRawOutputRoundTrip(t *testing.T) {
	raw := []byte(`{"success":true,"results":[]}`)

	gz, err := Gzip(raw)
	require.NoError(t, err)

	encoded := EncodeRawOutput(gz)
	assert.NotContains(t, encoded, "success")

	decoded, err := DecodeRawOutput(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeRawOutput_Invalid(t *testing.T) {
	_, err := DecodeRawOutput("!!not base64!!")
	assert.Error(t, err)

	_, err = Gunzip([]byte("plain"))
	assert.Error(t, err)
}

func TestFailureSummary(t *testing.T) {
	assert.Equal(t, RateLimitSummary,
		FailureSummary(fmt.Errorf("tree: %w", source.ErrRateLimited), ""))

	assert.Equal(t, "Analysis failed: boom", FailureSummary(errors.New("boom"), ""))

	assert.Equal(t, "Analysis failed: token [REDACTED] rejected",
		FailureSummary(errors.New("token s3cret rejected"), "s3cret"))

	pat := "ghp_" + "0123456789abcdefghijklmnopqrstuvwxyz"
	assert.Equal(t, "Analysis failed: bad [REDACTED]",
		FailureSummary(errors.New("bad "+pat), ""))
}
