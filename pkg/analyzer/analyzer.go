// Package analyzer submits source files to the remote analysis engine.
package analyzer

import (
	"context"
	"errors"
)

// Errors returned by Analyzer implementations.
var (
	ErrAnalyzerStatus    = errors.New("analyzer returned an error status")
	ErrMalformedResponse = errors.New("malformed analyzer response")
)

// Severity levels after normalization.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
	SeverityInfo     = "info"
)

// File is a single file submitted for analysis.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Issue is a single finding.
type Issue struct {
	// Line is zero when the engine reported no line.
	Line     int
	Severity string
	Category string
	Message  string
	RuleID   string
}

// FileResult is the analysis of one file.
type FileResult struct {
	Path    string
	Score   float64
	Summary string
	Issues  []Issue
}

// Result is the analysis of a batch.
type Result struct {
	FilesAnalyzed int
	AverageScore  float64
	TotalIssues   int
	Files         []FileResult
	// Raw is the response body as received.
	Raw []byte
}

// Analyzer analyzes a batch of files.
type Analyzer interface {
	AnalyzeFiles(ctx context.Context, files []File) (*Result, error)
}
