package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/correlation"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

const (
	maxResponseBytes = 32 << 20
	maxErrorBodyLen  = 200
)

// HTTPConfig configures the HTTP analyzer client.
type HTTPConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Compile-time interface check.
var _ Analyzer = (*HTTPAnalyzer)(nil)

// HTTPAnalyzer posts batches to the analysis engine over HTTP.
type HTTPAnalyzer struct {
	log    logrus.FieldLogger
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPAnalyzer creates an analyzer client.
func NewHTTPAnalyzer(log logrus.FieldLogger, cfg HTTPConfig) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		log:    log.WithField("component", "analyzer"),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type analyzeRequest struct {
	Files []File `json:"files"`
}

// AnalyzeFiles submits files in a single request.
func (a *HTTPAnalyzer) AnalyzeFiles(
	ctx context.Context, files []File,
) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{Files: files})
	if err != nil {
		return nil, fmt.Errorf("encoding analyzer request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("creating analyzer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(correlation.Header, id)
	}

	if a.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Secret)
	}

	start := time.Now()

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling analyzer: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading analyzer response: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"files":          len(files),
		"status":         resp.StatusCode,
		"duration":       time.Since(start),
		"correlation_id": correlation.FromContext(ctx),
	}).Debug("Analyzer responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf(
			"%w: %d: %s", ErrAnalyzerStatus, resp.StatusCode, errorSnippet(raw),
		)
	}

	result, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func errorSnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyLen {
		s = s[:maxErrorBodyLen]
	}

	return source.RedactTokens(s)
}

// wireResponse mirrors the engine's loosely typed payload. Keys match
// case- and underscore-insensitively, so file_path and filePath both land
// in FilePath. Batch totals are recomputed from the per-file results.
type wireResponse struct {
	Success *bool      `mapstructure:"success"`
	Results []wireFile `mapstructure:"results"`
	Files   []wireFile `mapstructure:"files"`
	Error   string     `mapstructure:"error"`
	Message string     `mapstructure:"message"`
}

type wireFile struct {
	FilePath string      `mapstructure:"file_path"`
	File     string      `mapstructure:"file"`
	Path     string      `mapstructure:"path"`
	Score    float64     `mapstructure:"score"`
	Summary  string      `mapstructure:"summary"`
	Issues   []wireIssue `mapstructure:"issues"`
}

type wireIssue struct {
	Line       int    `mapstructure:"line"`
	LineNumber int    `mapstructure:"line_number"`
	Severity   string `mapstructure:"severity"`
	Level      string `mapstructure:"level"`
	Category   string `mapstructure:"category"`
	Type       string `mapstructure:"type"`
	Message    string `mapstructure:"message"`
	RuleID     string `mapstructure:"rule_id"`
	Rule       string `mapstructure:"rule"`
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// Decode parses an engine response body into a Result.
func Decode(raw []byte) (*Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var wire wireResponse

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &wire,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if wire.Success != nil && !*wire.Success {
		msg := wire.Error
		if msg == "" {
			msg = wire.Message
		}

		return nil, fmt.Errorf(
			"%w: engine reported failure: %s", ErrAnalyzerStatus, source.RedactTokens(msg),
		)
	}

	files := wire.Results
	if len(files) == 0 {
		files = wire.Files
	}

	result := &Result{
		Files: make([]FileResult, 0, len(files)),
		Raw:   raw,
	}

	var scoreSum float64

	for _, wf := range files {
		fr := FileResult{
			Path:    firstNonEmpty(wf.FilePath, wf.File, wf.Path),
			Score:   wf.Score,
			Summary: wf.Summary,
			Issues:  make([]Issue, 0, len(wf.Issues)),
		}

		for _, wi := range wf.Issues {
			line := wi.LineNumber
			if line == 0 {
				line = wi.Line
			}

			fr.Issues = append(fr.Issues, Issue{
				Line:     line,
				Severity: NormalizeSeverity(firstNonEmpty(wi.Severity, wi.Level)),
				Category: firstNonEmpty(wi.Category, wi.Type),
				Message:  wi.Message,
				RuleID:   firstNonEmpty(wi.RuleID, wi.Rule),
			})
		}

		scoreSum += fr.Score
		result.TotalIssues += len(fr.Issues)
		result.Files = append(result.Files, fr)
	}

	result.FilesAnalyzed = len(result.Files)
	if result.FilesAnalyzed > 0 {
		result.AverageScore = Round2(scoreSum / float64(result.FilesAnalyzed))
	}

	return result, nil
}

// NormalizeSeverity maps engine severities onto critical, major, minor
// and info.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker", "fatal":
		return SeverityCritical
	case "major", "error", "high":
		return SeverityMajor
	case "minor", "warning", "warn", "medium":
		return SeverityMinor
	default:
		return SeverityInfo
	}
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
