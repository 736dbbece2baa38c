package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/reviewoor/pkg/api/store"
	"github.com/ethpandaops/reviewoor/pkg/queue"
	"github.com/ethpandaops/reviewoor/pkg/review"
	"github.com/ethpandaops/reviewoor/pkg/source"
)

const defaultSummaryWindow = 24 * time.Hour

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps err onto a status code. Unclassified errors are logged
// and reported as internal errors.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classifyError(err)

	if status == http.StatusInternalServerError {
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
	}

	writeJSON(w, status, errorResponse{msg})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, review.ErrInvalidRequest),
		errors.Is(err, source.ErrInvalidRepoURL):
		return http.StatusBadRequest, review.RedactSecrets(err.Error(), "")
	case errors.Is(err, source.ErrRateLimited):
		return http.StatusTooManyRequests, review.RateLimitSummary
	case errors.Is(err, source.ErrUnauthorized):
		return http.StatusUnauthorized, "source host rejected the provided credentials"
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound, review.RedactSecrets(err.Error(), "")
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.queue.Len(),
	})
}

type analyzeRequest struct {
	RepoURL     string `json:"repoUrl"`
	BranchName  string `json:"branchName"`
	GitHubToken string `json:"githubToken,omitempty"`
}

type analyzeResponse struct {
	RunID         uint     `json:"runId"`
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	FilesAnalyzed *int     `json:"filesAnalyzed,omitempty"`
	TotalIssues   *int     `json:"totalIssues,omitempty"`
	AverageScore  *float64 `json:"averageScore,omitempty"`
}

// handleAnalyze starts or reuses a run and answers without waiting for it.
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if strings.TrimSpace(req.RepoURL) == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"repoUrl is required"})

		return
	}

	user := userFromContext(r.Context())

	res, err := s.orch.StartRun(r.Context(), review.Request{
		RepoURL:    req.RepoURL,
		BranchName: req.BranchName,
		HostToken:  req.GitHubToken,
	}, user.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, toAnalyzeResponse(res))
}

func toAnalyzeResponse(res *review.StartResult) analyzeResponse {
	resp := analyzeResponse{
		RunID:  res.RunID,
		Status: res.Status,
	}

	switch {
	case res.Created:
		resp.Message = "Analysis started"
	case res.Status == store.StatusCompleted:
		resp.Message = "Analysis already completed for these commits"
		resp.FilesAnalyzed = &res.FilesAnalyzed
		resp.TotalIssues = &res.TotalIssues
		resp.AverageScore = &res.AverageScore
	default:
		resp.Message = "Analysis already in progress"
	}

	return resp
}

// handleGetRun returns the run detail, or a minimal projection while the
// run is live.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	detail, err := s.orch.GetRunDetail(r.Context(), id, userFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleListRuns lists the user's runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := review.RunFilter{
		RepoURL:    q.Get("repoUrl"),
		BranchName: q.Get("branchName"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a non-negative integer"})

			return
		}

		filter.Limit = limit
	}

	runs, err := s.orch.ListRuns(r.Context(), userFromContext(r.Context()).ID, filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleListIssues lists a run's issues, optionally filtered.
func (s *server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	issues, err := s.orch.ListIssues(
		r.Context(), id, userFromContext(r.Context()).ID, store.IssueFilter{
			Severity: r.URL.Query().Get("severity"),
			Category: r.URL.Query().Get("category"),
		},
	)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, issues)
}

// handleRawOutput returns the analyzer response recorded for a run.
func (s *server) handleRawOutput(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	raw, err := s.orch.GetRawOutput(r.Context(), id, userFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// handleBranches lists the branches of a repository.
func (s *server) handleBranches(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repoUrl")
	if repoURL == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"repoUrl is required"})

		return
	}

	branches, err := s.orch.ListBranches(
		r.Context(), repoURL, r.URL.Query().Get("githubToken"),
	)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

// handleMetricsSummary aggregates runs created since the "since" query
// parameter (RFC3339 or a duration such as 24h).
func (s *server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"), time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	stats, err := s.orch.Stats(r.Context(), since)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleInstruments dumps the current OpenTelemetry instrument values.
func (s *server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"metrics are disabled"})

		return
	}

	points, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, points)
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-defaultSummaryWindow), nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf(
			"since must be RFC3339 or a positive duration, got %q", raw,
		)
	}

	return now.Add(-d), nil
}

// parseIDParam extracts and parses the {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}

	return uint(id), nil
}
