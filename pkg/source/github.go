package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	branchPageSize = 100
	maxBranchPages = 10
	httpTimeout    = 30 * time.Second
)

// GitHubConfig configures the GitHub host.
type GitHubConfig struct {
	// Token is the system token used when a request carries none.
	Token string
	// BaseURL overrides https://api.github.com/.
	BaseURL string
	// RequestsPerSecond throttles outbound calls across all clients.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// Compile-time interface checks.
var (
	_ Host   = (*GitHubHost)(nil)
	_ Client = (*gitHubClient)(nil)
)

// GitHubHost creates GitHub clients that share one outbound limiter.
type GitHubHost struct {
	log     logrus.FieldLogger
	cfg     GitHubConfig
	base    *github.Client
	limiter *rate.Limiter
}

// NewGitHubHost creates a GitHub host adapter.
func NewGitHubHost(log logrus.FieldLogger, cfg GitHubConfig) (*GitHubHost, error) {
	base := github.NewClient(&http.Client{Timeout: httpTimeout})

	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}

		base.BaseURL = u
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &GitHubHost{
		log:     log.WithField("component", "github"),
		cfg:     cfg,
		base:    base,
		limiter: limiter,
	}, nil
}

// Client returns a client for token, falling back to the system token and
// then to unauthenticated access.
func (h *GitHubHost) Client(token string) Client {
	if token == "" {
		token = h.cfg.Token
	}

	gh := h.base
	if token != "" {
		gh = h.base.WithAuthToken(token)
	}

	return &gitHubClient{
		log:     h.log,
		gh:      gh,
		limiter: h.limiter,
	}
}

type gitHubClient struct {
	log     logrus.FieldLogger
	gh      *github.Client
	limiter *rate.Limiter
}

func (c *gitHubClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for github limiter: %w", err)
	}

	return nil
}

func (c *gitHubClient) GetRepository(
	ctx context.Context, repo RepoRef,
) (*Repository, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	r, _, err := c.gh.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting repository %s", repo.FullName()), err)
	}

	owner := r.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.Owner
	}

	name := r.GetName()
	if name == "" {
		name = repo.Name
	}

	ref := RepoRef{Owner: owner, Name: name}

	return &Repository{
		HostID:        r.GetID(),
		Owner:         owner,
		Name:          name,
		FullName:      ref.FullName(),
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      ref.CloneURL(),
	}, nil
}

func (c *gitHubClient) GetDefaultBranch(
	ctx context.Context, repo RepoRef,
) (string, error) {
	r, err := c.GetRepository(ctx, repo)
	if err != nil {
		return "", err
	}

	if r.DefaultBranch == "" {
		return "", fmt.Errorf(
			"repository %s has no default branch: %w", repo.FullName(), ErrNotFound,
		)
	}

	return r.DefaultBranch, nil
}

func (c *gitHubClient) GetBranchTip(
	ctx context.Context, repo RepoRef, branch string,
) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	b, resp, err := c.gh.Repositories.GetBranch(ctx, repo.Owner, repo.Name, branch, 1)
	if err != nil {
		return "", classifyResponse(
			fmt.Sprintf("getting branch %s of %s", branch, repo.FullName()), resp, err,
		)
	}

	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return "", fmt.Errorf(
			"branch %s of %s has no tip commit: %w", branch, repo.FullName(), ErrNotFound,
		)
	}

	return sha, nil
}

func (c *gitHubClient) ListBranches(
	ctx context.Context, repo RepoRef,
) ([]string, error) {
	opts := &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: branchPageSize},
	}

	names := make([]string, 0, branchPageSize)

	for page := 0; page < maxBranchPages; page++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		branches, resp, err := c.gh.Repositories.ListBranches(
			ctx, repo.Owner, repo.Name, opts,
		)
		if err != nil {
			return nil, classify(
				fmt.Sprintf("listing branches of %s", repo.FullName()), err,
			)
		}

		for _, b := range branches {
			names = append(names, b.GetName())
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return names, nil
}

func (c *gitHubClient) GetFileTree(
	ctx context.Context, repo RepoRef, ref string,
) ([]TreeEntry, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	tree, _, err := c.gh.Git.GetTree(ctx, repo.Owner, repo.Name, ref, true)
	if err != nil {
		return nil, classify(
			fmt.Sprintf("getting tree %s of %s", ref, repo.FullName()), err,
		)
	}

	if tree.GetTruncated() {
		c.log.WithFields(logrus.Fields{
			"repo": repo.FullName(),
			"ref":  ref,
		}).Warn("Tree listing truncated by host")
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))

	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}

		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
		})
	}

	return entries, nil
}

func (c *gitHubClient) GetBlobContent(
	ctx context.Context, repo RepoRef, sha string,
) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	data, _, err := c.gh.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, sha)
	if err != nil {
		return nil, classify(
			fmt.Sprintf("getting blob %s of %s", sha, repo.FullName()), err,
		)
	}

	return data, nil
}

func (c *gitHubClient) GetFileContentAtRef(
	ctx context.Context, repo RepoRef, path, ref string,
) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	file, _, _, err := c.gh.Repositories.GetContents(
		ctx, repo.Owner, repo.Name, path,
		&github.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		return "", classify(
			fmt.Sprintf("getting %s at %s of %s", path, ref, repo.FullName()), err,
		)
	}

	if file == nil {
		return "", fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}

	return content, nil
}

// classifyResponse is classify for calls that report a bad status through
// the response rather than an ErrorResponse.
func classifyResponse(op string, resp *github.Response, err error) error {
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		case http.StatusForbidden:
			if resp.Header.Get("X-RateLimit-Remaining") == "0" {
				return fmt.Errorf("%s: %w", op, ErrRateLimited)
			}

			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
	}

	return classify(op, err)
}

// classify wraps a go-github error with the matching sentinel.
func classify(op string, err error) error {
	var (
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		respErr  *github.ErrorResponse
	)

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%s: %w", op, ErrRateLimited)
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		case http.StatusForbidden:
			if strings.Contains(strings.ToLower(respErr.Message), "rate limit") {
				return fmt.Errorf("%s: %w", op, ErrRateLimited)
			}

			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
