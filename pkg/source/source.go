// Package source reads repositories from a remote code host.
package source

import (
	"context"
	"errors"
)

// Errors returned by Client implementations. Callers test with errors.Is.
var (
	ErrNotFound       = errors.New("not found on source host")
	ErrRateLimited    = errors.New("source host rate limit exceeded")
	ErrUnauthorized   = errors.New("source host rejected credentials")
	ErrInvalidRepoURL = errors.New("invalid repository url")
)

// Repository is host metadata for a repository.
type Repository struct {
	HostID        int64
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	CloneURL      string
}

// TreeEntry is a blob in a recursive tree listing.
type TreeEntry struct {
	Path string
	SHA  string
	Size int64
}

// Host hands out clients bound to a credential.
type Host interface {
	// Client returns a client authenticated with token. An empty token
	// falls back to the host's system token, then to anonymous access.
	Client(token string) Client
}

// Client is a view of the source host under one credential.
type Client interface {
	GetRepository(ctx context.Context, repo RepoRef) (*Repository, error)
	GetDefaultBranch(ctx context.Context, repo RepoRef) (string, error)
	GetBranchTip(ctx context.Context, repo RepoRef, branch string) (string, error)
	ListBranches(ctx context.Context, repo RepoRef) ([]string, error)
	GetFileTree(ctx context.Context, repo RepoRef, ref string) ([]TreeEntry, error)
	GetBlobContent(ctx context.Context, repo RepoRef, sha string) ([]byte, error)
	GetFileContentAtRef(
		ctx context.Context, repo RepoRef, path, ref string,
	) (string, error)
}
