package source

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	urlPrefix = regexp.MustCompile(`(?i)^(https?://)?(www\.)?github\.com/`)

	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
		regexp.MustCompile(`gh[ousr]_[A-Za-z0-9]{36,}`),
		regexp.MustCompile(`github_pat_[A-Za-z0-9_]+`),
	}
)

// RepoRef identifies a repository on the host.
type RepoRef struct {
	Owner string
	Name  string
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// CloneURL returns the canonical https URL.
func (r RepoRef) CloneURL() string {
	return "https://github.com/" + r.FullName()
}

// ParseRepoURL extracts owner and name from a repository URL. Accepted
// forms include https://github.com/o/r, http://github.com/o/r.git,
// github.com/o/r/ and the o/r shorthand.
func ParseRepoURL(raw string) (RepoRef, error) {
	s := strings.TrimSpace(raw)
	s = urlPrefix.ReplaceAllString(s, "")
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	ref := RepoRef{
		Owner: parts[len(parts)-2],
		Name:  parts[len(parts)-1],
	}

	if ref.Owner == "" || ref.Name == "" ||
		strings.ContainsAny(ref.Owner+ref.Name, " :?#") {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	return ref, nil
}

// SanitizeRepoURL returns the canonical URL for raw, or raw trimmed when
// it cannot be parsed.
func SanitizeRepoURL(raw string) string {
	ref, err := ParseRepoURL(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}

	return ref.CloneURL()
}

// RedactTokens masks GitHub tokens found in s.
func RedactTokens(s string) string {
	for _, re := range tokenPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}

	return s
}
