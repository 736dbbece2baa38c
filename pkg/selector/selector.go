// Package selector decides which repository files are sent for analysis.
package selector

import (
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const (
	// binarySampleSize is how many characters IsBinary inspects.
	binarySampleSize = 1024

	// binaryThreshold is the control-character ratio above which content is
	// treated as binary.
	binaryThreshold = 0.3
)

// Reason explains why a path was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonNone      Reason = ""
	ReasonEmptyPath Reason = "empty_path"
	ReasonTooLarge  Reason = "too_large"
	ReasonExcluded  Reason = "excluded_path"
	ReasonExtension Reason = "unsupported_extension"
)

// Config configures a Selector.
type Config struct {
	// Extensions is the allow-list of file extensions, dot included.
	Extensions []string
	// ExcludePaths are gitignore-style patterns. A pattern without a slash
	// matches any path segment.
	ExcludePaths []string
	// MaxFileSize is the largest eligible file in bytes. Zero disables
	// the check.
	MaxFileSize int64
}

// File is a candidate file with its content.
type File struct {
	Path    string
	Content string
}

// Selector filters repository paths. It is safe for concurrent use.
type Selector struct {
	extensions  map[string]struct{}
	matcher     gitignore.Matcher
	maxFileSize int64
}

// New builds a Selector from cfg. Matching is case-insensitive.
func New(cfg Config) *Selector {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	patterns := make([]gitignore.Pattern, 0, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		patterns = append(patterns, gitignore.ParsePattern(strings.ToLower(p), nil))
	}

	return &Selector{
		extensions:  exts,
		matcher:     gitignore.NewMatcher(patterns),
		maxFileSize: cfg.MaxFileSize,
	}
}

// Eligible reports whether a file at path with the given size should be
// downloaded and analyzed.
func (s *Selector) Eligible(filePath string, size int64) (bool, Reason) {
	if filePath == "" {
		return false, ReasonEmptyPath
	}

	if s.maxFileSize > 0 && size > s.maxFileSize {
		return false, ReasonTooLarge
	}

	lower := strings.ToLower(filePath)

	if s.matcher.Match(strings.Split(lower, "/"), false) {
		return false, ReasonExcluded
	}

	if _, ok := s.extensions[path.Ext(lower)]; !ok {
		return false, ReasonExtension
	}

	return true, ReasonNone
}

// IsBinary reports whether content looks like binary data: more than 30%
// of the first 1024 characters are control characters other than
// newline, carriage return and tab. Bytes that are not valid UTF-8 decode
// to U+FFFD and are not control characters.
func IsBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	var total, control int

	for len(content) > 0 && total < binarySampleSize {
		r, size := utf8.DecodeRune(content)
		content = content[size:]
		total++

		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			control++
		}
	}

	return float64(control)/float64(total) > binaryThreshold
}

// Truncate orders files by path and keeps the first n. It reports whether
// any file was dropped. n <= 0 keeps everything. The input slice is not
// modified.
func Truncate(files []File, n int) ([]File, bool) {
	out := make([]File, len(files))
	copy(out, files)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})

	if n <= 0 || len(out) <= n {
		return out, false
	}

	return out[:n], true
}
