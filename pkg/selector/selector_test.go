package selector

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSelector() *Selector {
	return New(Config{
		Extensions: []string{
			".php", ".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".c",
			".cpp", ".cs", ".rb", ".go", ".rs", ".swift", ".kt", ".scala",
			".html", ".css", ".vue",
		},
		ExcludePaths: []string{
			"node_modules", "vendor", ".git", "dist", "build", "coverage",
			".next", "out",
		},
		MaxFileSize: 512000,
	})
}

func TestSelector_Eligible(t *testing.T) {
	s := defaultSelector()

	tests := []struct {
		name   string
		path   string
		size   int64
		want   bool
		reason Reason
	}{
		{name: "go file", path: "src/a.go", size: 10, want: true},
		{name: "upper-case extension", path: "src/Main.JAVA", size: 10, want: true},
		{name: "vue component", path: "web/App.vue", size: 10, want: true},
		{name: "empty path", path: "", size: 10, reason: ReasonEmptyPath},
		{name: "readme", path: "README.md", size: 10, reason: ReasonExtension},
		{name: "no extension", path: "Makefile", size: 10, reason: ReasonExtension},
		{name: "node_modules", path: "node_modules/x/index.js", size: 10, reason: ReasonExcluded},
		{name: "nested vendor", path: "lib/vendor/pkg/a.go", size: 10, reason: ReasonExcluded},
		{name: "upper-case dist", path: "Dist/bundle.js", size: 10, reason: ReasonExcluded},
		{name: "next build dir", path: ".next/server/page.js", size: 10, reason: ReasonExcluded},
		{name: "segment prefix is not excluded", path: "builder/a.go", size: 10, want: true},
		{name: "file named like dir", path: "src/build.go", size: 10, want: true},
		{name: "at size limit", path: "a.py", size: 512000, want: true},
		{name: "over size limit", path: "a.py", size: 512001, reason: ReasonTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := s.Eligible(tt.path, tt.size)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSelector_NoSizeLimit(t *testing.T) {
	s := New(Config{Extensions: []string{".go"}})

	ok, _ := s.Eligible("a.go", 1<<30)
	assert.True(t, ok)
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{name: "empty", content: nil, want: false},
		{name: "plain text", content: []byte("package main\n\tfunc main() {}\r\n"), want: false},
		{name: "utf8 text", content: []byte("// héllo wörld ✓\n"), want: false},
		{name: "all nul", content: make([]byte, 64), want: true},
		{
			name:    "just under threshold",
			content: append(bytes.Repeat([]byte{0x01}, 30), bytes.Repeat([]byte("a"), 70)...),
			want:    false,
		},
		{
			name:    "just over threshold",
			content: append(bytes.Repeat([]byte{0x01}, 31), bytes.Repeat([]byte("a"), 69)...),
			want:    true,
		},
		{
			name:    "latin-1 text",
			content: bytes.Repeat([]byte("\xe9t\xe9\xe0\n"), 100),
			want:    false,
		},
		{
			name:    "c1 controls count",
			content: bytes.Repeat([]byte("\u0085\u0090a"), 100),
			want:    true,
		},
		{
			name: "sample counts characters not bytes",
			content: append(
				bytes.Repeat([]byte("✓"), 1024), bytes.Repeat([]byte{0x00}, 1024)...,
			),
			want: false,
		},
		{
			name: "control bytes beyond sample are ignored",
			content: append(
				bytes.Repeat([]byte("a"), 1024), bytes.Repeat([]byte{0x00}, 4096)...,
			),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBinary(tt.content))
		})
	}
}

func TestTruncate(t *testing.T) {
	files := make([]File, 0, 120)
	for i := 119; i >= 0; i-- {
		files = append(files, File{Path: fmt.Sprintf("src/f%03d.go", i)})
	}

	t.Run("keeps lexicographically first n", func(t *testing.T) {
		out, truncated := Truncate(files, 50)
		require.Len(t, out, 50)
		assert.True(t, truncated)
		assert.Equal(t, "src/f000.go", out[0].Path)
		assert.Equal(t, "src/f049.go", out[49].Path)
	})

	t.Run("deterministic regardless of input order", func(t *testing.T) {
		reversed := make([]File, len(files))
		for i := range files {
			reversed[len(files)-1-i] = files[i]
		}

		a, _ := Truncate(files, 50)
		b, _ := Truncate(reversed, 50)
		assert.Equal(t, a, b)
	})

	t.Run("does not modify input", func(t *testing.T) {
		_, _ = Truncate(files, 50)
		assert.Equal(t, "src/f119.go", files[0].Path)
	})

	t.Run("under limit", func(t *testing.T) {
		out, truncated := Truncate(files[:10], 50)
		assert.Len(t, out, 10)
		assert.False(t, truncated)
	})

	t.Run("no limit", func(t *testing.T) {
		out, truncated := Truncate(files, 0)
		assert.Len(t, out, 120)
		assert.False(t, truncated)
	})
}
