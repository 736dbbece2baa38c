package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reviewoor/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "no prefix", prefix: "", want: "runs/42/analyzer.json.gz"},
		{name: "prefix", prefix: "reviewoor/prod", want: "reviewoor/prod/runs/42/analyzer.json.gz"},
		{name: "slashes trimmed", prefix: "/archive/", want: "archive/runs/42/analyzer.json.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, 42))
		})
	}
}

func TestLocalArchiver_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewLocalArchiver(testLogger(), dir)
	require.NoError(t, err)
	require.NoError(t, a.Preflight(ctx))

	_, err = a.Fetch(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.Put(ctx, 7, []byte("payload")))

	got, err := a.Fetch(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = os.Stat(filepath.Join(dir, "runs", "7", "analyzer.json.gz"))
	require.NoError(t, err)

	// Preflight leaves nothing behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "runs", entries[0].Name())
}

func TestNew_SelectsBackend(t *testing.T) {
	a, err := New(testLogger(), &config.ArchiveConfig{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, a)

	a, err = New(testLogger(), &config.ArchiveConfig{
		Local: &config.LocalArchiveConfig{Enabled: true, Dir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &localArchiver{}, a)

	a, err = New(testLogger(), &config.ArchiveConfig{
		S3: &config.S3ArchiveConfig{Enabled: true, Bucket: "b", Prefix: "p"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3Archiver{}, a)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, Noop{}.Put(ctx, 1, []byte("x")))

	_, err := Noop{}.Fetch(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
