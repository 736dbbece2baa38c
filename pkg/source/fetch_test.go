package source

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reviewoor/pkg/selector"
)

type fakeClient struct {
	Client

	mu         sync.Mutex
	tree       []TreeEntry
	blobs      map[string][]byte
	blobErrs   map[string]error
	downloaded []string
}

func (f *fakeClient) GetFileTree(_ context.Context, _ RepoRef, _ string) ([]TreeEntry, error) {
	return f.tree, nil
}

func (f *fakeClient) GetBlobContent(_ context.Context, _ RepoRef, sha string) ([]byte, error) {
	f.mu.Lock()
	f.downloaded = append(f.downloaded, sha)
	f.mu.Unlock()

	if err, ok := f.blobErrs[sha]; ok {
		return nil, err
	}

	return f.blobs[sha], nil
}

func testSelector() *selector.Selector {
	return selector.New(selector.Config{
		Extensions:   []string{".go", ".js"},
		ExcludePaths: []string{"node_modules", "vendor"},
		MaxFileSize:  100,
	})
}

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestFetchEligibleFiles(t *testing.T) {
	client := &fakeClient{
		tree: []TreeEntry{
			{Path: "main.go", SHA: "s1", Size: 10},
			{Path: "README.md", SHA: "s2", Size: 10},
			{Path: "node_modules/x/index.js", SHA: "s3", Size: 10},
			{Path: "big.go", SHA: "s4", Size: 1000},
			{Path: "image.js", SHA: "s5", Size: 10},
			{Path: "broken.go", SHA: "s6", Size: 10},
			{Path: "lib/util.js", SHA: "s7", Size: 10},
		},
		blobs: map[string][]byte{
			"s1": []byte("package main"),
			"s5": {0x00, 0x01, 0x02, 0x03},
			"s7": []byte("export {}"),
		},
		blobErrs: map[string]error{"s6": errors.New("boom")},
	}

	files, stats, err := FetchEligibleFiles(
		context.Background(), quietLog(), client, widgets, "bbb", testSelector(),
	)
	require.NoError(t, err)

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	assert.Equal(t, []selector.File{
		{Path: "lib/util.js", Content: "export {}"},
		{Path: "main.go", Content: "package main"},
	}, files)

	assert.Equal(t, 7, stats.TreeEntries)
	assert.Equal(t, 1, stats.Rejected[selector.ReasonExtension])
	assert.Equal(t, 1, stats.Rejected[selector.ReasonExcluded])
	assert.Equal(t, 1, stats.Rejected[selector.ReasonTooLarge])
	assert.Equal(t, 1, stats.Binary)
	assert.Equal(t, 1, stats.Failed)

	sort.Strings(client.downloaded)
	assert.Equal(t, []string{"s1", "s5", "s6", "s7"}, client.downloaded,
		"rejected paths are never downloaded")
}

func TestFetchEligibleFiles_RateLimitAborts(t *testing.T) {
	client := &fakeClient{
		tree:     []TreeEntry{{Path: "a.go", SHA: "s1", Size: 1}},
		blobErrs: map[string]error{"s1": ErrRateLimited},
	}

	_, _, err := FetchEligibleFiles(
		context.Background(), quietLog(), client, widgets, "bbb", testSelector(),
	)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestFetchEligibleFiles_EmptyTree(t *testing.T) {
	files, stats, err := FetchEligibleFiles(
		context.Background(), quietLog(), &fakeClient{}, widgets, "bbb", testSelector(),
	)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, 0, stats.TreeEntries)
}
