package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPoint(points []Point, name string, attrs map[string]string) *Point {
	for i := range points {
		if points[i].Name != name {
			continue
		}

		if attrString(points[i].Attributes) == attrString(attrs) {
			return &points[i]
		}
	}

	return nil
}

func TestRecorder_RecordRun(t *testing.T) {
	p := NewProvider()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	rec := p.Recorder()
	ctx := context.Background()

	rec.RecordRun(ctx, RunOutcome{
		Status:   "completed",
		Duration: 1500 * time.Millisecond,
		Files:    3,
		Issues: map[IssueKey]int{
			{Severity: "major", Category: "Security"}: 2,
			{Severity: "minor", Category: "Style"}:    1,
			{Severity: "info", Category: "General"}:   0,
		},
	})
	rec.RecordRun(ctx, RunOutcome{Status: "failed", Duration: time.Second})

	points, err := p.Snapshot(ctx)
	require.NoError(t, err)

	completed := findPoint(points, "reviewoor.runs", map[string]string{"status": "completed"})
	require.NotNil(t, completed)
	assert.InDelta(t, 1.0, completed.Value, 1e-9)

	failed := findPoint(points, "reviewoor.runs", map[string]string{"status": "failed"})
	require.NotNil(t, failed)
	assert.InDelta(t, 1.0, failed.Value, 1e-9)

	files := findPoint(points, "reviewoor.files.analyzed", nil)
	require.NotNil(t, files)
	assert.InDelta(t, 3.0, files.Value, 1e-9)

	security := findPoint(points, "reviewoor.issues",
		map[string]string{"severity": "major", "category": "Security"})
	require.NotNil(t, security)
	assert.InDelta(t, 2.0, security.Value, 1e-9)

	assert.Nil(t, findPoint(points, "reviewoor.issues",
		map[string]string{"severity": "info", "category": "General"}))

	duration := findPoint(points, "reviewoor.run.duration", map[string]string{"status": "completed"})
	require.NotNil(t, duration)
	assert.Equal(t, uint64(1), duration.Count)
	assert.InDelta(t, 1.5, duration.Value, 1e-9)
}

func TestRecorder_QueueDepth(t *testing.T) {
	p := NewProvider()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	depth := 7
	require.NoError(t, p.Recorder().ObserveQueueDepth(func() int { return depth }))

	points, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	gauge := findPoint(points, "reviewoor.queue.depth", nil)
	require.NotNil(t, gauge)
	assert.InDelta(t, 7.0, gauge.Value, 1e-9)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder

	assert.NotPanics(t, func() {
		rec.RecordRun(context.Background(), RunOutcome{Status: "completed"})
		require.NoError(t, rec.ObserveQueueDepth(func() int { return 0 }))
	})
}

func TestNew_GlobalProviderIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		New().RecordRun(context.Background(), RunOutcome{Status: "failed"})
	})
}
