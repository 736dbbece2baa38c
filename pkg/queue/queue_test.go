package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestQueue_FIFO(t *testing.T) {
	q := New[string](10)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(ctx, s))
	}

	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueue_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New[int](0).Cap())
	assert.Equal(t, 3, New[int](3).Cap())
}

func TestQueue_BlocksWhenFull(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, 1))

	accepted := make(chan bool, 1)

	go func() {
		accepted <- q.Enqueue(ctx, 2)
	}()

	select {
	case <-accepted:
		t.Fatal("enqueue on a full queue returned before space was available")
	case <-time.After(50 * time.Millisecond):
	}

	got, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, got)

	select {
	case ok := <-accepted:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released")
	}

	got, ok = q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestQueue_EnqueueContextDone(t *testing.T) {
	q := New[int](1)
	require.True(t, q.Enqueue(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.False(t, q.Enqueue(ctx, 2))
}

func TestQueue_Close(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, 1))

	blocked := make(chan bool, 1)

	go func() {
		blocked <- q.Enqueue(ctx, 2)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case ok := <-blocked:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not release blocked producer")
	}

	assert.False(t, q.Enqueue(ctx, 3))

	// Items accepted before Close are still delivered.
	got, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestWorker_ProcessesInOrder(t *testing.T) {
	q := New[int](10)

	var (
		mu   sync.Mutex
		seen []int
		wg   sync.WaitGroup
	)

	wg.Add(3)

	w := NewWorker(testLogger(), q, func(_ context.Context, item int) error {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		wg.Done()

		return nil
	}, nil)

	require.NoError(t, w.Start(context.Background()))

	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(context.Background(), i))
	}

	wg.Wait()
	require.NoError(t, w.Stop())

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestWorker_SurvivesFailures(t *testing.T) {
	q := New[int](10)

	var (
		mu     sync.Mutex
		failed []int
		wg     sync.WaitGroup
	)

	wg.Add(3)

	w := NewWorker(testLogger(), q, func(_ context.Context, item int) error {
		switch item {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			wg.Done()

			return nil
		}
	}, func(_ context.Context, item int, err error) {
		assert.Error(t, err)

		mu.Lock()
		failed = append(failed, item)
		mu.Unlock()
		wg.Done()
	})

	require.NoError(t, w.Start(context.Background()))

	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(context.Background(), i))
	}

	wg.Wait()
	require.NoError(t, w.Stop())

	assert.Equal(t, []int{1, 2}, failed)
}

func TestWorker_SingleInFlight(t *testing.T) {
	q := New[int](10)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		wg       sync.WaitGroup
	)

	wg.Add(5)

	w := NewWorker(testLogger(), q, func(_ context.Context, _ int) error {
		mu.Lock()
		inFlight++
		maxSeen = max(maxSeen, inFlight)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		wg.Done()

		return nil
	}, nil)

	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(context.Background(), i))
	}

	wg.Wait()
	require.NoError(t, w.Stop())

	assert.Equal(t, 1, maxSeen)
}
