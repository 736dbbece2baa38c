package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler processes one dequeued item.
type Handler[T any] func(ctx context.Context, item T) error

// ErrorHook is called with the item whose handler failed or panicked.
type ErrorHook[T any] func(ctx context.Context, item T, err error)

// Worker drains a Queue with a single goroutine, so at most one item is in
// flight at a time. A failing or panicking handler never stops the loop.
type Worker[T any] struct {
	log     logrus.FieldLogger
	queue   *Queue[T]
	handler Handler[T]
	onError ErrorHook[T]
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a worker for q. onError may be nil.
func NewWorker[T any](
	log logrus.FieldLogger,
	q *Queue[T],
	handler Handler[T],
	onError ErrorHook[T],
) *Worker[T] {
	return &Worker[T]{
		log:     log.WithField("component", "worker"),
		queue:   q,
		handler: handler,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// Start launches the consumer loop.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.log.WithField("capacity", w.queue.Cap()).Info("Starting worker")

	ctx, cancel := context.WithCancel(ctx)

	w.wg.Add(2)

	go func() {
		defer w.wg.Done()
		defer cancel()

		select {
		case <-w.done:
		case <-ctx.Done():
		}
	}()

	go func() {
		defer w.wg.Done()

		for {
			item, ok := w.queue.Dequeue(ctx)
			if !ok {
				return
			}

			w.handle(ctx, item)
		}
	}()

	return nil
}

// Stop signals the loop to exit and waits for the in-flight item, if any.
// Items still queued are abandoned.
func (w *Worker[T]) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.log.WithField("pending", w.queue.Len()).Info("Worker stopped")

	return nil
}

func (w *Worker[T]) handle(ctx context.Context, item T) {
	start := time.Now()

	err := w.safeHandle(ctx, item)
	if err == nil {
		w.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
			Debug("Job processed")

		return
	}

	w.log.WithError(err).
		WithField("duration", time.Since(start).Round(time.Millisecond)).
		Warn("Job failed")

	if w.onError != nil {
		// The hook records failure state and must not be skipped because
		// the worker is shutting down.
		w.onError(context.WithoutCancel(ctx), item, err)
	}
}

func (w *Worker[T]) safeHandle(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return w.handler(ctx, item)
}
