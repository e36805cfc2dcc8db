// Package writequeue serialises every mutation of durable state.
//
// WHY A QUEUE?
// The key-value store only guarantees per-key atomicity. Operations such as
// "append an event and trim the list to 20" are read-modify-write sequences,
// and two of them running at once would lose an update. Funnelling every
// mutation through one worker goroutine makes each operation observe the
// completed effects of all operations submitted before it.
//
// A failing or panicking operation only fails its own caller. The worker
// keeps draining the queue.
package writequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("writequeue: closed")

type job struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Queue runs submitted operations one at a time in FIFO order.
type Queue struct {
	logger *slog.Logger
	jobs   chan job

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New starts the worker. backlog bounds how many operations can wait before
// Submit blocks.
func New(logger *slog.Logger, backlog int) *Queue {
	if backlog < 1 {
		backlog = 64
	}
	q := &Queue{
		logger: logger,
		jobs:   make(chan job, backlog),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit enqueues op and waits for its result. If ctx is cancelled while the
// operation is still waiting its turn, the operation is skipped.
func (q *Queue) Submit(ctx context.Context, op func(ctx context.Context) error) error {
	j := job{ctx: ctx, run: op, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	// Once enqueued the worker always answers, so wait for it even if ctx
	// ends; the worker sees the cancelled ctx and skips the op.
	return <-j.done
}

// Do is Submit for operations that produce a value.
func Do[T any](ctx context.Context, q *Queue, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Submit(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Close stops accepting work, lets queued operations finish and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- q.run(j)
	}
}

func (q *Queue) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("write operation panicked", "panic", r)
			err = fmt.Errorf("writequeue: operation panicked: %v", r)
		}
	}()
	return j.run(j.ctx)
}
