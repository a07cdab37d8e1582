// Package taskqueue runs asynchronous tasks under a concurrency cap.
//
// Tasks wait in a FIFO backlog and start as soon as a slot frees. Cancelling
// the queue drops the backlog; tasks already running finish but their
// outcomes are discarded. Failures never escape a task: errors and recovered
// panics are collected as *errors.TaskError.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/sift/internal/debug"
	sifterrors "github.com/standardbeagle/sift/internal/errors"
)

// ErrCancelled is returned when enqueueing into a cancelled queue.
var ErrCancelled = errors.New("task queue cancelled")

// Task is a unit of work owned by the queue while pending or running.
type Task[T any] struct {
	ID string
	Fn func(ctx context.Context) (T, error)
}

// Outcome aggregates the results of every task that completed before cancellation.
type Outcome[T any] struct {
	Results []T
	Errors  []error
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithOnComplete registers a hook called once for every aggregated outcome.
// err is nil or a *errors.TaskError. The hook runs on the task's goroutine
// before its slot is released, so OnIdle never resolves ahead of a hook.
func WithOnComplete[T any](fn func(task Task[T], result T, err error)) Option[T] {
	return func(q *Queue[T]) {
		q.onComplete = fn
	}
}

// WithName tags the queue in debug output.
func WithName[T any](name string) Option[T] {
	return func(q *Queue[T]) {
		q.name = name
	}
}

// Queue is a bounded-concurrency task queue.
type Queue[T any] struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopWatch   func() bool
	concurrency int
	name        string
	onComplete  func(task Task[T], result T, err error)

	mu        sync.Mutex
	backlog   []Task[T]
	active    int
	cancelled bool
	outcome   Outcome[T]
	idle      chan struct{}
	idleShut  bool

	nextID atomic.Uint64
}

// New creates a queue whose cancellation token derives from ctx.
// Cancelling ctx is equivalent to calling Cancel.
func New[T any](ctx context.Context, concurrency int, opts ...Option[T]) *Queue[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	qctx, cancel := context.WithCancel(ctx)
	q := &Queue[T]{
		ctx:         qctx,
		cancel:      cancel,
		concurrency: concurrency,
		name:        "queue",
		idle:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	// An empty queue is idle.
	close(q.idle)
	q.idleShut = true

	q.stopWatch = context.AfterFunc(qctx, q.drop)
	return q
}

// Enqueue appends a task to the backlog and starts it if a slot is free.
func (q *Queue[T]) Enqueue(task Task[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(task)
}

// EnqueueAll enqueues tasks in order. It stops at the first rejected task.
func (q *Queue[T]) EnqueueAll(tasks []Task[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		if err := q.enqueueLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue[T]) enqueueLocked(task Task[T]) error {
	if q.ctx.Err() != nil {
		q.dropLocked()
	}
	if q.cancelled {
		return ErrCancelled
	}
	if task.Fn == nil {
		return fmt.Errorf("task %q has no function", task.ID)
	}
	if task.ID == "" {
		task.ID = strconv.FormatUint(q.nextID.Add(1), 10)
	}

	if q.idleShut {
		q.idle = make(chan struct{})
		q.idleShut = false
	}

	if q.active < q.concurrency {
		q.startLocked(task)
		return nil
	}
	q.backlog = append(q.backlog, task)
	return nil
}

func (q *Queue[T]) startLocked(task Task[T]) {
	q.active++
	go q.run(task)
}

func (q *Queue[T]) run(task Task[T]) {
	result, err := q.invoke(task)

	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.dropLocked()
	}
	keep := !q.cancelled
	if keep {
		if err != nil {
			q.outcome.Errors = append(q.outcome.Errors, err)
		} else {
			q.outcome.Results = append(q.outcome.Results, result)
		}
	}
	q.mu.Unlock()

	if keep && q.onComplete != nil {
		q.onComplete(task, result, err)
	}

	q.mu.Lock()
	q.active--
	for !q.cancelled && q.active < q.concurrency && len(q.backlog) > 0 {
		next := q.backlog[0]
		q.backlog[0] = Task[T]{}
		q.backlog = q.backlog[1:]
		q.startLocked(next)
	}
	q.signalIdleLocked()
	q.mu.Unlock()
}

// invoke runs the task function, converting errors and panics to TaskErrors.
func (q *Queue[T]) invoke(task Task[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = sifterrors.NewTaskError(task.ID, fmt.Errorf("%v", r)).WithPanic()
			debug.LogQueue("%s: task %s panicked: %v", q.name, task.ID, r)
		}
	}()

	result, err = task.Fn(q.ctx)
	if err != nil {
		err = sifterrors.NewTaskError(task.ID, err)
	}
	return result, err
}

func (q *Queue[T]) signalIdleLocked() {
	if q.active == 0 && len(q.backlog) == 0 && !q.idleShut {
		close(q.idle)
		q.idleShut = true
	}
}

// drop discards the backlog and marks the queue cancelled.
func (q *Queue[T]) drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropLocked()
}

func (q *Queue[T]) dropLocked() {
	if q.cancelled {
		return
	}
	q.cancelled = true
	if n := len(q.backlog); n > 0 {
		debug.LogQueue("%s: cancelled, dropping %d pending tasks (%d running)", q.name, n, q.active)
	}
	q.backlog = nil
	q.signalIdleLocked()
}

// Cancel stops dispatch and drops the backlog. Running tasks observe a
// cancelled context and finish on their own. Cancel is idempotent.
func (q *Queue[T]) Cancel() {
	q.drop()
	q.cancel()
}

// Release frees the queue's context without discarding outcomes.
// It must only be called once the queue is idle.
func (q *Queue[T]) Release() {
	q.stopWatch()
	q.cancel()
}

// Cancelled reports whether the queue was cancelled.
func (q *Queue[T]) Cancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

// Active returns the number of running tasks.
func (q *Queue[T]) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the number of tasks waiting in the backlog.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Idle returns a channel closed once the backlog is empty and no task runs.
// Enqueueing into an idle queue arms a fresh channel.
func (q *Queue[T]) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// OnIdle waits until the queue is idle and returns the aggregated outcome.
// It is safe to call at any time, including on an empty queue.
func (q *Queue[T]) OnIdle(ctx context.Context) (Outcome[T], error) {
	select {
	case <-q.Idle():
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return Outcome[T]{
		Results: append([]T(nil), q.outcome.Results...),
		Errors:  append([]error(nil), q.outcome.Errors...),
	}, nil
}
