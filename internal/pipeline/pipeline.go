// Package pipeline provides eager, order-preserving combinators over
// in-memory slices, with async stages built on errgroup and a bounded stage
// built on the task queue.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/taskqueue"
)

// Pipeline wraps a slice of items.
type Pipeline[T any] struct {
	items []T
}

// From starts a pipeline over items. The slice is not copied.
func From[T any](items []T) *Pipeline[T] {
	return &Pipeline[T]{items: items}
}

// Items returns the current items.
func (p *Pipeline[T]) Items() []T {
	return p.items
}

// Len returns the number of items.
func (p *Pipeline[T]) Len() int {
	return len(p.items)
}

// Filter keeps the items for which keep returns true.
func (p *Pipeline[T]) Filter(keep func(T) bool) *Pipeline[T] {
	out := make([]T, 0, len(p.items))
	for _, item := range p.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return From(out)
}

// Map transforms every item.
func Map[T, U any](p *Pipeline[T], fn func(T) U) *Pipeline[U] {
	out := make([]U, len(p.items))
	for i, item := range p.items {
		out[i] = fn(item)
	}
	return From(out)
}

// FilterAsync evaluates keep for every item concurrently and preserves order.
// The first error cancels the remaining evaluations and is returned.
func (p *Pipeline[T]) FilterAsync(ctx context.Context, keep func(context.Context, T) (bool, error)) (*Pipeline[T], error) {
	verdicts := make([]bool, len(p.items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range p.items {
		g.Go(func() error {
			ok, err := keep(gctx, item)
			if err != nil {
				return err
			}
			verdicts[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(p.items))
	for i, item := range p.items {
		if verdicts[i] {
			out = append(out, item)
		}
	}
	return From(out), nil
}

// MapAsync transforms every item concurrently and preserves order.
// The first error cancels the remaining work and is returned.
func MapAsync[T, U any](ctx context.Context, p *Pipeline[T], fn func(context.Context, T) (U, error)) (*Pipeline[U], error) {
	out := make([]U, len(p.items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range p.items {
		g.Go(func() error {
			v, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return From(out), nil
}

// ProcessConcurrent runs fn for every item on a bounded task queue and waits
// for it to go idle. Failures are aggregated into a *errors.MultiError; a
// cancelled ctx contributes its error as well.
func (p *Pipeline[T]) ProcessConcurrent(ctx context.Context, concurrency int, fn func(context.Context, T) error) error {
	q := taskqueue.New[struct{}](ctx, concurrency, taskqueue.WithName[struct{}]("pipeline"))

	tasks := make([]taskqueue.Task[struct{}], len(p.items))
	for i, item := range p.items {
		tasks[i] = taskqueue.Task[struct{}]{Fn: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, item)
		}}
	}

	var errs []error
	if err := q.EnqueueAll(tasks); err != nil && ctx.Err() == nil {
		errs = append(errs, err)
	}

	// The queue drains on its own once ctx is cancelled, so wait without a deadline.
	outcome, _ := q.OnIdle(context.Background())
	errs = append(errs, outcome.Errors...)
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	q.Release()

	return sifterrors.NewMultiError(errs).ErrorOrNil()
}
