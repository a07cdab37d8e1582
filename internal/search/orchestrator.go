// Package search drives query runs: it consults the cache tree, replays or
// narrows cached results when it can, and otherwise enumerates and scans
// the candidate files on a bounded task queue while streaming events.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/core"
	"github.com/standardbeagle/sift/internal/debug"
	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/interfaces"
	"github.com/standardbeagle/sift/internal/pipeline"
	"github.com/standardbeagle/sift/internal/taskqueue"
	"github.com/standardbeagle/sift/internal/types"
)

// ErrClosed is returned by Search after Close.
var ErrClosed = errors.New("search orchestrator closed")

// Deps are the collaborators of an Orchestrator. Enumerator, Reader and
// Matcher are required.
type Deps struct {
	Enumerator interfaces.FileEnumerator
	Reader     interfaces.FileReader
	Matcher    interfaces.Matcher
	Refiner    interfaces.Refiner       // nil disables narrowing
	Hasher     interfaces.ContentHasher // nil makes every invalidation a reset
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency caps the number of files scanned at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithEventBuffer sets the buffer size of each run's event channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithReusePartial lets stopped runs answer later queries.
func WithReusePartial(enabled bool) Option {
	return func(o *Orchestrator) {
		o.reusePartial = enabled
	}
}

// OptionsFromConfig maps the search section of cfg to options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithConcurrency(cfg.Search.Concurrency),
		WithEventBuffer(cfg.Search.EventBuffer),
		WithReusePartial(cfg.Search.ReusePartial),
	}
}

// Orchestrator owns the cache tree and at most one active run.
type Orchestrator struct {
	enumerator interfaces.FileEnumerator
	reader     interfaces.FileReader
	matcher    interfaces.Matcher
	hasher     interfaces.ContentHasher
	tree       *cache.Tree

	concurrency  int
	eventBuffer  int
	reusePartial bool
	observer     Observer

	mu     sync.Mutex
	active *Run
	closed bool
}

// New creates an orchestrator with an empty cache tree.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		enumerator:  deps.Enumerator,
		reader:      deps.Reader,
		matcher:     deps.Matcher,
		hasher:      deps.Hasher,
		concurrency: types.DefaultConcurrency,
		eventBuffer: types.DefaultEventBuffer,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tree = cache.NewTree(deps.Refiner, cache.WithReusePartial(o.reusePartial))
	return o
}

// Search starts a run for params, aborting the active run first. The run
// outlives the call; cancelling ctx stops it.
func (o *Orchestrator) Search(ctx context.Context, params types.QueryParams) (*Run, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	params = params.Normalize()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if prev := o.active; prev != nil && prev.abort() {
		debug.LogSearch("run %s superseded", prev.id)
	}

	node, origin := o.tree.CreateNode(params)
	r := newRun(ctx, uuid.NewString(), params, node, origin, o.eventBuffer)
	o.active = r
	debug.LogSearch("run %s: %s (%s node %d)", r.id, params, origin, node.ID())

	go o.drive(r)
	return r, nil
}

// Stop stops the active run. It returns false if no run was active.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	return r != nil && r.Stop()
}

// Abort cancels the active run, discards its cache node and waits until its
// tasks have drained. It returns false if no run was active.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.abort()
}

// Active returns the most recent run, which may already be terminal.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// CacheStats returns a snapshot of the cache tree.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.tree.Stats()
}

// Tree exposes the cache tree for inspection.
func (o *Orchestrator) Tree() *cache.Tree {
	return o.tree
}

// ResetCache aborts the active run and discards every cached node.
func (o *Orchestrator) ResetCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		o.active.abort()
	}
	o.tree.Reset()
	debug.LogCache("cache reset")
}

// InvalidateFile resets the cache unless the content of id is unchanged
// since it was last read. Files never read may be new candidates, so they
// reset too. It reports whether a reset happened.
func (o *Orchestrator) InvalidateFile(id types.FileID) bool {
	if o.hasher != nil {
		if changed, seen := o.hasher.Changed(id); seen && !changed {
			return false
		}
	}
	if o.tree.Stats().Nodes == 0 {
		return false
	}
	o.ResetCache()
	debug.LogCache("invalidated by %s", id)
	return true
}

// Close aborts the active run and rejects further searches.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if r := o.active; r != nil {
		r.abort()
		// a finished run may still be blocked on its last send
		r.release()
		<-r.done
	}
}

func (o *Orchestrator) drive(r *Run) {
	defer close(r.done)
	defer close(r.events)

	o.observer.RunStarted(r.origin, r.query.Mode)
	var state State
	if r.origin == cache.OriginFresh {
		state = o.scan(r)
	} else {
		state = o.replay(r)
	}
	elapsed := time.Since(r.started)
	o.observer.RunFinished(state, elapsed)

	completed, total := r.Progress()
	debug.LogSearch("run %s %s: %d/%d files in %s", r.id, state, completed, total, elapsed)
}

// end records the terminal state and emits the final events. An aborted run
// emits nothing and loses its node unless the node predates the run.
func (o *Orchestrator) end(r *Run, s State, err error, final ...Event) State {
	s = r.finish(s, err)
	if s == StateAborted {
		if r.origin != cache.OriginReused {
			o.tree.Discard(r.node)
		}
		return s
	}
	for _, ev := range final {
		if !r.emit(ev) {
			break
		}
	}
	return s
}

// replay streams the results already held by a reused or narrowed node.
func (o *Orchestrator) replay(r *Run) State {
	if !r.emit(Event{Kind: EventStart}) {
		return o.end(r, StateAborted, nil)
	}

	results := r.node.Results()
	matched := results[:0]
	for _, res := range results {
		if res.HasMatches() {
			matched = append(matched, res)
		}
	}
	n := len(matched)
	r.setTotal(n)

	for i := range matched {
		if r.interrupted() {
			return o.end(r, StateStopped, nil,
				Event{Kind: EventProgress, Completed: i, Total: n},
				Event{Kind: EventStop})
		}
		if !r.emit(Event{Kind: EventResult, Result: &matched[i]}) {
			return o.end(r, StateAborted, nil)
		}
		r.advance()
	}

	progress := Event{Kind: EventProgress, Completed: n, Total: n}
	if !r.node.Complete() {
		// the node was stopped before; its results may be partial
		return o.end(r, StateStopped, nil, progress, Event{Kind: EventStop})
	}
	return o.end(r, StateDone, nil, progress, Event{Kind: EventDone})
}

// scan enumerates the candidate files and scans them on a task queue.
func (o *Orchestrator) scan(r *Run) State {
	if !r.emit(Event{Kind: EventStart}) {
		return o.end(r, StateAborted, nil)
	}

	if v, ok := o.matcher.(interfaces.PatternValidator); ok {
		if err := v.Validate(r.query); err != nil {
			return o.fail(r, err)
		}
	}

	r.setState(StateEnumerating)
	files, err := o.candidates(r)
	if err != nil {
		if r.interrupted() {
			o.tree.Discard(r.node)
			return o.end(r, StateStopped, nil, Event{Kind: EventStop})
		}
		return o.fail(r, err)
	}

	total := len(files)
	r.setTotal(total)
	if !r.emit(Event{Kind: EventProgress, Completed: 0, Total: total}) {
		return o.end(r, StateAborted, nil)
	}

	var scanErrs int
	var errMu sync.Mutex
	q := taskqueue.New[types.FileResult](r.ctx, o.concurrency,
		taskqueue.WithName[types.FileResult]("run-"+r.id),
		taskqueue.WithOnComplete(func(task taskqueue.Task[types.FileResult], res types.FileResult, err error) {
			if err != nil {
				res = types.FileResult{FileID: types.FileID(task.ID), Err: err}
			}
			if res.Err != nil {
				errMu.Lock()
				scanErrs++
				errMu.Unlock()
			}
			o.record(r, res)
		}))

	tasks := make([]taskqueue.Task[types.FileResult], len(files))
	for i, id := range files {
		tasks[i] = taskqueue.Task[types.FileResult]{
			ID: string(id),
			Fn: func(ctx context.Context) (types.FileResult, error) {
				return o.scanFile(ctx, id, r.query), nil
			},
		}
	}
	if err := q.EnqueueAll(tasks); err != nil {
		debug.LogSearch("run %s: dispatch stopped: %v", r.id, err)
	}
	if _, err := q.OnIdle(context.Background()); err != nil {
		debug.LogSearch("run %s: wait failed: %v", r.id, err)
	}
	q.Release()

	completed, total := r.Progress()
	if completed < total {
		return o.end(r, StateStopped, nil,
			Event{Kind: EventProgress, Completed: completed, Total: total},
			Event{Kind: EventStop})
	}
	// results of failed files are not cached, so such a node cannot stand
	// in for a rescan
	if scanErrs == 0 {
		o.tree.MarkComplete(r.node)
	}
	return o.end(r, StateDone, nil, Event{Kind: EventDone})
}

// fail ends a run whose pattern or enumeration failed.
func (o *Orchestrator) fail(r *Run, err error) State {
	o.tree.Discard(r.node)
	debug.LogSearch("run %s failed: %v", r.id, err)
	return o.end(r, StateFailed, err, Event{Kind: EventStop, Err: err})
}

// candidates lists the files of the run's scope that the matcher supports.
func (o *Orchestrator) candidates(r *Run) ([]types.FileID, error) {
	var files []types.FileID
	if r.query.Scope == types.ScopeCurrentFile {
		files = []types.FileID{r.query.ActiveFile}
	} else {
		listed, err := o.enumerator.ListFiles(r.ctx, r.query.Include, r.query.Exclude)
		if err != nil {
			return nil, err
		}
		files = listed
	}

	supported, err := pipeline.From(files).FilterAsync(r.ctx, func(ctx context.Context, id types.FileID) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return o.matcher.Supports(id, r.query), nil
	})
	if err != nil {
		return nil, err
	}
	return supported.Items(), nil
}

// record stores one file's outcome and emits its result and progress.
func (o *Orchestrator) record(r *Run, res types.FileResult) {
	if res.Err == nil && res.HasMatches() {
		r.node.SetResult(res)
	}
	o.observer.FileScanned(res.Err)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	completed, total := r.advance()
	if r.emit(Event{Kind: EventResult, Result: &res}) {
		r.emit(Event{Kind: EventProgress, Completed: completed, Total: total})
	}
}

// scanFile reads and matches one file. Failures are carried in the result.
func (o *Orchestrator) scanFile(ctx context.Context, id types.FileID, q types.QueryParams) types.FileResult {
	content, err := o.reader.ReadFile(ctx, id)
	if err != nil {
		return types.FileResult{FileID: id, Err: sifterrors.NewScanError(id, "read", err)}
	}
	ranges, err := o.matcher.Match(id, content, q)
	if err != nil {
		return types.FileResult{FileID: id, Err: sifterrors.NewScanError(id, "match", err)}
	}
	matches, lines := core.ProjectMatches(content, ranges)
	return types.FileResult{
		FileID:      id,
		Matches:     matches,
		Lines:       lines,
		ContentHash: xxhash.Sum64(content),
	}
}
