package search

import (
	"context"
	"sync"
	"time"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/types"
)

// Run is the state of one query from issuance to its terminal event.
type Run struct {
	id      string
	query   types.QueryParams
	node    *cache.Node
	origin  cache.Origin
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events    chan Event
	done      chan struct{}
	abortCh   chan struct{}
	abortOnce sync.Once

	// emitMu keeps result/progress pairs together so progress is monotonic.
	emitMu sync.Mutex

	mu            sync.Mutex
	state         State
	completed     int
	total         int
	stopRequested bool
	aborted       bool
	err           error
}

func newRun(ctx context.Context, id string, query types.QueryParams, node *cache.Node, origin cache.Origin, buffer int) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	return &Run{
		id:      id,
		query:   query,
		node:    node,
		origin:  origin,
		started: time.Now(),
		ctx:     runCtx,
		cancel:  cancel,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		abortCh: make(chan struct{}),
	}
}

// ID returns the run's unique id.
func (r *Run) ID() string { return r.id }

// Query returns the normalized query of the run.
func (r *Run) Query() types.QueryParams { return r.query }

// Origin reports how the run's cache node was obtained.
func (r *Run) Origin() cache.Origin { return r.origin }

// Events returns the run's event stream. It is closed after the terminal
// event, or without one when the run is aborted.
func (r *Run) Events() <-chan Event { return r.events }

// Done is closed once the run has reached a terminal state and released
// every task.
func (r *Run) Done() <-chan struct{} { return r.done }

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the completed and total candidate file counts.
func (r *Run) Progress() (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.total
}

// Err returns the error that failed the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Run) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.state, r.err
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Stop asks the run to end early. Running scans finish, a final progress
// and a stop event follow, and the cache node keeps the partial results.
// It returns false if the run already ended.
func (r *Run) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || r.aborted {
		return false
	}
	r.stopRequested = true
	r.cancel()
	return true
}

// abort cancels the run, abandons pending sends and waits for the driver
// to exit. It returns false if the run already ended.
func (r *Run) abort() bool {
	r.mu.Lock()
	if r.state.Terminal() || r.aborted {
		r.mu.Unlock()
		return false
	}
	r.aborted = true
	r.mu.Unlock()

	r.release()
	<-r.done
	return true
}

// release unblocks any pending event send.
func (r *Run) release() {
	r.abortOnce.Do(func() { close(r.abortCh) })
	r.cancel()
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setTotal(total int) {
	r.mu.Lock()
	r.state = StateScanning
	r.total = total
	r.mu.Unlock()
}

// advance counts one more completed file.
func (r *Run) advance() (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	return r.completed, r.total
}

func (r *Run) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// interrupted reports whether the run was stopped, either explicitly or by
// the caller's context.
func (r *Run) interrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested || r.ctx.Err() != nil
}

// finish records the terminal state unless the run was aborted meanwhile.
func (r *Run) finish(s State, err error) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		s, err = StateAborted, nil
	}
	r.state = s
	r.err = err
	return s
}

// emit delivers ev unless the run is aborted first.
func (r *Run) emit(ev Event) bool {
	ev.RunID = r.id
	select {
	case <-r.abortCh:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.abortCh:
		return false
	}
}
