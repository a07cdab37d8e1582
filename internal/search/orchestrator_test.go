package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/config"
	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memFS is an in-memory enumerator and reader. Reads of blocked files wait
// for the gate to open or their context to end.
type memFS struct {
	mu      sync.Mutex
	files   map[types.FileID]string
	blocked map[types.FileID]bool
	failing map[types.FileID]bool
	listErr error
	reads   int
	lists   int
	delay   time.Duration

	gate     chan struct{}
	gateOnce sync.Once
	started  chan types.FileID

	active    atomic.Int32
	maxActive atomic.Int32
}

func newMemFS(files map[string]string) *memFS {
	f := &memFS{
		files:   make(map[types.FileID]string),
		blocked: make(map[types.FileID]bool),
		failing: make(map[types.FileID]bool),
		gate:    make(chan struct{}),
		started: make(chan types.FileID, 64),
	}
	for name, content := range files {
		f.files[types.FileID(name)] = content
	}
	return f
}

func (f *memFS) block(ids ...types.FileID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.blocked[id] = true
	}
}

func (f *memFS) open() {
	f.gateOnce.Do(func() { close(f.gate) })
}

func (f *memFS) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *memFS) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *memFS) ListFiles(ctx context.Context, include, exclude string) ([]types.FileID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]types.FileID, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *memFS) ReadFile(ctx context.Context, id types.FileID) ([]byte, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.reads++
	content, ok := f.files[id]
	blocked, failing := f.blocked[id], f.failing[id]
	f.mu.Unlock()

	if blocked {
		select {
		case f.started <- id:
		default:
		}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if failing || !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func newTestOrchestrator(t *testing.T, fs *memFS, opts ...Option) *Orchestrator {
	t.Helper()
	m := matcher.New()
	o := New(Deps{Enumerator: fs, Reader: fs, Matcher: m, Refiner: matcher.NewRefiner(m)}, opts...)
	t.Cleanup(func() {
		fs.open()
		o.Close()
		m.Close()
	})
	return o
}

func collect(t *testing.T, r *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("run did not finish")
			return nil
		}
	}
}

func waitStarted(t *testing.T, fs *memFS) types.FileID {
	t.Helper()
	select {
	case id := <-fs.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no blocked read started")
		return ""
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func resultsOf(events []Event) []types.FileResult {
	var out []types.FileResult
	for _, ev := range events {
		if ev.Kind == EventResult {
			out = append(out, *ev.Result)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

func lastProgress(events []Event) Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == EventProgress {
			return events[i]
		}
	}
	return Event{}
}

func search(t *testing.T, o *Orchestrator, params types.QueryParams) (*Run, []Event) {
	t.Helper()
	r, err := o.Search(context.Background(), params)
	require.NoError(t, err)
	return r, collect(t, r)
}

func fiveFiles() *memFS {
	return newMemFS(map[string]string{
		"a.txt": "foo\n",
		"b.txt": "foo\n",
		"c.txt": "foo\n",
		"d.txt": "foo\n",
		"e.txt": "foo\n",
	})
}

func TestOrchestrator_RefinementReusesWithoutReads(t *testing.T) {
	fs := newMemFS(map[string]string{
		"a.txt": "foo foobar\n",
		"b.txt": "call foo()\n",
		"c.txt": "nothing here\n",
	})
	o := newTestOrchestrator(t, fs)

	r, events := search(t, o, types.QueryParams{FindText: "foo", MatchCase: true})
	assert.Equal(t, cache.OriginFresh, r.Origin())
	assert.Equal(t, StateDone, r.State())
	assert.Equal(t, EventStart, events[0].Kind)
	assert.Equal(t, EventDone, events[len(events)-1].Kind)

	results := resultsOf(events)
	require.Len(t, results, 3, "one result per candidate file")
	assert.Len(t, results[0].Matches, 2)
	assert.Len(t, results[1].Matches, 1)
	assert.Empty(t, results[2].Matches)
	final := lastProgress(events)
	assert.Equal(t, 3, final.Completed)
	assert.Equal(t, 3, final.Total)
	assert.Equal(t, 3, fs.readCount())
	assert.True(t, o.Tree().Current().Complete())

	r, events = search(t, o, types.QueryParams{FindText: "foob", MatchCase: true})
	assert.Equal(t, cache.OriginNarrowed, r.Origin())
	assert.Equal(t, StateDone, r.State())
	assert.Equal(t, 3, fs.readCount(), "refinement reads no files")
	assert.Equal(t, []EventKind{EventStart, EventResult, EventProgress, EventDone}, kinds(events))

	results = resultsOf(events)
	require.Len(t, results, 1)
	assert.Equal(t, types.FileID("a.txt"), results[0].FileID)
	assert.Equal(t, []types.MatchRange{{Start: 4, End: 8, Line: 1, Column: 4}}, results[0].Matches)
	assert.Equal(t, 1, lastProgress(events).Total)
}

func TestOrchestrator_RefinementMatchesRescanOnCRLF(t *testing.T) {
	fs := newMemFS(map[string]string{"a.txt": "x foo\r\nfoo bar\r\n"})
	o := newTestOrchestrator(t, fs)
	regex := func(s string) types.QueryParams {
		return types.QueryParams{FindText: s, MatchCase: true, Mode: types.ModeRegex}
	}

	search(t, o, regex("foo"))
	r, events := search(t, o, regex("foo."))
	assert.Equal(t, cache.OriginFresh, r.Origin(), "a refinement that can consume \\r is rescanned")
	assert.Equal(t, 2, fs.readCount())

	results := resultsOf(events)
	require.Len(t, results, 1)
	assert.Equal(t, []types.MatchRange{
		{Start: 2, End: 6, Line: 1, Column: 2},
		{Start: 7, End: 11, Line: 2, Column: 0},
	}, results[0].Matches)

	r, events = search(t, o, regex("foo b"))
	assert.Equal(t, cache.OriginNarrowed, r.Origin())
	assert.Equal(t, 2, fs.readCount())
	results = resultsOf(events)
	require.Len(t, results, 1)
	assert.Equal(t, []types.MatchRange{{Start: 7, End: 12, Line: 2, Column: 0}}, results[0].Matches)
}

func TestOrchestrator_IdenticalQueryReuses(t *testing.T) {
	fs := fiveFiles()
	o := newTestOrchestrator(t, fs)

	search(t, o, types.QueryParams{FindText: "foo"})
	r, events := search(t, o, types.QueryParams{FindText: "FOO"})

	assert.Equal(t, cache.OriginReused, r.Origin())
	assert.Equal(t, 5, fs.readCount())
	assert.Len(t, resultsOf(events), 5)
	assert.Equal(t, 1, o.CacheStats().Nodes)
}

func TestOrchestrator_ModeChangeRescans(t *testing.T) {
	fs := fiveFiles()
	o := newTestOrchestrator(t, fs)

	search(t, o, types.QueryParams{FindText: "foo"})
	r, _ := search(t, o, types.QueryParams{FindText: "foo", Mode: types.ModeRegex})

	assert.Equal(t, cache.OriginFresh, r.Origin())
	assert.Equal(t, 10, fs.readCount())
	assert.Equal(t, uint64(1), o.CacheStats().Generation)
}

func TestOrchestrator_CompletionAccounting(t *testing.T) {
	files := make(map[string]string)
	for i := range 40 {
		files[filepath.Join("dir", string(rune('a'+i%26))+string(rune('0'+i/26))+".txt")] = "x foo y\n"
	}
	fs := newMemFS(files)
	fs.delay = time.Millisecond
	o := newTestOrchestrator(t, fs, WithConcurrency(3), WithEventBuffer(4))

	r, events := search(t, o, types.QueryParams{FindText: "foo"})
	require.Equal(t, StateDone, r.State())

	assert.Len(t, resultsOf(events), 40)
	last := -1
	for _, ev := range events {
		if ev.Kind != EventProgress {
			continue
		}
		assert.GreaterOrEqual(t, ev.Completed, last, "progress is monotonic")
		assert.Equal(t, 40, ev.Total)
		last = ev.Completed
	}
	assert.Equal(t, 40, last)
	assert.LessOrEqual(t, fs.maxActive.Load(), int32(3))

	completed, total := r.Progress()
	assert.Equal(t, 40, completed)
	assert.Equal(t, 40, total)
	for _, ev := range events {
		assert.Equal(t, r.ID(), ev.RunID)
	}
}

func TestOrchestrator_StopKeepsPartialResults(t *testing.T) {
	fs := fiveFiles()
	fs.block("b.txt", "c.txt", "d.txt", "e.txt")
	o := newTestOrchestrator(t, fs, WithConcurrency(1))

	r, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	assert.Equal(t, types.FileID("b.txt"), waitStarted(t, fs))
	assert.True(t, o.Stop())

	events := collect(t, r)
	n := len(events)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, Event{Kind: EventProgress, RunID: r.ID(), Completed: 1, Total: 5}, events[n-2])
	assert.Equal(t, EventStop, events[n-1].Kind)
	assert.NoError(t, events[n-1].Err)
	assert.Equal(t, StateStopped, r.State())
	assert.False(t, r.Stop(), "already stopped")

	node := o.Tree().Current()
	require.NotNil(t, node)
	assert.False(t, node.Complete())
	_, ok := node.Result("a.txt")
	assert.True(t, ok, "partial results are kept")

	fs.open()
	r, _ = search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, cache.OriginFresh, r.Origin(), "incomplete nodes are not reused")
	assert.Equal(t, StateDone, r.State())
	assert.Equal(t, 1, o.CacheStats().Nodes)
}

func TestOrchestrator_ReusePartial(t *testing.T) {
	fs := fiveFiles()
	fs.block("b.txt", "c.txt", "d.txt", "e.txt")
	o := newTestOrchestrator(t, fs, WithConcurrency(1), WithReusePartial(true))

	r, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	waitStarted(t, fs)
	r.Stop()
	collect(t, r)

	reads := fs.readCount()
	r, events := search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, cache.OriginReused, r.Origin())
	assert.Equal(t, reads, fs.readCount())
	assert.Equal(t, []EventKind{EventStart, EventResult, EventProgress, EventStop}, kinds(events))
	assert.Equal(t, StateStopped, r.State(), "a partial node replays as stopped")
}

func TestOrchestrator_AbortDiscardsNode(t *testing.T) {
	fs := fiveFiles()
	fs.block("c.txt")
	o := newTestOrchestrator(t, fs, WithConcurrency(1))

	r, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	waitStarted(t, fs)

	assert.True(t, o.Abort())
	assert.Equal(t, StateAborted, r.State())
	for _, ev := range collect(t, r) {
		assert.NotEqual(t, EventStop, ev.Kind)
		assert.NotEqual(t, EventDone, ev.Kind)
	}
	assert.Equal(t, 0, o.CacheStats().Nodes)
	assert.Nil(t, o.Tree().Current())
	assert.False(t, o.Abort(), "nothing left to abort")

	state, err := r.Wait(context.Background())
	assert.Equal(t, StateAborted, state)
	assert.NoError(t, err)
}

func TestOrchestrator_AbortKeepsReusedNode(t *testing.T) {
	fs := fiveFiles()
	o := newTestOrchestrator(t, fs, WithEventBuffer(0))

	search(t, o, types.QueryParams{FindText: "foo"})
	r, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	// unbuffered: the replay waits on its first send
	assert.True(t, o.Abort())
	collect(t, r)

	assert.Equal(t, cache.OriginReused, r.Origin())
	assert.Equal(t, 1, o.CacheStats().Nodes)
}

func TestOrchestrator_NewQuerySupersedes(t *testing.T) {
	fs := fiveFiles()
	fs.block("b.txt")
	o := newTestOrchestrator(t, fs, WithConcurrency(1))

	first, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	waitStarted(t, fs)

	second, err := o.Search(context.Background(), types.QueryParams{FindText: "bar"})
	require.NoError(t, err)
	assert.Equal(t, StateAborted, first.State())
	fs.open()

	for _, ev := range collect(t, first) {
		assert.NotContains(t, []EventKind{EventStop, EventDone}, ev.Kind)
	}
	events := collect(t, second)
	assert.Equal(t, StateDone, second.State())
	assert.Len(t, resultsOf(events), 5)
	assert.Same(t, second, o.Active())
	assert.Equal(t, 1, o.CacheStats().Nodes)
}

func TestOrchestrator_EnumerationFailure(t *testing.T) {
	fs := fiveFiles()
	fs.listErr = sifterrors.NewEnumerationError("/repo", os.ErrPermission)
	o := newTestOrchestrator(t, fs)

	r, events := search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, []EventKind{EventStart, EventStop}, kinds(events))

	var enumErr *sifterrors.EnumerationError
	require.True(t, errors.As(events[1].Err, &enumErr))
	state, err := r.Wait(context.Background())
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, 0, fs.readCount())
	assert.Equal(t, 0, o.CacheStats().Nodes, "a failed run populates no node")
}

func TestOrchestrator_InvalidPattern(t *testing.T) {
	fs := fiveFiles()
	o := newTestOrchestrator(t, fs)

	r, events := search(t, o, types.QueryParams{FindText: "fo(o", Mode: types.ModeRegex})
	assert.Equal(t, []EventKind{EventStart, EventStop}, kinds(events))
	assert.Equal(t, StateFailed, r.State())

	var searchErr *sifterrors.SearchError
	require.True(t, errors.As(r.Err(), &searchErr))
	assert.Equal(t, "fo(o", searchErr.Pattern)
	assert.Equal(t, 0, fs.listCount())
	assert.Equal(t, 0, fs.readCount())
}

func TestOrchestrator_ScanErrorsAreResults(t *testing.T) {
	fs := fiveFiles()
	fs.failing["c.txt"] = true
	o := newTestOrchestrator(t, fs)

	r, events := search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, StateDone, r.State())

	results := resultsOf(events)
	require.Len(t, results, 5)
	var scanErr *sifterrors.ScanError
	require.True(t, errors.As(results[2].Err, &scanErr))
	assert.Equal(t, "read", scanErr.Stage)
	assert.ErrorIs(t, results[2].Err, os.ErrNotExist)

	assert.False(t, o.Tree().Current().Complete(), "a node with failed files is not reusable")
	r, _ = search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, cache.OriginFresh, r.Origin())
}

func TestOrchestrator_CurrentFileScope(t *testing.T) {
	fs := fiveFiles()
	o := newTestOrchestrator(t, fs)

	_, err := o.Search(context.Background(), types.QueryParams{FindText: "foo", Scope: types.ScopeCurrentFile})
	require.Error(t, err, "current file scope needs an active file")

	r, events := search(t, o, types.QueryParams{FindText: "foo", Scope: types.ScopeCurrentFile, ActiveFile: "d.txt"})
	assert.Equal(t, StateDone, r.State())
	results := resultsOf(events)
	require.Len(t, results, 1)
	assert.Equal(t, types.FileID("d.txt"), results[0].FileID)
	assert.Equal(t, 0, fs.listCount())
	assert.Equal(t, 1, fs.readCount())

	r, _ = search(t, o, types.QueryParams{FindText: "foo"})
	assert.Equal(t, cache.OriginFresh, r.Origin(), "scope changes never reuse")
}

func TestOrchestrator_StructuralSkipsUnsupportedFiles(t *testing.T) {
	fs := newMemFS(map[string]string{
		"a.go":      "package a\n\nfunc A() {}\n",
		"notes.txt": "package a\n",
	})
	o := newTestOrchestrator(t, fs)

	r, events := search(t, o, types.QueryParams{FindText: "(package_clause) @match", Mode: types.ModeStructural})
	require.Equal(t, StateDone, r.State())
	assert.Equal(t, 1, lastProgress(events).Total)
	results := resultsOf(events)
	require.Len(t, results, 1)
	assert.Equal(t, types.FileID("a.go"), results[0].FileID)
	require.Len(t, results[0].Matches, 1)
	assert.Equal(t, 0, results[0].Matches[0].Start)
}

func TestOrchestrator_ContextCancelStops(t *testing.T) {
	fs := fiveFiles()
	fs.block("a.txt")
	o := newTestOrchestrator(t, fs, WithConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	r, err := o.Search(ctx, types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	waitStarted(t, fs)
	cancel()

	events := collect(t, r)
	assert.Equal(t, EventStop, events[len(events)-1].Kind)
	assert.Equal(t, StateStopped, r.State())
}

func TestOrchestrator_Close(t *testing.T) {
	fs := fiveFiles()
	fs.block("a.txt")
	o := newTestOrchestrator(t, fs)

	r, err := o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	require.NoError(t, err)
	waitStarted(t, fs)

	o.Close()
	assert.Equal(t, StateAborted, r.State())
	_, err = o.Search(context.Background(), types.QueryParams{FindText: "foo"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestrator_InvalidateFile(t *testing.T) {
	root := t.TempDir()
	for name, content := range map[string]string{"a.txt": "needle\n", "b.txt": "needle haystack\n"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	svc := fileservice.NewService(root)
	m := matcher.New()
	defer m.Close()
	o := New(Deps{
		Enumerator: fileservice.NewScanner(config.Default(root)),
		Reader:     svc,
		Matcher:    m,
		Refiner:    matcher.NewRefiner(m),
		Hasher:     svc,
	})
	defer o.Close()

	_, events := search(t, o, types.QueryParams{FindText: "needle"})
	require.Len(t, resultsOf(events), 2)

	assert.False(t, o.InvalidateFile("b.txt"), "unchanged content keeps the cache")
	assert.Equal(t, 1, o.CacheStats().Nodes)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed\n"), 0o644))
	assert.True(t, o.InvalidateFile("a.txt"))
	assert.Equal(t, 0, o.CacheStats().Nodes)

	_, events = search(t, o, types.QueryParams{FindText: "needle"})
	assert.Len(t, resultsOf(events), 2)
	results := resultsOf(events)
	assert.Empty(t, results[0].Matches)
}

func TestEvent_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Event{
		Kind:   EventResult,
		RunID:  "r1",
		Result: &types.FileResult{FileID: "a.txt", Err: errors.New("boom")},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"result"`)
	assert.Contains(t, string(data), `"file_id":"a.txt"`)
	assert.Contains(t, string(data), `"error":"boom"`)

	data, err = json.Marshal(Event{Kind: EventProgress, RunID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"progress","run_id":"r1","completed":0,"total":0}`, string(data))

	data, err = json.Marshal(Event{Kind: EventProgress, RunID: "r1", Total: 4})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"completed":0,"total":4`)

	assert.Equal(t, "failed", StateFailed.String())
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateScanning.Terminal())
}
