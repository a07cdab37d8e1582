package mcp

import (
	"sort"
	"sync"

	"github.com/standardbeagle/sift/internal/search"
	"github.com/standardbeagle/sift/internal/types"
)

// tracker drains the events of one run so that tool calls can report it
// after the call that started it returned.
type tracker struct {
	run  *search.Run
	done chan struct{}

	mu       sync.Mutex
	results  []types.FileResult // files with matches or errors, in arrival order
	matches  int
	finalErr error
}

func track(r *search.Run) *tracker {
	t := &tracker{run: r, done: make(chan struct{})}
	go t.collect()
	return t
}

func (t *tracker) collect() {
	defer close(t.done)
	for ev := range t.run.Events() {
		switch ev.Kind {
		case search.EventResult:
			if ev.Result == nil || (!ev.Result.HasMatches() && ev.Result.Err == nil) {
				continue
			}
			t.mu.Lock()
			t.results = append(t.results, *ev.Result)
			t.matches += len(ev.Result.Matches)
			t.mu.Unlock()
		case search.EventStop, search.EventDone:
			if ev.Err != nil {
				t.mu.Lock()
				t.finalErr = ev.Err
				t.mu.Unlock()
			}
		}
	}
}

// finished reports whether the run's event stream has ended.
func (t *tracker) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// snapshot renders the run so far. Files are sorted by id and cut after
// maxFiles.
func (t *tracker) snapshot(maxFiles int) *SearchResponse {
	t.mu.Lock()
	results := append([]types.FileResult(nil), t.results...)
	matches := t.matches
	finalErr := t.finalErr
	t.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].FileID < results[j].FileID })

	completed, total := t.run.Progress()
	resp := &SearchResponse{
		RunID:      t.run.ID(),
		Query:      t.run.Query().String(),
		Origin:     t.run.Origin().String(),
		State:      t.run.State().String(),
		Finished:   t.finished(),
		Completed:  completed,
		Total:      total,
		MatchCount: matches,
		FileCount:  len(results),
		Files:      make([]FileMatches, 0, min(len(results), maxFiles)),
	}
	if err := t.run.Err(); err != nil {
		resp.Error = err.Error()
	} else if finalErr != nil {
		resp.Error = finalErr.Error()
	}

	for _, res := range results {
		if len(resp.Files) == maxFiles {
			resp.Truncated = true
			break
		}
		resp.Files = append(resp.Files, fileMatches(res))
	}
	return resp
}
