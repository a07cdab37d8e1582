package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/sift/internal/types"
)

// MatchCapture is the capture name that selects the reported range of a
// structural match. Without it the outermost captured node is reported.
const MatchCapture = "match"

type queryKey struct {
	grammar string
	source  string
}

// Structural runs tree-sitter queries against files whose extension has a
// registered grammar. Compiled queries are shared; parsers are per call.
type Structural struct {
	mu      sync.Mutex
	queries map[queryKey]*tree_sitter.Query
}

// NewStructural creates a structural matcher with an empty query cache.
func NewStructural() *Structural {
	return &Structural{queries: make(map[queryKey]*tree_sitter.Query)}
}

// Supports reports whether the file has a grammar.
func (s *Structural) Supports(id types.FileID) bool {
	return grammarFor(id) != nil
}

func (s *Structural) query(g *grammar, source string) (*tree_sitter.Query, error) {
	key := queryKey{grammar: g.name, source: source}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queries[key]; ok {
		return q, nil
	}

	q, qerr := tree_sitter.NewQuery(g.language(), source)
	if qerr != nil || q == nil {
		msg := "query could not be compiled"
		if qerr != nil {
			msg = qerr.Message
		}
		return nil, fmt.Errorf("invalid %s query: %s", g.name, msg)
	}
	// a capture-less pattern reports its whole node
	if len(q.CaptureNames()) == 0 {
		q.Close()
		q, qerr = tree_sitter.NewQuery(g.language(), source+" @"+MatchCapture)
		if qerr != nil || q == nil {
			return nil, fmt.Errorf("invalid %s query: cannot capture %q", g.name, strings.TrimSpace(source))
		}
	}
	s.queries[key] = q
	return q, nil
}

// Match returns the byte ranges of every query match in content, ordered by
// position with duplicates removed.
func (s *Structural) Match(id types.FileID, content []byte, source string) ([]types.MatchRange, error) {
	g := grammarFor(id)
	if g == nil {
		return nil, fmt.Errorf("no grammar for %s", id)
	}
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	q, err := s.query(g, source)
	if err != nil {
		return nil, err
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(g.language()); err != nil {
		return nil, fmt.Errorf("set %s grammar: %w", g.name, err)
	}
	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse %s as %s failed", id, g.name)
	}
	defer tree.Close()

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()
	names := q.CaptureNames()

	seen := make(map[types.MatchRange]struct{})
	var out []types.MatchRange
	matches := qc.Matches(q, tree.RootNode(), content)
	for m := matches.Next(); m != nil; m = matches.Next() {
		r, ok := reportedRange(m.Captures, names)
		if !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out, nil
}

// reportedRange picks the @match capture, or else the widest capture.
func reportedRange(captures []tree_sitter.QueryCapture, names []string) (types.MatchRange, bool) {
	var best types.MatchRange
	found := false
	for _, c := range captures {
		r := types.MatchRange{Start: int(c.Node.StartByte()), End: int(c.Node.EndByte())}
		if names[c.Index] == MatchCapture {
			return r, true
		}
		if !found || r.Start < best.Start || (r.Start == best.Start && r.End > best.End) {
			best = r
			found = true
		}
	}
	return best, found
}

// Close releases the compiled queries.
func (s *Structural) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, q := range s.queries {
		q.Close()
		delete(s.queries, k)
	}
}
