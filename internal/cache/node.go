package cache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/sift/internal/types"
)

// NodeID identifies a node in the tree's arena. IDs are never reused, even
// across resets.
type NodeID int64

// NoNode is the parent of a root and the current node of an empty tree.
const NoNode NodeID = -1

// Origin records how a node was obtained for a query.
type Origin uint8

const (
	// OriginFresh is a new root or non-narrowing child with empty results.
	OriginFresh Origin = iota
	// OriginReused is an existing node with identical text.
	OriginReused
	// OriginNarrowed is a new child pre-seeded from its parent's results.
	OriginNarrowed
)

func (o Origin) String() string {
	switch o {
	case OriginFresh:
		return "fresh"
	case OriginReused:
		return "reused"
	case OriginNarrowed:
		return "narrowed"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// Node holds the per-file results of one query. Results are written once per
// file while the node's run scans and are frozen afterwards.
type Node struct {
	id     NodeID
	params types.QueryParams

	// parent and children are guarded by the owning tree's lock.
	parent   NodeID
	children []NodeID

	mu       sync.RWMutex
	results  map[types.FileID]types.FileResult
	complete atomic.Bool
}

func newNode(id NodeID, params types.QueryParams, parent NodeID) *Node {
	return &Node{
		id:      id,
		params:  params,
		parent:  parent,
		results: make(map[types.FileID]types.FileResult),
	}
}

// ID returns the node's arena id.
func (n *Node) ID() NodeID { return n.id }

// Params returns the query the node answers.
func (n *Node) Params() types.QueryParams { return n.params }

// Complete reports whether every candidate file was scanned.
func (n *Node) Complete() bool { return n.complete.Load() }

// SetResult stores r unless a result for the same file already exists.
func (n *Node) SetResult(r types.FileResult) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.results[r.FileID]; exists {
		return false
	}
	n.results[r.FileID] = r
	return true
}

// Result returns the stored result of one file.
func (n *Node) Result(id types.FileID) (types.FileResult, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.results[id]
	return r, ok
}

// Results returns every stored result ordered by file id.
func (n *Node) Results() []types.FileResult {
	n.mu.RLock()
	out := make([]types.FileResult, 0, len(n.results))
	for _, r := range n.results {
		out = append(out, r)
	}
	n.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// Len returns the number of stored results.
func (n *Node) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.results)
}

// MatchCount returns the total number of matches across all results.
func (n *Node) MatchCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, r := range n.results {
		total += len(r.Matches)
	}
	return total
}
