// Package cache implements the search cache tree: a forest of query nodes in
// which every child refines its parent's text under identical parameters.
// Nodes live in an arena indexed by NodeID; parent and child links are ids.
package cache

import (
	"sync"

	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/interfaces"
	"github.com/standardbeagle/sift/internal/types"
)

// Option configures a Tree.
type Option func(*Tree)

// WithReusePartial lets incomplete (stopped) nodes answer later queries.
func WithReusePartial(enabled bool) Option {
	return func(t *Tree) {
		t.reusePartial = enabled
	}
}

// Stats is a snapshot of the tree's shape.
type Stats struct {
	Nodes      int    `json:"nodes"`
	Roots      int    `json:"roots"`
	Results    int    `json:"results"`
	Current    NodeID `json:"current"`
	Generation uint64 `json:"generation"`
}

// Tree is safe for concurrent use.
type Tree struct {
	refiner      interfaces.Refiner
	reusePartial bool

	mu         sync.Mutex
	nodes      []*Node // nodes[id-base]; nil once removed
	base       NodeID
	roots      []NodeID
	current    NodeID
	generation uint64
}

// NewTree creates an empty tree. A nil refiner disables narrowing.
func NewTree(refiner interfaces.Refiner, opts ...Option) *Tree {
	t := &Tree{
		refiner: refiner,
		current: NoNode,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tree) getLocked(id NodeID) *Node {
	i := int64(id - t.base)
	if id < t.base || i >= int64(len(t.nodes)) {
		return nil
	}
	return t.nodes[i]
}

func (t *Tree) usable(n *Node) bool {
	return t.reusePartial || n.Complete()
}

// FindSuitable returns the deepest usable node whose params are compatible
// with params and whose text params extends. It never mutates the tree.
func (t *Tree) FindSuitable(params types.QueryParams) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findLocked(params.Normalize())
}

func (t *Tree) findLocked(params types.QueryParams) *Node {
	var best *Node
	var walk func(id NodeID)
	walk = func(id NodeID) {
		n := t.getLocked(id)
		if n == nil || !params.Extends(n.params) {
			return
		}
		if t.usable(n) && (best == nil || len(n.params.FindText) >= len(best.params.FindText)) {
			best = n
		}
		for _, c := range n.children {
			walk(c)
		}
	}

	for _, r := range t.roots {
		if n := t.getLocked(r); n != nil && n.params.Compatible(params) {
			walk(r)
		}
	}
	return best
}

// CreateNode returns the node that answers params and makes it current.
//   - an identical usable node is returned as is (OriginReused)
//   - a strictly refined query with a sound narrowing becomes a child seeded
//     from the parent's results (OriginNarrowed)
//   - otherwise a new empty child or root is created (OriginFresh)
func (t *Tree) CreateNode(params types.QueryParams) (*Node, Origin) {
	params = params.Normalize()

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.findLocked(params)
	if parent != nil && params.SameText(parent.params) {
		t.current = parent.id
		debug.LogCache("reuse node %d for %s", parent.id, params)
		return parent, OriginReused
	}

	parentID := NoNode
	if parent != nil {
		parentID = parent.id
	}
	t.pruneStaleTwinsLocked(parentID, params)

	if parent == nil {
		t.prepareRootLocked(params)
	}

	n := newNode(t.base+NodeID(len(t.nodes)), params, parentID)
	t.nodes = append(t.nodes, n)
	t.current = n.id

	if parent == nil {
		t.roots = append(t.roots, n.id)
		debug.LogCache("new root %d for %s (generation %d)", n.id, params, t.generation)
		return n, OriginFresh
	}

	parent.children = append(parent.children, n.id)

	if t.refiner == nil || !t.refiner.CanNarrow(parent.params, params) {
		debug.LogCache("fresh child %d of %d for %s", n.id, parent.id, params)
		return n, OriginFresh
	}

	for _, r := range parent.Results() {
		if r.Err != nil {
			continue
		}
		narrowed := t.refiner.Narrow(r, params)
		if narrowed.HasMatches() {
			n.results[narrowed.FileID] = narrowed
		}
	}
	n.complete.Store(parent.Complete())
	debug.LogCache("narrowed child %d of %d for %s: %d files", n.id, parent.id, params, len(n.results))
	return n, OriginNarrowed
}

// pruneStaleTwinsLocked removes unusable nodes with the same text that would
// otherwise sit beside the node about to be created.
func (t *Tree) pruneStaleTwinsLocked(parentID NodeID, params types.QueryParams) {
	siblings := t.roots
	if p := t.getLocked(parentID); p != nil {
		siblings = p.children
	}
	var stale []NodeID
	for _, id := range siblings {
		n := t.getLocked(id)
		if n != nil && !t.usable(n) && n.params.Compatible(params) && params.SameText(n.params) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		t.removeLocked(id)
	}
}

// prepareRootLocked keeps roots pairwise incompatible: compatible roots are
// replaced by the new one, and a query no root is compatible with starts a
// new forest.
func (t *Tree) prepareRootLocked(params types.QueryParams) {
	var compatible []NodeID
	for _, id := range t.roots {
		if n := t.getLocked(id); n != nil && n.params.Compatible(params) {
			compatible = append(compatible, id)
		}
	}
	if len(compatible) == 0 {
		if len(t.roots) > 0 {
			t.resetLocked()
		}
		return
	}
	for _, id := range compatible {
		t.removeLocked(id)
	}
}

// removeLocked unlinks the subtree rooted at id.
func (t *Tree) removeLocked(id NodeID) {
	n := t.getLocked(id)
	if n == nil {
		return
	}

	if p := t.getLocked(n.parent); p != nil {
		p.children = removeID(p.children, id)
	} else {
		t.roots = removeID(t.roots, id)
	}

	var drop func(id NodeID)
	drop = func(id NodeID) {
		n := t.getLocked(id)
		if n == nil {
			return
		}
		for _, c := range n.children {
			drop(c)
		}
		if t.current == id {
			t.current = NoNode
		}
		t.nodes[id-t.base] = nil
	}
	drop(id)
}

func removeID(ids []NodeID, id NodeID) []NodeID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Discard removes an abandoned node and its subtree. If it was current, its
// parent becomes current.
func (t *Tree) Discard(n *Node) {
	if n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.getLocked(n.id) != n {
		return
	}
	wasCurrent := t.current == n.id
	parent := n.parent
	t.removeLocked(n.id)
	if wasCurrent && t.getLocked(parent) != nil {
		t.current = parent
	}
	debug.LogCache("discarded node %d", n.id)
}

// MarkComplete records that every candidate file of n was scanned.
func (t *Tree) MarkComplete(n *Node) {
	if n != nil {
		n.complete.Store(true)
	}
}

// Current returns the node of the most recent query, or nil.
func (t *Tree) Current() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(t.current)
}

// Node returns the node with the given id, or nil if it was removed.
func (t *Tree) Node(id NodeID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(id)
}

// Parent returns the parent of n, or nil for a root.
func (t *Tree) Parent(n *Node) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(n.parent)
}

// Children returns the live children of n.
func (t *Tree) Children(n *Node) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		if c := t.getLocked(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Roots returns the live roots.
func (t *Tree) Roots() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, 0, len(t.roots))
	for _, id := range t.roots {
		if n := t.getLocked(id); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Reset discards the whole forest.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tree) resetLocked() {
	t.base += NodeID(len(t.nodes))
	t.nodes = nil
	t.roots = nil
	t.current = NoNode
	t.generation++
	debug.LogCache("forest reset (generation %d)", t.generation)
}

// Stats returns a snapshot of the tree.
func (t *Tree) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		Roots:      len(t.roots),
		Current:    t.current,
		Generation: t.generation,
	}
	for _, n := range t.nodes {
		if n != nil {
			s.Nodes++
			s.Results += n.Len()
		}
	}
	return s
}
