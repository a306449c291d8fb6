// Package ctxtree implements the globally shared context tree: an
// append-only, interned tree of (attribute, value) pairs. Every distinct
// ancestry (root -> ... -> n) is a unique path; two sequences of pairs with
// identical content resolve to the same node (structural sharing), so a
// snapshot can reference arbitrarily deep context with a single node id.
//
// Nodes are arena-allocated (pkg/arena) so published pointers stay stable,
// and structural mutation is serialized behind one mutex while lookups of
// already-visible nodes stay lock-free.
package ctxtree

import (
	"sync"
	"sync/atomic"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/variant"
)

// Node is an immutable record in the context tree. Once linked, its id,
// attribute id, value, and parent never change. firstChild/nextSibling are
// append-only linkage fields mutated exactly once per new child (from nil
// to a concrete pointer) under the tree's write lock, and are read with
// atomic loads so lookups that already hold a node reference never need
// the lock.
type Node struct {
	id          uint64
	attributeID uint64
	value       variant.Variant
	parent      *Node
	firstChild  atomic.Pointer[Node]
	nextSibling atomic.Pointer[Node]
}

// ID returns the node's dense, monotonically assigned identifier. The root
// has id 0.
func (n *Node) ID() uint64 { return n.id }

// AttributeID returns the id of the attribute that defines this node's
// (attribute, value) pair.
func (n *Node) AttributeID() uint64 { return n.attributeID }

// Value returns the node's Variant payload.
func (n *Node) Value() variant.Variant { return n.value }

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// FirstChild returns the first child in creation order, or nil.
func (n *Node) FirstChild() *Node { return n.firstChild.Load() }

// NextSibling returns the next sibling in creation order, or nil.
func (n *Node) NextSibling() *Node { return n.nextSibling.Load() }

// IsRoot reports whether n is the tree's root.
func (n *Node) IsRoot() bool { return n.parent == nil }

// PathPair is one step of an ancestry to intern: an (attribute id, value)
// pair.
type PathPair struct {
	AttributeID uint64
	Value       variant.Variant
}

// Tree is the shared, globally interned context tree. The zero value is
// not usable; construct with New.
type Tree struct {
	writeMu sync.Mutex // serializes structural mutation only

	root *Node

	nextID atomic.Uint64

	typeNodes [int(variant.TypeType) + 1]*Node

	idxMu     sync.RWMutex // guards nodeIndex; node(id) is not required to be signal-safe
	nodeIndex []*Node
	writeCur  int // write_new_nodes emission cursor, guarded by idxMu
	bootstrap *arena.Pool[Node]
}

// New builds an empty tree with its root and reserved per-type nodes
// allocated from bootstrapPool (conventionally the process scope's pool).
func New(bootstrapPool *arena.Pool[Node]) *Tree {
	t := &Tree{bootstrap: bootstrapPool}

	root := bootstrapPool.Alloc()
	*root = Node{id: 0}
	t.root = root
	t.nextID.Store(1)
	t.nodeIndex = append(t.nodeIndex, root)

	for typ := variant.TypeInvalid; typ <= variant.TypeType; typ++ {
		t.typeNodes[int(typ)] = t.internChild(t.root, 0, variant.TypeTag(typ), bootstrapPool)
	}

	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// TypeNode returns the constant reserved node for the given type. The
// attribute id for type-node pairs is always 0 (the tree's own reserved
// "type" slot, distinct from any user attribute id since real attribute
// ids start at 1).
func (t *Tree) TypeNode(typ variant.Type) *Node {
	if typ < variant.TypeInvalid || int(typ) >= len(t.typeNodes) {
		return nil
	}

	return t.typeNodes[int(typ)]
}

// Node looks up a node by id. Takes a light RWMutex (not required to be
// signal-safe by spec; only the attribute registry's lookups are).
func (t *Tree) Node(id uint64) *Node {
	t.idxMu.RLock()
	defer t.idxMu.RUnlock()

	if id >= uint64(len(t.nodeIndex)) {
		return nil
	}

	return t.nodeIndex[id]
}

// findChild scans base's children for one matching (attributeID, value).
// Lock-free: once base is known, walking its children list only needs
// atomic loads.
func findChild(base *Node, attributeID uint64, value variant.Variant) *Node {
	for c := base.FirstChild(); c != nil; c = c.NextSibling() {
		if c.attributeID == attributeID && c.value.Equal(value) {
			return c
		}
	}

	return nil
}

// internChild finds-or-creates a single child step under base for
// (attributeID, value), allocating from pool when a new node is required.
func (t *Tree) internChild(base *Node, attributeID uint64, value variant.Variant, pool *arena.Pool[Node]) *Node {
	if found := findChild(base, attributeID, value); found != nil {
		return found
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// Re-check under the write lock: another goroutine may have linked the
	// same child while we were scanning lock-free.
	if found := findChild(base, attributeID, value); found != nil {
		return found
	}

	id := t.nextID.Load()

	n := pool.Alloc()
	*n = Node{id: id, attributeID: attributeID, value: value, parent: base}

	if first := base.firstChild.Load(); first == nil {
		base.firstChild.Store(n)
	} else {
		tail := first
		for tail.NextSibling() != nil {
			tail = tail.NextSibling()
		}

		tail.nextSibling.Store(n)
	}

	t.idxMu.Lock()
	t.nodeIndex = append(t.nodeIndex, n)
	t.idxMu.Unlock()

	t.nextID.Add(1)

	return n
}

// GetPath extends base (or the root, if base is nil) by the given pairs in
// order, interning each step. New nodes are allocated from pool.
func (t *Tree) GetPath(pairs []PathPair, base *Node, pool *arena.Pool[Node]) *Node {
	cur := base
	if cur == nil {
		cur = t.root
	}

	for _, p := range pairs {
		cur = t.internChild(cur, p.AttributeID, p.Value, pool)
	}

	return cur
}

// ancestry returns the (attribute id, value) pairs from root (exclusive)
// down to from (inclusive), in root-to-leaf order.
func ancestry(from *Node) []PathPair {
	var rev []PathPair

	for n := from; n != nil && !n.IsRoot(); n = n.Parent() {
		rev = append(rev, PathPair{AttributeID: n.attributeID, Value: n.value})
	}

	pairs := make([]PathPair, len(rev))
	for i, p := range rev {
		pairs[len(rev)-1-i] = p
	}

	return pairs
}

// FindNodeWithAttribute walks from's ancestry (including from itself)
// toward the root and returns the nearest node whose attribute id matches
// attributeID, or nil if none is found.
func FindNodeWithAttribute(from *Node, attributeID uint64) *Node {
	for n := from; n != nil && !n.IsRoot(); n = n.Parent() {
		if n.attributeID == attributeID {
			return n
		}
	}

	return nil
}

// RemoveFirstInPath returns the node whose ancestry is from's ancestry
// minus the occurrence of attributeID nearest to from (the most recently
// appended one), rebuilding the path above it by re-interning each
// remaining ancestor pair in order. Existing nodes are never mutated. This
// is what gives nested begin/end its stack discipline: ending an attribute
// undoes its most recent begin, not its first. Returns from unchanged if
// attributeID does not occur in from's ancestry at all; callers that need
// to detect "no such attribute" should check FindNodeWithAttribute first.
func (t *Tree) RemoveFirstInPath(from *Node, attributeID uint64, pool *arena.Pool[Node]) *Node {
	pairs := ancestry(from)

	cut := -1

	for i := len(pairs) - 1; i >= 0; i-- {
		if pairs[i].AttributeID == attributeID {
			cut = i

			break
		}
	}

	if cut == -1 {
		return from
	}

	rebuilt := append(pairs[:cut:cut], pairs[cut+1:]...) //nolint:gocritic // intentional: build a fresh suffix, not mutate pairs

	return t.GetPath(rebuilt, nil, pool)
}

// ReplaceFirstInPath rebuilds from's ancestry with the occurrence of
// attributeID nearest to from replaced by value. It is RemoveFirstInPath
// followed by GetPath with one pair, so the new (attributeID, value) node
// is appended at the leaf, below any ancestors that followed the removed
// occurrence.
func (t *Tree) ReplaceFirstInPath(from *Node, attributeID uint64, value variant.Variant, pool *arena.Pool[Node]) *Node {
	stripped := t.RemoveFirstInPath(from, attributeID, pool)

	return t.GetPath([]PathPair{{AttributeID: attributeID, Value: value}}, stripped, pool)
}

// ReplaceAllInPath strips all attributeID occurrences from from's
// ancestry, then appends one node per value in order.
func (t *Tree) ReplaceAllInPath(from *Node, attributeID uint64, values []variant.Variant, pool *arena.Pool[Node]) *Node {
	pairs := ancestry(from)

	filtered := make([]PathPair, 0, len(pairs))

	for _, p := range pairs {
		if p.AttributeID != attributeID {
			filtered = append(filtered, p)
		}
	}

	base := t.GetPath(filtered, nil, pool)

	extra := make([]PathPair, len(values))
	for i, v := range values {
		extra[i] = PathPair{AttributeID: attributeID, Value: v}
	}

	return t.GetPath(extra, base, pool)
}

// WriteNewNodes emits every node created since the last call to sink, in
// id order. Idempotent: calling it again with no new nodes is a no-op.
func (t *Tree) WriteNewNodes(sink func(*Node)) {
	t.idxMu.Lock()
	start := t.writeCur
	pending := append([]*Node(nil), t.nodeIndex[start:]...)
	t.writeCur = len(t.nodeIndex)
	t.idxMu.Unlock()

	for _, n := range pending {
		sink(n)
	}
}
