// Package ctxbuffer implements the per-scope context buffer: the small
// store of "currently active" (attribute, value) entries that a scope's
// begin/end/set calls mutate directly, as opposed to the shared,
// append-only ctxtree which only ever grows.
//
// Two parallel maps keyed by attribute id: one holding a context-tree node
// (for regular, mergeable attributes) and one holding a bare Variant (for
// ASVALUE attributes, which are never folded into the tree). Thread and
// task buffers are effectively single-owner, but the process scope's
// buffer is shared by every goroutine, so the maps are guarded by an
// internal RWMutex, which also makes Exchange a true get-and-set for
// process-wide as-value counters.
package ctxbuffer

import (
	"sync"

	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/variant"
)

// Buffer is a scope's set of active (attribute, value) entries.
type Buffer struct {
	mu     sync.RWMutex
	nodes  map[uint64]*ctxtree.Node
	values map[uint64]variant.Variant
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{
		nodes:  make(map[uint64]*ctxtree.Node),
		values: make(map[uint64]variant.Variant),
	}
}

// SetNode records node as the active tree-node entry for attrID, replacing
// any previous node or value entry for that id.
func (b *Buffer) SetNode(attrID uint64, node *ctxtree.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.values, attrID)
	b.nodes[attrID] = node
}

// GetNode returns the active node entry for attrID, or nil if unset or if
// attrID's active entry is a bare value.
func (b *Buffer) GetNode(attrID uint64) *ctxtree.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.nodes[attrID]
}

// Set records v as the active value entry for attrID (used for ASVALUE
// attributes), replacing any previous node or value entry.
func (b *Buffer) Set(attrID uint64, v variant.Variant) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.nodes, attrID)
	b.values[attrID] = v
}

// Get returns the active value entry for attrID, or an invalid Variant if
// unset or if attrID's active entry is a tree node.
func (b *Buffer) Get(attrID uint64) variant.Variant {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if v, ok := b.values[attrID]; ok {
		return v
	}

	return variant.Invalid()
}

// Unset clears any active entry (node or value) for attrID.
func (b *Buffer) Unset(attrID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.nodes, attrID)
	delete(b.values, attrID)
}

// Exchange atomically replaces the active value entry for attrID with v and
// returns the previous value and whether one existed. Used by measurement
// services that maintain a running ASVALUE counter (begin records a
// baseline, end exchanges it back out).
func (b *Buffer) Exchange(attrID uint64, v variant.Variant) (variant.Variant, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.values[attrID]
	delete(b.nodes, attrID)
	b.values[attrID] = v

	return old, ok
}

// Entry is one (attribute, value-or-node) pair produced by Snapshot.
type Entry struct {
	AttributeID uint64
	Node        *ctxtree.Node  // non-nil for node entries
	Value       variant.Variant // valid for value entries
}

// Snapshot invokes sink once per active entry, node entries first then
// value entries, in unspecified order within each group (callers that need
// a stable order should sort by AttributeID themselves). The entries are
// copied out under the read lock before sink runs, so a sink may call back
// into the buffer.
func (b *Buffer) Snapshot(sink func(Entry)) {
	b.mu.RLock()

	entries := make([]Entry, 0, len(b.nodes)+len(b.values))

	for id, n := range b.nodes {
		entries = append(entries, Entry{AttributeID: id, Node: n})
	}

	for id, v := range b.values {
		entries = append(entries, Entry{AttributeID: id, Value: v})
	}

	b.mu.RUnlock()

	for _, e := range entries {
		sink(e)
	}
}

// Len returns the total number of active entries (node + value).
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.nodes) + len(b.values)
}
