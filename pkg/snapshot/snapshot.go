// Package snapshot implements the Record type that a pull/push snapshot
// fills in: a flat sequence of entries, each either a reference to an
// interned context-tree node or an immediate (attribute id, value) pair
// for ASVALUE attributes that never enter the tree.
//
// A snapshot walks task, thread, then process context buffers in that
// order (most specific first) and appends whatever is active in each.
package snapshot

import (
	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/ctxbuffer"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/variant"
)

// Entry is one slot in a Record: a node reference when Node is non-nil, or
// an immediate (attribute id, value) pair otherwise.
type Entry struct {
	Node        *ctxtree.Node
	AttributeID uint64
	Value       variant.Variant
}

// IsNode reports whether e is a node-valued entry.
func (e Entry) IsNode() bool { return e.Node != nil }

// IsValid reports whether e carries anything at all. The zero Entry is
// invalid and stands for "no trigger" in the snapshot pipeline.
func (e Entry) IsValid() bool { return e.Node != nil || e.Value.IsValid() }

// MakeEntryNode wraps an already-interned node as an Entry.
func MakeEntryNode(n *ctxtree.Node) Entry {
	return Entry{Node: n}
}

// MakeEntry wraps a bare (attribute id, value) pair as an immediate Entry,
// for ASVALUE attributes that are never folded into the context tree.
func MakeEntry(attrID uint64, v variant.Variant) Entry {
	return Entry{AttributeID: attrID, Value: v}
}

// MakeEntryPath interns pairs under base (or root, if base is nil) in tree,
// allocating new nodes from pool, and wraps the resulting node as an Entry.
// Convenience for services that build ad hoc context (e.g. a recorder
// tagging every record with a fixed trigger attribute) without going
// through a Scope's context buffer first.
func MakeEntryPath(tree *ctxtree.Tree, pairs []ctxtree.PathPair, base *ctxtree.Node, pool *arena.Pool[ctxtree.Node]) Entry {
	return MakeEntryNode(tree.GetPath(pairs, base, pool))
}

// Record is a mutable, growable sequence of Entry values built up over the
// course of one pull_snapshot/push_snapshot call.
type Record struct {
	entries []Entry
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{}
}

// Append adds e to the record.
func (r *Record) Append(e Entry) {
	r.entries = append(r.entries, e)
}

// AppendNode is shorthand for Append(MakeEntryNode(n)).
func (r *Record) AppendNode(n *ctxtree.Node) {
	r.Append(MakeEntryNode(n))
}

// AppendImmediate is shorthand for Append(MakeEntry(attrID, v)).
func (r *Record) AppendImmediate(attrID uint64, v variant.Variant) {
	r.Append(MakeEntry(attrID, v))
}

// Entries returns the record's entries in append order. The returned slice
// must not be mutated by the caller.
func (r *Record) Entries() []Entry {
	return r.entries
}

// Len returns the number of entries in the record.
func (r *Record) Len() int {
	return len(r.entries)
}

// CollectFrom appends every active entry of buf into r, in buf's own
// (unspecified) iteration order. Called once per scope, in task, thread,
// process order, to build a full snapshot.
func CollectFrom(buf *ctxbuffer.Buffer, r *Record) {
	buf.Snapshot(func(e ctxbuffer.Entry) {
		if e.Node != nil {
			r.AppendNode(e.Node)
		} else {
			r.AppendImmediate(e.AttributeID, e.Value)
		}
	})
}
