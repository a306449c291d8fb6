// Package attribute implements the Attribute handle and the name->node
// AttributeRegistry, guarded by the signal-safe reader/writer lock from
// pkg/siglock so that attribute lookups remain safe to call from a signal
// handler that may have interrupted a concurrent writer.
//
// Creation is read-then-maybe-write double-checked locking: the defining
// tree node is built as (type_node) -> [prop=props] -> [name=name] outside
// the write lock (the properties step is omitted for the default property
// set), then published into the registry, first writer wins.
package attribute

import (
	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/siglock"
	"github.com/phroun/calipergo/pkg/variant"
)

// Properties is a bitset of attribute property flags.
type Properties uint32

// Property bits, matching Caliper's cali_attr_properties naming.
const (
	Default      Properties = 0
	ScopeProcess Properties = 1 << 0
	ScopeThread  Properties = 1 << 1
	ScopeTask    Properties = 1 << 2
	AsValue      Properties = 1 << 3
	Hidden       Properties = 1 << 4
	NoMerge      Properties = 1 << 5
	SkipEvents   Properties = 1 << 6

	scopeMask = ScopeProcess | ScopeThread | ScopeTask
)

// ScopeKind is the resolved scope bit for an attribute (exactly one, after
// defaulting).
type ScopeKind int

// Scope kinds.
const (
	Thread ScopeKind = iota
	Process
	Task
)

// Attribute is an opaque handle to a defining tree node plus a cached
// name/type/properties for fast access without re-walking the tree.
type Attribute struct {
	node  *ctxtree.Node
	id    uint64
	name  string
	typ   variant.Type
	props Properties
}

// Invalid is the zero Attribute, returned by failed lookups.
var Invalid = Attribute{}

// Valid reports whether a refers to a real, defined attribute.
func (a Attribute) Valid() bool { return a.node != nil }

// ID returns the attribute's stable id (its defining node's id).
func (a Attribute) ID() uint64 { return a.id }

// Name returns the attribute's name.
func (a Attribute) Name() string { return a.name }

// Type returns the attribute's declared Variant type.
func (a Attribute) Type() variant.Type { return a.typ }

// Properties returns the attribute's full property bitset.
func (a Attribute) Properties() Properties { return a.props }

// Node returns the attribute's defining tree node.
func (a Attribute) Node() *ctxtree.Node { return a.node }

// IsAsValue reports the ASVALUE property.
func (a Attribute) IsAsValue() bool { return a.props&AsValue != 0 }

// IsHidden reports the HIDDEN property.
func (a Attribute) IsHidden() bool { return a.props&Hidden != 0 }

// IsNoMerge reports the NOMERGE property.
func (a Attribute) IsNoMerge() bool { return a.props&NoMerge != 0 }

// SkipEvents reports the SKIP_EVENTS property.
func (a Attribute) SkipEvents() bool { return a.props&SkipEvents != 0 }

// AutoCombineable reports whether a may be re-keyed under a shared key
// attribute when auto-merge is enabled: not ASVALUE, not NOMERGE, not
// HIDDEN.
func (a Attribute) AutoCombineable() bool {
	return !a.IsAsValue() && !a.IsNoMerge() && !a.IsHidden()
}

// Scope extracts the scope bit, defaulting to Thread if none is set.
func (a Attribute) Scope() ScopeKind {
	switch a.props & scopeMask {
	case ScopeProcess:
		return Process
	case ScopeTask:
		return Task
	default:
		return Thread
	}
}

// Equal reports whether two Attribute handles refer to the same node.
func (a Attribute) Equal(other Attribute) bool { return a.node == other.node }

// MetaIDs caches the ids of the bootstrap meta-attributes needed to
// reconstruct an Attribute's name/type/properties from a bare tree node.
type MetaIDs struct {
	NameAttrID uint64
	TypeAttrID uint64
	PropAttrID uint64
	KeyAttrID  uint64
}

// FromNode reconstructs an Attribute from its defining node, by walking the
// node's ancestry for the meta-attribute pairs laid down at creation:
// (type_node) -> [prop=props] -> [name=name]. Returns Invalid if node is
// nil.
func FromNode(node *ctxtree.Node, meta MetaIDs) Attribute {
	if node == nil {
		return Invalid
	}

	a := Attribute{node: node, id: node.ID(), props: Default}

	for n := node; n != nil && !n.IsRoot(); n = n.Parent() {
		switch n.AttributeID() {
		case meta.NameAttrID:
			a.name = n.Value().Str()
		case meta.PropAttrID:
			a.props = Properties(n.Value().Uint64())
		case 0:
			// Reserved type-node slot (see ctxtree.Tree.TypeNode).
			a.typ = n.Value().TypeValue()
		}
	}

	return a
}

// Registry maps attribute names to their defining tree node, guarded by a
// signal-safe RWLock so that get_attribute (and therefore begin/end on an
// already-known attribute) can be called from a signal handler on the same
// thread that may be holding the write lock elsewhere.
type Registry struct {
	lock  siglock.RWLock
	names map[string]*ctxtree.Node

	meta MetaIDs
	tree *ctxtree.Tree
	pool *arena.Pool[ctxtree.Node]

	onCreate func(Attribute)
}

// NewRegistry constructs an empty registry bound to tree, allocating new
// attribute-defining nodes from pool (conventionally the process scope's
// pool, since attributes are process-wide). onCreate, if non-nil, fires
// after an attribute is newly published (used to wire the create_attr
// event).
func NewRegistry(tree *ctxtree.Tree, pool *arena.Pool[ctxtree.Node], meta MetaIDs, onCreate func(Attribute)) *Registry {
	return &Registry{
		names:    make(map[string]*ctxtree.Node),
		meta:     meta,
		tree:     tree,
		pool:     pool,
		onCreate: onCreate,
	}
}

// CreateAttribute returns the attribute named name, creating it if it does
// not yet exist. If props carries no scope bit, ScopeThread is added. Races
// between concurrent creators of the same name self-correct: every caller
// observes the same winning node.
func (r *Registry) CreateAttribute(name string, typ variant.Type, props Properties) Attribute {
	if props&scopeMask == 0 {
		props |= ScopeThread
	}

	r.lock.RLock()
	existing := r.names[name]
	r.lock.RUnlock()

	if existing != nil {
		return FromNode(existing, r.meta)
	}

	typeNode := r.tree.TypeNode(typ)

	// A lone ScopeThread is the default property set; its defining path
	// carries no properties step.
	var pairs []ctxtree.PathPair
	if props == ScopeThread {
		pairs = []ctxtree.PathPair{{AttributeID: r.meta.NameAttrID, Value: variant.String(name)}}
	} else {
		pairs = []ctxtree.PathPair{
			{AttributeID: r.meta.PropAttrID, Value: variant.Uint(uint64(props))},
			{AttributeID: r.meta.NameAttrID, Value: variant.String(name)},
		}
	}

	node := r.tree.GetPath(pairs, typeNode, r.pool)

	r.lock.WLock()

	winner := r.names[name]

	inserted := false
	if winner == nil {
		r.names[name] = node
		winner = node
		inserted = true
	}

	r.lock.WUnlock()

	attr := FromNode(winner, r.meta)

	// Interning means every racing creator computes the same node, so
	// comparing winner against node cannot identify who published it; only
	// the caller that actually inserted fires the create event.
	if inserted && r.onCreate != nil {
		r.onCreate(attr)
	}

	return attr
}

// GetAttributeByName looks up an attribute by name. Safe to call from a
// signal handler.
func (r *Registry) GetAttributeByName(name string) Attribute {
	r.lock.RLock()
	node := r.names[name]
	r.lock.RUnlock()

	return FromNode(node, r.meta)
}

// GetAttributeByID looks up an attribute by its defining node's id.
func (r *Registry) GetAttributeByID(id uint64) Attribute {
	return FromNode(r.tree.Node(id), r.meta)
}
