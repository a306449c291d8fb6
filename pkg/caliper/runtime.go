// Package caliper implements the Runtime: the process-wide annotation API
// that ties together the context tree, attribute registry, scope resolver,
// and event bus into begin/end/set/get operations, plus the snapshot
// pipeline and the service registration hook services use to subscribe to
// the event bus at bootstrap.
//
// The process-wide instance is lazily bootstrapped behind a signal-safe
// sentinel (pkg/siglock). Two always-present meta attributes
// ("cali.attribute.name" / "cali.attribute.prop") carry fixed ids rather
// than being created through the registry, which would be circular, and a
// hidden key attribute re-keys auto-combineable attributes so their
// begin/end chains share tree structure. Every annotation operation
// branches on whether the attribute is ASVALUE (lives only in the scope's
// value map) or node-valued (lives in the shared context tree).
package caliper

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/eventbus"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/siglock"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

// Fixed meta-attribute ids. These cannot be allocated through
// Registry.CreateAttribute because building an attribute's defining node
// path requires the name/properties attribute ids to already exist:
// exactly the attributes create_attribute itself would be asked to create.
const (
	attrIDName uint64 = 1
	attrIDProp uint64 = 2
)

// ErrInvalidAttribute is returned by every annotation operation given an
// Attribute for which Valid() is false.
var ErrInvalidAttribute = errors.New("caliper: invalid attribute")

// ErrAsValue is returned by SetPath for an ASVALUE attribute: as-value
// entries hold a single Variant, never a nested path.
var ErrAsValue = errors.New("caliper: set_path not supported for as-value attributes")

// ErrNotAsValue is returned by Exchange for a node-valued attribute:
// exchange is a single-slot get-and-set and only applies to as-value
// entries.
var ErrNotAsValue = errors.New("caliper: exchange requires an as-value attribute")

// ErrNotActive is returned by End when the attribute has no active entry in
// its scope, i.e. an unbalanced end. The buffer is left unchanged.
var ErrNotActive = errors.New("caliper: end called for an attribute with no active entry")

// ErrTornDown is returned by every annotation operation once the runtime
// has been torn down by Shutdown. The torn-down -> live transition never
// happens again for a given Runtime; this protects static destructors of
// host code that may still hold a reference after release.
var ErrTornDown = errors.New("caliper: runtime torn down")

// Config controls a Runtime's bootstrap.
type Config struct {
	// Automerge re-keys auto-combineable attributes (see
	// attribute.Attribute.AutoCombineable) under one shared key attribute,
	// trading individually addressable node_map entries for a smaller,
	// more heavily shared region of the context tree. DefaultConfig sets
	// it to true; New does not change a false value.
	Automerge bool

	// BlockSize is the arena block size for the runtime's own node pool
	// (the tree root and attribute definition nodes) and for scopes minted
	// by CreateScope. The resolver's process scope and its default
	// thread/task scopes use package scope's fixed block size of 256
	// instead. Defaults to 1024.
	BlockSize int

	// Logger receives lifecycle and misuse diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the Runtime defaults: automerge enabled, a 1024
// node-per-block arena, and the standard library's default logger.
func DefaultConfig() Config {
	return Config{Automerge: true, BlockSize: 1024}
}

// Runtime is the annotation API: attribute creation, begin/end/set/get,
// and the snapshot pipeline, all operating against one shared context tree
// and a per-scope set of context buffers.
type Runtime struct {
	tree        *ctxtree.Tree
	processPool *arena.Pool[ctxtree.Node]
	scopes      *scope.Resolver
	attrs       *attribute.Registry
	events      *eventbus.Bus
	meta        attribute.MetaIDs
	automerge   bool
	blockSize   int
	logger      *slog.Logger
	torn        atomic.Bool
}

// invalid reports whether rt has been torn down or is a nil receiver.
// Every annotation operation checks this first and short-circuits to EINV
// without touching any other field.
func (rt *Runtime) invalid() bool {
	return rt == nil || rt.torn.Load()
}

// New builds a standalone Runtime. Most callers should use Instance, which
// shares one process-wide Runtime the way services expect; New exists for
// tests and for host programs that deliberately want isolated instances.
func New(cfg Config) *Runtime {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1024
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	processPool := arena.New[ctxtree.Node](cfg.BlockSize)
	tree := ctxtree.New(processPool)
	events := eventbus.New()

	meta := attribute.MetaIDs{NameAttrID: attrIDName, PropAttrID: attrIDProp}

	rt := &Runtime{
		tree:        tree,
		processPool: processPool,
		events:      events,
		meta:        meta,
		automerge:   cfg.Automerge,
		blockSize:   cfg.BlockSize,
		logger:      logger,
	}

	rt.attrs = attribute.NewRegistry(tree, processPool, meta, func(a attribute.Attribute) {
		events.CreateAttribute(a)
	})

	keyAttr := rt.attrs.CreateAttribute("cali.key.attribute", variant.TypeUsr, attribute.Hidden)
	rt.meta.KeyAttrID = keyAttr.ID()

	rt.scopes = scope.NewResolver(logger)

	for _, svc := range cloneServices() {
		svc(rt)
	}

	events.PostInit()

	return rt
}

// Tree returns the runtime's shared context tree.
func (rt *Runtime) Tree() *ctxtree.Tree { return rt.tree }

// Events returns the runtime's event bus, for services to subscribe to.
func (rt *Runtime) Events() *eventbus.Bus { return rt.events }

// Scopes returns the runtime's scope resolver, for host programs to
// register thread/task scope callbacks on.
func (rt *Runtime) Scopes() *scope.Resolver { return rt.scopes }

// Logger returns the runtime's diagnostic logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// CreateAttribute creates (or looks up) an attribute by name. Returns
// attribute.Invalid once the runtime has been torn down.
func (rt *Runtime) CreateAttribute(name string, typ variant.Type, props attribute.Properties) attribute.Attribute {
	if rt.invalid() {
		return attribute.Invalid
	}

	return rt.attrs.CreateAttribute(name, typ, props)
}

// GetAttribute looks up an already-created attribute by name. Returns
// attribute.Invalid once the runtime has been torn down.
func (rt *Runtime) GetAttribute(name string) attribute.Attribute {
	if rt.invalid() {
		return attribute.Invalid
	}

	return rt.attrs.GetAttributeByName(name)
}

// GetAttributeByID looks up an already-created attribute by id. Returns
// attribute.Invalid once the runtime has been torn down.
func (rt *Runtime) GetAttributeByID(id uint64) attribute.Attribute {
	if rt.invalid() {
		return attribute.Invalid
	}

	return rt.attrs.GetAttributeByID(id)
}

func (rt *Runtime) scopeFor(a attribute.Attribute) *scope.Scope {
	switch a.Scope() {
	case attribute.Process:
		return rt.scopes.Process()
	case attribute.Task:
		return rt.scopes.Task()
	default:
		return rt.scopes.Thread()
	}
}

// mergeKey returns the context-buffer key a's node-valued entries are
// stored under: the shared key attribute id if automerge is enabled and a
// is auto-combineable, or a's own id otherwise.
func (rt *Runtime) mergeKey(a attribute.Attribute) uint64 {
	if rt.automerge && a.AutoCombineable() {
		return rt.meta.KeyAttrID
	}

	return a.ID()
}

// Begin pushes (a, v) onto a's scope, nesting under any other active
// node-valued entries sharing a's merge key.
func (rt *Runtime) Begin(a attribute.Attribute, v variant.Variant) error {
	if rt.invalid() {
		return ErrTornDown
	}

	if !a.Valid() {
		return ErrInvalidAttribute
	}

	sc := rt.scopeFor(a)
	skip := a.SkipEvents()

	if !skip {
		rt.events.PreBegin(a, v)
	}

	if a.IsAsValue() {
		sc.Buffer().Set(a.ID(), v)
	} else {
		key := rt.mergeKey(a)
		cur := sc.Buffer().GetNode(key)
		node := rt.tree.GetPath([]ctxtree.PathPair{{AttributeID: a.ID(), Value: v}}, cur, sc.Pool())
		sc.Buffer().SetNode(key, node)
	}

	if !skip {
		rt.events.PostBegin(a, v)
	}

	return nil
}

// End pops a's most recently begun value from its scope. An end with no
// matching begin is a logged mismatch: the buffer is left unchanged and
// ErrNotActive is returned.
func (rt *Runtime) End(a attribute.Attribute) error {
	if rt.invalid() {
		return ErrTornDown
	}

	if !a.Valid() {
		return ErrInvalidAttribute
	}

	sc := rt.scopeFor(a)
	skip := a.SkipEvents()

	cur, active := rt.Get(a)

	if !skip {
		rt.events.PreEnd(a, cur)
	}

	if !active {
		rt.logger.Warn("end: attribute not active", "attribute", a.Name())

		return ErrNotActive
	}

	if a.IsAsValue() {
		sc.Buffer().Unset(a.ID())
	} else {
		key := rt.mergeKey(a)
		node := sc.Buffer().GetNode(key)
		stripped := rt.tree.RemoveFirstInPath(node, a.ID(), sc.Pool())

		if stripped.IsRoot() {
			sc.Buffer().Unset(key)
		} else {
			sc.Buffer().SetNode(key, stripped)
		}
	}

	if !skip {
		rt.events.PostEnd(a, cur)
	}

	return nil
}

// Set replaces a's current value in its scope without nesting: the most
// recently begun value for a is discarded (outer nested values of a stay),
// other attributes sharing a's merge key are preserved.
func (rt *Runtime) Set(a attribute.Attribute, v variant.Variant) error {
	if rt.invalid() {
		return ErrTornDown
	}

	if !a.Valid() {
		return ErrInvalidAttribute
	}

	sc := rt.scopeFor(a)
	skip := a.SkipEvents()

	if !skip {
		rt.events.PreSet(a, v)
	}

	if a.IsAsValue() {
		sc.Buffer().Set(a.ID(), v)
	} else {
		key := rt.mergeKey(a)
		cur := sc.Buffer().GetNode(key)
		node := rt.tree.ReplaceFirstInPath(cur, a.ID(), v, sc.Pool())
		sc.Buffer().SetNode(key, node)
	}

	if !skip {
		rt.events.PostSet(a, v)
	}

	return nil
}

// SetPath replaces every active occurrence of a with the given sequence of
// values, for multi-valued (list) attributes. Only node-valued attributes
// can hold a path; an ASVALUE attribute is a logged misuse. A no-op if
// values is empty.
func (rt *Runtime) SetPath(a attribute.Attribute, values []variant.Variant) error {
	if rt.invalid() {
		return ErrTornDown
	}

	if !a.Valid() {
		return ErrInvalidAttribute
	}

	if a.IsAsValue() {
		rt.logger.Warn("set_path: attribute is as-value", "attribute", a.Name())

		return ErrAsValue
	}

	if len(values) == 0 {
		return nil
	}

	sc := rt.scopeFor(a)
	skip := a.SkipEvents()
	last := values[len(values)-1]

	if !skip {
		rt.events.PreSet(a, last)
	}

	key := rt.mergeKey(a)
	cur := sc.Buffer().GetNode(key)
	node := rt.tree.ReplaceAllInPath(cur, a.ID(), values, sc.Pool())
	sc.Buffer().SetNode(key, node)

	if !skip {
		rt.events.PostSet(a, last)
	}

	return nil
}

// Get returns a's current active value and whether one is set.
func (rt *Runtime) Get(a attribute.Attribute) (variant.Variant, bool) {
	if rt.invalid() {
		return variant.Invalid(), false
	}

	if !a.Valid() {
		return variant.Invalid(), false
	}

	sc := rt.scopeFor(a)

	if a.IsAsValue() {
		v := sc.Buffer().Get(a.ID())

		return v, v.IsValid()
	}

	node := sc.Buffer().GetNode(rt.mergeKey(a))
	if node == nil {
		return variant.Invalid(), false
	}

	found := ctxtree.FindNodeWithAttribute(node, a.ID())
	if found == nil {
		return variant.Invalid(), false
	}

	return found.Value(), true
}

// Exchange replaces a's current value with v and returns the previous
// value (invalid if none was set). Only meaningful for ASVALUE attributes:
// the caller owns a's scope buffer, so the get-and-set pair is atomic with
// respect to every other operation on that scope.
func (rt *Runtime) Exchange(a attribute.Attribute, v variant.Variant) (variant.Variant, error) {
	if rt.invalid() {
		return variant.Invalid(), ErrTornDown
	}

	if !a.Valid() {
		return variant.Invalid(), ErrInvalidAttribute
	}

	if !a.IsAsValue() {
		rt.logger.Warn("exchange: attribute is not as-value", "attribute", a.Name())

		return variant.Invalid(), ErrNotAsValue
	}

	sc := rt.scopeFor(a)
	skip := a.SkipEvents()

	if !skip {
		rt.events.PreSet(a, v)
	}

	old, _ := sc.Buffer().Exchange(a.ID(), v)

	if !skip {
		rt.events.PostSet(a, v)
	}

	return old, nil
}

// PullSnapshot gathers every active entry from the scopes selected by mask
// into dest (allocating a fresh Record when dest is nil), walking task,
// thread, then process. trigger, when valid, is recorded first; then event
// subscribers get a chance to append measurement data before the buffers
// are collected.
func (rt *Runtime) PullSnapshot(mask scope.Mask, trigger snapshot.Entry, dest *snapshot.Record) *snapshot.Record {
	if dest == nil {
		dest = snapshot.NewRecord()
	}

	if rt.invalid() {
		return dest
	}

	if trigger.IsValid() {
		dest.Append(trigger)
	}

	rt.events.Snapshot(mask, trigger, dest)

	for _, sc := range rt.scopes.Masked(mask) {
		snapshot.CollectFrom(sc.Buffer(), dest)
	}

	return dest
}

// PushSnapshot is PullSnapshot followed by flushing any context-tree nodes
// created since the last push to WriteRecord subscribers (so a recorder
// can persist node definitions before any record referencing them), then
// firing ProcessSnapshot with the completed record.
func (rt *Runtime) PushSnapshot(mask scope.Mask, trigger snapshot.Entry) *snapshot.Record {
	rec := rt.PullSnapshot(mask, trigger, nil)

	if rt.invalid() {
		return rec
	}

	rt.tree.WriteNewNodes(rt.events.WriteRecord)
	rt.events.ProcessSnapshot(trigger, rec)

	return rec
}

// CreateScope allocates a fresh Scope of the given kind, with arena blocks
// of Config.BlockSize nodes, and announces it on the event bus. Host thread/task
// callbacks use this to mint the scope they hand back to the resolver; the
// host owns the returned scope's lifetime.
func (rt *Runtime) CreateScope(kind scope.Kind) *scope.Scope {
	if rt.invalid() {
		return nil
	}

	sc := scope.New(kind, rt.blockSize)
	rt.events.CreateScope(kind)

	return sc
}

// ReleaseScope announces that sc's context buffer is going out of use. The
// scope's node pool is not reclaimed: tree nodes allocated from it may
// still be referenced by already-emitted snapshots, so the memory lives
// until process teardown.
func (rt *Runtime) ReleaseScope(sc *scope.Scope) {
	if rt.invalid() || sc == nil {
		return
	}

	rt.events.ReleaseScope(sc.Kind())
}

// SetScopeCallback registers cb as the resolver for kind (Thread or Task).
// Only the first registration per kind takes effect; later ones are logged
// and ignored. The process scope is permanent and has no callback.
func (rt *Runtime) SetScopeCallback(kind scope.Kind, cb func() *scope.Scope) {
	if rt.invalid() {
		return
	}

	switch kind {
	case scope.Thread:
		rt.scopes.SetThreadCallback(cb)
	case scope.Task:
		rt.scopes.SetTaskCallback(cb)
	default:
		rt.logger.Warn("scope callback not supported for kind", "kind", kind.String())
	}
}

// ServiceFunc is a service's bootstrap hook: given the freshly constructed
// Runtime, it subscribes to rt.Events() and/or creates its own attributes.
type ServiceFunc func(*Runtime)

var (
	servicesMu sync.Mutex
	services   []ServiceFunc
)

// RegisterService adds fn to the list of service hooks run by New/Instance
// during bootstrap, in registration order. Intended to be called from a
// service package's init() function.
func RegisterService(fn ServiceFunc) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	services = append(services, fn)
}

func cloneServices() []ServiceFunc {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	return append([]ServiceFunc{}, services...)
}

var (
	globalPtr atomic.Pointer[Runtime]
	sentinel  = siglock.NewSentinel()
	bootMu    sync.Mutex
)

// Instance returns the process-wide Runtime, bootstrapping it on first
// call. Safe to call concurrently; every caller observes the same
// instance. The uninitialized->live->torn-down sentinel transition is
// one-way: once Shutdown has run, Instance never bootstraps a new
// Runtime again. It keeps returning the same, now permanently invalid,
// handle, whose methods all short-circuit to ErrTornDown (or the
// equivalent invalid zero value) without touching any other state; this
// protects host code that calls Instance from a destructor running after
// release.
func Instance() *Runtime {
	if rt := globalPtr.Load(); rt != nil {
		return rt
	}

	bootMu.Lock()
	defer bootMu.Unlock()

	if rt := globalPtr.Load(); rt != nil {
		return rt
	}

	if sentinel.Load() == siglock.TornDown {
		return nil
	}

	rt := New(DefaultConfig())
	globalPtr.Store(rt)
	sentinel.Store(siglock.Live)

	return rt
}

// Shutdown fires every Finish subscriber and permanently tears down the
// process-wide Runtime, if one was ever bootstrapped. The Runtime object
// itself is left in place (Instance keeps returning it) but marked
// invalid, so every later annotation operation on it short-circuits
// instead of dereferencing released state. A later call to Instance never
// rebuilds it, because the sentinel transition is one-way. Host programs call
// Shutdown explicitly at the end of main, in place of the atexit hook the
// original registers at bootstrap.
func Shutdown() {
	bootMu.Lock()
	defer bootMu.Unlock()

	rt := globalPtr.Load()
	if rt == nil || sentinel.Load() == siglock.TornDown {
		return
	}

	rt.events.Finish()
	rt.torn.Store(true)
	sentinel.Store(siglock.TornDown)
}
