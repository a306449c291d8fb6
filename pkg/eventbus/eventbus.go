// Package eventbus implements the runtime's callback registry: ordered
// lists of service-supplied callbacks fired around every lifecycle and
// annotation event, with no return values and no way for one subscriber to
// short-circuit another.
//
// Every event is a plain "call each registered callback, in registration
// order" chain. There is deliberately no cancellation or priority
// mechanism: subscribers are side-effect-only observers.
package eventbus

import (
	"sync"

	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

// AttrValueFunc is the shape shared by the pre/post begin/set/end events:
// the attribute being annotated and the value it is (or was) given.
type AttrValueFunc func(attribute.Attribute, variant.Variant)

// Bus holds one ordered callback list per event kind. The zero value is
// ready to use; callbacks may be added (via the On* methods below) from
// any goroutine before the runtime starts firing events, and the lists
// themselves are never mutated concurrently with firing in normal use
// (services register during bootstrap, before annotation begins).
type Bus struct {
	mu sync.Mutex

	postInit        []func()
	finish          []func()
	createAttr      []func(attribute.Attribute)
	preBegin        []AttrValueFunc
	postBegin       []AttrValueFunc
	preSet          []AttrValueFunc
	postSet         []AttrValueFunc
	preEnd          []AttrValueFunc
	postEnd         []AttrValueFunc
	createScope     []func(scope.Kind)
	releaseScope    []func(scope.Kind)
	snapshotFn      []func(scope.Mask, snapshot.Entry, *snapshot.Record)
	processSnapshot []func(snapshot.Entry, *snapshot.Record)
	writeRecord     []func(*ctxtree.Node)
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// OnPostInit subscribes fn to fire once, after the runtime and all
// services have finished bootstrapping.
func (b *Bus) OnPostInit(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postInit = append(b.postInit, fn)
}

// OnFinish subscribes fn to fire once, during runtime shutdown, before any
// state is torn down.
func (b *Bus) OnFinish(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finish = append(b.finish, fn)
}

// OnCreateAttribute subscribes fn to fire whenever a new attribute is
// published for the first time (never for a lookup of an existing one).
func (b *Bus) OnCreateAttribute(fn func(attribute.Attribute)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createAttr = append(b.createAttr, fn)
}

// OnPreBegin subscribes fn to fire before a begin() takes effect, unless
// the attribute has SKIP_EVENTS set.
func (b *Bus) OnPreBegin(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preBegin = append(b.preBegin, fn)
}

// OnPostBegin subscribes fn to fire after a begin() takes effect.
func (b *Bus) OnPostBegin(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postBegin = append(b.postBegin, fn)
}

// OnPreSet subscribes fn to fire before a set()/set_path() takes effect.
func (b *Bus) OnPreSet(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preSet = append(b.preSet, fn)
}

// OnPostSet subscribes fn to fire after a set()/set_path() takes effect.
func (b *Bus) OnPostSet(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postSet = append(b.postSet, fn)
}

// OnPreEnd subscribes fn to fire before an end() takes effect.
func (b *Bus) OnPreEnd(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preEnd = append(b.preEnd, fn)
}

// OnPostEnd subscribes fn to fire after an end() takes effect.
func (b *Bus) OnPostEnd(fn AttrValueFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.postEnd = append(b.postEnd, fn)
}

// OnCreateScope subscribes fn to fire whenever Runtime.CreateScope
// allocates a new scope. The resolver's process scope and its shared
// default thread/task scopes are created without firing it.
func (b *Bus) OnCreateScope(fn func(scope.Kind)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createScope = append(b.createScope, fn)
}

// OnReleaseScope subscribes fn to fire whenever a thread or task scope is
// released. Note the scope's node pool is not freed at this point (nodes
// it created may still be referenced by other scopes' snapshots); this
// only signals that the scope's context buffer is going away.
func (b *Bus) OnReleaseScope(fn func(scope.Kind)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseScope = append(b.releaseScope, fn)
}

// OnSnapshot subscribes fn to fire once per pull_snapshot/push_snapshot
// call, before any scope's context buffer is gathered, so subscribers can
// append measurement data to the record in progress. fn receives the scope
// mask the snapshot will gather from and the trigger entry that prompted it
// (the zero Entry when there is none).
func (b *Bus) OnSnapshot(fn func(scope.Mask, snapshot.Entry, *snapshot.Record)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshotFn = append(b.snapshotFn, fn)
}

// OnProcessSnapshot subscribes fn to fire once per push_snapshot call,
// after the record is fully gathered and any new tree nodes it references
// have been flushed to writers.
func (b *Bus) OnProcessSnapshot(fn func(snapshot.Entry, *snapshot.Record)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processSnapshot = append(b.processSnapshot, fn)
}

// OnWriteRecord subscribes fn to fire once per context-tree node created
// since the last push_snapshot, before ProcessSnapshot fires for that
// call, so a recording service can persist node definitions ahead of any
// snapshot that references them. This is the sink write_new_nodes
// publishes to.
func (b *Bus) OnWriteRecord(fn func(*ctxtree.Node)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeRecord = append(b.writeRecord, fn)
}

// cloneLocked returns a copy of *src taken under mu, so callbacks fire
// outside the lock and a subscriber registering mid-fire never races the
// slice being iterated.
func cloneLocked[T any](mu *sync.Mutex, src *[]T) []T {
	mu.Lock()
	defer mu.Unlock()

	return append([]T{}, *src...)
}

// PostInit fires every OnPostInit subscriber, in registration order.
func (b *Bus) PostInit() {
	for _, fn := range cloneLocked(&b.mu, &b.postInit) {
		fn()
	}
}

// Finish fires every OnFinish subscriber, in registration order.
func (b *Bus) Finish() {
	for _, fn := range cloneLocked(&b.mu, &b.finish) {
		fn()
	}
}

// CreateAttribute fires every OnCreateAttribute subscriber.
func (b *Bus) CreateAttribute(a attribute.Attribute) {
	for _, fn := range cloneLocked(&b.mu, &b.createAttr) {
		fn(a)
	}
}

// PreBegin fires every OnPreBegin subscriber.
func (b *Bus) PreBegin(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.preBegin) {
		fn(a, v)
	}
}

// PostBegin fires every OnPostBegin subscriber.
func (b *Bus) PostBegin(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.postBegin) {
		fn(a, v)
	}
}

// PreSet fires every OnPreSet subscriber.
func (b *Bus) PreSet(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.preSet) {
		fn(a, v)
	}
}

// PostSet fires every OnPostSet subscriber.
func (b *Bus) PostSet(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.postSet) {
		fn(a, v)
	}
}

// PreEnd fires every OnPreEnd subscriber.
func (b *Bus) PreEnd(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.preEnd) {
		fn(a, v)
	}
}

// PostEnd fires every OnPostEnd subscriber.
func (b *Bus) PostEnd(a attribute.Attribute, v variant.Variant) {
	for _, fn := range cloneLocked(&b.mu, &b.postEnd) {
		fn(a, v)
	}
}

// CreateScope fires every OnCreateScope subscriber.
func (b *Bus) CreateScope(k scope.Kind) {
	for _, fn := range cloneLocked(&b.mu, &b.createScope) {
		fn(k)
	}
}

// ReleaseScope fires every OnReleaseScope subscriber.
func (b *Bus) ReleaseScope(k scope.Kind) {
	for _, fn := range cloneLocked(&b.mu, &b.releaseScope) {
		fn(k)
	}
}

// Snapshot fires every OnSnapshot subscriber with the in-progress record.
func (b *Bus) Snapshot(mask scope.Mask, trigger snapshot.Entry, rec *snapshot.Record) {
	for _, fn := range cloneLocked(&b.mu, &b.snapshotFn) {
		fn(mask, trigger, rec)
	}
}

// ProcessSnapshot fires every OnProcessSnapshot subscriber with the
// completed record and the trigger that prompted it.
func (b *Bus) ProcessSnapshot(trigger snapshot.Entry, rec *snapshot.Record) {
	for _, fn := range cloneLocked(&b.mu, &b.processSnapshot) {
		fn(trigger, rec)
	}
}

// WriteRecord fires every OnWriteRecord subscriber with n. Passed directly
// to tree.WriteNewNodes as its sink, so it fires once per newly published
// node, in node-id order.
func (b *Bus) WriteRecord(n *ctxtree.Node) {
	for _, fn := range cloneLocked(&b.mu, &b.writeRecord) {
		fn(n)
	}
}
