// Package scope implements the Scope object and the ScopeResolver that
// locates the right Scope (process, thread, or task) for an annotation
// call.
//
// The process scope is created once at bootstrap and lives for the
// program's lifetime; thread and task scopes are resolved lazily through a
// caller-registered callback (so the runtime need not know how the host
// program implements thread- or task-local storage), falling back to a
// single shared default scope when no callback has been registered.
// Registering a second callback for the same kind is a logged mistake, not
// a panic: the first callback stays in place.
package scope

import (
	"log/slog"
	"sync"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/ctxbuffer"
	"github.com/phroun/calipergo/pkg/ctxtree"
)

// Kind identifies which of the three scope levels a Scope represents.
type Kind int

// Scope kinds, ordered root-to-leaf: process entries are the most shared,
// task entries the most specific. A snapshot walks them in the reverse
// order (see Masked).
const (
	Process Kind = iota
	Thread
	Task
)

// String renders k for logging.
func (k Kind) String() string {
	switch k {
	case Process:
		return "process"
	case Thread:
		return "thread"
	case Task:
		return "task"
	default:
		return "unknown"
	}
}

// Scope bundles the three things every begin/end/set call needs for a
// given level: which kind it is, the node pool new tree nodes on this
// level's behalf are allocated from, and the private context buffer
// holding its currently active entries.
type Scope struct {
	kind   Kind
	pool   *arena.Pool[ctxtree.Node]
	buffer *ctxbuffer.Buffer
}

// New constructs a Scope of the given kind with its own node pool (sized
// blockSize per arena.New) and an empty context buffer.
func New(kind Kind, blockSize int) *Scope {
	return &Scope{
		kind:   kind,
		pool:   arena.New[ctxtree.Node](blockSize),
		buffer: ctxbuffer.New(),
	}
}

// Kind returns the scope's level.
func (s *Scope) Kind() Kind { return s.kind }

// Pool returns the scope's node pool.
func (s *Scope) Pool() *arena.Pool[ctxtree.Node] { return s.pool }

// Buffer returns the scope's private context buffer.
func (s *Scope) Buffer() *ctxbuffer.Buffer { return s.buffer }

// defaultBlockSize is used for the process scope and the two default
// thread/task scopes handed out when the host program never registers a
// resolution callback (i.e. single-threaded use).
const defaultBlockSize = 256

// Resolver locates the Scope for a given Kind, lazily acquiring
// thread/task scopes through host-registered callbacks. The zero value is
// not usable; construct with NewResolver.
type Resolver struct {
	process *Scope

	mu             sync.Mutex
	threadCallback func() *Scope
	taskCallback   func() *Scope
	defaultThread  *Scope
	defaultTask    *Scope

	logger *slog.Logger
}

// NewResolver constructs a Resolver with its process scope already
// allocated. logger receives a Warn-level entry if the host ever attempts
// to register a second thread or task callback.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		process: New(Process, defaultBlockSize),
		logger:  logger,
	}
}

// Process returns the single, permanent process scope.
func (r *Resolver) Process() *Scope { return r.process }

// SetThreadCallback registers cb as the way to resolve the calling
// goroutine's thread scope. Only the first registration takes effect; a
// later call is logged and ignored.
func (r *Resolver) SetThreadCallback(cb func() *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.threadCallback != nil {
		r.logger.Warn("thread scope callback already registered, ignoring")

		return
	}

	r.threadCallback = cb
}

// SetTaskCallback registers cb as the way to resolve the calling
// goroutine's task scope. Only the first registration takes effect.
func (r *Resolver) SetTaskCallback(cb func() *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taskCallback != nil {
		r.logger.Warn("task scope callback already registered, ignoring")

		return
	}

	r.taskCallback = cb
}

// Thread returns the calling goroutine's thread scope: the registered
// callback's result if one is set, otherwise a single shared default
// scope lazily created on first use.
func (r *Resolver) Thread() *Scope {
	r.mu.Lock()
	cb := r.threadCallback
	r.mu.Unlock()

	if cb != nil {
		if s := cb(); s != nil {
			return s
		}
	}

	return r.defaultThreadScope()
}

// Task returns the calling goroutine's task scope: the registered
// callback's result if one is set, otherwise a single shared default
// scope lazily created on first use.
func (r *Resolver) Task() *Scope {
	r.mu.Lock()
	cb := r.taskCallback
	r.mu.Unlock()

	if cb != nil {
		if s := cb(); s != nil {
			return s
		}
	}

	return r.defaultTaskScope()
}

func (r *Resolver) defaultThreadScope() *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaultThread == nil {
		r.defaultThread = New(Thread, defaultBlockSize)
	}

	return r.defaultThread
}

func (r *Resolver) defaultTaskScope() *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaultTask == nil {
		r.defaultTask = New(Task, defaultBlockSize)
	}

	return r.defaultTask
}

// Resolve dispatches on kind to Process, Thread, or Task.
func (r *Resolver) Resolve(kind Kind) *Scope {
	switch kind {
	case Process:
		return r.process
	case Task:
		return r.Task()
	default:
		return r.Thread()
	}
}

// Mask selects which scope levels a snapshot gathers from.
type Mask uint8

// Mask bits, one per Kind, plus MaskAll covering every level.
const (
	MaskProcess Mask = 1 << iota
	MaskThread
	MaskTask

	MaskAll = MaskProcess | MaskThread | MaskTask
)

// Mask returns the mask bit selecting k.
func (k Kind) Mask() Mask {
	switch k {
	case Process:
		return MaskProcess
	case Task:
		return MaskTask
	default:
		return MaskThread
	}
}

// Has reports whether m selects k.
func (m Mask) Has(k Kind) bool { return m&k.Mask() != 0 }

// Masked returns the scopes selected by m in task, thread, process order,
// the order pull_snapshot/push_snapshot walk them in, most specific first.
func (r *Resolver) Masked(m Mask) []*Scope {
	scopes := make([]*Scope, 0, 3)

	if m.Has(Task) {
		scopes = append(scopes, r.Task())
	}

	if m.Has(Thread) {
		scopes = append(scopes, r.Thread())
	}

	if m.Has(Process) {
		scopes = append(scopes, r.process)
	}

	return scopes
}

// All is Masked(MaskAll).
func (r *Resolver) All() []*Scope {
	return r.Masked(MaskAll)
}
