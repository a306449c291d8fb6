// Package siglock implements the signal-safe primitives the runtime needs:
// a reader/writer lock built from atomics only (never blocking on a kernel
// futex, so it cannot deadlock a thread that is interrupted by a signal
// while holding the writer side), and the three-state sentinel that gates
// bootstrap/teardown.
//
// sync.RWMutex cannot serve here: it eventually parks on a futex, which is
// unsound to call from a handler that may have interrupted the lock
// holder. Both primitives are built from atomics alone and never call into
// the kernel.
package siglock

import (
	"runtime"
	"sync/atomic"
)

// State is the three-state runtime sentinel: Uninitialized -> Live ->
// TornDown, transitions are one-way.
type State int32

// Sentinel values. Live is 0, so the zero value of State (and of a
// Sentinel not made by NewSentinel) is Live; NewSentinel stores
// Uninitialized explicitly.
const (
	Uninitialized State = 1
	Live          State = 0
	TornDown      State = 2
)

// Sentinel is an atomic holder for State, matching Caliper's
// volatile sig_atomic_t s_siglock.
type Sentinel struct {
	v atomic.Int32
}

// NewSentinel returns a Sentinel initialized to Uninitialized.
func NewSentinel() *Sentinel {
	s := &Sentinel{}
	s.v.Store(int32(Uninitialized))

	return s
}

// Load reads the current state. Safe to call from a signal handler.
func (s *Sentinel) Load() State { return State(s.v.Load()) }

// Store sets the state unconditionally. Safe to call from a signal handler.
func (s *Sentinel) Store(v State) { s.v.Store(int32(v)) }

// CompareAndSwap performs an atomic CAS, used by the runtime bootstrap to
// claim the uninitialized->live transition exactly once.
func (s *Sentinel) CompareAndSwap(old, newVal State) bool {
	return s.v.CompareAndSwap(int32(old), int32(newVal))
}

const spinLimit = 64

// RWLock is a reader/writer lock implemented with atomics and bounded
// spinning only. Readers increment a counter; a writer sets a flag and
// waits (bounded) for the reader count to drain. Neither side ever calls
// into the scheduler in a way that can block indefinitely, so it is safe
// to take the read side from a signal handler running on the same thread
// that might be holding (or spinning for) the write side elsewhere in the
// process: the handler's read will simply observe a momentarily busy
// writer and spin, never deadlock on a kernel primitive.
type RWLock struct {
	writer  atomic.Bool
	readers atomic.Int32
}

// RLock acquires the read side. Safe to call from a signal handler.
func (l *RWLock) RLock() {
	for {
		for l.writer.Load() {
			runtime.Gosched()
		}

		l.readers.Add(1)

		if !l.writer.Load() {
			return
		}

		// A writer slipped in between our check and our increment; back off
		// and retry rather than block a would-be writer indefinitely.
		l.readers.Add(-1)
	}
}

// RUnlock releases the read side.
func (l *RWLock) RUnlock() {
	l.readers.Add(-1)
}

// WLock acquires the write side with bounded spinning, not a blocking wait.
func (l *RWLock) WLock() {
	for !l.writer.CompareAndSwap(false, true) {
		runtime.Gosched()
	}

	spins := 0
	for l.readers.Load() > 0 {
		spins++
		if spins > spinLimit {
			runtime.Gosched()

			spins = 0
		}
	}
}

// WUnlock releases the write side.
func (l *RWLock) WUnlock() {
	l.writer.Store(false)
}

// TryWLock attempts to acquire the write side without spinning, returning
// false immediately if another writer holds it. This is the form a signal
// handler should use if it ever needs the write side (the runtime itself
// never does: handlers only read).
func (l *RWLock) TryWLock() bool {
	if !l.writer.CompareAndSwap(false, true) {
		return false
	}

	if l.readers.Load() > 0 {
		l.writer.Store(false)

		return false
	}

	return true
}
