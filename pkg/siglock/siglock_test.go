package siglock_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phroun/calipergo/pkg/siglock"
)

func TestSentinel_Transitions(t *testing.T) {
	t.Parallel()

	s := siglock.NewSentinel()
	assert.Equal(t, siglock.Uninitialized, s.Load())

	assert.True(t, s.CompareAndSwap(siglock.Uninitialized, siglock.Live))
	assert.Equal(t, siglock.Live, s.Load())

	assert.False(t, s.CompareAndSwap(siglock.Uninitialized, siglock.Live))

	s.Store(siglock.TornDown)
	assert.Equal(t, siglock.TornDown, s.Load())
}

func TestRWLock_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	var lock siglock.RWLock

	var active atomic.Int32

	var maxActive atomic.Int32

	var wg sync.WaitGroup

	const goroutines = 32

	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()

			lock.RLock()
			defer lock.RUnlock()

			n := active.Add(1)

			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}

			active.Add(-1)
		}()
	}

	wg.Wait()
	assert.GreaterOrEqual(t, maxActive.Load(), int32(1))
}

func TestRWLock_WritersExcludeEachOther(t *testing.T) {
	t.Parallel()

	var lock siglock.RWLock

	var counter int

	var wg sync.WaitGroup

	const writers = 8

	const incrementsPerWriter = 500

	wg.Add(writers)

	for range writers {
		go func() {
			defer wg.Done()

			for range incrementsPerWriter {
				lock.WLock()
				counter++
				lock.WUnlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, writers*incrementsPerWriter, counter)
}

func TestRWLock_TryWLock(t *testing.T) {
	t.Parallel()

	var lock siglock.RWLock

	assert.True(t, lock.TryWLock())
	defer lock.WUnlock()

	var other siglock.RWLock

	assert.True(t, other.TryWLock())
	other.WUnlock()
}
