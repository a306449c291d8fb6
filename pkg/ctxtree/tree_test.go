package ctxtree_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/variant"
)

func newTestTree() (*ctxtree.Tree, *arena.Pool[ctxtree.Node]) {
	pool := arena.New[ctxtree.Node](64)

	return ctxtree.New(pool), pool
}

func TestTree_GetPath_Interning(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	pairs := []ctxtree.PathPair{
		{AttributeID: 10, Value: variant.String("A")},
		{AttributeID: 10, Value: variant.String("B")},
	}

	n1 := tr.GetPath(pairs, nil, pool)
	n2 := tr.GetPath(pairs, nil, pool)

	assert.Same(t, n1, n2, "identical pair sequences must resolve to the same node")
	assert.Equal(t, uint64(10), n1.AttributeID())
	assert.True(t, n1.Value().Equal(variant.String("B")))
	assert.True(t, n1.Parent().Value().Equal(variant.String("A")))
}

func TestTree_GetPath_DivergingValuesBranch(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	base := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("region")}}, nil, pool)

	a := tr.GetPath([]ctxtree.PathPair{{AttributeID: 2, Value: variant.String("A")}}, base, pool)
	b := tr.GetPath([]ctxtree.PathPair{{AttributeID: 2, Value: variant.String("B")}}, base, pool)

	assert.NotSame(t, a, b)
	assert.Same(t, base, a.Parent())
	assert.Same(t, base, b.Parent())
}

func TestTree_NodeImmutability(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{{AttributeID: 5, Value: variant.Int(42)}}, nil, pool)
	id := n.ID()

	// Force more tree growth, then confirm the id still resolves to an
	// unchanged node.
	for i := range 50 {
		tr.GetPath([]ctxtree.PathPair{{AttributeID: 6, Value: variant.Int(int64(i))}}, nil, pool)
	}

	got := tr.Node(id)
	require.NotNil(t, got)
	assert.Equal(t, uint64(5), got.AttributeID())
	assert.True(t, got.Value().Equal(variant.Int(42)))
}

func TestTree_RemoveFirstInPath_RemovesNearestOccurrence(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{
		{AttributeID: 1, Value: variant.String("A")},
		{AttributeID: 1, Value: variant.String("B")},
	}, nil, pool)

	// Two nested occurrences of the same attribute: removing one must undo
	// only the most recent (B), leaving A active and attached to root,
	// the stack discipline nested begin/end relies on.
	stripped := tr.RemoveFirstInPath(n, 1, pool)
	assert.True(t, stripped.Parent().IsRoot())
	assert.True(t, stripped.Value().Equal(variant.String("A")))

	// Removing the last remaining occurrence does reach the root.
	root := tr.RemoveFirstInPath(stripped, 1, pool)
	assert.True(t, root.IsRoot())
}

func TestTree_RemoveFirstInPath_KeepsOtherAncestors(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{
		{AttributeID: 1, Value: variant.String("phase")},
		{AttributeID: 2, Value: variant.String("func")},
	}, nil, pool)

	stripped := tr.RemoveFirstInPath(n, 1, pool)
	assert.False(t, stripped.IsRoot())
	assert.Equal(t, uint64(2), stripped.AttributeID())
	assert.True(t, stripped.Value().Equal(variant.String("func")))
}

func TestTree_ReplaceFirstInPath(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("A")}}, nil, pool)

	replaced := tr.ReplaceFirstInPath(n, 1, variant.String("Z"), pool)
	assert.True(t, replaced.Value().Equal(variant.String("Z")))
	assert.True(t, replaced.Parent().IsRoot())
}

func TestTree_ReplaceAllInPath(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{
		{AttributeID: 1, Value: variant.String("A")},
		{AttributeID: 1, Value: variant.String("B")},
	}, nil, pool)

	replaced := tr.ReplaceAllInPath(n, 1, []variant.Variant{
		variant.String("X"), variant.String("Y"), variant.String("Z"),
	}, pool)

	var values []string
	for cur := replaced; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		values = append([]string{cur.Value().Str()}, values...)
	}

	assert.Equal(t, []string{"X", "Y", "Z"}, values)
}

func TestTree_FindNodeWithAttribute(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	n := tr.GetPath([]ctxtree.PathPair{
		{AttributeID: 1, Value: variant.String("phase")},
		{AttributeID: 2, Value: variant.String("func")},
	}, nil, pool)

	found := ctxtree.FindNodeWithAttribute(n, 1)
	require.NotNil(t, found)
	assert.Equal(t, uint64(1), found.AttributeID())

	assert.Nil(t, ctxtree.FindNodeWithAttribute(n, 99))
}

func TestTree_WriteNewNodes_MonotonicAndIdempotent(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	var written []uint64

	sink := func(n *ctxtree.Node) { written = append(written, n.ID()) }

	tr.WriteNewNodes(sink)
	firstBatch := len(written)
	assert.Positive(t, firstBatch, "root and type nodes should be emitted on first call")

	tr.WriteNewNodes(sink)
	assert.Equal(t, firstBatch, len(written), "second call with no new nodes must be a no-op")

	tr.GetPath([]ctxtree.PathPair{{AttributeID: 7, Value: variant.String("v")}}, nil, pool)
	tr.WriteNewNodes(sink)
	assert.Equal(t, firstBatch+1, len(written))
}

func TestTree_ConcurrentInterningRace(t *testing.T) {
	t.Parallel()

	tr, pool := newTestTree()

	const goroutines = 100

	results := make([]*ctxtree.Node, goroutines)

	var wg sync.WaitGroup

	wg.Add(goroutines)

	for i := range goroutines {
		go func(idx int) {
			defer wg.Done()

			results[idx] = tr.GetPath([]ctxtree.PathPair{
				{AttributeID: 42, Value: variant.String("shared")},
			}, nil, pool)
		}(i)
	}

	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i], "concurrent interning of identical paths must converge on one node")
	}
}
