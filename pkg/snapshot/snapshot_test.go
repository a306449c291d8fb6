package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/ctxbuffer"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

func TestRecord_AppendAndEntries(t *testing.T) {
	t.Parallel()

	pool := arena.New[ctxtree.Node](8)
	tr := ctxtree.New(pool)
	node := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("x")}}, nil, pool)

	r := snapshot.NewRecord()
	r.AppendNode(node)
	r.AppendImmediate(2, variant.Int(5))

	require.Equal(t, 2, r.Len())

	entries := r.Entries()
	assert.True(t, entries[0].IsNode())
	assert.Same(t, node, entries[0].Node)
	assert.False(t, entries[1].IsNode())
	assert.Equal(t, uint64(2), entries[1].AttributeID)
	assert.True(t, entries[1].Value.Equal(variant.Int(5)))
}

func TestMakeEntryPath(t *testing.T) {
	t.Parallel()

	pool := arena.New[ctxtree.Node](8)
	tr := ctxtree.New(pool)

	e := snapshot.MakeEntryPath(tr, []ctxtree.PathPair{{AttributeID: 3, Value: variant.String("phase")}}, nil, pool)

	assert.True(t, e.IsNode())
	assert.Equal(t, uint64(3), e.Node.AttributeID())
}

func TestCollectFrom_PreservesNodeAndValueEntries(t *testing.T) {
	t.Parallel()

	pool := arena.New[ctxtree.Node](8)
	tr := ctxtree.New(pool)
	node := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("x")}}, nil, pool)

	buf := ctxbuffer.New()
	buf.SetNode(1, node)
	buf.Set(2, variant.Int(9))

	r := snapshot.NewRecord()
	snapshot.CollectFrom(buf, r)

	require.Equal(t, 2, r.Len())

	var sawNode, sawValue bool

	for _, e := range r.Entries() {
		if e.IsNode() {
			sawNode = true
		} else {
			sawValue = true
		}
	}

	assert.True(t, sawNode)
	assert.True(t, sawValue)
}

func TestCollectFrom_AcrossMultipleScopesPreservesOrder(t *testing.T) {
	t.Parallel()

	taskBuf := ctxbuffer.New()
	taskBuf.Set(10, variant.String("task"))

	threadBuf := ctxbuffer.New()
	threadBuf.Set(20, variant.String("thread"))

	processBuf := ctxbuffer.New()
	processBuf.Set(30, variant.String("process"))

	r := snapshot.NewRecord()
	snapshot.CollectFrom(taskBuf, r)
	snapshot.CollectFrom(threadBuf, r)
	snapshot.CollectFrom(processBuf, r)

	require.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(10), r.Entries()[0].AttributeID)
	assert.Equal(t, uint64(20), r.Entries()[1].AttributeID)
	assert.Equal(t, uint64(30), r.Entries()[2].AttributeID)
}
