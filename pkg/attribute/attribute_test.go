package attribute_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/arena"
	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/variant"
)

// testMeta builds a tree with the three meta-attribute defining nodes
// created directly (bypassing Registry, which is what we're testing),
// mirroring how the runtime bootstraps them before any user attribute
// exists.
func testMeta(t *testing.T, tr *ctxtree.Tree, pool *arena.Pool[ctxtree.Node]) attribute.MetaIDs {
	t.Helper()

	nameNode := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("name")}}, tr.TypeNode(variant.TypeString), pool)
	typeNode := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("type")}}, tr.TypeNode(variant.TypeInt), pool)
	propNode := tr.GetPath([]ctxtree.PathPair{{AttributeID: 1, Value: variant.String("properties")}}, tr.TypeNode(variant.TypeUint), pool)

	return attribute.MetaIDs{
		NameAttrID: nameNode.ID(),
		TypeAttrID: typeNode.ID(),
		PropAttrID: propNode.ID(),
	}
}

func newRegistry(t *testing.T) (*attribute.Registry, *[]attribute.Attribute) {
	t.Helper()

	pool := arena.New[ctxtree.Node](64)
	tr := ctxtree.New(pool)
	meta := testMeta(t, tr, pool)

	created := new([]attribute.Attribute)

	reg := attribute.NewRegistry(tr, pool, meta, func(a attribute.Attribute) {
		*created = append(*created, a)
	})

	return reg, created
}

func TestRegistry_CreateAttribute_DefaultsToThreadScope(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	a := reg.CreateAttribute("region", variant.TypeString, attribute.Default)
	require.True(t, a.Valid())
	assert.Equal(t, attribute.Thread, a.Scope())
	assert.True(t, a.AutoCombineable())
}

func TestRegistry_CreateAttribute_Idempotent(t *testing.T) {
	t.Parallel()

	reg, created := newRegistry(t)

	a1 := reg.CreateAttribute("region", variant.TypeString, attribute.Default)
	a2 := reg.CreateAttribute("region", variant.TypeString, attribute.Default)

	assert.True(t, a1.Equal(a2))
	assert.Len(t, *created, 1, "create_attr event should fire exactly once")
}

func TestRegistry_GetAttribute(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	created := reg.CreateAttribute("iter", variant.TypeInt, attribute.AsValue|attribute.ScopeProcess)

	byName := reg.GetAttributeByName("iter")
	require.True(t, byName.Valid())
	assert.Equal(t, created.ID(), byName.ID())
	assert.True(t, byName.IsAsValue())
	assert.Equal(t, attribute.Process, byName.Scope())

	byID := reg.GetAttributeByID(created.ID())
	assert.True(t, byID.Valid())
	assert.Equal(t, created.ID(), byID.ID())

	assert.False(t, reg.GetAttributeByName("nonexistent").Valid())
}

func TestRegistry_ConcurrentCreateAttribute_SameWinner(t *testing.T) {
	t.Parallel()

	pool := arena.New[ctxtree.Node](64)
	tr := ctxtree.New(pool)
	meta := testMeta(t, tr, pool)

	var createEvents atomic.Int32

	reg := attribute.NewRegistry(tr, pool, meta, func(attribute.Attribute) {
		createEvents.Add(1)
	})

	const goroutines = 100

	ids := make([]uint64, goroutines)

	var wg sync.WaitGroup

	wg.Add(goroutines)

	for i := range goroutines {
		go func(idx int) {
			defer wg.Done()

			a := reg.CreateAttribute("x", variant.TypeInt, attribute.Default)
			ids[idx] = a.ID()
		}(i)
	}

	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Equal(t, ids[0], ids[i])
	}

	assert.Equal(t, int32(1), createEvents.Load(), "create_attr must fire exactly once per distinct name")
}

func TestAttribute_PropertiesBits(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	hidden := reg.CreateAttribute("secret", variant.TypeString, attribute.Hidden)
	assert.True(t, hidden.IsHidden())
	assert.False(t, hidden.AutoCombineable())

	nomerge := reg.CreateAttribute("unique", variant.TypeString, attribute.NoMerge)
	assert.True(t, nomerge.IsNoMerge())
	assert.False(t, nomerge.AutoCombineable())

	plain := reg.CreateAttribute("plain", variant.TypeString, attribute.Default)
	assert.True(t, plain.AutoCombineable())
}
