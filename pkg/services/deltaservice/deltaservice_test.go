package deltaservice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/services/deltaservice"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

func TestServiceReportsOnlyChangedLines(t *testing.T) {
	t.Parallel()

	var seen []deltaservice.Change

	svc := deltaservice.New(func(changes []deltaservice.Change) {
		seen = append(seen, changes...)
	})

	rt := caliper.New(caliper.DefaultConfig())
	svc.Register()(rt)

	phase := rt.CreateAttribute("phase", variant.TypeString, attribute.Default)

	require.NoError(t, rt.Begin(phase, variant.String("init")))
	rt.PushSnapshot(scope.MaskAll, snapshot.Entry{}) // first snapshot: nothing to diff against yet
	assert.Empty(t, seen)

	require.NoError(t, rt.Set(phase, variant.String("running")))
	rt.PushSnapshot(scope.MaskAll, snapshot.Entry{})

	require.NotEmpty(t, seen)

	var sawAdd, sawRemove bool

	for _, c := range seen {
		if c.Added && c.Line == "phase=running" {
			sawAdd = true
		}

		if !c.Added && c.Line == "phase=init" {
			sawRemove = true
		}
	}

	assert.True(t, sawAdd, "expected phase=running to be reported as added")
	assert.True(t, sawRemove, "expected phase=init to be reported as removed")
}
