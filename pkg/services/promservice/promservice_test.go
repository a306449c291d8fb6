package promservice_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/services/promservice"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

func TestServiceCountsAnnotationsAndSnapshotDepth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	svc := promservice.New(reg)

	rt := caliper.New(caliper.DefaultConfig())
	svc.Register()(rt)

	region := rt.CreateAttribute("region", variant.TypeString, attribute.Default)

	require.NoError(t, rt.Begin(region, variant.String("A")))
	require.NoError(t, rt.End(region))
	rt.PushSnapshot(scope.MaskAll, snapshot.Entry{})

	metrics, err := reg.Gather()
	require.NoError(t, err)

	var found bool

	for _, mf := range metrics {
		if mf.GetName() == "calipergo_annotation_calls_total" {
			found = true

			for _, m := range mf.GetMetric() {
				assert.Equal(t, float64(1), m.GetCounter().GetValue())
			}
		}

		// region has ended before the push, so the snapshot holds no entries.
		if mf.GetName() == "calipergo_snapshot_entries" {
			assert.Equal(t, float64(0), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}

	assert.True(t, found, "expected calipergo_annotation_calls_total to be registered")
}
