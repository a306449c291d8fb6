// Package promservice adapts a Runtime's event bus into Prometheus
// metrics: a counter of begin/end calls per attribute name and a gauge of
// the most recent snapshot's entry count.
//
// Collectors register against an explicit *prometheus.Registry rather than
// the global default registry. A service is an external collaborator that
// only ever reads immutable Entries off the event bus: promservice never
// reaches back into the Runtime's buffers, it only counts events as they
// fire.
package promservice

import (
	"github.com/prometheus/client_golang/prometheus"

	caliperattr "github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

const namespace = "calipergo"

// Service exposes annotation activity as Prometheus collectors.
type Service struct {
	calls    *prometheus.CounterVec
	depth    prometheus.Gauge
	newNodes prometheus.Counter
}

// New constructs a Service and registers its collectors against reg.
func New(reg prometheus.Registerer) *Service {
	s := &Service{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_calls_total",
			Help:      "Number of begin/end calls observed, by attribute name and event kind.",
		}, []string{"attribute", "event"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_entries",
			Help:      "Number of entries in the most recently pushed snapshot.",
		}),
		newNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_tree_nodes_total",
			Help:      "Number of context-tree nodes published since startup.",
		}),
	}

	reg.MustRegister(s.calls, s.depth, s.newNodes)

	return s
}

// Register returns a caliper.ServiceFunc that subscribes s to rt's event
// bus, suitable for caliper.RegisterService.
func (s *Service) Register() caliper.ServiceFunc {
	return func(rt *caliper.Runtime) {
		rt.Events().OnPostBegin(func(a caliperattr.Attribute, _ variant.Variant) {
			s.calls.WithLabelValues(a.Name(), "begin").Inc()
		})
		rt.Events().OnPostEnd(func(a caliperattr.Attribute, _ variant.Variant) {
			s.calls.WithLabelValues(a.Name(), "end").Inc()
		})
		rt.Events().OnProcessSnapshot(func(_ snapshot.Entry, rec *snapshot.Record) {
			s.depth.Set(float64(rec.Len()))
		})
		rt.Events().OnWriteRecord(func(_ *ctxtree.Node) {
			s.newNodes.Inc()
		})
	}
}
