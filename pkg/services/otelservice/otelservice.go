// Package otelservice adapts a Runtime's event bus into an OpenTelemetry
// trace writer: one span per acquired scope, annotation begin/end calls
// become span events, and each push_snapshot closes the current span after
// attaching the snapshot's flattened entries as span attributes.
//
// The service takes a ready-made tracer (typically from
// pkg/observability.Init, which uses no-op providers when no OTLP endpoint
// is configured) and applies its own attribute-name allow-list to span
// events. It subscribes to create_scope/release_scope/pre_begin/post_end/
// process_snapshot at registration time.
package otelservice

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	caliperattr "github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/ctxtree"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

// Config controls how the service renders annotations as spans.
type Config struct {
	// SpanNamePrefix prefixes every scope span's name. Defaults to
	// "caliper.scope.".
	SpanNamePrefix string

	// AttributeAllow, if non-empty, restricts which attribute names are
	// attached to spans as begin/end events; an empty list allows
	// everything. The snapshot entries that onProcessSnapshot attaches as
	// span attributes are not filtered by it. Matches the allow-list-over-deny-list default posture
	// in NewAttributeFilter.
	AttributeAllow []string
}

// Service renders Runtime events as OpenTelemetry spans. One span is open
// at a time, covering the interval between the most recent CreateScope and
// the next ProcessSnapshot/ReleaseScope.
type Service struct {
	tracer trace.Tracer
	cfg    Config
	allow  map[string]struct{}

	mu   sync.Mutex
	span trace.Span
}

// New constructs a Service bound to tracer (typically
// observability.Providers.Tracer).
func New(tracer trace.Tracer, cfg Config) *Service {
	if cfg.SpanNamePrefix == "" {
		cfg.SpanNamePrefix = "caliper.scope."
	}

	var allow map[string]struct{}
	if len(cfg.AttributeAllow) > 0 {
		allow = make(map[string]struct{}, len(cfg.AttributeAllow))
		for _, name := range cfg.AttributeAllow {
			allow[name] = struct{}{}
		}
	}

	return &Service{tracer: tracer, cfg: cfg, allow: allow}
}

// Register returns a caliper.ServiceFunc that subscribes s to rt's event
// bus, suitable for caliper.RegisterService.
func (s *Service) Register() caliper.ServiceFunc {
	return func(rt *caliper.Runtime) {
		rt.Events().OnCreateScope(s.onCreateScope)
		rt.Events().OnReleaseScope(s.onReleaseScope)
		rt.Events().OnPreBegin(func(a caliperattr.Attribute, v variant.Variant) {
			s.addEvent("begin", a, v)
		})
		rt.Events().OnPostEnd(func(a caliperattr.Attribute, v variant.Variant) {
			s.addEvent("end", a, v)
		})
		rt.Events().OnProcessSnapshot(s.onProcessSnapshot)
	}
}

func (s *Service) onCreateScope(kind scope.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.span != nil {
		s.span.End()
	}

	_, span := s.tracer.Start(context.Background(), s.cfg.SpanNamePrefix+kind.String())
	s.span = span
}

func (s *Service) onReleaseScope(_ scope.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.span != nil {
		s.span.End()
		s.span = nil
	}
}

func (s *Service) addEvent(name string, a caliperattr.Attribute, v variant.Variant) {
	if !s.allowed(a.Name()) {
		return
	}

	span := s.currentSpan()
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attribute.String(a.Name(), v.String())))
}

// onProcessSnapshot attaches the snapshot's flattened (attribute, value)
// pairs to the currently open span as attributes, then closes it: every
// push_snapshot call marks one trigger boundary.
func (s *Service) onProcessSnapshot(_ snapshot.Entry, rec *snapshot.Record) {
	span := s.currentSpan()
	if span == nil {
		return
	}

	for _, e := range rec.Entries() {
		if e.IsNode() {
			for n := e.Node; n != nil && !n.IsRoot(); n = n.Parent() {
				s.setNodeAttr(span, n)
			}

			continue
		}

		span.SetAttributes(attribute.String(attrKeyFor(e.AttributeID), e.Value.String()))
	}

	span.End()

	s.mu.Lock()
	s.span = nil
	s.mu.Unlock()
}

func (s *Service) setNodeAttr(span trace.Span, n *ctxtree.Node) {
	span.SetAttributes(attribute.String(attrKeyFor(n.AttributeID()), n.Value().String()))
}

func (s *Service) currentSpan() trace.Span {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.span
}

func attrKeyFor(id uint64) string {
	return "cali.attr." + strconv.FormatUint(id, 10)
}

func (s *Service) allowed(name string) bool {
	if s.allow == nil {
		return true
	}

	_, ok := s.allow[name]

	return ok
}
