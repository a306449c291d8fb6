package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	caliperattr "github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/eventbus"
	"github.com/phroun/calipergo/pkg/variant"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrEnv     = "env"
	attrMode    = "mode"

	annotationGroup = "annotations"
)

// AnnotationContext tracks the attributes currently begin()-ed or set but
// not yet end()-ed, keyed by attribute name with the most recent value, so
// a log line can show what the runtime was annotating at the moment it was
// written. One end() removes the name entirely, even while an outer nested
// begin() of the same attribute is still active, and attributes that skip
// events are never tracked.
//
// AnnotationContext is itself a minimal service in the same mold as
// pkg/services: it never touches the Runtime directly, only the event bus.
type AnnotationContext struct {
	mu     sync.Mutex
	values map[string]string
}

// NewAnnotationContext returns an empty AnnotationContext. Call Subscribe
// to start tracking a Runtime's event bus.
func NewAnnotationContext() *AnnotationContext {
	return &AnnotationContext{values: make(map[string]string)}
}

// Subscribe registers ac against bus's PostBegin, PostSet, and PostEnd
// events, so ac.Attrs() reflects live annotation state from then on.
func (ac *AnnotationContext) Subscribe(bus *eventbus.Bus) {
	bus.OnPostBegin(ac.record)
	bus.OnPostSet(ac.record)
	bus.OnPostEnd(func(a caliperattr.Attribute, _ variant.Variant) { ac.clear(a.Name()) })
}

func (ac *AnnotationContext) record(a caliperattr.Attribute, v variant.Variant) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.values[a.Name()] = v.String()
}

func (ac *AnnotationContext) clear(name string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	delete(ac.values, name)
}

// Len reports how many attributes are currently active.
func (ac *AnnotationContext) Len() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	return len(ac.values)
}

// Attrs renders the current annotation state as slog attributes, sorted
// by attribute name for deterministic log output. Returns nil when no
// attribute is currently active.
func (ac *AnnotationContext) Attrs() []slog.Attr {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if len(ac.values) == 0 {
		return nil
	}

	names := make([]string, 0, len(ac.values))
	for name := range ac.values {
		names = append(names, name)
	}

	sort.Strings(names)

	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.String(name, ac.values[name]))
	}

	return attrs
}

// TracingHandler is an [slog.Handler] that injects OpenTelemetry trace context
// (trace_id, span_id), service metadata, and the runtime's currently active
// annotations into every log record. Service attributes (service, env, mode)
// are pre-attached at construction so they remain at the top level even when
// groups are used.
type TracingHandler struct {
	inner       slog.Handler
	annotations *AnnotationContext
}

// TracingOption configures a TracingHandler at construction.
type TracingOption func(*TracingHandler)

// WithAnnotationContext attaches ac so every record carries an "annotations"
// group reflecting whatever the runtime had begin()-ed at log time.
func WithAnnotationContext(ac *AnnotationContext) TracingOption {
	return func(th *TracingHandler) {
		th.annotations = ac
	}
}

// NewTracingHandler wraps an [slog.Handler], injecting trace context and service metadata.
// Service attributes are pre-attached to the inner handler so they appear at the
// top level regardless of subsequent WithGroup calls.
func NewTracingHandler(inner slog.Handler, service, env string, appMode AppMode, opts ...TracingOption) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	th := &TracingHandler{
		inner: inner.WithAttrs(attrs),
	}

	for _, opt := range opts {
		opt(th)
	}

	return th
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace context attributes from the span context and the
// current annotation context, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	if th.annotations != nil {
		if attrs := th.annotations.Attrs(); len(attrs) > 0 {
			record.AddAttrs(slog.Attr{Key: annotationGroup, Value: slog.GroupValue(attrs...)})
		}
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs returns a new TracingHandler with additional attributes on the inner handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{
		inner:       th.inner.WithAttrs(attrs),
		annotations: th.annotations,
	}
}

// WithGroup returns a new TracingHandler with a group prefix on the inner handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{
		inner:       th.inner.WithGroup(name),
		annotations: th.annotations,
	}
}
