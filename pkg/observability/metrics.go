package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOperationsTotal   = "caliper.operations.total"
	metricOperationDuration = "caliper.operation.duration.seconds"
	metricErrorsTotal       = "caliper.errors.total"
	metricInflightOps       = "caliper.inflight.operations"

	attrOp     = "op"
	attrStatus = "status"

	statusError = "error"
)

// durationBucketBoundaries covers 100us to 10s, the range a begin/end pair
// or a PushSnapshot call is expected to fall into.
var durationBucketBoundaries = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// describing runtime operations (Begin, End, Set, PushSnapshot, ...).
type REDMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	errorsTotal       metric.Int64Counter
	inflightOps       metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	opsTotal, err := mt.Int64Counter(metricOperationsTotal,
		metric.WithDescription("Total number of runtime operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOperationsTotal, err)
	}

	opDuration, err := mt.Float64Histogram(metricOperationDuration,
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOperationDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightOps,
		metric.WithDescription("Number of in-flight operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightOps, err)
	}

	return &REDMetrics{
		operationsTotal:   opsTotal,
		operationDuration: opDuration,
		errorsTotal:       errTotal,
		inflightOps:       inflight,
	}, nil
}

// RecordRequest records a completed operation with its kind, status, and duration.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.operationsTotal.Add(ctx, 1, attrs)
	rm.operationDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightOps.Add(ctx, 1, attrs)

	return func() {
		rm.inflightOps.Add(ctx, -1, attrs)
	}
}
