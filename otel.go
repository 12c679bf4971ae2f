package dropmail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/dropmail"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	insertLatency metric.Float64Histogram
	insertCount   metric.Int64Counter
	insertErrors  metric.Int64Counter
	getLatency    metric.Float64Histogram
	getCount      metric.Int64Counter
	getErrors     metric.Int64Counter
	listLatency   metric.Float64Histogram
	listCount     metric.Int64Counter
	listErrors    metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter

	// Reclamation
	sweepLatency  metric.Float64Histogram
	sweepCount    metric.Int64Counter
	sweepErrors   metric.Int64Counter
	sweptMessages metric.Int64Counter
	sweptOrphans  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// operationInstruments creates the latency/count/error triple for one operation.
func operationInstruments(meter metric.Meter, op, what string) (metric.Float64Histogram, metric.Int64Counter, metric.Int64Counter, error) {
	latency, err := meter.Float64Histogram(
		"dropmail."+op+".duration",
		metric.WithDescription("Duration of "+op+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	count, err := meter.Int64Counter(
		"dropmail."+op+".count",
		metric.WithDescription("Number of "+what),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	errs, err := meter.Int64Counter(
		"dropmail."+op+".errors",
		metric.WithDescription("Number of "+op+" errors"),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return latency, count, errs, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if o.insertLatency, o.insertCount, o.insertErrors, err = operationInstruments(meter, "insert", "emails inserted"); err != nil {
		return err
	}
	if o.getLatency, o.getCount, o.getErrors, err = operationInstruments(meter, "get", "get operations"); err != nil {
		return err
	}
	if o.listLatency, o.listCount, o.listErrors, err = operationInstruments(meter, "list", "list operations"); err != nil {
		return err
	}
	if o.deleteLatency, o.deleteCount, o.deleteErrors, err = operationInstruments(meter, "delete", "delete operations"); err != nil {
		return err
	}
	if o.sweepLatency, o.sweepCount, o.sweepErrors, err = operationInstruments(meter, "sweep", "sweeps run"); err != nil {
		return err
	}

	o.sweptMessages, err = meter.Int64Counter(
		"dropmail.sweep.expired_messages",
		metric.WithDescription("Number of expired messages deleted"),
	)
	if err != nil {
		return err
	}

	o.sweptOrphans, err = meter.Int64Counter(
		"dropmail.sweep.orphaned_entries",
		metric.WithDescription("Number of orphaned inbox entries deleted"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Returns the context and a function that ends the span with the given error.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordInsert records insert operation metrics.
func (o *otelInstrumentation) recordInsert(ctx context.Context, duration time.Duration, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipientCount),
	)

	o.insertLatency.Record(ctx, duration.Seconds(), attrs)
	o.insertCount.Add(ctx, 1, attrs)
	if err != nil {
		o.insertErrors.Add(ctx, 1, attrs)
	}
}

// recordGet records get operation metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.getLatency.Record(ctx, duration.Seconds())
	o.getCount.Add(ctx, 1)
	if err != nil {
		o.getErrors.Add(ctx, 1)
	}
}

// recordList records list operation metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("result_count", resultCount),
	)

	o.listLatency.Record(ctx, duration.Seconds(), attrs)
	o.listCount.Add(ctx, 1, attrs)
	if err != nil {
		o.listErrors.Add(ctx, 1, attrs)
	}
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, deleted bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("deleted", deleted),
	)

	o.deleteLatency.Record(ctx, duration.Seconds(), attrs)
	o.deleteCount.Add(ctx, 1, attrs)
	if err != nil {
		o.deleteErrors.Add(ctx, 1, attrs)
	}
}

// recordSweep records reclamation metrics.
func (o *otelInstrumentation) recordSweep(ctx context.Context, duration time.Duration, trigger string, result *SweepResult, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
	)

	o.sweepLatency.Record(ctx, duration.Seconds(), attrs)
	o.sweepCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sweepErrors.Add(ctx, 1, attrs)
	}
	if result != nil {
		o.sweptMessages.Add(ctx, result.ExpiredMessages, attrs)
		o.sweptOrphans.Add(ctx, result.OrphanedEntries, attrs)
	}
}
