package obs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fairyhunter13/price-follower"

// TelemetryConfig configures OTLP export. An empty Endpoint disables export.
type TelemetryConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	Interval    time.Duration
}

// Instruments groups the counters recorded by the pipeline.
type Instruments struct {
	rows         metric.Int64Counter
	remoteCalls  metric.Int64Counter
	retryWaits   metric.Int64Counter
	priceUpdates metric.Int64Counter
	roundTime    metric.Float64Histogram
	inflight     metric.Int64UpDownCounter
}

// Metrics is the process-wide instrument set. It records nothing until
// InitTelemetry (or a test) replaces it.
var Metrics = mustInstruments(noop.NewMeterProvider().Meter(instrumentationName))

// NewInstruments creates the pipeline instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in   Instruments
		err  error
		errs []error
	)
	in.rows, err = meter.Int64Counter("pricefollower.rows.processed",
		metric.WithDescription("Rows that reached a terminal state"),
		metric.WithUnit("{row}"))
	errs = append(errs, err)
	in.remoteCalls, err = meter.Int64Counter("pricefollower.remote.calls",
		metric.WithDescription("Remote API calls by operation and outcome"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)
	in.retryWaits, err = meter.Int64Counter("pricefollower.retry.waits",
		metric.WithDescription("Rate-limit waits taken by the retry policy"),
		metric.WithUnit("{wait}"))
	errs = append(errs, err)
	in.priceUpdates, err = meter.Int64Counter("pricefollower.price.updates",
		metric.WithDescription("Price updates pushed to the marketplace"),
		metric.WithUnit("{update}"))
	errs = append(errs, err)
	in.roundTime, err = meter.Float64Histogram("pricefollower.round.duration",
		metric.WithDescription("Duration of a processing round"),
		metric.WithUnit("s"))
	errs = append(errs, err)
	in.inflight, err = meter.Int64UpDownCounter("pricefollower.rows.inflight",
		metric.WithDescription("Rows currently admitted"),
		metric.WithUnit("{row}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &in, nil
}

func mustInstruments(meter metric.Meter) *Instruments {
	in, err := NewInstruments(meter)
	if err != nil {
		panic(err)
	}
	return in
}

// RowDone records a row reaching a terminal state.
func (in *Instruments) RowDone(ctx context.Context, status string, failed bool) {
	in.rows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("failed", failed),
	))
}

// RemoteCall records one remote API call.
func (in *Instruments) RemoteCall(ctx context.Context, op, outcome string) {
	in.remoteCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// RetryWait records one rate-limit wait.
func (in *Instruments) RetryWait(ctx context.Context, op string) {
	in.retryWaits.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// PriceUpdate records a price pushed to the marketplace.
func (in *Instruments) PriceUpdate(ctx context.Context) {
	in.priceUpdates.Add(ctx, 1)
}

// RoundDuration records how long a round took.
func (in *Instruments) RoundDuration(ctx context.Context, d time.Duration) {
	in.roundTime.Record(ctx, d.Seconds())
}

// Inflight adjusts the admitted-rows gauge.
func (in *Instruments) Inflight(ctx context.Context, delta int64) {
	in.inflight.Add(ctx, delta)
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// InitTelemetry installs OTLP trace and metric providers and rebuilds
// Metrics on the new meter. The returned function flushes and shuts down
// the providers.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		Logger.Info("telemetry_disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	in, err := NewInstruments(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("telemetry instruments: %w", err)
	}
	Metrics = in
	Logger.Info("telemetry_initialized", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
