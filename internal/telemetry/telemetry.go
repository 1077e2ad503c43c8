// Package telemetry wires a real OpenTelemetry exporter into the global
// tracer/meter providers. The teacher's go.mod carries the SDK and both
// exporters as direct dependencies (go.opentelemetry.io/otel/sdk,
// sdk/metric, exporters/stdout/{stdouttrace,stdoutmetric},
// exporters/otlp/otlpmetric/otlpmetrichttp) for exactly this purpose,
// even though the surviving teacher tree only calls otel.Tracer/
// otel.Meter against the default no-op global providers — Init is new
// code closing that gap using the SDK's documented wiring.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter selects which backend Init wires up.
type Exporter string

const (
	// Stdout prints spans/metrics to stdout as JSON — useful for local
	// debugging without a collector.
	Stdout Exporter = "stdout"
	// OTLPHTTP exports metrics to a collector over OTLP/HTTP. Traces
	// still use Stdout in this mode since the cache library has no use
	// for a second trace transport absent a caller-supplied endpoint.
	OTLPHTTP Exporter = "otlp-http"
	// None leaves the global no-op providers in place (default).
	None Exporter = ""
)

// Options configures Init.
type Options struct {
	Exporter     Exporter
	ServiceName  string
	OTLPEndpoint string // host:port, required when Exporter == OTLPHTTP
}

// Shutdown flushes and releases the providers Init installed.
type Shutdown func(context.Context) error

// Init installs real tracer/metric providers as the OTel globals. By
// default (Options zero value, or Exporter == None) it does nothing and
// returns a no-op Shutdown, leaving spans/metrics at zero cost.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	switch opts.Exporter {
	case None:
		return func(context.Context) error { return nil }, nil
	case Stdout:
		return initStdout(ctx)
	case OTLPHTTP:
		return initOTLPHTTP(ctx, opts)
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", opts.Exporter)
	}
}

func initStdout(ctx context.Context) (Shutdown, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
	}

	res := newResource(ctx, "kvlite")
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)), sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		err1 := tp.Shutdown(ctx)
		err2 := mp.Shutdown(ctx)
		if err1 != nil {
			return err1
		}
		return err2
	}, nil
}

func initOTLPHTTP(ctx context.Context, opts Options) (Shutdown, error) {
	if opts.OTLPEndpoint == "" {
		return nil, fmt.Errorf("telemetry: OTLPEndpoint is required for %s", OTLPHTTP)
	}
	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(opts.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
	}
	traceExp, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
	}

	res := newResource(ctx, opts.ServiceName)
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)), sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		err1 := tp.Shutdown(ctx)
		err2 := mp.Shutdown(ctx)
		if err1 != nil {
			return err1
		}
		return err2
	}, nil
}

func newResource(ctx context.Context, serviceName string) *resource.Resource {
	if serviceName == "" {
		serviceName = "kvlite"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return resource.Default()
	}
	return res
}
