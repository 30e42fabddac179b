package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
JAEGER INTEGRATION

Spans flow through the OpenTelemetry SDK into a batching exporter that posts
them to a Jaeger collector:

  handlers / session loop → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector → Jaeger UI

Code outside this package only talks to the otel API, so the backend can be
swapped without touching handlers or the collaboration engine.
*/

// InitJaeger installs a global tracer provider that exports to a Jaeger collector.
// The returned function flushes buffered spans and must be called on shutdown.
// An empty endpoint leaves the default no-op provider in place.
func InitJaeger(serviceName, version, jaegerEndpoint string) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		log.Println("  Tracing disabled (JAEGER_ENDPOINT not set)")
		return func(context.Context) error { return nil }, nil
	}

	// Learning: the exporter posts finished spans to the collector over HTTP
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Learning: the resource is how this process shows up in the Jaeger UI
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Every frame of an active room produces a span, so keep a fraction of root
	// traces and follow the parent's decision elsewhere.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)

	// Learning: otel.Tracer() calls anywhere in the app resolve through this provider
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s", jaegerEndpoint)

	// Learning: the batcher holds spans in memory, so flush on shutdown
	return tp.Shutdown, nil
}

/*
SAMPLING

1. AlwaysSample() keeps every trace. Fine locally, expensive once rooms get busy.
2. TraceIDRatioBased(0.1) keeps 10% of root traces.
3. ParentBased(...) follows an incoming trace's decision, so a request traced by
   an upstream service stays whole here.

The provider above combines 2 and 3.
*/
