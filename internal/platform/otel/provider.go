package otel

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvEndpoint holds the OTLP/HTTP collector URL.
	EnvEndpoint = "HEDERAPOLY_OTEL_ENDPOINT"
	// EnvEnabled disables tracing when set to "false".
	EnvEnabled = "HEDERAPOLY_OTEL_ENABLED"
	// EnvSampleAll forces every span to be sampled when "true"; otherwise
	// sampling follows the parent with a 10% root ratio.
	EnvSampleAll = "HEDERAPOLY_OTEL_SAMPLE_ALL"
)

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when HEDERAPOLY_OTEL_ENDPOINT is empty or
// HEDERAPOLY_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered. Ledger reads are polled on
// a short interval, so root spans are sampled unless
// HEDERAPOLY_OTEL_SAMPLE_ALL is "true".
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv(EnvEnabled), "false") {
		return noop, nil
	}

	endpoint := strings.TrimSpace(os.Getenv(EnvEndpoint))
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFromEnv()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func samplerFromEnv() sdktrace.Sampler {
	if strings.EqualFold(os.Getenv(EnvSampleAll), "true") {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))
}
