package loom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

var (
	mu            sync.Mutex
	initialized   bool
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
)

// Init initializes the loom SDK. It configures OpenTelemetry with a
// loomSpanProcessor (injects loom context attributes), a BatchSpanProcessor
// backed by an OTLP/HTTP trace exporter, and a PeriodicReader backed by an
// OTLP/HTTP metric exporter, all pointed at the loom backend.
//
// Returns a shutdown function that flushes pending telemetry and releases
// resources. The caller should defer it:
//
//	shutdown, err := loom.Init(loom.WithAPIKey("lk_..."))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shutdown()
//
// Calling Init more than once logs a warning and returns a no-op shutdown.
func Init(opts ...Option) (func(), error) {
	mu.Lock()
	defer mu.Unlock()

	noop := func() {}

	if initialized {
		slog.Warn("loom: Init() called more than once — ignoring")
		return noop, nil
	}

	cfg, err := resolveConfig(opts...)
	if err != nil {
		return noop, err
	}

	if !cfg.enabled {
		slog.Info("loom: SDK disabled via config — skipping initialization")
		return noop, nil
	}

	ctx := context.Background()
	headers := map[string]string{
		"Authorization": "Bearer " + cfg.apiKey,
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.endpoint+defaultOTLPTracesPath),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		return noop, fmt.Errorf("loom: failed to create OTLP trace exporter: %w", err)
	}

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(cfg.endpoint+defaultOTLPMetricsPath),
		otlpmetrichttp.WithHeaders(headers),
	)
	if err != nil {
		return noop, fmt.Errorf("loom: failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			attribute.String(AttrSDKName, sdkName),
			attribute.String(AttrSDKVersion, Version),
			attribute.String("loom.environment", cfg.environment),
			semconv.ServiceName(cfg.appName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("loom: failed to create resource: %w", err)
	}

	// TracerProvider with:
	// 1. loomSpanProcessor — injects loom context attributes on span start
	// 2. BatchSpanProcessor — batches and exports spans via OTLP
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(&loomSpanProcessor{}),
		sdktrace.WithBatcher(traceExporter),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
	)

	// Register globally so instrumented clients and any other
	// OTel-instrumented library pick the providers up.
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	traceProvider = tp
	meterProvider = mp
	initialized = true

	slog.Info("loom: SDK initialized",
		"app", cfg.appName,
		"env", cfg.environment,
		"endpoint", cfg.endpoint,
	)

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := Shutdown(shutdownCtx); err != nil {
			slog.Error("loom: shutdown error", "error", err)
		}
	}

	return shutdown, nil
}

// Shutdown flushes pending telemetry and releases resources. Pass a context
// with a deadline to control how long the flush waits.
//
// Safe to call multiple times — subsequent calls after the first are no-ops.
// This is also available as the function returned by Init() for use with defer.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return nil
	}

	var firstErr error
	if traceProvider != nil {
		if err := traceProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if meterProvider != nil {
		if err := meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	initialized = false
	traceProvider = nil
	meterProvider = nil
	return firstErr
}
