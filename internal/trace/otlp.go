// Package trace exports a run's ledger events as OpenTelemetry spans.
package trace

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// DefaultServiceName is used when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "devflow"

// Environment read by NewProvider.
const (
	EnvEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvInsecure    = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvServiceName = "OTEL_SERVICE_NAME"
)

// exportConfig is the OTLP setup taken from the environment.
type exportConfig struct {
	endpoint string
	insecure bool
	service  string
}

// configFromEnv reads the export settings. An empty endpoint disables
// export. Plain HTTP is the default for local collectors.
func configFromEnv() (exportConfig, error) {
	cfg := exportConfig{
		endpoint: os.Getenv(EnvEndpoint),
		insecure: true,
		service:  os.Getenv(EnvServiceName),
	}
	if cfg.service == "" {
		cfg.service = DefaultServiceName
	}
	if v := os.Getenv(EnvInsecure); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvInsecure, err)
		}
		cfg.insecure = b
	}
	return cfg, nil
}

// NewProvider builds a batching tracer provider that exports over OTLP/HTTP.
// It returns nil, nil when no endpoint is configured. version is recorded as
// the service version.
func NewProvider(ctx context.Context, version string) (*sdktrace.TracerProvider, error) {
	cfg, err := configFromEnv()
	if err != nil || cfg.endpoint == "" {
		return nil, err
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.service),
		semconv.ServiceVersionKey.String(version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// Shutdown flushes and closes tp, waiting at most timeout. A nil provider
// is a no-op.
func Shutdown(tp *sdktrace.TracerProvider, timeout time.Duration) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return tp.Shutdown(ctx)
}
