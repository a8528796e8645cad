package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hpatro/valkey-http/internal/config"
)

const (
	ServiceName = "valkey-http"
	MeterName   = "github.com/hpatro/valkey-http"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel initializes tracing and metrics from the telemetry config.
// Disabled signals get no-op implementations so callers never nil-check.
func InitializeOTel(cfg config.TelemetryConfig, version string, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()

	res, err := createResource(version)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  metricnoop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.TraceExporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(version))
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		registry := promclient.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(version))
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

func createResource(version string) (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
		attribute.String("service.instance.id", hostname),
	), nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GatewayMetrics holds the gateway's metric instruments.
// A nil *GatewayMetrics records nothing.
type GatewayMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	CommandsTotal   metric.Int64Counter
	CommandDuration metric.Float64Histogram
	AuthFailures    metric.Int64Counter

	SessionsTotal  metric.Int64Counter
	SessionsActive metric.Int64UpDownCounter

	MonitorPublished   metric.Int64Counter
	MonitorDropped     metric.Int64Counter
	MonitorSubscribers metric.Int64UpDownCounter
}

// CreateGatewayMetrics creates the gateway metric instruments on meter
func CreateGatewayMetrics(meter metric.Meter) (*GatewayMetrics, error) {
	m := &GatewayMetrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.CommandsTotal, err = meter.Int64Counter(
		"gateway_commands_total",
		metric.WithDescription("Commands translated, by verb and response code"),
	); err != nil {
		return nil, err
	}
	if m.CommandDuration, err = meter.Float64Histogram(
		"gateway_command_duration_seconds",
		metric.WithDescription("Engine round-trip time per command"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.AuthFailures, err = meter.Int64Counter(
		"gateway_auth_failures_total",
		metric.WithDescription("Rejected Basic-Auth attempts, by reason"),
	); err != nil {
		return nil, err
	}
	if m.SessionsTotal, err = meter.Int64Counter(
		"gateway_ws_sessions_total",
		metric.WithDescription("WebSocket sessions opened, by kind"),
	); err != nil {
		return nil, err
	}
	if m.SessionsActive, err = meter.Int64UpDownCounter(
		"gateway_ws_sessions_active",
		metric.WithDescription("Live WebSocket sessions, by kind"),
	); err != nil {
		return nil, err
	}
	if m.MonitorPublished, err = meter.Int64Counter(
		"gateway_monitor_published_total",
		metric.WithDescription("Command lines fanned out to monitor subscribers"),
	); err != nil {
		return nil, err
	}
	if m.MonitorDropped, err = meter.Int64Counter(
		"gateway_monitor_dropped_total",
		metric.WithDescription("Monitor messages dropped, by reason"),
	); err != nil {
		return nil, err
	}
	if m.MonitorSubscribers, err = meter.Int64UpDownCounter(
		"gateway_monitor_subscribers",
		metric.WithDescription("Registered monitor subscribers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand records one translated command
func (m *GatewayMetrics) RecordCommand(ctx context.Context, verb, code string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("verb", verb), attribute.String("code", code))
	m.CommandsTotal.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, seconds, attrs)
}

// RecordAuthFailure records a rejected authentication attempt
func (m *GatewayMetrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SessionOpened records the start of a WebSocket session
func (m *GatewayMetrics) SessionOpened(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.SessionsTotal.Add(ctx, 1, attrs)
	m.SessionsActive.Add(ctx, 1, attrs)
}

// SessionClosed records the end of a WebSocket session
func (m *GatewayMetrics) SessionClosed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPublish records one fan-out pass
func (m *GatewayMetrics) RecordPublish(ctx context.Context) {
	if m == nil {
		return
	}
	m.MonitorPublished.Add(ctx, 1)
}

// RecordDrop records a dropped monitor message
func (m *GatewayMetrics) RecordDrop(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.MonitorDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SubscribersChanged adjusts the registered subscriber gauge by delta
func (m *GatewayMetrics) SubscribersChanged(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.MonitorSubscribers.Add(ctx, delta)
}
