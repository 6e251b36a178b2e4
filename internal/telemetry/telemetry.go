// Package telemetry exports gateway decision metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ppiankov/trustplane/internal/events"
)

const meterName = "github.com/ppiankov/trustplane"

// Config configures the OTLP metric exporter.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"` // e.g. "localhost:4317"
	Insecure       bool          `yaml:"insecure"`
	Interval       time.Duration `yaml:"interval"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"-"`
}

// Provider owns the meter provider and its exporter.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger
}

// New creates an OTLP/gRPC meter provider. A disabled config returns a
// provider whose Meter is backed by an SDK provider with no readers.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "telemetry")}

	if !cfg.Enabled {
		p.meterProvider = sdkmetric.NewMeterProvider()
		return p, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "trustplane"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	p.logger.Info("telemetry initialized", "endpoint", cfg.OTLPEndpoint, "interval", cfg.Interval)
	return p, nil
}

// Meter returns the trustplane meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(meterName)
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.Error("failed to shutdown meter provider", "error", err)
		return err
	}
	return nil
}

// MetricsSink records decision events as OTel instruments. Recording is
// in-memory, so it can sit directly on the event path.
type MetricsSink struct {
	decisions   metric.Int64Counter
	tokens      metric.Int64Counter
	transitions metric.Int64Counter
	usage       metric.Int64Gauge
}

// NewMetricsSink registers instruments on meter.
func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	var (
		s   MetricsSink
		err error
	)
	s.decisions, err = meter.Int64Counter("trustplane.decisions",
		metric.WithDescription("Gateway decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	s.tokens, err = meter.Int64Counter("trustplane.usage.tokens",
		metric.WithDescription("Declared cost of admitted and denied actions"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	s.transitions, err = meter.Int64Counter("trustplane.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}
	s.usage, err = meter.Int64Gauge("trustplane.usage.cumulative",
		metric.WithDescription("Cumulative usage at last decision"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Emit records e.
func (s *MetricsSink) Emit(e events.Event) {
	ctx := context.Background()
	agent := attribute.String("agent_id", e.AgentID)

	switch e.Type {
	case events.TypeDecision:
		attrs := metric.WithAttributes(
			agent,
			attribute.String("kind", e.Kind),
			attribute.String("outcome", e.Outcome),
			attribute.String("reason_class", ReasonClass(e.Reason, e.Outcome)),
		)
		s.decisions.Add(ctx, 1, attrs)
		s.tokens.Add(ctx, e.Cost, metric.WithAttributes(agent, attribute.String("outcome", e.Outcome)))
		s.usage.Record(ctx, e.CumulativeUsage, metric.WithAttributes(agent))
	case events.TypeBreaker:
		s.transitions.Add(ctx, 1, metric.WithAttributes(agent, attribute.String("to", e.BreakerState)))
	}
}

// ReasonClass folds a decision reason into a low-cardinality label.
func ReasonClass(reason, outcome string) string {
	switch {
	case outcome == "allowed":
		return "none"
	case reason == "breaker open":
		return "breaker_open"
	case reason == "resource quota exceeded":
		return "quota"
	case strings.HasPrefix(reason, "policy violation"):
		return "policy"
	default:
		return "other"
	}
}
