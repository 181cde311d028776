package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes grant-engine instruments.
type Metrics struct {
	grantTransitions  metric.Int64Counter
	strategyOutcomes  metric.Int64Counter
	strategyDuration  metric.Float64Histogram
	sideEffectFailure metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "railzway-benefits"
	}
	meter := provider.Meter(name)

	grantTransitions, err := meter.Int64Counter("benefits_grant_transitions_total",
		metric.WithDescription("Committed benefit grant transitions by benefit type and event."))
	if err != nil {
		return nil, err
	}
	strategyOutcomes, err := meter.Int64Counter("benefits_strategy_outcomes_total",
		metric.WithDescription("Strategy calls by benefit type, operation and outcome."))
	if err != nil {
		return nil, err
	}
	strategyDuration, err := meter.Float64Histogram("benefits_strategy_duration_ms",
		metric.WithDescription("Strategy call latency."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	sideEffectFailure, err := meter.Int64Counter("benefits_side_effect_failures_total",
		metric.WithDescription("Best-effort side effects that failed after a committed transition."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		grantTransitions:  grantTransitions,
		strategyOutcomes:  strategyOutcomes,
		strategyDuration:  strategyDuration,
		sideEffectFailure: sideEffectFailure,
	}, nil
}

// NewNoop returns instruments backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordGrantTransition counts a committed grant state change.
func (m *Metrics) RecordGrantTransition(ctx context.Context, benefitType, event string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("benefit_type", strings.TrimSpace(benefitType)),
		attribute.String("event", strings.TrimSpace(event)),
	)
	m.grantTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStrategyCall counts a strategy invocation and its latency.
func (m *Metrics) RecordStrategyCall(ctx context.Context, benefitType, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("benefit_type", strings.TrimSpace(benefitType)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.strategyOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.strategyDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// RecordSideEffectFailure counts a failed best-effort sink.
func (m *Metrics) RecordSideEffectFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("sink", strings.TrimSpace(sink)))
	m.sideEffectFailure.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":       {},
	"benefit_type": {},
	"event":        {},
	"operation":    {},
	"outcome":      {},
	"sink":         {},
	"job":          {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
