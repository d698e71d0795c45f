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

// Metrics exposes application-level instruments.
type Metrics struct {
	analysesStarted   metric.Int64Counter
	analysesCompleted metric.Int64Counter
	analysesFailed    metric.Int64Counter
	creditMovements   metric.Int64Counter
	refundFailures    metric.Int64Counter
	evaluatorAttempts metric.Int64Counter
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
		name = "autora"
	}
	meter := provider.Meter(name)

	analysesStarted, err := meter.Int64Counter("autora_analyses_started_total")
	if err != nil {
		return nil, err
	}
	analysesCompleted, err := meter.Int64Counter("autora_analyses_completed_total")
	if err != nil {
		return nil, err
	}
	analysesFailed, err := meter.Int64Counter("autora_analyses_failed_total")
	if err != nil {
		return nil, err
	}
	creditMovements, err := meter.Int64Counter("autora_credit_movements_total")
	if err != nil {
		return nil, err
	}
	refundFailures, err := meter.Int64Counter("autora_refund_failures_total")
	if err != nil {
		return nil, err
	}
	evaluatorAttempts, err := meter.Int64Counter("autora_evaluator_attempts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		analysesStarted:   analysesStarted,
		analysesCompleted: analysesCompleted,
		analysesFailed:    analysesFailed,
		creditMovements:   creditMovements,
		refundFailures:    refundFailures,
		evaluatorAttempts: evaluatorAttempts,
	}, nil
}

// RecordAnalysisStarted increments started analysis counts.
func (m *Metrics) RecordAnalysisStarted(ctx context.Context, module string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("module", strings.TrimSpace(module)))
	m.analysesStarted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAnalysisCompleted increments completed analysis counts.
func (m *Metrics) RecordAnalysisCompleted(ctx context.Context, module string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("module", strings.TrimSpace(module)))
	m.analysesCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAnalysisFailed increments failed analysis counts.
func (m *Metrics) RecordAnalysisFailed(ctx context.Context, module, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("module", strings.TrimSpace(module)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.analysesFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditMovement increments ledger movement counts.
func (m *Metrics) RecordCreditMovement(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.creditMovements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefundFailure counts refunds that could not be posted.
func (m *Metrics) RecordRefundFailure(ctx context.Context, module string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("module", strings.TrimSpace(module)))
	m.refundFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEvaluatorAttempt counts evaluator calls by outcome.
func (m *Metrics) RecordEvaluatorAttempt(ctx context.Context, module, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("module", strings.TrimSpace(module)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.evaluatorAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"module":  {},
	"kind":    {},
	"reason":  {},
	"outcome": {},
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
