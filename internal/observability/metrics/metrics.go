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
	attestRegistrations metric.Int64Counter
	attestAssertions    metric.Int64Counter
	ledgerIngests       metric.Int64Counter
	usageTracks         metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "voxguard"
	}
	meter := provider.Meter(name)

	attestRegistrations, err := meter.Int64Counter("voxguard_attest_registrations_total")
	if err != nil {
		return nil, err
	}
	attestAssertions, err := meter.Int64Counter("voxguard_attest_assertions_total")
	if err != nil {
		return nil, err
	}
	ledgerIngests, err := meter.Int64Counter("voxguard_ledger_ingests_total")
	if err != nil {
		return nil, err
	}
	usageTracks, err := meter.Int64Counter("voxguard_usage_tracks_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("voxguard_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		attestRegistrations: attestRegistrations,
		attestAssertions:    attestAssertions,
		ledgerIngests:       ledgerIngests,
		usageTracks:         usageTracks,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordAttestRegistration increments registration counts by result.
func (m *Metrics) RecordAttestRegistration(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.attestRegistrations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordAttestAssertion increments assertion verification counts by result.
func (m *Metrics) RecordAttestAssertion(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.attestAssertions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLedgerIngest increments transaction ingestion counts.
func (m *Metrics) RecordLedgerIngest(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.ledgerIngests.Add(ctx, 1, metric.WithAttributes(attribute.String("tx_type", strings.TrimSpace(txType))))
}

// RecordUsageTrack increments usage metering counts by service.
func (m *Metrics) RecordUsageTrack(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.usageTracks.Add(ctx, 1, metric.WithAttributes(attribute.String("usage_service", strings.TrimSpace(service))))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tier, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	))
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
