package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// Recorder counts reconciliation outcomes and consistency anomalies. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	reconciliations otelmetric.Int64Counter
	anomalies       otelmetric.Int64Counter
}

func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("marketplace-recon")

	reconciliations, err := meter.Int64Counter("recon.reconciliations",
		otelmetric.WithDescription("Payment reconciliations applied, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	anomalies, err := meter.Int64Counter("recon.anomalies",
		otelmetric.WithDescription("Consistency anomalies detected, by class and repair state"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{reconciliations: reconciliations, anomalies: anomalies}, nil
}

func (r *Recorder) RecordReconciliation(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.reconciliations.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) RecordAnomaly(ctx context.Context, class string, repaired bool) {
	if r == nil {
		return
	}
	r.anomalies.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("class", class),
		attribute.Bool("repaired", repaired),
	))
}
