package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider installs a Prometheus-backed MeterProvider as the global provider and
// starts Go runtime metrics. It returns the /metrics handler and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(mp)); err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}

// Webhook processing outcomes.
const (
	OutcomeOrderCreated  = "order_created"
	OutcomeOrderCanceled = "order_canceled"
	OutcomeDuplicate     = "duplicate"
	OutcomeIgnored       = "ignored"
	OutcomeFailed        = "failed"
	OutcomeRejected      = "rejected"
)

// CheckoutMetrics holds the checkout instruments. A nil *CheckoutMetrics records nothing.
type CheckoutMetrics struct {
	webhookEvents    metric.Int64Counter
	ordersCreated    metric.Int64Counter
	providerDuration metric.Float64Histogram
}

func NewCheckoutMetrics(meter metric.Meter) (*CheckoutMetrics, error) {
	webhookEvents, err := meter.Int64Counter("checkout.webhook.events",
		metric.WithDescription("Provider webhook deliveries by processing outcome"))
	if err != nil {
		return nil, err
	}

	ordersCreated, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders persisted after a confirmed payment"))
	if err != nil {
		return nil, err
	}

	providerDuration, err := meter.Float64Histogram("checkout.provider.request.duration",
		metric.WithDescription("Latency of payment provider API calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &CheckoutMetrics{
		webhookEvents:    webhookEvents,
		ordersCreated:    ordersCreated,
		providerDuration: providerDuration,
	}, nil
}

func (m *CheckoutMetrics) WebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *CheckoutMetrics) OrderCreated(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *CheckoutMetrics) ProviderRequest(ctx context.Context, provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.providerDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Bool("error", err != nil),
	))
}
