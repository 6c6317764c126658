package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"

// cartMetrics records business counters. Instruments that fail to register stay nil and are skipped.
type cartMetrics struct {
	verdicts      metric.Int64Counter
	checkouts     metric.Int64Counter
	checkoutItems metric.Int64Counter
	cancellations metric.Int64Counter
	inconsistency metric.Int64Counter
	providerFails metric.Int64Counter
}

func newCartMetrics(meter metric.Meter) *cartMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	m := &cartMetrics{}
	m.verdicts, _ = meter.Int64Counter("cart.add.verdicts",
		metric.WithDescription("Add-to-cart policy verdicts by outcome"))
	m.checkouts, _ = meter.Int64Counter("cart.checkout.count",
		metric.WithDescription("Confirmed checkouts by payment method and outcome"))
	m.checkoutItems, _ = meter.Int64Counter("cart.checkout.items",
		metric.WithDescription("Items committed by confirmed checkouts"))
	m.cancellations, _ = meter.Int64Counter("cart.cancellation.count",
		metric.WithDescription("Purchase cancellations by outcome"))
	m.inconsistency, _ = meter.Int64Counter("credit.ledger.inconsistencies",
		metric.WithDescription("Credit ledger balance mismatches detected on read or write"))
	m.providerFails, _ = meter.Int64Counter("provider.callback.failures",
		metric.WithDescription("Item provider callbacks that failed, timed out or were short-circuited"))
	return m
}

func (m *cartMetrics) add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}
