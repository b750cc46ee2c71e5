package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/managex/signer"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Signing pipeline metrics
	SignRequestsTotal    metric.Int64Counter
	SignSuccessesTotal   metric.Int64Counter
	SignFailuresTotal    metric.Int64Counter
	SignDuration         metric.Float64Histogram
	DuplicateTxnsTotal   metric.Int64Counter
	TrustRejectionsTotal metric.Int64Counter

	// Delivery metrics
	DeliveryAttemptsTotal  metric.Int64Counter
	DeliveriesTotal        metric.Int64Counter
	DeliveriesDroppedTotal metric.Int64Counter

	// Ledger metrics
	LedgerAppendsTotal   metric.Int64Counter
	LedgerRepairsTotal   metric.Int64Counter
	LedgerRotationsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Signing pipeline metrics
	m.SignRequestsTotal, _ = meter.Int64Counter(
		"signer.sign.requests.total",
		metric.WithDescription("Total number of signing requests received"),
		metric.WithUnit("{request}"),
	)

	m.SignSuccessesTotal, _ = meter.Int64Counter(
		"signer.sign.successes.total",
		metric.WithDescription("Total number of documents signed successfully"),
		metric.WithUnit("{request}"),
	)

	m.SignFailuresTotal, _ = meter.Int64Counter(
		"signer.sign.failures.total",
		metric.WithDescription("Total number of signing requests rejected or failed"),
		metric.WithUnit("{request}"),
	)

	m.SignDuration, _ = meter.Float64Histogram(
		"signer.sign.duration",
		metric.WithDescription("End to end duration of signing requests"),
		metric.WithUnit("ms"),
	)

	m.DuplicateTxnsTotal, _ = meter.Int64Counter(
		"signer.sign.duplicate_transactions.total",
		metric.WithDescription("Total number of requests rejected for a duplicate transaction id"),
		metric.WithUnit("{request}"),
	)

	m.TrustRejectionsTotal, _ = meter.Int64Counter(
		"signer.trust.rejections.total",
		metric.WithDescription("Total number of credentials rejected by trust validation"),
		metric.WithUnit("{request}"),
	)

	// Delivery metrics
	m.DeliveryAttemptsTotal, _ = meter.Int64Counter(
		"signer.deliveries.attempts.total",
		metric.WithDescription("Total number of outbound delivery attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.DeliveriesTotal, _ = meter.Int64Counter(
		"signer.deliveries.total",
		metric.WithDescription("Total number of successful outbound deliveries"),
		metric.WithUnit("{delivery}"),
	)

	m.DeliveriesDroppedTotal, _ = meter.Int64Counter(
		"signer.deliveries.dropped.total",
		metric.WithDescription("Total number of deliveries dropped after exhausting attempts"),
		metric.WithUnit("{delivery}"),
	)

	// Ledger metrics
	m.LedgerAppendsTotal, _ = meter.Int64Counter(
		"signer.ledger.appends.total",
		metric.WithDescription("Total number of entries appended to the transaction log"),
		metric.WithUnit("{entry}"),
	)

	m.LedgerRepairsTotal, _ = meter.Int64Counter(
		"signer.ledger.repairs.total",
		metric.WithDescription("Total number of transaction log repairs performed at startup"),
		metric.WithUnit("{repair}"),
	)

	m.LedgerRotationsTotal, _ = meter.Int64Counter(
		"signer.ledger.rotations.total",
		metric.WithDescription("Total number of transaction log rotations"),
		metric.WithUnit("{rotation}"),
	)

	return m
}
