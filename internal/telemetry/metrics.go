package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/taskhub"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Repository metrics
	RepositoryOperationsTotal   metric.Int64Counter
	RepositoryOperationErrors   metric.Int64Counter
	RepositoryOperationDuration metric.Float64Histogram

	// Tenant isolation metrics
	GuardViolationsTotal metric.Int64Counter
	UnscopedEscapesTotal metric.Int64Counter

	// Storage metrics
	TransactionRetriesTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments created before InitTelemetry are forwarded by the global provider once it is set.
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

	m.RepositoryOperationsTotal, _ = meter.Int64Counter(
		"taskhub.repository.operations.total",
		metric.WithDescription("Total number of repository operations"),
		metric.WithUnit("{operation}"),
	)

	m.RepositoryOperationErrors, _ = meter.Int64Counter(
		"taskhub.repository.operations.errors.total",
		metric.WithDescription("Total number of repository operations that returned an error"),
		metric.WithUnit("{error}"),
	)

	m.RepositoryOperationDuration, _ = meter.Float64Histogram(
		"taskhub.repository.operations.duration",
		metric.WithDescription("Duration of repository operations"),
		metric.WithUnit("ms"),
	)

	m.GuardViolationsTotal, _ = meter.Int64Counter(
		"taskhub.guard.violations.total",
		metric.WithDescription("Total number of writes rejected by tenant invariant checks"),
		metric.WithUnit("{violation}"),
	)

	m.UnscopedEscapesTotal, _ = meter.Int64Counter(
		"taskhub.tenant.unscoped.total",
		metric.WithDescription("Total number of operations run with tenant scoping suspended"),
		metric.WithUnit("{escape}"),
	)

	m.TransactionRetriesTotal, _ = meter.Int64Counter(
		"taskhub.store.transaction_retries.total",
		metric.WithDescription("Total number of storage transactions retried after a conflict"),
		metric.WithUnit("{retry}"),
	)

	return m
}
