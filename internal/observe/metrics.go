// Package observe provides application-wide observability primitives for
// the AFK bridge: OpenTelemetry metrics with a Prometheus exporter bridge
// and the HTTP listener that serves /metrics alongside the health probes.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/jvosloo/afkbridge"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// HookRequests counts hook submissions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	HookRequests metric.Int64Counter

	// PromptsEnqueued counts requests that entered the queue. Use with
	// attributes:
	//   attribute.String("kind", ...), attribute.String("placement", ...)
	PromptsEnqueued metric.Int64Counter

	// PromptsResolved counts requests leaving the queue. Use with
	// attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	PromptsResolved metric.Int64Counter

	// SentinelWrites counts sentinel files written, by value class.
	SentinelWrites metric.Int64Counter

	// PollErrors counts failed chat long-poll iterations.
	PollErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of requests currently queued
	// (presented + pending).
	QueueDepth metric.Int64UpDownCounter

	// --- Latency histograms ---

	// InjectDuration tracks terminal injection latency. Use with
	// attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	InjectDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// subprocess-backed injection paths.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.HookRequests, err = m.Int64Counter("afkbridge.hook.requests",
		metric.WithDescription("Total hook submissions by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.PromptsEnqueued, err = m.Int64Counter("afkbridge.prompts.enqueued",
		metric.WithDescription("Total prompts enqueued by kind and placement."),
	); err != nil {
		return nil, err
	}
	if met.PromptsResolved, err = m.Int64Counter("afkbridge.prompts.resolved",
		metric.WithDescription("Total prompts resolved by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SentinelWrites, err = m.Int64Counter("afkbridge.sentinel.writes",
		metric.WithDescription("Total sentinel files written by value class."),
	); err != nil {
		return nil, err
	}
	if met.PollErrors, err = m.Int64Counter("afkbridge.poll.errors",
		metric.WithDescription("Total failed chat long-poll iterations."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("afkbridge.queue.depth",
		metric.WithDescription("Requests currently queued, presented plus pending."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.InjectDuration, err = m.Float64Histogram("afkbridge.inject.duration",
		metric.WithDescription("Latency of terminal injection by mode and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordHookRequest records one hook submission with the standard attribute
// set.
func (m *Metrics) RecordHookRequest(ctx context.Context, kind, status string) {
	m.HookRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordEnqueued records a request entering the queue and bumps the depth
// gauge.
func (m *Metrics) RecordEnqueued(ctx context.Context, kind, placement string) {
	m.PromptsEnqueued.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("placement", placement),
		),
	)
	m.QueueDepth.Add(ctx, 1)
}

// RecordResolved records a request leaving the queue and drops the depth
// gauge.
func (m *Metrics) RecordResolved(ctx context.Context, kind, outcome string) {
	m.PromptsResolved.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
	m.QueueDepth.Add(ctx, -1)
}

// RecordSentinel records one sentinel write by value class ("yes", "always",
// "no", "__flush__", "deny_for_question", "picker" or "answer" for
// free-form content).
func (m *Metrics) RecordSentinel(ctx context.Context, class string) {
	m.SentinelWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", class)),
	)
}

// RecordPollError records one failed chat long-poll iteration.
func (m *Metrics) RecordPollError(ctx context.Context) {
	m.PollErrors.Add(ctx, 1)
}

// RecordInjection records one injection attempt with its latency.
func (m *Metrics) RecordInjection(ctx context.Context, mode string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InjectDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}
