// Package observe provides relay-wide observability primitives: OpenTelemetry
// metrics with a Prometheus exporter bridge so the standard /metrics endpoint
// keeps working.
//
// A package-level default [Metrics] instance ([Default]) is provided for
// convenience; tests should use [NewMetrics] with a custom
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

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/bevpro/voicerelay"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use.
type Metrics struct {
	// ActiveSessions tracks the number of live client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AudioFrames counts microphone frames relayed upstream. Attributes:
	//   attribute.String("lane", "asr"|"realtime")
	AudioFrames metric.Int64Counter

	// AudioBytes counts microphone bytes relayed upstream.
	AudioBytes metric.Int64Counter

	// Transcripts counts transcript events delivered to sessions. Attributes:
	//   attribute.Bool("final", ...)
	Transcripts metric.Int64Counter

	// Commands counts finalized commands processed while conversing.
	Commands metric.Int64Counter

	// UpstreamReconnects counts upstream reconnect attempts.
	UpstreamReconnects metric.Int64Counter

	// ResolverDuration tracks command-resolver round-trip latency. Attributes:
	//   attribute.String("status", "ok"|"error")
	ResolverDuration metric.Float64Histogram

	// SynthesisDuration tracks TTS latency. Attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// SynthesisFallbacks counts requests served by a non-primary provider.
	SynthesisFallbacks metric.Int64Counter

	// ProviderErrors counts upstream provider errors. Attributes:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicerelay.sessions.active",
		metric.WithDescription("Number of live client sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("voicerelay.audio.frames",
		metric.WithDescription("Microphone frames relayed upstream."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("voicerelay.audio.bytes",
		metric.WithDescription("Microphone bytes relayed upstream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voicerelay.transcripts",
		metric.WithDescription("Transcript events delivered to sessions."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voicerelay.commands",
		metric.WithDescription("Finalized commands processed while conversing."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamReconnects, err = m.Int64Counter("voicerelay.upstream.reconnects",
		metric.WithDescription("Upstream reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.ResolverDuration, err = m.Float64Histogram("voicerelay.resolver.duration",
		metric.WithDescription("Latency of command-resolver calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voicerelay.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisFallbacks, err = m.Int64Counter("voicerelay.synthesis.fallbacks",
		metric.WithDescription("Synthesis requests served by a non-primary provider."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicerelay.provider.errors",
		metric.WithDescription("Errors reported by upstream providers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide Metrics instance, built lazily from the
// global meter provider. Panics if instrument creation fails, which only
// happens for invalid instrument names.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordDuration records elapsed seconds since start on hist with the given
// attributes.
func RecordDuration(ctx context.Context, hist metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
