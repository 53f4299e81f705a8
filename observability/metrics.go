package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// consensusMetrics carries the Prometheus collectors the baker automaton
// exposes, extending the teacher's single block-interval gauge with the
// round-level and watermark series a baker needs.
type consensusMetrics struct {
	blockInterval      prometheus.Gauge
	roundDuration      prometheus.Histogram
	watermarkRejections *prometheus.CounterVec
	prequorumLatency   prometheus.Histogram
	quorumLatency      prometheus.Histogram
	injectedOps        *prometheus.CounterVec
	injectionErrors    *prometheus.CounterVec
}

var (
	consensusMetricsOnce sync.Once
	consensusRegistry    *consensusMetrics
)

// Consensus exposes the metrics registry for baker instrumentation.
func Consensus() *consensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = &consensusMetrics{
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed blocks.",
			}),
			roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "round_duration_seconds",
				Help:      "Wall-clock duration actually spent in a round before it advanced.",
				Buckets:   prometheus.DefBuckets,
			}),
			watermarkRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "watermark_rejections_total",
				Help:      "Count of signing attempts vetoed by the high-watermark double-sign guard, by operation kind.",
			}, []string{"kind"}),
			prequorumLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "prequorum_latency_seconds",
				Help:      "Time from a proposal's injection to its prequorum being reached.",
				Buckets:   prometheus.DefBuckets,
			}),
			quorumLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "quorum_latency_seconds",
				Help:      "Time from a proposal's injection to its quorum being reached.",
				Buckets:   prometheus.DefBuckets,
			}),
			injectedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "injected_operations_total",
				Help:      "Count of consensus operations successfully injected, by kind.",
			}, []string{"kind"}),
			injectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bakerd",
				Subsystem: "consensus",
				Name:      "injection_errors_total",
				Help:      "Count of signing or injection failures, by kind and reason.",
			}, []string{"kind", "reason"}),
		}
		prometheus.MustRegister(
			consensusRegistry.blockInterval,
			consensusRegistry.roundDuration,
			consensusRegistry.watermarkRejections,
			consensusRegistry.prequorumLatency,
			consensusRegistry.quorumLatency,
			consensusRegistry.injectedOps,
			consensusRegistry.injectionErrors,
		)
	})
	return consensusRegistry
}

// RecordBlockInterval updates the block interval gauge with the supplied duration.
func (m *consensusMetrics) RecordBlockInterval(interval time.Duration) {
	if m == nil {
		return
	}
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// RecordRoundDuration observes how long a round actually lasted before
// advancing (timeout or a new proposal).
func (m *consensusMetrics) RecordRoundDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
}

// RecordWatermarkRejection increments the double-sign veto counter for kind
// ("block", "preendorsement", "endorsement").
func (m *consensusMetrics) RecordWatermarkRejection(kind string) {
	if m == nil {
		return
	}
	m.watermarkRejections.WithLabelValues(kind).Inc()
}

// RecordPrequorumLatency observes the time-to-prequorum for a proposal.
func (m *consensusMetrics) RecordPrequorumLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.prequorumLatency.Observe(d.Seconds())
}

// RecordQuorumLatency observes the time-to-quorum for a proposal.
func (m *consensusMetrics) RecordQuorumLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.quorumLatency.Observe(d.Seconds())
}

// RecordInjected increments the successful-injection counter for kind
// ("block", "preendorsement", "endorsement").
func (m *consensusMetrics) RecordInjected(kind string) {
	if m == nil {
		return
	}
	m.injectedOps.WithLabelValues(kind).Inc()
}

// RecordInjectionError increments the injection-failure counter for kind and
// reason (a short stable label, e.g. "signer_rejected", "node_error").
func (m *consensusMetrics) RecordInjectionError(kind, reason string) {
	if m == nil {
		return
	}
	m.injectionErrors.WithLabelValues(kind, reason).Inc()
}
