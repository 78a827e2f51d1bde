// Package metrics exposes protocol and engine counters as Prometheus
// collectors.
//
// A [Metrics] value belongs to one device session. A nil *Metrics is valid
// and records nothing, so components can call it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "g2link"

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds the collectors for one session.
type Metrics struct {
	framesTotal       *prometheus.CounterVec
	checksumFailures  prometheus.Counter
	retransmissions   prometheus.Counter
	timeouts          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	connectionState   prometheus.Gauge
	reassemblyEvicted prometheus.Counter
	eventsTotal       *prometheus.CounterVec
}

// New creates an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Frames transferred, by direction and message class.",
		}, []string{"direction", "class"}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "framing_errors_total",
			Help:      "Inbound frames discarded for checksum or header errors.",
		}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retransmissions_total",
			Help:      "Commands retransmitted after a framing error.",
		}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "request_timeouts_total",
			Help:      "Requests that expired without a response, by opcode.",
		}, []string{"opcode"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send to correlated response, by opcode.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"opcode"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		reassemblyEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reassembly_evictions_total",
			Help:      "Chunked transfers abandoned and evicted by age.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_total",
			Help:      "Unsolicited device events, by opcode.",
		}, []string{"opcode"}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesTotal,
		m.checksumFailures,
		m.retransmissions,
		m.timeouts,
		m.requestDuration,
		m.connectionState,
		m.reassemblyEvicted,
		m.eventsTotal,
	}
}

// Frame counts one frame in the given direction.
func (m *Metrics) Frame(direction, class string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction, class).Inc()
}

// FramingError counts one discarded inbound frame.
func (m *Metrics) FramingError() {
	if m == nil {
		return
	}
	m.checksumFailures.Inc()
}

// Retransmission counts one retransmitted command.
func (m *Metrics) Retransmission() {
	if m == nil {
		return
	}
	m.retransmissions.Inc()
}

// Timeout counts one expired request.
func (m *Metrics) Timeout(opcode string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(opcode).Inc()
}

// Observe records the round-trip time of a completed request.
func (m *Metrics) Observe(opcode string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(opcode).Observe(d.Seconds())
}

// SetConnectionState records the engine connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// Evicted counts abandoned reassembly transfers.
func (m *Metrics) Evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reassemblyEvicted.Add(float64(n))
}

// Event counts one unsolicited event.
func (m *Metrics) Event(opcode string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(opcode).Inc()
}
