// Package metrics provides Prometheus metrics for a MeshCore node.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "meshcore"
)

// Metrics contains all Prometheus metrics for the node.
type Metrics struct {
	// Radio metrics
	BytesReceived   prometheus.Counter
	BytesSent       prometheus.Counter
	ReceiveTimeouts prometheus.Counter
	RadioErrors     *prometheus.CounterVec
	TransmitLatency prometheus.Histogram

	// Packet metrics
	PacketsReceived *prometheus.CounterVec
	PacketsAccepted *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec

	// Dispatcher metrics
	ProcessingLatency prometheus.Histogram
	DispatcherState   prometheus.Gauge
	EventsDropped     prometheus.Counter
	OutboxRejected    prometheus.Counter
	SeenEntries       prometheus.Gauge

	// Key material
	ContactsKnown  prometheus.Gauge
	ChannelsJoined prometheus.Gauge

	// Airwave hub
	HubClients       prometheus.Gauge
	HubFramesRelayed prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Radio metrics
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_bytes_received_total",
			Help:      "Total bytes received from the radio",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_bytes_sent_total",
			Help:      "Total bytes handed to the radio for transmission",
		}),
		ReceiveTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_receive_timeouts_total",
			Help:      "Total receive calls that ended without a packet",
		}),
		RadioErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_errors_total",
			Help:      "Total radio I/O errors by direction",
		}, []string{"direction"}),
		TransmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "radio_transmit_seconds",
			Help:      "Histogram of transmit duration including airtime waits",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		// Packet metrics
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total decoded packets by payload type",
		}, []string{"payload_type"}),
		PacketsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_accepted_total",
			Help:      "Total packets that passed authentication by payload type",
		}, []string{"payload_type"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped by reason",
		}, []string{"reason"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total packets transmitted by payload type",
		}, []string{"payload_type"}),

		// Dispatcher metrics
		ProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_processing_seconds",
			Help:      "Histogram of time from receive to accept or reject",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}),
		DispatcherState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_state",
			Help:      "Current dispatcher state as its numeric code",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total events discarded because the event queue was full",
		}),
		OutboxRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_rejected_total",
			Help:      "Total outgoing packets rejected because the outbox was full",
		}),
		SeenEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_cache_entries",
			Help:      "Number of packet hashes in the duplicate filter",
		}),

		// Key material
		ContactsKnown: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contacts_known",
			Help:      "Number of configured contacts with a usable key",
		}),
		ChannelsJoined: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_joined",
			Help:      "Number of configured group channels",
		}),

		// Airwave hub
		HubClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_clients",
			Help:      "Number of radios connected to the airwave hub",
		}),
		HubFramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_frames_relayed_total",
			Help:      "Total frames relayed by the airwave hub",
		}),
	}

	return m
}

// RecordReceived records a decoded packet.
func (m *Metrics) RecordReceived(payloadType string, bytes int) {
	m.PacketsReceived.WithLabelValues(payloadType).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordUndecodable records raw bytes that did not decode to a packet.
func (m *Metrics) RecordUndecodable(bytes int) {
	m.BytesReceived.Add(float64(bytes))
}

// RecordAccepted records a packet that passed authentication.
func (m *Metrics) RecordAccepted(payloadType string, latencySeconds float64) {
	m.PacketsAccepted.WithLabelValues(payloadType).Inc()
	m.ProcessingLatency.Observe(latencySeconds)
}

// RecordDropped records a rejected packet.
func (m *Metrics) RecordDropped(reason string, latencySeconds float64) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
	m.ProcessingLatency.Observe(latencySeconds)
}

// RecordSent records a transmitted packet.
func (m *Metrics) RecordSent(payloadType string, bytes int, latencySeconds float64) {
	m.PacketsSent.WithLabelValues(payloadType).Inc()
	m.BytesSent.Add(float64(bytes))
	m.TransmitLatency.Observe(latencySeconds)
}

// RecordReceiveTimeout records a receive call that timed out.
func (m *Metrics) RecordReceiveTimeout() {
	m.ReceiveTimeouts.Inc()
}

// RecordRadioError records a radio I/O failure. direction is "rx" or "tx".
func (m *Metrics) RecordRadioError(direction string) {
	m.RadioErrors.WithLabelValues(direction).Inc()
}

// RecordEventDropped records an event lost to a full queue.
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordOutboxRejected records an Enqueue that found the outbox full.
func (m *Metrics) RecordOutboxRejected() {
	m.OutboxRejected.Inc()
}

// SetState records the dispatcher state code.
func (m *Metrics) SetState(code int) {
	m.DispatcherState.Set(float64(code))
}

// SetSeenEntries records the duplicate filter size.
func (m *Metrics) SetSeenEntries(n int) {
	m.SeenEntries.Set(float64(n))
}

// SetKeyMaterial records the number of usable contacts and channels.
func (m *Metrics) SetKeyMaterial(contacts, channels int) {
	m.ContactsKnown.Set(float64(contacts))
	m.ChannelsJoined.Set(float64(channels))
}

// RecordHubJoin records a radio connecting to the hub.
func (m *Metrics) RecordHubJoin() {
	m.HubClients.Inc()
}

// RecordHubLeave records a radio leaving the hub.
func (m *Metrics) RecordHubLeave() {
	m.HubClients.Dec()
}

// RecordHubRelay records one frame fanned out by the hub.
func (m *Metrics) RecordHubRelay() {
	m.HubFramesRelayed.Inc()
}
