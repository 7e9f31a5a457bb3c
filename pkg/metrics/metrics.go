package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one chat client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Message type metrics
	messagesSent     *prometheus.CounterVec // by message kind
	messagesReceived *prometheus.CounterVec // by message kind

	// Reliability metrics (UDP)
	retransmissions      prometheus.Counter
	confirmTimeouts      prometheus.Counter
	deliveryFailures     prometheus.Counter
	duplicatesSuppressed prometheus.Counter

	invalidMessages prometheus.Counter

	// Session metrics
	stateTransitions *prometheus.CounterVec // by target state
	sendDuration     *prometheus.HistogramVec
}

// New creates a metrics instance backed by its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipk24chat_messages_sent_total",
				Help: "Total number of messages written to the server by kind",
			},
			[]string{"kind"},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipk24chat_messages_received_total",
				Help: "Total number of messages decoded from the server by kind",
			},
			[]string{"kind"},
		),
		retransmissions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_retransmissions_total",
				Help: "Datagrams sent again after a confirm timeout",
			},
		),
		confirmTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_confirm_timeouts_total",
				Help: "Send attempts that expired without a matching confirm",
			},
		),
		deliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_delivery_failures_total",
				Help: "Messages never confirmed within the retry budget",
			},
		),
		duplicatesSuppressed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_duplicates_suppressed_total",
				Help: "Inbound datagrams confirmed again but not delivered twice",
			},
		),
		invalidMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_invalid_messages_total",
				Help: "Inbound data that failed to decode or correlate",
			},
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipk24chat_state_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"state"},
		),
		sendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipk24chat_send_duration_seconds",
				Help:    "Time from first write until a send completed, including retransmissions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"transport"},
		),
	}
}

// Registry exposes the underlying registry for scraping and tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordMessageSent increments the sent counter for a kind
func (m *Metrics) RecordMessageSent(kind string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
}

// RecordMessageReceived increments the received counter for a kind
func (m *Metrics) RecordMessageReceived(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRetransmission() {
	if m == nil {
		return
	}
	m.retransmissions.Inc()
}

func (m *Metrics) RecordConfirmTimeout() {
	if m == nil {
		return
	}
	m.confirmTimeouts.Inc()
}

func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesSuppressed.Inc()
}

func (m *Metrics) RecordInvalid() {
	if m == nil {
		return
	}
	m.invalidMessages.Inc()
}

// RecordStateTransition counts entering state
func (m *Metrics) RecordStateTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}

// RecordSendDuration records how long a send took on a transport
func (m *Metrics) RecordSendDuration(transport string, seconds float64) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(transport).Observe(seconds)
}
