package smtp

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the prometheus collectors the connection driver updates as
// it drives a conversation. Grounded on daemon/httpd/middleware.go's
// handler-scoped HistogramVec registration idiom, generalized from HTTP
// request metrics to SMTP command/reply metrics.
//
// A nil *Metrics is valid and simply does nothing; NewMetrics is only
// required for callers that want these numbers exported.
type Metrics struct {
	commandsWritten  prometheus.Counter
	repliesReceived  prometheus.Counter
	protocolErrors   *prometheus.CounterVec
	pendingQueueSize prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics instance against reg. Pass
// prometheus.NewRegistry() (or prometheus.DefaultRegisterer) for reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smtpclient",
			Name:      "commands_written_total",
			Help:      "Total number of SMTP commands written to the server.",
		}),
		repliesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smtpclient",
			Name:      "replies_received_total",
			Help:      "Total number of SMTP replies received from the server.",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpclient",
			Name:      "protocol_errors_total",
			Help:      "Total number of fatal protocol errors, by kind.",
		}, []string{"kind"}),
		pendingQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smtpclient",
			Name:      "pending_queue_size",
			Help:      "Current depth of the reply-promise FIFO queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commandsWritten, m.repliesReceived, m.protocolErrors, m.pendingQueueSize)
	}
	return m
}

func (m *Metrics) observeCommandWritten() {
	if m == nil {
		return
	}
	m.commandsWritten.Inc()
}

func (m *Metrics) observeReplyReceived() {
	if m == nil {
		return
	}
	m.repliesReceived.Inc()
}

func (m *Metrics) observeProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.pendingQueueSize.Set(float64(depth))
}
