package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
)

// transportMetrics implements transport.TransportMetrics using Prometheus.
type transportMetrics struct {
	sendDuration      *prometheus.HistogramVec
	sendTotal         *prometheus.CounterVec
	connectRetries    prometheus.Counter
	errorsTotal       *prometheus.CounterVec
	respondDuration   *prometheus.HistogramVec
	handledTotal      *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec
	handlerQueueDepth *prometheus.GaugeVec
}

func NewTransportMetrics(reg prometheus.Registerer) transport.TransportMetrics {
	m := &transportMetrics{
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_send_duration_seconds",
			Help:      "Request/response round trip time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"message_type"}),

		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_sends_total",
			Help:      "Total number of messages sent",
		}, []string{"message_type", "success"}),

		connectRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_connect_retries_total",
			Help:      "Total number of connection retries",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total number of transport errors by kind",
		}, []string{"error_type"}),

		respondDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_respond_duration_seconds",
			Help:      "Time spent computing direct responses in seconds",
			Buckets:   defaultBuckets,
		}, []string{"message_type"}),

		handledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_messages_handled_total",
			Help:      "Total number of deferred handlers run",
		}, []string{"message_type", "success"}),

		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connections_active",
			Help:      "Connections currently being served",
		}, []string{"server"}),

		handlerQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_handler_queue_depth",
			Help:      "Handlers queued while handling is paused",
		}, []string{"server"}),
	}

	reg.MustRegister(
		m.sendDuration,
		m.sendTotal,
		m.connectRetries,
		m.errorsTotal,
		m.respondDuration,
		m.handledTotal,
		m.connectionsActive,
		m.handlerQueueDepth,
	)
	return m
}

func (m *transportMetrics) SendDuration(msgType string) metrics.Timer {
	return newTimer(m.sendDuration.WithLabelValues(msgType))
}

func (m *transportMetrics) SendCompleted(msgType string, success bool) {
	m.sendTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *transportMetrics) ConnectRetry() {
	m.connectRetries.Inc()
}

func (m *transportMetrics) TransportError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

func (m *transportMetrics) RespondDuration(msgType string) metrics.Timer {
	return newTimer(m.respondDuration.WithLabelValues(msgType))
}

func (m *transportMetrics) MessageHandled(msgType string, success bool) {
	m.handledTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *transportMetrics) ConnectionsActive(server string, count int) {
	m.connectionsActive.WithLabelValues(server).Set(float64(count))
}

func (m *transportMetrics) HandlerQueueDepth(server string, depth int) {
	m.handlerQueueDepth.WithLabelValues(server).Set(float64(depth))
}

var _ transport.TransportMetrics = (*transportMetrics)(nil)
