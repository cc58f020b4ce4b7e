package transport

import "github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"

// TransportMetrics covers both ends of the transport. All methods are
// thread-safe.
type TransportMetrics interface {
	// Client
	SendDuration(msgType string) metrics.Timer
	SendCompleted(msgType string, success bool)
	ConnectRetry()

	// Errors: connect, timeout, protocol, remote, closed
	TransportError(errorType string)

	// Server
	RespondDuration(msgType string) metrics.Timer
	MessageHandled(msgType string, success bool)
	ConnectionsActive(server string, count int)
	HandlerQueueDepth(server string, depth int)
}

type nopTransportMetrics struct{}

func (nopTransportMetrics) SendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopTransportMetrics) SendCompleted(string, bool)        {}
func (nopTransportMetrics) ConnectRetry()                     {}

func (nopTransportMetrics) TransportError(string) {}

func (nopTransportMetrics) RespondDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopTransportMetrics) MessageHandled(string, bool)          {}
func (nopTransportMetrics) ConnectionsActive(string, int)        {}
func (nopTransportMetrics) HandlerQueueDepth(string, int)        {}

func NopTransportMetrics() TransportMetrics { return nopTransportMetrics{} }
