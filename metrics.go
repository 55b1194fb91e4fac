package mqttcore

import (
	"strconv"
	"time"
)

// MetricLabels are the label pairs that identify one series of a metric.
type MetricLabels map[string]string

// Metrics hands out metric series by name and labels. Implementations must
// return the same series for equal arguments and be safe for concurrent use.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge holds the last value set.
type Gauge interface {
	Set(value float64)
	Value() float64
}

// Histogram accumulates observations. Durations are observed in seconds.
type Histogram interface {
	Observe(value float64)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards every sample. It is the default.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpMetric{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpMetric{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()            {}
func (noOpMetric) Add(float64)     {}
func (noOpMetric) Set(float64)     {}
func (noOpMetric) Observe(float64) {}
func (noOpMetric) Value() float64  { return 0 }
func (noOpMetric) Count() uint64   { return 0 }
func (noOpMetric) Sum() float64    { return 0 }

// Metric names recorded by the client.
const (
	// MetricConnects is the total number of accepted connections.
	MetricConnects = "mqtt_client_connects_total"

	// MetricConnectionErrors is the total number of connections closed by an error.
	MetricConnectionErrors = "mqtt_client_connection_errors_total"

	// MetricPacketsSent is the total number of packets sent.
	MetricPacketsSent = "mqtt_client_packets_sent_total"

	// MetricPacketsReceived is the total number of packets received.
	MetricPacketsReceived = "mqtt_client_packets_received_total"

	// MetricBytesSent is the total bytes sent.
	MetricBytesSent = "mqtt_client_bytes_sent_total"

	// MetricBytesReceived is the total bytes received.
	MetricBytesReceived = "mqtt_client_bytes_received_total"

	// MetricRetransmits is the total number of retransmitted publishes.
	MetricRetransmits = "mqtt_client_retransmits_total"

	// MetricThrottleDelay is the current publish throttle delay.
	MetricThrottleDelay = "mqtt_client_throttle_delay_seconds"

	// MetricDeliveryLatency is the time from receipt to the return of a
	// synchronous message handler.
	MetricDeliveryLatency = "mqtt_client_delivery_latency_seconds"
)

// Metric labels. Every series carries LabelClientID.
const (
	LabelClientID   = "client_id"
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// clientMetrics records the metrics of one client.
type clientMetrics struct {
	metrics  Metrics
	clientID string
}

func newClientMetrics(m Metrics, clientID string) *clientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &clientMetrics{metrics: m, clientID: clientID}
}

func (c *clientMetrics) labels(extra ...string) MetricLabels {
	labels := MetricLabels{LabelClientID: c.clientID}
	for i := 0; i+1 < len(extra); i += 2 {
		labels[extra[i]] = extra[i+1]
	}
	return labels
}

func (c *clientMetrics) connected() {
	c.metrics.Counter(MetricConnects, c.labels()).Inc()
}

func (c *clientMetrics) connectionError() {
	c.metrics.Counter(MetricConnectionErrors, c.labels()).Inc()
}

func (c *clientMetrics) packetSent(t PacketType) {
	c.metrics.Counter(MetricPacketsSent, c.labels(LabelPacketType, t.String())).Inc()
}

func (c *clientMetrics) packetReceived(t PacketType) {
	c.metrics.Counter(MetricPacketsReceived, c.labels(LabelPacketType, t.String())).Inc()
}

func (c *clientMetrics) bytesSent(n int) {
	c.metrics.Counter(MetricBytesSent, c.labels()).Add(float64(n))
}

func (c *clientMetrics) bytesReceived(n int) {
	c.metrics.Counter(MetricBytesReceived, c.labels()).Add(float64(n))
}

func (c *clientMetrics) retransmit() {
	c.metrics.Counter(MetricRetransmits, c.labels()).Inc()
}

func (c *clientMetrics) throttleDelay(d time.Duration) {
	c.metrics.Gauge(MetricThrottleDelay, c.labels()).Set(d.Seconds())
}

func (c *clientMetrics) delivered(qos byte, d time.Duration) {
	labels := c.labels(LabelQoS, strconv.Itoa(int(qos)))
	c.metrics.Histogram(MetricDeliveryLatency, labels).Observe(d.Seconds())
}
