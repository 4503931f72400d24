// Package metrics holds the prometheus collectors of a pipeline. A nil *Metrics records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sidecar"

// Reasons a task drops a data message.
const (
	DropFailure  = "failure"
	DropInactive = "inactive"
	DropNoRoute  = "no_processor"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Task inputs
	MessagesReceived *prometheus.CounterVec
	BytesReceived    *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec

	// Channel fan-out
	ChannelDelivered  *prometheus.CounterVec
	ChannelDuplicated *prometheus.CounterVec
	ChannelElided     *prometheus.CounterVec

	// Task lifecycle
	StateTransitions *prometheus.CounterVec
	UsingData        *prometheus.GaugeVec

	// Controller
	ProcessingSeconds *prometheus.HistogramVec
	Alarms            *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_messages_received_total",
			Help:      "Data messages received per task input",
		}, []string{"task", "slot"}),
		BytesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_bytes_received_total",
			Help:      "Data bytes received per task input",
		}, []string{"task", "slot"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_messages_dropped_total",
			Help:      "Data messages dropped by a task",
		}, []string{"task", "reason"}),
		ChannelDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_delivered_total",
			Help:      "Messages delivered to at least one recipient",
		}, []string{"channel"}),
		ChannelDuplicated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_handles_duplicated_total",
			Help:      "Extra message handles given out by fan-out",
		}, []string{"channel"}),
		ChannelElided: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_elided_total",
			Help:      "Messages dropped because no recipient used data",
		}, []string{"channel"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_state_transitions_total",
			Help:      "Processing states entered per task",
		}, []string{"task", "state"}),
		UsingData: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_using_data",
			Help:      "1 when someone downstream consumes the task output",
		}, []string{"task"}),
		ProcessingSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_processing_seconds",
			Help:      "Time spent by algorithms on one data message",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"task"}),
		Alarms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_alarms_total",
			Help:      "Alarm timer expirations handed to algorithms",
		}, []string{"task"}),
	}
}

// Received records one data message of size bytes on an input slot.
func (m *Metrics) Received(task string, slot, size int) {
	if m == nil {
		return
	}
	s := strconv.Itoa(slot)
	m.MessagesReceived.WithLabelValues(task, s).Inc()
	m.BytesReceived.WithLabelValues(task, s).Add(float64(size))
}

// Dropped records a data message discarded by a task.
func (m *Metrics) Dropped(task, reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(task, reason).Inc()
}

// Delivered records the outcome of one channel delivery reaching n recipients.
func (m *Metrics) Delivered(channel string, n int) {
	if m == nil {
		return
	}
	if n == 0 {
		m.ChannelElided.WithLabelValues(channel).Inc()
		return
	}
	m.ChannelDelivered.WithLabelValues(channel).Inc()
	m.ChannelDuplicated.WithLabelValues(channel).Add(float64(n - 1))
}

// Transition records a processing state entered by a task.
func (m *Metrics) Transition(task, state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(task, state).Inc()
}

// SetUsingData records the demand state of a task.
func (m *Metrics) SetUsingData(task string, usingData bool) {
	if m == nil {
		return
	}
	v := 0.0
	if usingData {
		v = 1
	}
	m.UsingData.WithLabelValues(task).Set(v)
}

// Processed records the time an algorithm spent on one message.
func (m *Metrics) Processed(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessingSeconds.WithLabelValues(task).Observe(d.Seconds())
}

// Alarm records one alarm handed to an algorithm.
func (m *Metrics) Alarm(task string) {
	if m == nil {
		return
	}
	m.Alarms.WithLabelValues(task).Inc()
}
