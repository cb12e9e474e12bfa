// Package metrics counts what a conformance run did. A nil *Metrics is a
// valid no-op recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "msghub_e2e"

// Metrics holds the collectors of one run on a private registry
type Metrics struct {
	registry *prometheus.Registry

	retryAttempts    *prometheus.CounterVec
	barrierCrossings prometheus.Counter
	hubFrames        *prometheus.CounterVec
	eventsReceived   prometheus.Counter
	phaseDuration    *prometheus.GaugeVec
	phaseFailures    *prometheus.CounterVec
	state            prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Attempts of eventually consistent checks by result.",
		}, []string{"result"}),
		barrierCrossings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrier_crossings_total",
			Help:      "Completed rendezvous between the publisher and the hub.",
		}),
		hubFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_messages_total",
			Help:      "Messages routed by the hub by direction.",
		}, []string{"direction"}),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Server events consumed by the device client.",
		}),
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each phase of the run.",
		}, []string{"phase"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_failures_total",
			Help:      "Phases that aborted the run.",
		}, []string{"phase"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Last state reached by the sequencer.",
		}),
	}

	m.registry.MustRegister(
		m.retryAttempts,
		m.barrierCrossings,
		m.hubFrames,
		m.eventsReceived,
		m.phaseDuration,
		m.phaseFailures,
		m.state,
	)
	return m
}

// RetryAttempt counts one attempt of a retried check
func (m *Metrics) RetryAttempt(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.retryAttempts.WithLabelValues(result).Inc()
}

// BarrierCrossing counts one rendezvous
func (m *Metrics) BarrierCrossing() {
	if m == nil {
		return
	}
	m.barrierCrossings.Inc()
}

// HubMessage counts a message routed upstream or downstream
func (m *Metrics) HubMessage(direction string) {
	if m == nil {
		return
	}
	m.hubFrames.WithLabelValues(direction).Inc()
}

// EventReceived counts an event consumed by the device client
func (m *Metrics) EventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

// ObservePhase records how long a phase ran and whether it failed
func (m *Metrics) ObservePhase(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Set(d.Seconds())
	if err != nil {
		m.phaseFailures.WithLabelValues(phase).Inc()
	}
}

// SetState records the sequencer state
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// WriteTextfile writes the metrics in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
