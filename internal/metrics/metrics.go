// Package metrics exports call manager counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wirecall"

// Metrics groups every collector the call manager updates. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registrationAttempts prometheus.Counter
	registrationResults  *prometheus.CounterVec
	registrationRetry    prometheus.Gauge
	callsStarted         *prometheus.CounterVec
	callsAnswered        prometheus.Counter
	callsEnded           *prometheus.CounterVec
	callsActive          prometheus.Gauge
	callDuration         prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		registrationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registrar",
			Name:      "attempts_total",
			Help:      "Registration attempts sent to the transport.",
		}),
		registrationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registrar",
			Name:      "results_total",
			Help:      "Registration outcomes by result.",
		}, []string{"result"}),
		registrationRetry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registrar",
			Name:      "retry_attempt",
			Help:      "Current collision retry attempt.",
		}),
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Call sessions created, by direction and media kind.",
		}, []string{"direction", "media_kind"}),
		callsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "answered_total",
			Help:      "Inbound calls answered locally.",
		}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "ended_total",
			Help:      "Call sessions ended, by reason.",
		}, []string{"reason"}),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "active",
			Help:      "Non-ended call sessions (0 or 1).",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "connected_duration_seconds",
			Help:      "Time between connect and end of connected calls.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}

	collectors := []prometheus.Collector{
		m.registrationAttempts,
		m.registrationResults,
		m.registrationRetry,
		m.callsStarted,
		m.callsAnswered,
		m.callsEnded,
		m.callsActive,
		m.callDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RegistrationAttempt() {
	if m == nil {
		return
	}
	m.registrationAttempts.Inc()
}

// RegistrationResult records "accepted", "collision" or "error".
func (m *Metrics) RegistrationResult(result string, retryAttempt int) {
	if m == nil {
		return
	}
	m.registrationResults.WithLabelValues(result).Inc()
	m.registrationRetry.Set(float64(retryAttempt))
}

func (m *Metrics) CallStarted(direction, mediaKind string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(direction, mediaKind).Inc()
	m.callsActive.Set(1)
}

func (m *Metrics) CallAnswered() {
	if m == nil {
		return
	}
	m.callsAnswered.Inc()
}

// CallEnded records the end of a session. connectedSeconds is negative when
// the call never connected.
func (m *Metrics) CallEnded(reason string, connectedSeconds float64) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(reason).Inc()
	m.callsActive.Set(0)
	if connectedSeconds >= 0 {
		m.callDuration.Observe(connectedSeconds)
	}
}

// CallMissed records an inbound offer declined while busy. It does not
// touch the active gauge.
func (m *Metrics) CallMissed() {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues("missed").Inc()
}
