// Package metrics exposes Prometheus counters for triggers and detection
// sessions.
//
// Metrics plugs into the engine twice: as a trigger.Listener on the debouncer
// and as a detector.Observer on the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopause/internal/detector"
	"autopause/internal/trigger"
)

// Namespace prefixes every metric name.
const Namespace = "autopause"

// Trigger results used as the "result" label.
const (
	ResultFired     = "fired"
	ResultDebounced = "debounced"
	ResultFailed    = "failed"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	TriggersTotal        *prometheus.CounterVec
	SessionsTotal        *prometheus.CounterVec
	ModeFallbacksTotal   *prometheus.CounterVec
	DroppedEventsTotal   prometheus.Counter
	ActiveSessions       prometheus.Gauge
	LastTriggerTimestamp prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "triggers_total",
				Help:      "Trigger attempts by result (fired, debounced, failed)",
			},
			[]string{"result"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sessions_total",
				Help:      "Detection sessions started, by detection mode",
			},
			[]string{"mode"},
		),
		ModeFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "mode_fallbacks_total",
				Help:      "Detection mode degradations because a subscription failed",
			},
			[]string{"from", "to"},
		),
		DroppedEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "dropped_events_total",
				Help:      "Notifications dropped because the matcher fell behind",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sessions",
				Help:      "Detection sessions currently running",
			},
		),
		LastTriggerTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "last_trigger_timestamp_seconds",
				Help:      "Unix time of the last injected key press",
			},
		),
	}

	m.registry.MustRegister(
		m.TriggersTotal,
		m.SessionsTotal,
		m.ModeFallbacksTotal,
		m.DroppedEventsTotal,
		m.ActiveSessions,
		m.LastTriggerTimestamp,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnTrigger implements trigger.Listener.
func (m *Metrics) OnTrigger(ev trigger.Event) {
	switch {
	case ev.Debounced:
		m.TriggersTotal.WithLabelValues(ResultDebounced).Inc()
	case ev.Err != nil:
		m.TriggersTotal.WithLabelValues(ResultFailed).Inc()
	default:
		m.TriggersTotal.WithLabelValues(ResultFired).Inc()
		m.LastTriggerTimestamp.Set(float64(ev.Time.UnixNano()) / float64(time.Second))
	}
}

// SessionStarted implements detector.Observer.
func (m *Metrics) SessionStarted(_ detector.Target, mode detector.State) {
	m.SessionsTotal.WithLabelValues(mode.String()).Inc()
	m.ActiveSessions.Inc()
}

// ModeFallback implements detector.Observer.
func (m *Metrics) ModeFallback(from, to detector.State, _ error) {
	m.ModeFallbacksTotal.WithLabelValues(from.String(), to.String()).Inc()
}

// SessionStopped implements detector.Observer.
func (m *Metrics) SessionStopped(_ detector.Target, _ detector.State, dropped uint64) {
	m.ActiveSessions.Dec()
	m.DroppedEventsTotal.Add(float64(dropped))
}

var (
	_ trigger.Listener  = (*Metrics)(nil)
	_ detector.Observer = (*Metrics)(nil)
)
