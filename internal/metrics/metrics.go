// Package metrics exports Prometheus metrics for the core
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "manivault"

// Snapshot is the state sampled into the gauges before a scrape
type Snapshot struct {
	Datasets      int
	PublicActions int
	Factories     int
	Unresolved    int
	// Instances holds live plugin instances by kind
	Instances map[string]int
}

// Metrics holds the collectors of one core
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	pluginsCreated   *prometheus.CounterVec
	pluginsDestroyed *prometheus.CounterVec
	unresolvedTotal  *prometheus.CounterVec
	messagesTotal    *prometheus.CounterVec
	datasetsGauge    prometheus.Gauge
	publicActions    prometheus.Gauge
	factoriesGauge   prometheus.Gauge
	unresolvedGauge  prometheus.Gauge
	instancesGauge   *prometheus.GaugeVec

	mu                sync.Mutex
	lastInstanceKinds map[string]struct{}
}

// New creates the collectors on a private registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of notifications dispatched, by topic",
		}, []string{"topic"}),
		pluginsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "created_total",
			Help:      "Total number of plugin instances created, by kind",
		}, []string{"kind"}),
		pluginsDestroyed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "destroyed_total",
			Help:      "Total number of plugin instances destroyed, by kind",
		}, []string{"kind"}),
		unresolvedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "unresolved_total",
			Help:      "Total number of plugins that could not be loaded, by reason",
		}, []string{"reason"}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of user-facing messages reported, by severity",
		}, []string{"severity"}),
		datasetsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets",
			Help:      "Number of live datasets",
		}),
		publicActions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "public_actions",
			Help:      "Number of public actions",
		}),
		factoriesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "factories",
			Help:      "Number of loaded plugin factories",
		}),
		unresolvedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "unresolved",
			Help:      "Number of plugins currently unresolved",
		}),
		instancesGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "instances",
			Help:      "Number of live plugin instances, by kind",
		}, []string{"kind"}),
		lastInstanceKinds: make(map[string]struct{}),
	}
}

// Attach counts the dispatcher's notifications and the reporter's
// messages. The returned function detaches from the dispatcher.
func (m *Metrics) Attach(d *events.Dispatcher, rep *logging.Reporter) func() {
	if rep != nil {
		rep.OnMessage(func(msg logging.Message) {
			m.messagesTotal.WithLabelValues(string(msg.Severity)).Inc()
		})
	}
	return d.Subscribe(func(e events.Event) {
		m.eventsTotal.WithLabelValues(e.Topic()).Inc()
		switch ev := e.(type) {
		case events.PluginAdded:
			m.pluginsCreated.WithLabelValues(ev.Kind).Inc()
		case events.PluginDestroyed:
			m.pluginsDestroyed.WithLabelValues(ev.Kind).Inc()
		case events.PluginUnresolved:
			m.unresolvedTotal.WithLabelValues(ev.Reason).Inc()
		}
	})
}

// Observe sets the gauges from s. Kinds absent from s drop to zero.
func (m *Metrics) Observe(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.datasetsGauge.Set(float64(s.Datasets))
	m.publicActions.Set(float64(s.PublicActions))
	m.factoriesGauge.Set(float64(s.Factories))
	m.unresolvedGauge.Set(float64(s.Unresolved))

	for kind := range m.lastInstanceKinds {
		if _, ok := s.Instances[kind]; !ok {
			m.instancesGauge.DeleteLabelValues(kind)
			delete(m.lastInstanceKinds, kind)
		}
	}
	for kind, n := range s.Instances {
		m.instancesGauge.WithLabelValues(kind).Set(float64(n))
		m.lastInstanceKinds[kind] = struct{}{}
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics. sample, when set, is called before every
// scrape to refresh the gauges.
func (m *Metrics) Handler(sample func() (Snapshot, error)) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sample != nil {
			if s, err := sample(); err == nil {
				m.Observe(s)
			}
		}
		h.ServeHTTP(w, r)
	})
}
