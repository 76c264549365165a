package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "walkaround"

// 事件丢弃原因
const (
	dropMalformed    = "malformed"
	dropUnknownEvent = "unknown_event"
	dropUnknownID    = "unknown_id"
	dropNotEligible  = "not_eligible"
)

// Metrics 服务器运行指标（Prometheus），所有方法对 nil 安全
type Metrics struct {
	Registry *prometheus.Registry

	connections   prometheus.Gauge
	players       prometheus.Gauge
	queued        prometheus.Gauge
	events        *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	panics        prometheus.Counter
	persistErrors prometheus.Counter
	sendsDropped  prometheus.Counter
}

// NewMetrics 在独立的 Registry 上注册全部指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Live websocket connections",
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "players",
			Help:      "Spawned players in the player table",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queued",
			Help:      "Sessions waiting in the admission queue",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Client events handled by the coordinator",
		}, []string{"event"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Client events ignored by the coordinator",
		}, []string{"reason"}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in event handlers",
		}),
		persistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spawn_persist_errors_total",
			Help:      "Failed writes of the spawn configuration file",
		}),
		sendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sends_dropped_total",
			Help:      "Frames discarded because the target connection was gone",
		}),
	}
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEvent(name string) {
	if m != nil {
		m.events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncPanic() {
	if m != nil {
		m.panics.Inc()
	}
}

func (m *Metrics) IncPersistError() {
	if m != nil {
		m.persistErrors.Inc()
	}
}

func (m *Metrics) IncSendDropped() {
	if m != nil {
		m.sendsDropped.Inc()
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

// SetOccupancy 同步玩家表与排队长度
func (m *Metrics) SetOccupancy(players, queued int) {
	if m != nil {
		m.players.Set(float64(players))
		m.queued.Set(float64(queued))
	}
}
