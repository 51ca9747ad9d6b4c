package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts delivery outcomes so push-provider or transport outages are visible.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	persisted   prometheus.Counter
	livePush    *prometheus.CounterVec
	pushNotify  *prometheus.CounterVec
	fanoutDrops prometheus.Counter
	receipts    *prometheus.CounterVec
	connections prometheus.Gauge
	superseded  prometheus.Counter
}

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_persisted_total",
			Help:      "Messages durably stored.",
		}),
		livePush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "live_push_total",
			Help:      "Targeted live pushes to the receiver by result (ok, failed, offline).",
		}, []string{"result"}),
		pushNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "push_notifications_total",
			Help:      "Push-notification fallbacks by result (sent, failed, no_token, disabled).",
		}, []string{"result"}),
		fanoutDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "fanout_dropped_total",
			Help:      "Broadcast events dropped because a connection was closed or saturated.",
		}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "receipts_total",
			Help:      "Delivery/read markers applied.",
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connections",
			Help:      "Registered live connections.",
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "connections_superseded_total",
			Help:      "Connections replaced by a newer one for the same participant.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.persisted, m.livePush, m.pushNotify, m.fanoutDrops, m.receipts, m.connections, m.superseded)
	}
	return m
}

func (m *Metrics) messagePersisted() {
	if m != nil {
		m.persisted.Inc()
	}
}

func (m *Metrics) livePushResult(result string) {
	if m != nil {
		m.livePush.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) pushResult(result string) {
	if m != nil {
		m.pushNotify.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) fanoutDropped() {
	if m != nil {
		m.fanoutDrops.Inc()
	}
}

func (m *Metrics) receipt(kind string) {
	if m != nil {
		m.receipts.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) connected(superseded bool) {
	if m == nil {
		return
	}
	if superseded {
		m.superseded.Inc()
		return
	}
	m.connections.Inc()
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.connections.Dec()
	}
}
