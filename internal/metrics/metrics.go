package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors exported on /metrics.
type Metrics struct {
	Finalizations      prometheus.Counter
	LockContention     *prometheus.CounterVec
	BroadcastPublished *prometheus.CounterVec
	BroadcastDelivered *prometheus.CounterVec
	Connections        *prometheus.GaugeVec
	ResultSaves        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Finalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_quiz_finalizations_total",
			Help: "Questions closed for answers",
		}),
		LockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "live_quiz_lock_contention_total",
				Help: "Lock acquisitions that gave up after the retry budget",
			},
			[]string{"resource"},
		),
		BroadcastPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "live_quiz_broadcast_published_total",
				Help: "Envelopes published to the broadcast fabric",
			},
			[]string{"kind"},
		),
		BroadcastDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "live_quiz_broadcast_delivered_total",
				Help: "Messages handed to local sockets from the broadcast fabric",
			},
			[]string{"kind"},
		),
		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "live_quiz_connections",
				Help: "Live sockets held by this instance",
			},
			[]string{"role"},
		),
		ResultSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "live_quiz_result_saves_total",
				Help: "Per-student result upserts by outcome",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Finalizations,
			m.LockContention,
			m.BroadcastPublished,
			m.BroadcastDelivered,
			m.Connections,
			m.ResultSaves,
		)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}
