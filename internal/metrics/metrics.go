// Package metrics defines the Prometheus instruments shared by the
// services. Each process creates one bundle against its own registry and
// exposes it over promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActionsTotal     *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	SubmissionsTotal *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	WSConnections    *prometheus.GaugeVec
	RoundsTotal      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adarena_checker_actions_total",
			Help: "Checker actions executed, by action and resulting status.",
		}, []string{"action", "status"}),
		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adarena_checker_action_duration_seconds",
			Help:    "Checker subprocess wall time, by action.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"action"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adarena_flag_submissions_total",
			Help: "Flag submissions, by outcome.",
		}, []string{"result"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adarena_job_queue_depth",
			Help: "Jobs waiting on the checker queue.",
		}),
		WSConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adarena_websocket_connections",
			Help: "Open WebSocket connections, by hub.",
		}, []string{"hub"}),
		RoundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "adarena_rounds_total",
			Help: "Rounds processed by the ticker.",
		}),
	}
}
