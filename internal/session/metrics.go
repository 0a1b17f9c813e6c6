package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_pending_flushes_total",
			Help: "Debounced pending-addition flushes by result",
		},
		[]string{"result"},
	)

	autoDiscountRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_auto_discount_runs_total",
			Help: "Automatic discount passes by result",
		},
		[]string{"result"},
	)

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_open_sessions",
		Help: "Order sessions currently held by the gateway",
	})
)
