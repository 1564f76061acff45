package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loom",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Currently open websocket connections.",
	})

	streamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "stream",
		Name:      "started_total",
		Help:      "Model streaming turns started.",
	})

	streamOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "stream",
		Name:      "outcomes_total",
		Help:      "Model streaming turns finished, by terminal state.",
	}, []string{"state"})

	fragmentsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "stream",
		Name:      "fragments_forwarded_total",
		Help:      "Model response fragments forwarded to clients.",
	})
)
