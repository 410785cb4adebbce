package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonlive_connections_active",
			Help: "Live signaling connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonlive_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonlive_messages_relayed_total",
			Help: "Messages accepted by the relay",
		},
		[]string{"kind"},
	)

	JoinsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lessonlive_joins_rejected_total",
			Help: "Join attempts refused by the session gate",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lessonlive_frames_dropped_total",
			Help: "Outbound frames dropped on slow or closed connections",
		},
	)

	GateLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lessonlive_gate_latency_seconds",
			Help:    "Lessons service lookup latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)
