package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TransportConnected is the broker session state.
	// 1 = connected, 0 = disconnected or reconnecting.
	TransportConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "servobridge_transport_connected",
			Help: "The MQTT session state (1=connected, 0=disconnected).",
		},
	)

	// ReconnectsTotal counts reconnection cycles by result.
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servobridge_reconnects_total",
			Help: "Total number of MQTT reconnection cycles.",
		},
		[]string{"result"}, // success / exhausted
	)

	// DetectionsTotal counts incoming detections by what the policy did with them.
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servobridge_detections_total",
			Help: "Total number of detection messages by outcome.",
		},
		[]string{"result"}, // accepted / cooldown / below_threshold / wrong_class / malformed / stale / dropped
	)

	// CommandsTotal counts actuator commands.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servobridge_actuator_commands_total",
			Help: "Total number of actuator commands by outcome.",
		},
		[]string{"command", "outcome"}, // outcome: acknowledged / timed_out / error
	)

	// UnconfirmedMovesTotal counts moves that were written but never acknowledged.
	UnconfirmedMovesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "servobridge_actuator_unconfirmed_moves_total",
			Help: "Total number of actuator moves issued without an acknowledgment.",
		},
	)

	// AckLatency records the time from write to acknowledgment.
	AckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servobridge_actuator_ack_latency_seconds",
			Help:    "Latency between sending a command and receiving its acknowledgment.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 3},
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(TransportConnected)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(DetectionsTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(UnconfirmedMovesTotal)
	prometheus.MustRegister(AckLatency)
}
