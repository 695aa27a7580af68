package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/murkandloam/the-gloaming-sub000/internal/protocol"
)

var (
	metricCommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gloaming_commands_sent_total",
			Help: "Commands written to the engine process, by discriminator",
		},
		[]string{"cmd"},
	)

	metricCommandsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gloaming_commands_dropped_total",
			Help: "Commands dropped because the engine process was not ready",
		},
	)

	metricEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gloaming_events_received_total",
			Help: "Events decoded from the engine process, by discriminator",
		},
		[]string{"event"},
	)

	metricParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gloaming_protocol_parse_errors_total",
			Help: "Malformed protocol lines dropped by the stream decoder",
		},
	)

	metricEngineSpawns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gloaming_engine_spawns_total",
			Help: "Engine subprocess spawn attempts",
		},
	)

	metricEngineExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gloaming_engine_exits_total",
			Help: "Engine subprocess exits, by outcome",
		},
		[]string{"outcome"},
	)

	metricPlaybackPosition = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gloaming_playback_position_seconds",
			Help: "Last reported playback position",
		},
	)

	metricEventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gloaming_event_subscribers",
			Help: "Active websocket event subscribers",
		},
	)
)

func recordEventReceived(ev protocol.Event) {
	metricEventsReceived.WithLabelValues(string(ev.Event)).Inc()
	if ev.Event == protocol.EventState {
		metricPlaybackPosition.Set(ev.Position)
	}
}

func recordEngineExit(crashed bool) {
	outcome := "graceful"
	if crashed {
		outcome = "crashed"
	}
	metricEngineExits.WithLabelValues(outcome).Inc()
}
