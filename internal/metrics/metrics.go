package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "rotoscope"
)

var (
	// EventsTotal counts decoded device lines by event kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Total number of device lines decoded, by event kind",
		},
		[]string{"kind"},
	)

	// ParseMisses counts lines that matched no known pattern
	ParseMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_misses_total",
			Help:      "Total number of unrecognized device lines",
		},
	)

	// CorrelationMisses counts confirmations with no pending command
	CorrelationMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_misses_total",
			Help:      "Total number of confirmations discarded for lack of a pending command",
		},
	)

	// CommandsTotal counts commands written to the device
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands sent to the device",
		},
		[]string{"cmd", "status"}, // status: success/error
	)

	// PersistenceErrors counts failed slot writes
	PersistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Total number of failed slot store writes",
		},
	)

	// Position is the last reported encoder position
	Position = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_counts",
			Help:      "Last reported mount position in encoder counts",
		},
	)

	// Connected is 1 while a device session is attached
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "Whether a device session is attached",
		},
	)

	// PlaybackTransitions counts presenter calls by action
	PlaybackTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_transitions_total",
			Help:      "Total number of media presentation changes, by action",
		},
		[]string{"action"}, // present/pause/resume/stop
	)
)

// RecordEvent records a decoded event by kind.
func RecordEvent(kind string) {
	EventsTotal.WithLabelValues(kind).Inc()
	if kind == "unrecognized" {
		ParseMisses.Inc()
	}
}

// RecordCommand records a command send attempt.
func RecordCommand(cmd string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	CommandsTotal.WithLabelValues(cmd, status).Inc()
}

func RecordConnected(connected bool) {
	if connected {
		Connected.Set(1)
	} else {
		Connected.Set(0)
	}
}
