package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveExecutors tracks the number of scenario executors currently running.
	ActiveExecutors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_active_executors",
		Help: "The number of scenario executors currently running.",
	})

	// ScenariosStarted counts scenario runs, labeled by launch kind (trigger, manual).
	ScenariosStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_scenarios_started_total",
		Help: "Total number of scenario executions started.",
	}, []string{"launch"})

	// ScenariosFinished counts finished scenario runs, labeled by outcome (completed, error, stopped).
	ScenariosFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_scenarios_finished_total",
		Help: "Total number of scenario executions finished.",
	}, []string{"outcome"})

	// NodesExecuted counts executed scenario nodes, labeled by node type.
	NodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_nodes_executed_total",
		Help: "Total number of scenario nodes executed.",
	}, []string{"node_type"})

	// MeterUpdates counts meter value updates produced by the scheduler, labeled by strategy.
	MeterUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_meter_updates_total",
		Help: "Total number of meter value updates produced by the scheduler.",
	}, []string{"strategy"})

	// MessagesSent counts protocol messages sent to the central system, labeled by action.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_messages_sent_total",
		Help: "Total number of OCPP messages sent to the central system.",
	}, []string{"action"})
)
