package harvester

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cycles_total",
		Help: "Total number of passes over the watcher list",
	})
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_outcomes_total",
		Help: "Total number of watcher outcomes by protocol and final state",
	}, []string{"protocol", "state"})
	failPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fail_pauses_total",
		Help: "Total number of cooldown pauses after consecutive failures",
	})
)
