package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cms",
	Subsystem: "plugin",
	Name:      "lifecycle_total",
	Help:      "Plugin activations and deactivations by outcome.",
}, []string{"op", "result"})

const (
	opActivate   = "activate"
	opDeactivate = "deactivate"

	resultOK       = "ok"
	resultNoop     = "noop"
	resultNotFound = "not_found"
	resultError    = "error"
)

var scheduledRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cms",
	Subsystem: "plugin",
	Name:      "scheduled_runs_total",
	Help:      "Scheduled plugin function runs by outcome.",
}, []string{"result"})
