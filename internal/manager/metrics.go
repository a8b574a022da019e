package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"modelserve/pkg/types"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelserve",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Adapter loads by backend kind and result",
		},
		[]string{"kind", "result"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelserve",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Duration of adapter loads in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	unloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelserve",
			Subsystem: "manager",
			Name:      "unloads_total",
			Help:      "Completed unloads",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelserve",
			Subsystem: "manager",
			Name:      "executions_total",
			Help:      "Executions by backend kind and result",
		},
		[]string{"kind", "result"},
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelserve",
			Subsystem: "manager",
			Name:      "loaded_models",
			Help:      "Models currently holding a handle",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, unloadsTotal, executionsTotal, loadedModels)
}

// resultLabel returns "ok" for nil and the error kind otherwise.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := KindOf(err); ok {
		return k.String()
	}
	return "error"
}

func observeLoad(kind types.BackendKind, err error, seconds float64) {
	loadsTotal.WithLabelValues(kind.String(), resultLabel(err)).Inc()
	if err == nil {
		loadDuration.WithLabelValues(kind.String()).Observe(seconds)
	}
}

func observeExec(kind types.BackendKind, err error) {
	executionsTotal.WithLabelValues(kind.String(), resultLabel(err)).Inc()
}
