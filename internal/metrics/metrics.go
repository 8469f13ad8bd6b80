// Package metrics holds the Prometheus collectors of indexsync.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var QueuesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "backend",
	Name:      "queues_applied_total",
	Help:      "Work queues applied to an index writer.",
}, []string{"index", "result"})

var ItemsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "backend",
	Name:      "items_applied_total",
	Help:      "Work items applied to an index writer, by kind.",
}, []string{"index", "kind"})

var ApplyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "indexsync",
	Subsystem: "backend",
	Name:      "apply_duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"index"})

var Envelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "cluster",
	Name:      "envelopes_total",
	Help:      "Work queue envelopes exchanged with other nodes.",
}, []string{"index", "direction", "result"})

var MassIndexDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "mass_indexer",
	Name:      "documents_total",
}, []string{"entity_type"})

var MassIndexRunning = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "indexsync",
	Subsystem: "mass_indexer",
	Name:      "running",
})

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		QueuesApplied, ItemsApplied, ApplyDuration, Envelopes, MassIndexDocuments, MassIndexRunning,
	}
}

// Register adds every collector to reg. Collectors already registered are
// accepted so that Register may be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics of reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
