// Package metrics exposes import run statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
)

const namespace = "importpipe"

// Metrics holds the import collectors in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Runs        *prometheus.CounterVec
	Records     *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	LastSuccess *prometheus.GaugeVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datasource",
				Name:      "runs_total",
				Help:      "Datasource runs by final state (ok, limited, error)",
			},
			[]string{"datasource", "state"},
		),

		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datasource",
				Name:      "records_total",
				Help:      "Records handled by datasource and outcome (added, emitted, deleted, skipped, errors)",
			},
			[]string{"datasource", "outcome"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "datasource",
				Name:      "run_duration_seconds",
				Help:      "Datasource run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"datasource"},
		),

		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "datasource",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that ended without error",
			},
			[]string{"datasource"},
		),
	}
	m.registry.MustRegister(m.Runs, m.Records, m.RunDuration, m.LastSuccess)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun accounts a finished datasource run.
func (m *Metrics) ObserveRun(r runstore.Run) {
	m.Runs.WithLabelValues(r.Datasource, r.State).Inc()
	for outcome, n := range map[string]int{
		"added":   r.Added,
		"emitted": r.Emitted,
		"deleted": r.Deleted,
		"skipped": r.Skipped,
		"errors":  r.Errors,
	} {
		m.Records.WithLabelValues(r.Datasource, outcome).Add(float64(n))
	}
	m.RunDuration.WithLabelValues(r.Datasource).Observe(r.Duration.Seconds())
	if r.State != "error" {
		m.LastSuccess.WithLabelValues(r.Datasource).Set(float64(r.Started.Add(r.Duration).Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextfile writes the registry to path for the node exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
