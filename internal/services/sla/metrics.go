package sla

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics tracks scan cycle performance. Instruments are created per
// engine instance and registered against the supplied registerer, so
// isolated engines in tests never collide on the default registry.
type engineMetrics struct {
	cycles        prometheus.Counter
	cyclesSkipped prometheus.Counter
	processed     prometheus.Counter
	breaches      *prometheus.CounterVec
	escalations   prometheus.Counter
	warnings      prometheus.Counter
	errors        prometheus.Counter
	cycleDuration prometheus.Histogram
	dueTrackers   prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_scan_cycles_total",
			Help: "Total number of completed breach detection cycles",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_scan_cycles_skipped_total",
			Help: "Cycles skipped because another instance held the scan lock",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_trackers_processed_total",
			Help: "Total number of trackers processed by scan cycles",
		}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_breaches_total",
			Help: "Total number of detected SLA breaches",
		}, []string{"type", "severity"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_escalations_total",
			Help: "Total number of escalation levels fired",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_warnings_total",
			Help: "Total number of pre-breach warning notifications",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_processing_errors_total",
			Help: "Total number of per-tracker processing errors",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sla_scan_cycle_duration_seconds",
			Help:    "Scan cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		dueTrackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sla_due_trackers",
			Help: "Trackers picked up by the most recent scan cycle",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.cycles, m.cyclesSkipped, m.processed, m.breaches,
			m.escalations, m.warnings, m.errors, m.cycleDuration, m.dueTrackers,
		)
	}
	return m
}
