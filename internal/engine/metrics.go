package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/docsync/internal/ir"
)

const (
	namespace = "docsync"
	subsystem = "engine"
)

// Metrics records pass outcomes on a Prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	passesTotal       *prometheus.CounterVec
	dispositionsTotal *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
	passDuration      *prometheus.HistogramVec
	lastWatermark     prometheus.Gauge
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "passes_total",
				Help:      "Total number of sync passes by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		dispositionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispositions_total",
				Help:      "Total number of documents dispatched to the target by kind",
			},
			[]string{"kind"},
		),
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_identities_total",
				Help:      "Total number of identities classified by full reconciliation",
			},
			[]string{"class"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pass_duration_seconds",
				Help:      "Duration of sync passes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		lastWatermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "watermark_timestamp_seconds",
				Help:      "Watermark committed by the last successful pass",
			},
		),
	}
}

func (m *Metrics) observePass(mode ir.Mode, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "aborted"
	}
	if mode == "" {
		mode = "unknown"
	}
	m.passesTotal.WithLabelValues(string(mode), outcome).Inc()
	m.passDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeResult(res ir.SyncResult, watermark time.Time) {
	if m == nil {
		return
	}
	m.dispositionsTotal.WithLabelValues("matched").Add(float64(res.Matched))
	m.dispositionsTotal.WithLabelValues("non_matched").Add(float64(res.NonMatched))
	m.dispositionsTotal.WithLabelValues("deleted").Add(float64(res.Deleted))
	m.dispositionsTotal.WithLabelValues("purged").Add(float64(res.Purged))
	m.dispositionsTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	if !watermark.IsZero() {
		m.lastWatermark.Set(float64(watermark.UnixNano()) / 1e9)
	}
}

func (m *Metrics) observePlan(p *Plan) {
	if m == nil || p == nil {
		return
	}
	m.reconcileTotal.WithLabelValues("missing").Add(float64(len(p.Missing)))
	m.reconcileTotal.WithLabelValues("stale").Add(float64(len(p.Stale)))
	m.reconcileTotal.WithLabelValues("newer_in_target").Add(float64(len(p.NewerInTarget)))
	m.reconcileTotal.WithLabelValues("equal").Add(float64(len(p.Equal)))
	m.reconcileTotal.WithLabelValues("conflict").Add(float64(len(p.Conflicts)))
	m.reconcileTotal.WithLabelValues("orphaned").Add(float64(len(p.Orphaned)))
}
