// Package metrics records run counters on a private prometheus registry.
package metrics

import (
	"time"

	"aqpeval/internal/join"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Round status labels.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusResumed = "resumed"
)

var roundBuckets = []float64{0.01, 0.1, 0.5, 1, 10, 100}

// Recorder is safe for concurrent use. A nil Recorder records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
	joinRows      *prometheus.CounterVec
	unmatched     *prometheus.CounterVec
	dropRatio     *prometheus.GaugeVec
	excluded      prometheus.Counter
	errors        *prometheus.GaugeVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aqpeval_rounds_total",
			Help: "Monte Carlo rounds by outcome.",
		}, []string{"status"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aqpeval_round_duration_seconds",
			Help:    "Wall time of one estimation round.",
			Buckets: roundBuckets,
		}),
		joinRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aqpeval_join_output_rows_total",
			Help: "Rows produced by each join step.",
		}, []string{"table"}),
		unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aqpeval_join_unmatched_rows_total",
			Help: "Left rows without a partner in each join step.",
		}, []string{"table"}),
		dropRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aqpeval_join_drop_ratio",
			Help: "Share of left rows dropped by the last join step.",
		}, []string{"table"}),
		excluded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aqpeval_excluded_rows_total",
			Help: "Sample rows excluded for a non-positive combined rate.",
		}),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aqpeval_error",
			Help: "Mean error of the final estimate per metric.",
		}, []string{"metric"}),
	}
	r.registry.MustRegister(r.rounds, r.roundDuration, r.joinRows, r.unmatched, r.dropRatio, r.excluded, r.errors)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Round records a finished round.
func (r *Recorder) Round(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.rounds.WithLabelValues(status).Inc()
	if status != StatusResumed {
		r.roundDuration.Observe(elapsed.Seconds())
	}
}

// JoinStep records one join step.
func (r *Recorder) JoinStep(step join.Step) {
	if r == nil {
		return
	}
	r.joinRows.WithLabelValues(step.Right).Add(float64(step.OutputRows))
	r.unmatched.WithLabelValues(step.Right).Add(float64(step.Unmatched))
	r.dropRatio.WithLabelValues(step.Right).Set(step.DropRatio())
}

// Excluded records rows excluded for a non-positive rate.
func (r *Recorder) Excluded(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.excluded.Add(float64(n))
}

// Error records a summary error value.
func (r *Recorder) Error(metric string, v float64) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(metric).Set(v)
}

// WriteTextfile writes every metric in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return errors.Wrap(prometheus.WriteToTextfile(path, r.registry), "write metrics")
}
