package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	blocksTotal    *prometheus.CounterVec
	resultsTotal   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	outputsSent    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	hostilityScore prometheus.Gauge
	hostilityLevel *prometheus.GaugeVec
	realizedPnL    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

var levels = []string{"NORMAL", "CAUTION", "PAUSE", "EXTENDED_PAUSE"}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors with reg; tests pass a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		blocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_blocks_total",
				Help: "Total number of blocks processed",
			},
			[]string{"source"},
		),
		resultsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_evaluations_total",
				Help: "Evaluation results by pattern, outcome and whether a real bet was placed",
			},
			[]string{"pattern", "outcome", "bet"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_lifecycle_transitions_total",
				Help: "Lifecycle transitions by pattern, target status and reason",
			},
			[]string{"pattern", "to", "reason"},
		),
		outputsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_outputs_sent_total",
				Help: "Total number of block outputs written to a backend",
			},
			[]string{"backend"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		hostilityScore: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "runguard_hostility_score",
				Help: "Hostility score of the most recently processed block",
			},
		),
		hostilityLevel: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runguard_hostility_level",
				Help: "1 for the current hostility level, 0 otherwise",
			},
			[]string{"level"},
		),
		realizedPnL: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runguard_realized_pnl_abs_total",
				Help: "Absolute realized pnl of real bets, split by sign",
			},
			[]string{"pattern", "sign"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runguard_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBlock counts a processed block by where it came from (http, kafka, replay).
func (r *Recorder) RecordBlock(source string) {
	r.blocksTotal.WithLabelValues(source).Inc()
}

// RecordResult counts an evaluation and, for real bets, its pnl.
func (r *Recorder) RecordResult(pattern string, win, bet bool, pnl float64) {
	outcome := "loss"
	if win {
		outcome = "win"
	}
	betLabel := "false"
	if bet {
		betLabel = "true"
	}
	r.resultsTotal.WithLabelValues(pattern, outcome, betLabel).Inc()
	if !bet {
		return
	}
	if pnl >= 0 {
		r.realizedPnL.WithLabelValues(pattern, "gain").Add(pnl)
	} else {
		r.realizedPnL.WithLabelValues(pattern, "loss").Add(-pnl)
	}
}

// RecordTransition counts a lifecycle transition.
func (r *Recorder) RecordTransition(pattern, to, reason string) {
	r.transitions.WithLabelValues(pattern, to, reason).Inc()
}

// RecordHostility publishes the current score and level.
func (r *Recorder) RecordHostility(score float64, level string) {
	r.hostilityScore.Set(score)
	for _, l := range levels {
		v := 0.0
		if l == level {
			v = 1
		}
		r.hostilityLevel.WithLabelValues(l).Set(v)
	}
}

// RecordOutputSent records an output written to a backend.
func (r *Recorder) RecordOutputSent(backend string) {
	r.outputsSent.WithLabelValues(backend).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
