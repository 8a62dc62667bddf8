// Package metrics exports run and step outcomes as Prometheus metrics,
// written to a node_exporter textfile after each run.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/provision/internal/domain/execution"
)

const namespace = "provision"

// Recorder counts lifecycle transitions as they happen and step outcomes
// once a run has finished. Each Recorder owns its registry.
type Recorder struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	lastRun      *prometheus.GaugeVec
	lastExit     *prometheus.GaugeVec

	mu       sync.Mutex
	applying map[string]time.Time
}

// NewRecorder creates a Recorder with its metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "transitions_total",
				Help:      "Step lifecycle transitions by target state",
			},
			[]string{"state"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "outcomes_total",
				Help:      "Final step outcomes by step and status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "apply_duration_seconds",
				Help:      "Duration of step applies in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"step"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "total",
				Help:      "Runs by result",
			},
			[]string{"result"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "last_finished_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
			[]string{"host"},
		),
		lastExit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "last_exit_code",
				Help:      "Exit code of the last run",
			},
			[]string{"host"},
		),
		applying: make(map[string]time.Time),
	}
	r.registry.MustRegister(r.transitions, r.outcomes, r.stepDuration, r.runs, r.lastRun, r.lastExit)
	return r
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements execution.Observer.
func (r *Recorder) Observe(e execution.Event) {
	r.transitions.WithLabelValues(string(e.State)).Inc()

	step := e.StepID.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.State {
	case execution.StateApplying:
		r.applying[step] = e.At
	case execution.StateApplied, execution.StateFailed:
		if started, ok := r.applying[step]; ok {
			r.stepDuration.WithLabelValues(step).Observe(e.At.Sub(started).Seconds())
			delete(r.applying, step)
		}
	}
}

// Record counts the outcomes of a finished run.
func (r *Recorder) Record(host string, result *execution.PlanResult) {
	for _, res := range result.Results() {
		r.outcomes.WithLabelValues(res.StepID().String(), res.Status().String()).Inc()
	}
	outcome := "success"
	switch {
	case result.Aborted():
		outcome = "aborted"
	case !result.Success():
		outcome = "failure"
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.lastRun.WithLabelValues(host).Set(float64(result.FinishedAt().Unix()))
	r.lastExit.WithLabelValues(host).Set(float64(result.ExitCode()))
}

// WriteTextfile atomically writes the metrics in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

var _ execution.Observer = (*Recorder)(nil)
