// Package telemetry exposes seed-selection progress as Prometheus metrics.
// A Collector plugs into the IMM engine and the CELF selector as their
// observer and into the experiment runner for per-solver timings.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the service
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Sampling metrics
	SamplesGenerated prometheus.Counter
	SampleSize       prometheus.Histogram
	Epochs           prometheus.Counter

	// Selection metrics
	Selections       prometheus.Counter
	SelectedSeeds    prometheus.Histogram
	CoverageFraction prometheus.Gauge

	// CELF metrics
	SpreadEvaluations *prometheus.CounterVec
	SeedsAccepted     prometheus.Counter

	// Experiment metrics
	SolverDuration *prometheus.HistogramVec
	SolverSpread   *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry; metric names are
// prefixed with namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		SamplesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rr_samples_generated_total",
			Help:      "Total number of reverse-reachable samples generated",
		}),
		SampleSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rr_sample_size",
			Help:      "Number of nodes in generated reverse-reachable samples",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_epochs_total",
			Help:      "Total number of doubling epochs run by the sample-size controller",
		}),
		Selections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of completed seed selections",
		}),
		SelectedSeeds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selected_seeds",
			Help:      "Number of seeds returned per selection",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
		CoverageFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coverage_fraction",
			Help:      "Fraction of RR samples covered by the most recent selection",
		}),
		SpreadEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "celf_spread_evaluations_total",
			Help:      "Total number of CELF spread evaluations",
		}, []string{"source"}),
		SeedsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "celf_seeds_accepted_total",
			Help:      "Total number of seeds accepted by CELF",
		}),
		SolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_duration_seconds",
			Help:      "Solver wall time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"solver"}),
		SolverSpread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solver_spread",
			Help:      "Simulated spread of the most recent seed set per solver",
		}, []string{"solver"}),
	}

	registry.MustRegister(
		c.SamplesGenerated,
		c.SampleSize,
		c.Epochs,
		c.Selections,
		c.SelectedSeeds,
		c.CoverageFraction,
		c.SpreadEvaluations,
		c.SeedsAccepted,
		c.SolverDuration,
		c.SolverSpread,
	)

	return c
}

// Registry returns the registry holding this collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SampleGenerated records one RR sample.
func (c *Collector) SampleGenerated(size int) {
	c.SamplesGenerated.Inc()
	c.SampleSize.Observe(float64(size))
}

// EpochCompleted records one controller epoch.
func (c *Collector) EpochCompleted(_, _ int, coverage float64) {
	c.Epochs.Inc()
	c.CoverageFraction.Set(coverage)
}

// SelectionCompleted records a final greedy pass.
func (c *Collector) SelectionCompleted(seeds int, coverage float64) {
	c.Selections.Inc()
	c.SelectedSeeds.Observe(float64(seeds))
	c.CoverageFraction.Set(coverage)
}

// SpreadEvaluated records one CELF gain query.
func (c *Collector) SpreadEvaluated(cached bool) {
	source := "simulated"
	if cached {
		source = "cached"
	}
	c.SpreadEvaluations.WithLabelValues(source).Inc()
}

// SeedAccepted records one CELF acceptance.
func (c *Collector) SeedAccepted(int, float64) {
	c.SeedsAccepted.Inc()
}

// SolverFinished records one solver run of an experiment.
func (c *Collector) SolverFinished(solver string, elapsed time.Duration, spread float64) {
	c.SolverDuration.WithLabelValues(solver).Observe(elapsed.Seconds())
	c.SolverSpread.WithLabelValues(solver).Set(spread)
}

// Snapshot flattens the current metric values: counters and gauges by
// value, histograms by sample count. Labelled series are keyed as
// name{value}.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				key += "{" + labels[0].GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
