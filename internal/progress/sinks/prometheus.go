package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/lexcrawl/internal/progress"
)

// PrometheusSink exports crawl run progress via Prometheus.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pages           *prometheus.CounterVec
	locatorsFound   *prometheus.CounterVec
	locatorsPending *prometheus.CounterVec
	locatorOutcomes *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_runs_started_total",
			Help: "Crawl runs that have started.",
		}, []string{"source"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_runs_completed_total",
			Help: "Crawl runs completed partitioned by stop reason.",
		}, []string{"source", "reason"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lexcrawl_progress_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lexcrawl_progress_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"source"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_pages_total",
			Help: "Listing pages filtered per source.",
		}, []string{"source"}),
		locatorsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_locators_found_total",
			Help: "Locators discovered on listing pages.",
		}, []string{"source"}),
		locatorsPending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_locators_pending_total",
			Help: "Locators that survived the existence filter.",
		}, []string{"source"}),
		locatorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexcrawl_progress_locator_outcomes_total",
			Help: "Dispatched locators partitioned by outcome.",
		}, []string{"source", "outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.pages,
		s.locatorsFound,
		s.locatorsPending,
		s.locatorOutcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(evt.Source).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone, progress.StageRunError:
		s.runsCompleted.WithLabelValues(evt.Source, evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(evt.Source).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case progress.StagePage:
		s.pages.WithLabelValues(evt.Source).Inc()
		s.locatorsFound.WithLabelValues(evt.Source).Add(float64(evt.Found))
		s.locatorsPending.WithLabelValues(evt.Source).Add(float64(evt.Pending))
	case progress.StageLocator:
		s.locatorOutcomes.WithLabelValues(evt.Source, evt.Outcome).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
