package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// PrometheusSink exports run progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-type event counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge

	events  *prometheus.CounterVec
	records *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhunt_progress_runs_started_total",
			Help: "Total runs whose first progress event was observed.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhunt_progress_runs_completed_total",
			Help: "Total runs completed partitioned by terminal status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobhunt_progress_runs_running",
			Help: "Current number of runs streaming progress.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhunt_progress_events_total",
			Help: "Progress events partitioned by type and tag.",
		}, []string{"type", "tag"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhunt_progress_records_total",
			Help: "Record events partitioned by site and dedup status.",
		}, []string{"site", "dedup"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.events,
		s.records,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Type), string(evt.Tag)).Inc()
	if s.tracker.start(evt.RunID) {
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	}
	switch evt.Type {
	case progress.TypeRecord:
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.records.WithLabelValues(site, evt.Record.Dedup.String()).Inc()
	case progress.TypeTerminal:
		s.runsCompleted.WithLabelValues(evt.Status).Inc()
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.TypeProgress, progress.TypeFailure, progress.TypeDownload:
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker remembers which runs are live. Completed runs stay recorded so
// late events do not count a run twice.
type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]bool
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]bool)}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = true
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running[id] {
		return false
	}
	t.running[id] = false
	return true
}
