package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lancachetools/cacheops/internal/events"
	"github.com/lancachetools/cacheops/internal/ops"
)

// PrometheusSink exports operation lifecycle metrics. It owns all collectors
// for started/completed/running operations plus the cache reclamation
// counters fed by game-removal metadata.
type PrometheusSink struct {
	opsStarted   *prometheus.CounterVec
	opsCompleted *prometheus.CounterVec
	opsRunning   prometheus.Gauge
	opDuration   *prometheus.HistogramVec

	cacheFilesDeleted prometheus.Counter
	cacheBytesFreed   prometheus.Counter

	tracker *runningTracker
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		opsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cacheops_operations_started_total",
			Help: "Background operations started, partitioned by kind.",
		}, []string{"kind"}),
		opsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cacheops_operations_completed_total",
			Help: "Background operations finished, partitioned by kind and result.",
		}, []string{"kind", "result"}),
		opsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cacheops_operations_running",
			Help: "Current number of running background operations.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cacheops_operation_duration_seconds",
			Help:    "Wall time per completed operation.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind", "result"}),
		cacheFilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheops_cache_files_deleted_total",
			Help: "Cache files removed by game-removal operations.",
		}),
		cacheBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheops_cache_bytes_freed_total",
			Help: "Cache bytes reclaimed by game-removal operations.",
		}),
		tracker: newRunningTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.opsStarted,
		s.opsCompleted,
		s.opsRunning,
		s.opDuration,
		s.cacheFilesDeleted,
		s.cacheBytesFreed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register operation collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Type {
		case events.TypeStarted:
			s.handleStarted(evt)
		case events.TypeCompleted:
			s.handleCompleted(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleStarted(evt events.Event) {
	s.opsStarted.WithLabelValues(string(evt.Kind)).Inc()
	if s.tracker.start(evt.OperationID) {
		s.opsRunning.Inc()
	}
}

func (s *PrometheusSink) handleCompleted(evt events.Event) {
	result := "failure"
	if evt.Success != nil && *evt.Success {
		result = "success"
	}
	s.opsCompleted.WithLabelValues(string(evt.Kind), result).Inc()
	if started, ok := s.tracker.complete(evt.OperationID); ok {
		s.opsRunning.Dec()
		s.opDuration.WithLabelValues(string(evt.Kind), result).Observe(evt.TS.Sub(started).Seconds())
	}
	if md, ok := evt.Metadata.(*ops.GameRemovalMetadata); ok {
		if md.FilesDeleted > 0 {
			s.cacheFilesDeleted.Add(float64(md.FilesDeleted))
		}
		if md.BytesFreed > 0 {
			s.cacheBytesFreed.Add(float64(md.BytesFreed))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runningTracker deduplicates started/completed pairs so the running gauge
// survives replayed or dropped events.
type runningTracker struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newRunningTracker() *runningTracker {
	return &runningTracker{started: make(map[string]time.Time)}
}

func (t *runningTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.started[id]; ok {
		return false
	}
	t.started[id] = time.Now()
	return true
}

func (t *runningTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.started[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.started, id)
	return at, true
}
