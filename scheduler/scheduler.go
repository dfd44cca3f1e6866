// Package scheduler runs the periodic scan loops that feed the dashboard's
// caches. Every data source gets its own Scheduler instance: a fetch function
// invoked on a fixed interval, optionally also triggered by event-stream
// messages, with concurrent triggers coalesced so at most two scans are ever
// pending (one running, one queued).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/health"
	"github.com/apache/infrastructure-reporting-dashboard/metric"
)

// ScanFunc fetches from an upstream source and publishes the result into the
// owning aggregator's cache. It must build its result privately and swap it in
// whole, so readers never observe a partial aggregate.
type ScanFunc func(ctx context.Context) error

// Scheduler drives one scan loop.
type Scheduler struct {
	name     string
	interval time.Duration
	scan     ScanFunc

	// pending holds the single queued slot. The running scan occupies the
	// loop itself, so one running plus one queued is the hard cap; extra
	// triggers are dropped.
	pending chan struct{}

	logger  *slog.Logger
	metrics *metric.ScanMetrics
	monitor *health.Monitor
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records scan counts, errors and durations.
func WithMetrics(metrics *metric.ScanMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithHealthMonitor reports scan outcomes to the monitor.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Scheduler) {
		s.monitor = monitor
	}
}

// New creates a scheduler that runs scan every interval.
func New(name string, interval time.Duration, scan ScanFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     name,
		interval: interval,
		scan:     scan,
		pending:  make(chan struct{}, 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger requests an extra scan. It never blocks: if one scan is running and
// another is already queued, the trigger is dropped.
func (s *Scheduler) Trigger() bool {
	select {
	case s.pending <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes the scan loop until ctx is cancelled. An initial scan is
// queued immediately, then one per interval plus any external triggers.
// Scan failures are logged and the loop continues; one scanner's failure
// never affects another's.
func (s *Scheduler) Run(ctx context.Context) {
	s.Trigger()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger()
		case <-s.pending:
			s.runScan(ctx)
		}
	}
}

// Consume forwards events as triggers until the channel closes or ctx is
// cancelled. The caller wires this to a pubsub subscription.
func (s *Scheduler) Consume(ctx context.Context, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			s.Trigger()
		}
	}
}

// runScan executes one scan with panic isolation and bookkeeping.
func (s *Scheduler) runScan(ctx context.Context) {
	start := time.Now()
	err := s.safeScan(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.Total.WithLabelValues(s.name).Inc()
		s.metrics.Duration.WithLabelValues(s.name).Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.Errors.WithLabelValues(s.name).Inc()
		}
	}

	if err != nil {
		// Stale cache keeps serving; the next interval retries.
		s.logger.Warn("Scan failed", "scanner", s.name, "duration", elapsed, "error", err)
		if s.monitor != nil {
			s.monitor.UpdateUnhealthy(s.name, err.Error())
		}
		return
	}

	s.logger.Debug("Scan completed", "scanner", s.name, "duration", elapsed)
	if s.monitor != nil {
		s.monitor.UpdateHealthy(s.name, fmt.Sprintf("scan completed in %s", elapsed.Round(time.Millisecond)))
	}
}

// safeScan runs the scan function, converting panics to errors so a broken
// scanner cannot take down the process.
func (s *Scheduler) safeScan(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("scan panicked: %v\n%s", r, buf[:n])
		}
	}()
	return s.scan(ctx)
}
