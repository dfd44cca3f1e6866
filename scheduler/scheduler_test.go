package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/health"
)

func TestRunFiresInitialAndIntervalScans(t *testing.T) {
	var scans atomic.Int32
	s := New("test", 20*time.Millisecond, func(context.Context) error {
		scans.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// Initial scan plus several interval ticks
	count := scans.Load()
	assert.GreaterOrEqual(t, count, int32(3))
}

func TestTriggerCoalescing(t *testing.T) {
	s := New("test", time.Hour, func(context.Context) error { return nil })

	// One queued slot; extra triggers drop
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
	assert.False(t, s.Trigger())
}

func TestTriggerCapWhileScanRunning(t *testing.T) {
	var scans atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s := New("test", time.Hour, func(context.Context) error {
		scans.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The initial scan is now in flight, blocking the loop
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("initial scan never started")
	}

	// While it runs, exactly one trigger may queue behind it
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
	assert.False(t, s.Trigger())

	release <- struct{}{}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("queued scan never ran")
	}
	release <- struct{}{}

	assert.Eventually(t, func() bool {
		return scans.Load() == 2
	}, time.Second, 10*time.Millisecond, "one running plus one queued is the cap")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), scans.Load(), "dropped triggers must not run later")
}

func TestTriggeredScansRun(t *testing.T) {
	var scans atomic.Int32
	started := make(chan struct{}, 8)
	s := New("test", time.Hour, func(context.Context) error {
		scans.Add(1)
		started <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Initial scan
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("initial scan never ran")
	}

	s.Trigger()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("triggered scan never ran")
	}
	assert.Equal(t, int32(2), scans.Load())
}

func TestScanErrorDoesNotStopLoop(t *testing.T) {
	var scans atomic.Int32
	monitor := health.NewMonitor()
	s := New("flaky", 15*time.Millisecond, func(context.Context) error {
		if scans.Add(1) == 1 {
			return errors.New("backend unavailable")
		}
		return nil
	}, WithHealthMonitor(monitor))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, scans.Load(), int32(2), "loop should continue after a failed scan")
	status, ok := monitor.Get("flaky")
	require.True(t, ok)
	assert.True(t, status.IsHealthy(), "later success should mark the scanner healthy again")
}

func TestScanPanicIsIsolated(t *testing.T) {
	var scans atomic.Int32
	monitor := health.NewMonitor()
	s := New("panicky", 15*time.Millisecond, func(context.Context) error {
		if scans.Add(1) == 1 {
			panic("upstream sent garbage")
		}
		return nil
	}, WithHealthMonitor(monitor))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NotPanics(t, func() { s.Run(ctx) })
	assert.GreaterOrEqual(t, scans.Load(), int32(2))
}

func TestConsumeForwardsEvents(t *testing.T) {
	var scans atomic.Int32
	s := New("test", time.Hour, func(context.Context) error {
		scans.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	events := make(chan struct{})
	go s.Consume(ctx, events)

	events <- struct{}{}
	close(events)

	assert.Eventually(t, func() bool {
		return scans.Load() >= 2 // initial + event-triggered
	}, time.Second, 10*time.Millisecond)
}
