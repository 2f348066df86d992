package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
)

func TestDrainRunnerRunsInitialPassAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	var scans atomic.Int32
	fx := newDrainerFixture(t, 50, true)
	fx.queue.dueFn = func(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
		scans.Add(1)
		return nil, nil
	}

	runner, err := NewDrainRunner(fx.drainer, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewDrainRunner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for scans.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial drain pass never ran")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	if scans.Load() != 1 {
		t.Fatalf("scans = %d, want 1 (interval is an hour)", scans.Load())
	}
}

func TestNewDrainRunnerRequiresDrainer(t *testing.T) {
	t.Parallel()

	if _, err := NewDrainRunner(nil, time.Minute, nil); err == nil {
		t.Fatal("expected error for nil drainer")
	}
}
