package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Execute(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig())

	inputs := []int{1, 2, 3, 4, 5}
	results := pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		return input * 2, nil
	})

	if len(results) != len(inputs) {
		t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Unexpected error for input %d: %v", inputs[i], r.Error)
		}
		if r.Input != inputs[i] || r.Result != inputs[i]*2 {
			t.Errorf("Result %d = %+v", i, r)
		}
	}
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithWorkers(3))

	var running, peak atomic.Int64
	inputs := make([]int, 30)
	pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return 0, nil
	})

	if peak.Load() > 3 {
		t.Errorf("Expected at most 3 concurrent tasks, saw %d", peak.Load())
	}
}

func TestWorkerPool_CancelledInputsCarryError(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())

	inputs := make([]int, 100)
	results := pool.ExecuteFunc(ctx, inputs, func(ctx context.Context, input int) (int, error) {
		cancel()
		return 1, nil
	})

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			if !errors.Is(r.Error, context.Canceled) {
				t.Errorf("Unexpected error: %v", r.Error)
			}
			failed++
		}
	}
	if failed == 0 {
		t.Error("Expected inputs skipped after cancel to report context.Canceled")
	}
}

func TestWorkerPool_Metrics(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithMetrics())

	inputs := []int{1, 2, 3, 4, 5}
	pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		if input == 3 {
			return 0, errors.New("boom")
		}
		return input * 2, nil
	})

	metrics := pool.Metrics()
	if metrics.TotalTasks != 5 {
		t.Errorf("Expected 5 total tasks, got %d", metrics.TotalTasks)
	}
	if metrics.CompletedTasks != 4 {
		t.Errorf("Expected 4 completed tasks, got %d", metrics.CompletedTasks)
	}
	if metrics.FailedTasks != 1 {
		t.Errorf("Expected 1 failed task, got %d", metrics.FailedTasks)
	}
}

func TestProgressTracker(t *testing.T) {
	var lastCompleted, lastTotal atomic.Int64

	tracker := NewProgressTracker(100, func(completed, total int64) {
		lastCompleted.Store(completed)
		lastTotal.Store(total)
	}, 5*time.Millisecond)

	tracker.Start(context.Background())
	for i := 0; i < 50; i++ {
		tracker.Increment()
	}

	deadline := time.Now().Add(time.Second)
	for lastCompleted.Load() != 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tracker.Stop()
	tracker.Stop()

	if lastCompleted.Load() != 50 {
		t.Errorf("Expected lastCompleted=50, got %d", lastCompleted.Load())
	}
	if lastTotal.Load() != 100 {
		t.Errorf("Expected lastTotal=100, got %d", lastTotal.Load())
	}
	if tracker.Completed() != 50 {
		t.Errorf("Expected Completed()=50, got %d", tracker.Completed())
	}
}

func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig())
	inputs := make([]int, 1000)
	for i := range inputs {
		inputs[i] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
			return input * 2, nil
		})
	}
}
