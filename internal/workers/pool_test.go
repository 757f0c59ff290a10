package workers_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/helios-quant/retrainer/internal/workers"
	"go.uber.org/zap"
)

func testPool(queueSize int) *workers.Pool {
	return workers.NewPool(zap.NewNop(), &workers.PoolConfig{
		Name:            "test",
		NumWorkers:      2,
		QueueSize:       queueSize,
		ShutdownTimeout: 5 * time.Second,
	})
}

func TestPoolExecutesTasks(t *testing.T) {
	pool := testPool(16)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.SubmitFunc(func() error {
			defer wg.Done()
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	wg.Wait()
	if done != 10 {
		t.Errorf("Expected 10 executed tasks, got %d", done)
	}

	stats := pool.Stats()
	if stats.TasksSubmitted != 10 {
		t.Errorf("TasksSubmitted = %d", stats.TasksSubmitted)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := testPool(16)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	pool.SubmitFunc(func() error {
		defer wg.Done()
		panic("bad task")
	})
	pool.SubmitFunc(func() error {
		defer wg.Done()
		return nil
	})

	wg.Wait()
	// Stats are updated after the task body returns; give the worker a beat.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().PanicsRecovered == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Panic not recovered: %+v", pool.Stats())
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	pool := testPool(16)

	if err := pool.SubmitFunc(func() error { return nil }); err != workers.ErrPoolStopped {
		t.Errorf("Unstarted pool should reject tasks, got %v", err)
	}

	pool.Start()
	pool.Stop()

	if err := pool.SubmitFunc(func() error { return nil }); err != workers.ErrPoolStopped {
		t.Errorf("Stopped pool should reject tasks, got %v", err)
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	pool := testPool(1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy both workers plus the single queue slot.
	for i := 0; i < 3; i++ {
		pool.SubmitFunc(func() error {
			<-block
			return nil
		})
	}

	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := pool.SubmitFunc(func() error { return nil }); err == workers.ErrQueueFull {
			sawFull = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawFull {
		t.Error("Expected ErrQueueFull once workers and queue are saturated")
	}
}

func TestTaskFuncError(t *testing.T) {
	task := workers.TaskFunc(func() error { return fmt.Errorf("boom") })
	if err := task.Execute(); err == nil {
		t.Error("TaskFunc must pass through errors")
	}
}
