package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTask_RetryAccounting(t *testing.T) {
	task := NewTask(TaskTypeSyncFeed, "news")

	if task.GetRetryCount() != 0 {
		t.Errorf("Expected retry count 0, got %d", task.GetRetryCount())
	}
	if !task.CanRetry() {
		t.Error("A fresh task must be retryable")
	}

	for i := 0; i < DefaultMaxRetries; i++ {
		task.IncrementRetryCount()
	}

	if task.GetRetryCount() != DefaultMaxRetries {
		t.Errorf("Expected retry count %d, got %d", DefaultMaxRetries, task.GetRetryCount())
	}
	if task.CanRetry() {
		t.Error("A task at max retries must not be retryable")
	}
}

func TestTask_Duration(t *testing.T) {
	task := NewTask(TaskTypeSyncFeed, "news")

	if task.GetDuration() != 0 {
		t.Errorf("Unstarted task must report zero duration, got %v", task.GetDuration())
	}

	task.Start()
	time.Sleep(time.Millisecond)

	if task.GetDuration() <= 0 {
		t.Errorf("Started task must report elapsed duration, got %v", task.GetDuration())
	}
}

func TestNewTask_UniqueIDs(t *testing.T) {
	a := NewTask(TaskTypeSyncFeed, "news")
	b := NewTask(TaskTypeSyncFeed, "news")

	if a.ID == b.ID {
		t.Errorf("Expected distinct task IDs, both were %s", a.ID)
	}
	if a.GetFeedName() != "news" || a.GetType() != TaskTypeSyncFeed {
		t.Errorf("Task fields wrong: %+v", a)
	}
}

type failingTask struct {
	Task
}

func (t *failingTask) Execute(ctx context.Context) error {
	return errors.New("boom")
}

func TestScheduler_NoRetryEnqueueAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:        ctx,
		cancel:     cancel,
		taskQueue:  make(chan TaskInterface, 1),
		nextSyncAt: make(map[string]time.Time),
	}

	s.Stop()

	task := &failingTask{Task: NewTask(TaskTypeSyncFeed, "news")}
	s.executeTask(0, task)

	// The retry goroutine sees the cancelled context before its delay
	// elapses and must drop the task instead of touching the queue.
	time.Sleep(100 * time.Millisecond)
	if len(s.taskQueue) != 0 {
		t.Errorf("Expected no retry enqueued after stop, found %d queued tasks", len(s.taskQueue))
	}
}
