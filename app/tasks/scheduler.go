package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kpotapov/newsline/app/cfg"
	"github.com/kpotapov/newsline/app/config"
	"github.com/kpotapov/newsline/app/syncer"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler runs a worker pool over a task queue and periodically enqueues
// a synchronization task for every enabled feed whose interval has elapsed.
// The engine's single-flight guard makes overlap with on-demand API syncs
// harmless.
type Scheduler struct {
	registry    *config.Registry
	engines     map[string]*syncer.Engine
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	// nextSyncAt is only touched from the ticker goroutine.
	nextSyncAt map[string]time.Time
}

func NewScheduler(registry *config.Registry, engines map[string]*syncer.Engine) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		registry:    registry,
		engines:     engines,
		interval:    time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount: cfg.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 100),
		nextSyncAt:  make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueDueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueDueTasks()
			}
		}
	}()
}

// Stop cancels the scheduler context and waits for the workers and the
// ticker goroutine. The task queue is never closed: detached retry
// goroutines may still hold a reference to it after shutdown.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueDueTasks() {
	feeds := s.registry.GetEnabledFeeds()
	if len(feeds) == 0 {
		slog.Debug("No enabled feeds configured")
		return
	}

	now := time.Now()

	for name, feed := range feeds {
		if next, ok := s.nextSyncAt[name]; ok && next.After(now) {
			slog.Debug("Feed not due for synchronization yet", "feed", name, "next_sync_at", next)
			continue
		}

		engine, ok := s.engines[name]
		if !ok {
			slog.Warn("No engine for configured feed, skipping", "feed", name)
			continue
		}

		task := NewSyncFeedTask(name, engine)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue SyncFeedTask", "feed", name, "error", err)
			continue
		}

		s.nextSyncAt[name] = now.Add(feed.Settings.GetSyncInterval())
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	go func() {
		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		case <-time.After(retryDelay):
		}

		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}
