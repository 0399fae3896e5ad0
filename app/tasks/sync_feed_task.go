package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kpotapov/newsline/app/syncer"
)

type SyncFeedTask struct {
	Task
	engine *syncer.Engine
}

func NewSyncFeedTask(feedName string, engine *syncer.Engine) *SyncFeedTask {
	return &SyncFeedTask{
		Task:   NewTask(TaskTypeSyncFeed, feedName),
		engine: engine,
	}
}

func (t *SyncFeedTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.engine.Synchronize(ctx)
	if err != nil {
		return fmt.Errorf("failed to synchronize feed: %w", err)
	}

	if result.Warning != nil {
		slog.Warn("Task completed with warning",
			"type", "SyncFeed",
			"feed", t.FeedName,
			"warning", result.Warning)
	}

	slog.Info("Task completed",
		"type", "SyncFeed",
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"items", result.ItemCount,
		"from_cache", result.FromCache)

	return nil
}
