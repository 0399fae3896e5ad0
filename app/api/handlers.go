package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/config"
	"github.com/kpotapov/newsline/app/query"
	"github.com/kpotapov/newsline/app/syncer"
	"github.com/kpotapov/newsline/app/tasks"
)

func NewHandler(registry *config.Registry, engines map[string]*syncer.Engine,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		registry:  registry,
		engines:   engines,
		scheduler: scheduler,
		startedAt: time.Now(),
	}
}

func (h *Handler) engineFor(c *gin.Context) (*syncer.Engine, string, bool) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed name parameter"})
		return nil, "", false
	}

	engine, ok := h.engines[name]
	if !ok {
		slog.Error("Feed not found", "feed", name)
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, "", false
	}

	return engine, name, true
}

func (h *Handler) GetItems(c *gin.Context) {
	engine, name, ok := h.engineFor(c)
	if !ok {
		return
	}

	q := c.Query("q")
	items := engine.Filter(q)

	orderParam := c.Query("order")
	if orderParam != "" {
		order, err := query.ParseOrder(orderParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		items = engine.Sort(order)
	}

	c.JSON(http.StatusOK, gin.H{
		"feed":  name,
		"query": q,
		"order": orderParam,
		"count": len(items),
		"items": toItemResponses(items),
	})
}

func (h *Handler) ListFeeds(c *gin.Context) {
	feedConfigs := h.registry.GetFeeds()

	feeds := make([]map[string]interface{}, 0, len(feedConfigs))

	for name, feedConfig := range feedConfigs {
		feedInfo := map[string]interface{}{
			"name":          name,
			"url":           feedConfig.URL,
			"enabled":       feedConfig.Settings.Enabled,
			"page_size":     feedConfig.Settings.PageSize,
			"sync_interval": feedConfig.Settings.GetSyncInterval().String(),
		}

		if engine, ok := h.engines[name]; ok {
			feedInfo["item_count"] = len(engine.Items())
			if lastSyncedAt := engine.LastSyncedAt(); !lastSyncedAt.IsZero() {
				feedInfo["last_synced_at"] = lastSyncedAt.Format(time.RFC3339)
			}
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) SyncFeed(c *gin.Context) {
	engine, name, ok := h.engineFor(c)
	if !ok {
		return
	}

	if c.Query("async") == "true" {
		task := tasks.NewSyncFeedTask(name, engine)
		if err := h.scheduler.EnqueueTask(task); err != nil {
			slog.Error("Failed to enqueue synchronization task", "feed", name, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue synchronization"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"feed": name, "task_id": task.GetID(), "queued": true})
		return
	}

	var (
		result *syncer.Result
		err    error
	)

	if c.Query("force") == "true" {
		result, err = engine.ForceRefresh(c.Request.Context())
	} else {
		result, err = engine.Synchronize(c.Request.Context())
	}

	if err != nil {
		slog.Error("Synchronization failed", "feed", name, "error", err)
		c.JSON(syncErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	response := gin.H{
		"feed":       name,
		"item_count": result.ItemCount,
		"from_cache": result.FromCache,
		"duration":   result.Duration.String(),
	}
	if result.Warning != nil {
		response["warning"] = result.Warning.Error()
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) ResetFeedCache(c *gin.Context) {
	engine, name, ok := h.engineFor(c)
	if !ok {
		return
	}

	if err := engine.ResetCache(); err != nil {
		slog.Error("Cache reset failed", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset cache"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feed": name, "reset": true})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).String(),
		"feeds":     h.registry.GetFeedCount(),
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := make(map[string]interface{}, len(h.engines))

	for name, engine := range h.engines {
		feedStats := map[string]interface{}{
			"items":   len(engine.Items()),
			"visible": len(engine.VisibleItems()),
		}
		if lastSyncedAt := engine.LastSyncedAt(); !lastSyncedAt.IsZero() {
			feedStats["last_synced_at"] = lastSyncedAt.Format(time.RFC3339)
		}
		stats[name] = feedStats
	}

	c.JSON(http.StatusOK, gin.H{"feeds": stats})
}

// syncErrorStatus maps engine error kinds onto HTTP statuses: upstream
// failures become 502, cancellation 499 (client closed request).
func syncErrorStatus(err error) int {
	var (
		transportErr *client.TransportError
		decodeErr    *client.DecodeError
		apiErr       *client.APIError
	)

	switch {
	case errors.As(err, &transportErr), errors.As(err, &decodeErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
