package api

import (
	"time"

	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/config"
	"github.com/kpotapov/newsline/app/syncer"
	"github.com/kpotapov/newsline/app/tasks"
)

type Handler struct {
	registry  *config.Registry
	engines   map[string]*syncer.Engine
	scheduler tasks.TaskSchedulerInterface
	startedAt time.Time
}

// itemResponse is the JSON shape of one item; the published date keeps the
// remote API's date-only precision.
type itemResponse struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Summary     string `json:"summary,omitempty"`
}

func toItemResponses(items []client.Item) []itemResponse {
	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, itemResponse{
			ID:          item.ID,
			Title:       item.Title,
			URL:         item.URL,
			PublishedAt: item.PublishedAt.Format(client.DateFormat),
			Summary:     item.Summary,
		})
	}
	return responses
}
