package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	// Read-only endpoints
	r.GET("/feeds", handler.ListFeeds)
	r.GET("/feeds/:name/items", handler.GetItems)

	// Health and status endpoints
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	// Mutating endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.POST("/feeds/:name/sync", handler.SyncFeed)
			api.DELETE("/feeds/:name/cache", handler.ResetFeedCache)
		}
		log.Printf("Mutating endpoints enabled with authentication")
	} else {
		r.POST("/feeds/:name/sync", handler.SyncFeed)
		r.DELETE("/feeds/:name/cache", handler.ResetFeedCache)
		log.Printf("Mutating endpoints enabled without authentication (API_ACCESS_KEY not set)")
	}

	// Root endpoint with basic information
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"service":     "Newsline",
			"description": "Local mirror of remote paginated news feeds",
			"endpoints": map[string]string{
				"feeds":  "/feeds",
				"items":  "/feeds/<name>/items?q=<query>&order=<asc|desc>",
				"sync":   "/feeds/<name>/sync (POST, ?force=true to bypass cache)",
				"reset":  "/feeds/<name>/cache (DELETE)",
				"health": "/health",
				"stats":  "/stats",
			},
		})
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != apiAccessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}
		c.Next()
	}
}
