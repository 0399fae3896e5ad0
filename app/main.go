package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kpotapov/newsline/app/api"
	"github.com/kpotapov/newsline/app/cfg"
	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/config"
	"github.com/kpotapov/newsline/app/store"
	"github.com/kpotapov/newsline/app/syncer"
	"github.com/kpotapov/newsline/app/tasks"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	if appCfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	log.Printf("Starting Newsline %s...", appCfg.Version)

	// Local cache store
	log.Printf("Opening cache database at %s...", appCfg.DBPath)
	st, err := store.New(appCfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open cache store: %v", err)
	}
	defer st.Close()
	cacheRepo := store.NewCacheRepository(st)

	// Feed source configurations
	log.Printf("Loading feed configurations from %s...", appCfg.FeedsDir)
	registry := config.NewRegistry(appCfg.FeedsDir)
	if err := registry.Run(); err != nil {
		log.Fatalf("Failed to load feed configurations: %v", err)
	}
	log.Printf("Loaded %d feed configurations", registry.GetFeedCount())

	// One engine per configured feed
	httpClient := &http.Client{}
	engines := make(map[string]*syncer.Engine)
	for name, feed := range registry.GetFeeds() {
		feedClient := client.New(httpClient, feed.URL, appCfg.UserAgent, feed.Settings.GetTimeout())
		engines[name] = syncer.NewEngine(name, feedClient, cacheRepo,
			feed.Settings.PageSize, feed.Settings.MinCachedItems)
	}

	// Background scheduler
	log.Printf("Starting background scheduler with %d workers...", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(registry, engines)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	handler := api.NewHandler(registry, engines, scheduler)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on port %s", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("Newsline started successfully")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case err := <-serverErrChan:
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped")
	}

	log.Println("Shutdown complete")
}
