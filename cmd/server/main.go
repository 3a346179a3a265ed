// Package main is the entry point for the spike raster server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spikeraster/server/internal/api"
	"github.com/spikeraster/server/internal/cache"
	"github.com/spikeraster/server/internal/config"
	"github.com/spikeraster/server/internal/render"
	"github.com/spikeraster/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting spike raster server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		QueryCacheSize:   1000,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize frame renderer (shared across all datasets)
	frameRenderer := render.NewFrameRenderer(render.Config{
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		TickWidth: cfg.Render.TickWidth,
	})

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		svc, err := service.NewRasterService(service.RasterServiceConfig{
			DatasetID:      datasetID,
			Cache:          cacheManager,
			Renderer:       frameRenderer,
			FactorColormap: cfg.Render.FactorColormap,
			MemoSize:       cfg.Cache.SliceCacheSize,
			MaxSessions:    cfg.Cache.MaxSessions,
		})
		if err != nil {
			log.Fatalf("Failed to initialize raster service for dataset %q: %v", datasetID, err)
		}
		registry.Register(datasetID, svc, api.DatasetSource{Path: ds.Path, Format: ds.Format})
		log.Printf("  [%s] Source: %s (format=%q)", datasetID, ds.Path, ds.Format)
	}

	// Initialize load manager (SQLite persistence)
	loadManager, err := api.NewLoadManager(api.LoadManagerConfig{
		Registry:      registry,
		MaxConcurrent: cfg.Loader.MaxConcurrent,
		SQLitePath:    cfg.Loader.SQLitePath,
		RetentionDays: cfg.Loader.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
		MaxBytes:      int64(cfg.Loader.MaxBytesMB) << 20,
	})
	if err != nil {
		log.Fatalf("Failed to initialize load manager: %v", err)
	}
	log.Printf("Load manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Loader.MaxConcurrent, cfg.Loader.RetentionDays, cfg.Loader.SQLitePath)

	loadManager.Start()
	defer loadManager.Stop()

	// Datasets load in the background; frames report "Loading..." until then.
	for _, datasetID := range datasetIDs {
		if _, err := loadManager.SubmitDataset(datasetID); err != nil {
			log.Printf("  [%s] Failed to submit initial load: %v", datasetID, err)
		}
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		LoadManager: loadManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
