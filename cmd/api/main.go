package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sami/medbank/internal/ai"
	"github.com/sami/medbank/internal/api"
	"github.com/sami/medbank/internal/api/handler"
	"github.com/sami/medbank/internal/config"
	"github.com/sami/medbank/internal/importer"
	"github.com/sami/medbank/internal/logger"
	"github.com/sami/medbank/internal/media"
	"github.com/sami/medbank/internal/repository"
	"github.com/sami/medbank/internal/session"
	"github.com/sami/medbank/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "medbank",
		LogFile:     cfg.Log.File,
	})
	logger.SetDefault(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	taxonomyRepo := repository.NewTaxonomyRepository(db)
	caseRepo := repository.NewClinicalCaseRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	// Initialize media rehosting when object storage is configured
	var rehoster *media.Rehoster
	if cfg.Storage.Enabled {
		objectStorage, err := storage.New(&storage.S3Config{
			Type:      storage.StorageType(cfg.Storage.Type),
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.Fatalf("Failed to initialize storage: %v", err)
		}
		if err := objectStorage.EnsureBucket(context.Background()); err != nil {
			appLogger.Fatalf("Failed to ensure storage bucket: %v", err)
		}
		rehoster = media.NewRehoster(objectStorage)
		appLogger.Infof("Media rehosting enabled: bucket=%s", cfg.Storage.Bucket)
	}

	// Initialize AI correction pipeline
	completionClient := ai.NewClient(&ai.ClientConfig{
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
		MaxRetries:  cfg.AI.MaxRetries,
	})
	orchestrator := ai.NewOrchestrator(completionClient)

	// Initialize session store
	sessions := session.NewStore(session.Options{
		Retention:     cfg.Import.SessionRetention,
		SweepInterval: cfg.Import.SweepInterval,
		MaxLogLines:   cfg.Import.MaxLogLines,
	})
	defer sessions.Stop()

	// Initialize import service
	importService := importer.NewService(
		taxonomyRepo,
		caseRepo,
		questionRepo,
		sessions,
		rehoster,
		orchestrator,
		&importer.Config{
			AIBatchSize:   cfg.AI.BatchSize,
			AIConcurrency: cfg.AI.Concurrency,
		},
	)

	// Setup router
	router := api.SetupRouter(cfg, api.Dependencies{
		ImportHandler: handler.NewImportHandler(importService, sessions, cfg.Import.StreamInterval, cfg.Import.MaxUploadMB),
		AIHandler:     handler.NewAIHandler(orchestrator, cfg.AI.BatchSize, cfg.AI.Concurrency),
		Logger:        appLogger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.Infof("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}
