package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sami/medbank/internal/ai"
	"github.com/sami/medbank/internal/config"
	"github.com/sami/medbank/internal/domain"
	"github.com/sami/medbank/internal/importer"
	"github.com/sami/medbank/internal/logger"
	"github.com/sami/medbank/internal/media"
	"github.com/sami/medbank/internal/repository"
	"github.com/sami/medbank/internal/session"
	"github.com/sami/medbank/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "medbank-importer",
	})
	logger.SetDefault(appLogger)

	// Parse command line flags
	filePath := flag.String("file", "", "Path to the workbook to import (required)")
	aiCorrection := flag.Bool("ai", false, "Send blank-answer MCQs to the completion service")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read workbook")
	}

	appLogger.WithFields(logger.Fields{
		"file": *filePath,
		"size": len(data),
		"ai":   *aiCorrection,
	}).Info("Starting import")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	taxonomyRepo := repository.NewTaxonomyRepository(db)
	caseRepo := repository.NewClinicalCaseRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		rehoster = media.NewRehoster(objectStorage)
	}

	// Initialize AI correction pipeline
	orchestrator := ai.NewOrchestrator(ai.NewClient(&ai.ClientConfig{
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
		MaxRetries:  cfg.AI.MaxRetries,
	}))

	// The session store still carries progress and cancellation for the
	// synchronous run.
	sessions := session.NewStore(session.Options{
		Retention:     cfg.Import.SessionRetention,
		SweepInterval: cfg.Import.SweepInterval,
		MaxLogLines:   cfg.Import.MaxLogLines,
	})
	defer sessions.Stop()

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

	sessionID := sessions.Create()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, cancelling import...")
		sessions.Cancel(sessionID)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		importService.Run(ctx, sessionID, data, importer.Options{
			AICorrection: *aiCorrection,
		})
	}()

	// Print progress until the run is terminal.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for running := true; running; {
		select {
		case <-done:
			running = false
		case <-ticker.C:
			if snap, ok := sessions.Get(sessionID); ok {
				fmt.Printf("\r%3d%% %s", snap.Progress, snap.Message)
			}
		}
	}
	fmt.Println()

	snap, ok := sessions.Get(sessionID)
	if !ok {
		appLogger.Fatal("Import session vanished")
	}

	appLogger.WithFields(logger.Fields{
		"total":    snap.Stats.Total,
		"imported": snap.Stats.Imported,
		"failed":   snap.Stats.Failed,
		"images":   snap.Stats.QuestionsWithImages,
	}).Info("Import completed")

	for _, msg := range snap.Stats.Errors {
		fmt.Fprintln(os.Stderr, "row error:", msg)
	}
	if snap.Cancelled {
		os.Exit(130)
	}
	if snap.Phase == domain.PhaseComplete && snap.Stats.Failed > 0 {
		os.Exit(1)
	}
}
