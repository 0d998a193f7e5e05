package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/speaker-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/speaker-transcription/internal/config"
	"github.com/codebuildervaibhav/speaker-transcription/internal/handlers"
	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/recognition"
	"github.com/codebuildervaibhav/speaker-transcription/internal/session"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/summary"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
)

const version = "1.0.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "transcription-server",
		Short:        "Real-time speaker-attributed transcription server",
		Long:         `Streams websocket audio to Google Speech, relays speaker-attributed transcripts, and post-processes recordings and uploads.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath, true)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logBuffer := NewLogBuffer(logBufferLines)
	out := io.MultiWriter(os.Stdout, logBuffer)
	logger := log.NewWithOptions(out, log.Options{ReportTimestamp: true})
	if level, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.Logging.Level)
	} else {
		logger.SetLevel(level)
	}

	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.Storage.OutputDir, cfg.Session.RecordingsDir); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("initializing components")

	streamCfg := recognition.StreamConfig{
		Encoding:                 cfg.Recognition.Encoding,
		SampleRateHertz:          cfg.Recognition.DefaultSampleRate,
		Channels:                 cfg.Recognition.Channels,
		LanguageCode:             cfg.Recognition.LanguageCode,
		AlternativeLanguageCodes: cfg.Recognition.AlternativeLangs,
		MinSpeakers:              cfg.Recognition.MinSpeakers,
		MaxSpeakers:              cfg.Recognition.MaxSpeakers,
		Model:                    cfg.Recognition.Model,
		UseEnhanced:              cfg.Recognition.UseEnhanced,
		InterimResults:           true,
	}
	batchCfg := streamCfg
	batchCfg.Model = cfg.Recognition.BatchModel
	batchCfg.InterimResults = false

	recognizer, err := recognition.NewGoogleRecognizer(ctx, recognition.GoogleOptions{
		CredentialsFile: cfg.Recognition.CredentialsFile,
		Endpoint:        cfg.Recognition.Endpoint,
		BatchConfig:     batchCfg,
	})
	if err != nil {
		return err
	}
	defer recognizer.Close()

	var summarizer summary.Summarizer
	if s, err := summary.NewOpenAI(summary.Config{
		APIKey:      cfg.Summary.APIKey,
		BaseURL:     cfg.Summary.BaseURL,
		Model:       cfg.Summary.Model,
		Temperature: cfg.Summary.Temperature,
		MaxTokens:   cfg.Summary.MaxTokens,
	}, logger.WithPrefix("summary")); err != nil {
		logger.Warn("summaries disabled", "error", err)
		summarizer = summary.Unavailable{Err: err}
	} else {
		summarizer = s
	}

	deps := queue.Deps{
		Transcoder:    transcription.NewFFmpeg(cfg.Storage.TempDir),
		Recognizer:    recognizer,
		Summarizer:    summarizer,
		Local:         storage.NewLocalStorage(cfg.Storage.OutputDir),
		ObjectPrefix:  cfg.GCS.Prefix,
		DeleteObjects: cfg.GCS.DeleteAfterProcessing,
		BatchTimeout:  cfg.BatchTimeout(),
		Logger:        logger,
	}

	// Object storage (optional - batch audio goes inline without it)
	if cfg.GCS.Bucket != "" {
		store, err := storage.NewGCSStore(ctx, storage.GCSOptions{
			Project:         cfg.GCS.Project,
			Bucket:          cfg.GCS.Bucket,
			Region:          cfg.GCS.Region,
			CredentialsFile: cfg.Recognition.CredentialsFile,
		})
		if err != nil {
			return err
		}
		created, err := store.EnsureBucket(ctx, cfg.GCS.Project, cfg.GCS.Region)
		if err != nil {
			return fmt.Errorf("failed to prepare gcs bucket: %w", err)
		}
		if created {
			logger.Info("created gcs bucket", "bucket", cfg.GCS.Bucket, "region", cfg.GCS.Region)
		}
		deps.Objects = store
	} else {
		logger.Info("no gcs bucket configured, batch audio is sent inline")
	}

	// Google Drive client (optional - may fail if credentials not set up)
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(ctx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			logger.Warn("google drive not available, transcripts will only be saved locally", "error", err)
		} else {
			deps.Drive = driveClient
			logger.Info("google drive integration enabled", "folder", cfg.GoogleDrive.FolderName)
		}
	} else {
		logger.Info("google drive credentials not found, saving locally only")
	}

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	deps.DB = db

	workerPool := queue.NewWorkerPool(cfg.PostProcessing.Workers, deps)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
		logger,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	sessions := session.NewManager(cfg.Session.RecordingsDir, cfg.Session.QueueCapacity, logger.WithPrefix("session"))

	var onStop handlers.JobQueue
	if cfg.PostProcessing.OnStop {
		onStop = workerPool
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxFileSizeMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: out}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB, logger)
	gdriveHandler := handlers.NewGDriveHandler(workerPool, cfg.Storage.TempDir, nil, logger)
	transcriptsHandler := handlers.NewTranscriptsHandler(db, logger)
	streamHandler := handlers.NewStreamHandler(handlers.StreamOptions{
		Sessions:     sessions,
		Recognizer:   recognizer,
		Config:       streamCfg,
		Summarizer:   summarizer,
		Jobs:         onStop,
		StopTimeout:  cfg.StopTimeout(),
		PollInterval: cfg.PollInterval(),
		ReadLimit:    int64(cfg.Server.WSReadLimitMB) * 1024 * 1024,
		Logger:       logger,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"version":  version,
			"sessions": sessions.Len(),
			"gcs":      deps.Objects != nil,
			"gdrive":   deps.Drive != nil,
		})
	})

	app.Post("/upload", uploadHandler.Handle)
	app.Post("/gdrive", gdriveHandler.Handle)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream", websocket.New(streamHandler.Handle))
	app.Get("/sessions", streamHandler.Sessions)

	app.Get("/transcripts", transcriptsHandler.List)
	app.Get("/transcripts/:id", transcriptsHandler.Get)
	app.Get("/transcripts/:id/text", transcriptsHandler.Text)

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.Lines(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("server starting", "addr", addr, "post_process_on_stop", cfg.PostProcessing.OnStop)
	for _, route := range []string{
		"POST /upload            - Upload audio or video file",
		"POST /gdrive            - Process Google Drive link",
		"GET  /ws/stream         - WebSocket live transcription",
		"GET  /sessions          - Live session stats",
		"GET  /transcripts       - List all transcripts",
		"GET  /transcripts/:id   - Transcript record with summary",
		"GET  /transcripts/:id/text - Get transcript text",
		"GET  /logs              - View server logs",
		"GET  /health            - Health check",
	} {
		logger.Info("endpoint", "route", route)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout()); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
