package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/api"
	"github.com/your-org/deepguard/internal/api/handlers"
	"github.com/your-org/deepguard/internal/api/ws"
	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/ingest"
	"github.com/your-org/deepguard/internal/jobs"
	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/queue"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/internal/vision"
	"github.com/your-org/deepguard/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting DeepGuard API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := api.RouterConfig{
		Config: cfg,
		Open:   jobs.OpenFFmpeg,
		Probe:  ingest.Probe,
	}

	// Postgres (optional: history, similarity search, jobs)
	if cfg.Database.Enabled() {
		db, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			slog.Error("migrate database", "error", err)
			os.Exit(1)
		}
		rc.Analyses = db
		rc.Jobs = db
		rc.Checks = append(rc.Checks, handlers.Checker{Name: "postgres", Ping: db.Ping})
	} else {
		slog.Warn("database disabled, history and jobs endpoints unavailable")
	}

	// MinIO (optional: media archive and job uploads)
	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		rc.Objects = minioStore
		rc.Checks = append(rc.Checks, handlers.Checker{Name: "minio", Ping: minioStore.Ping})
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()
	rc.Hub = hub

	// NATS (optional: async video jobs and their events)
	if cfg.NATS.Enabled() {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		rc.Queue = producer
		rc.Checks = append(rc.Checks, handlers.Checker{
			Name: "nats",
			Ping: func(context.Context) error { return producer.Ping() },
		})

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
			var ev models.JobEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				slog.Error("unmarshal job event", "error", err)
				return nil
			}
			hub.Broadcast(dto.WSEvent{Type: string(ev.Type), JobID: ev.JobID, Data: ev})
			return nil
		})
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	// Models
	if err := vision.InitRuntime(cfg.Model.ONNXRuntimeLib); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.ShutdownRuntime()

	mdl, err := vision.LoadModels(cfg.Model)
	if err != nil {
		slog.Error("load models", "error", err)
		os.Exit(1)
	}
	defer mdl.Close()

	explainer := explain.New(explain.OptionsFromConfig(cfg.Explain))
	analyzer := analysis.NewAnalyzer(mdl.Classifier, mdl.Locator, explainer, logger)
	rc.Images = analyzer
	rc.Videos = analyzer
	rc.VideoOptions = analysis.OptionsFromConfig(cfg.Video)

	slog.Info("models ready", "classifier", cfg.Model.ClassifierPath(), "detector", cfg.Model.DetectorPath())

	router := api.NewRouter(rc)

	// Synchronous video analysis may run up to the request timeout.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
