package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/jobs"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/queue"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/internal/vision"
)

const (
	metricsAddr       = ":8082"
	retentionInterval = time.Hour
	// ackMargin covers download and persistence around the analysis itself.
	ackMargin = 2 * time.Minute
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

	slog.Info("starting DeepGuard video worker",
		"workers", cfg.NATS.Workers,
		"frame_workers", cfg.Video.Workers,
		"cpu_cores", runtime.NumCPU(),
	)

	if !cfg.Database.Enabled() || !cfg.NATS.Enabled() {
		slog.Error("worker requires database and nats configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Connect to Postgres
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO; without it only URL jobs can run.
	var media jobs.MediaStore
	var minioStore *storage.MinIOStore
	if cfg.MinIO.Enabled() {
		minioStore, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		media = minioStore
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	explainer := explain.New(explain.OptionsFromConfig(cfg.Explain))
	analyzer := analysis.NewAnalyzer(mdl.Classifier, mdl.Locator, explainer, logger)

	runner := jobs.NewRunner(db, media, producer, analyzer, jobs.OpenFFmpeg, jobs.Config{
		Options: analysis.OptionsFromConfig(cfg.Video),
		Timeout: cfg.Video.JobTimeout,
	}, logger)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.SubscribeControl(ctx, runner.HandleCommand); err != nil {
		slog.Error("subscribe control", "error", err)
		os.Exit(1)
	}

	err = consumer.ConsumeJobs(ctx, "video-workers", runner.HandleMessage, cfg.NATS.Workers, cfg.Video.JobTimeout+ackMargin)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	if minioStore != nil {
		go jobs.RunRetention(ctx, minioStore, db, storage.JobsPrefix, cfg.Video.Retention, retentionInterval, logger)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
