package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailclass/config"
	"mailclass/db"
	mhttp "mailclass/http"
	"mailclass/inference"
	"mailclass/logging"
	"mailclass/monitoring"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Look for config in root even if run from cmd/
	path := *configPath
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join("..", "config.yaml")
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := monitoring.NewHub(logger, cfg.Http.AllowedOrigins)
	go hub.Run(ctx)

	svc := inference.New(cfg.Model.ArtifactPath,
		inference.WithLogger(logger),
		inference.WithDisplayNames(cfg.Model.DisplayNames),
		inference.WithCacheSize(cfg.Model.CacheSize),
	)
	svc.OnSwap(func(st inference.Status) {
		data := monitoring.ModelStatusData{
			ModelStatus: st.ModelStatus(),
			State:       string(st.State),
			Error:       st.LastError,
		}
		if st.Meta != nil {
			data.RunID = st.Meta.RunID
		}
		if err := hub.PublishModelStatus(data); err != nil {
			logger.Warn("failed to publish model status", zap.Error(err))
		}
	})

	// A missing model is not fatal: the service answers 503 until one is
	// trained and reloaded.
	if err := svc.Load(ctx); err != nil {
		logger.Warn("model not loaded", zap.String("path", cfg.Model.ArtifactPath), zap.Error(err))
	}

	if cfg.Model.Watch {
		go func() {
			if err := svc.Watch(ctx); err != nil {
				logger.Error("artifact watcher stopped", zap.Error(err))
			}
		}()
	}

	deps := mhttp.Deps{
		Classifier: svc,
		Status:     hub,
		Metrics:    monitoring.NewMetricsCollector(),
		Logger:     logger,
	}
	if cfg.Database.Path != "" {
		ledger, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training ledger unavailable", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			defer ledger.Close()
			deps.Runs = ledger
		}
	}

	server := mhttp.NewServer(cfg.Http, deps)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s == syscall.SIGHUP {
			logger.Info("reloading model")
			if err := svc.Reload(ctx); err != nil {
				logger.Warn("reload failed", zap.Error(err))
			}
			continue
		}
		break
	}
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	cancel()
	logger.Info("exiting")
}
