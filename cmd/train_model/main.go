package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mailclass/config"
	"mailclass/db"
	"mailclass/logging"
	"mailclass/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	dataPath := flag.String("data", "", "labelled corpus (JSONL); overrides training.data_path")
	modelPath := flag.String("model_path", "", "model output path; overrides model.artifact_path")
	workers := flag.Int("workers", 0, "parallel grid-search workers; overrides training.workers")
	testRatio := flag.Float64("test_ratio", 0, "held-out ratio; overrides training.test_ratio")
	noLedger := flag.Bool("no_ledger", false, "do not record the run in the training database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataPath != "" {
		cfg.Training.DataPath = *dataPath
	}
	if *modelPath != "" {
		cfg.Model.ArtifactPath = *modelPath
	}
	if *workers > 0 {
		cfg.Training.Workers = *workers
	}
	if *testRatio != 0 {
		cfg.Training.TestRatio = *testRatio
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := training.Options{
		Config:       cfg.Training,
		ArtifactPath: cfg.Model.ArtifactPath,
		Logger:       logger,
	}
	if !*noLedger && cfg.Database.Path != "" {
		ledger, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training ledger unavailable", zap.Error(err))
		} else {
			defer ledger.Close()
			opts.Ledger = ledger
		}
	}

	report, err := training.Run(ctx, opts)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	best := report.Selection.Best
	fmt.Printf("run %s: best %s cv=%.4f (+/- %.4f) test accuracy=%.4f\n",
		report.RunID, best.Combo, best.MeanScore, best.StdScore, report.Selection.Report.Accuracy)
	fmt.Printf("model saved to %s\n", cfg.Model.ArtifactPath)
}
