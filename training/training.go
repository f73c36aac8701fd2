// Package training runs the full offline pipeline: load the corpus, split
// it, grid search, select, persist the artifact and record the run.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailclass/artifact"
	"mailclass/config"
	"mailclass/corpus"
	"mailclass/db"
	"mailclass/logging"
	"mailclass/ml"
	"mailclass/tuning"
)

// Options configures Run.
type Options struct {
	Config       config.TrainingConfig
	ArtifactPath string
	Logger       *zap.Logger
	// Ledger is optional. When set, every run is recorded, failed or not.
	Ledger *db.Ledger
}

// Report is the outcome of a successful run.
type Report struct {
	RunID     string
	Train     int
	Test      int
	Skipped   int
	Results   []tuning.CVResult
	Selection *tuning.Selection
	Elapsed   time.Duration
}

// Run trains and saves a model. Nothing is written to ArtifactPath unless
// every step succeeds.
func Run(ctx context.Context, opts Options) (*Report, error) {
	logger := logging.OrNop(opts.Logger)
	cfg := opts.Config
	started := time.Now()

	record := &db.Run{
		ID:           db.NewRunID(),
		StartedAt:    started,
		DataPath:     cfg.DataPath,
		Classifier:   cfg.Classifier,
		ArtifactPath: opts.ArtifactPath,
	}
	logger = logger.With(zap.String("run_id", record.ID))

	report, err := run(ctx, opts, logger, record)

	record.FinishedAt = time.Now()
	if err != nil {
		record.Status = db.StatusFailed
		record.Error = err.Error()
		logger.Error("training failed", zap.Error(err))
	} else {
		record.Status = db.StatusSucceeded
		report.Elapsed = record.FinishedAt.Sub(started)
	}
	saveRecord(opts.Ledger, record, logger)

	if err != nil {
		return nil, err
	}
	return report, nil
}

func run(ctx context.Context, opts Options, logger *zap.Logger, record *db.Run) (*Report, error) {
	cfg := opts.Config
	if opts.ArtifactPath == "" {
		return nil, errors.New("training: artifact path is required")
	}

	ds, err := corpus.Load(cfg.DataPath, corpus.LoadOptions{Labels: cfg.Labels, MinSamples: cfg.MinSamples, Encoding: cfg.Encoding})
	if err != nil {
		return nil, err
	}
	record.Samples = ds.Len()
	logger.Info("corpus loaded",
		zap.String("path", cfg.DataPath),
		zap.Int("samples", ds.Len()),
		zap.Int("skipped", ds.Skipped),
		zap.Any("counts", ds.Counts()))

	train, test, err := corpus.StratifiedSplit(ds, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return nil, err
	}
	record.TrainSamples, record.TestSamples = train.Len(), test.Len()

	factory, err := ml.NewFactory(cfg.Classifier, cfg.MaxIter, cfg.Tol, cfg.StopWords)
	if err != nil {
		return nil, err
	}

	combos := tuning.GridFromConfig(cfg.Grid).Combos()
	search := &tuning.Search{
		Folds:   cfg.Folds,
		Seed:    cfg.Seed,
		Workers: cfg.Workers,
		Factory: factory,
		Logger:  logger,
	}
	results, err := search.Run(ctx, train, combos)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		record.CVResults = append(record.CVResults, db.CVResult{
			Combo:       r.Combo.String(),
			MaxFeatures: r.Combo.MaxFeatures,
			NGramMin:    r.Combo.NGram.Min,
			NGramMax:    r.Combo.NGram.Max,
			C:           r.Combo.C,
			MeanScore:   r.MeanScore,
			StdScore:    r.StdScore,
		})
	}

	sel, err := tuning.Select(ctx, results, train, test, factory)
	if err != nil {
		return nil, err
	}
	record.BestCombo = sel.Best.Combo.String()
	record.CVMean, record.CVStd = sel.Best.MeanScore, sel.Best.StdScore
	record.TestAccuracy = sel.Report.Accuracy
	for _, m := range sel.Report.Classes {
		record.ClassMetrics = append(record.ClassMetrics, db.ClassMetric{
			Label: m.Label, Precision: m.Precision, Recall: m.Recall, F1: m.F1, Support: m.Support,
		})
	}

	logger.Info("best combo selected",
		zap.Stringer("combo", sel.Best.Combo),
		zap.Float64("cv_mean", sel.Best.MeanScore),
		zap.Float64("cv_std", sel.Best.StdScore),
		zap.Float64("test_accuracy", sel.Report.Accuracy))
	logger.Info("held-out classification report\n" + sel.Report.String())

	a := &artifact.Artifact{
		Pipeline: sel.Pipeline,
		Meta: artifact.Meta{
			RunID:        record.ID,
			TrainedAt:    time.Now().UTC(),
			Combo:        sel.Best.Combo.String(),
			CVMean:       sel.Best.MeanScore,
			CVStd:        sel.Best.StdScore,
			TestAccuracy: sel.Report.Accuracy,
			Samples:      ds.Len(),
		},
	}
	if err := artifact.Save(opts.ArtifactPath, a); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	logger.Info("model saved", zap.String("path", opts.ArtifactPath))

	return &Report{
		RunID:     record.ID,
		Train:     train.Len(),
		Test:      test.Len(),
		Skipped:   ds.Skipped,
		Results:   results,
		Selection: sel,
	}, nil
}

// saveRecord stores the run. A ledger failure never fails training.
func saveRecord(ledger *db.Ledger, record *db.Run, logger *zap.Logger) {
	if ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ledger.SaveRun(ctx, record); err != nil {
		logger.Warn("failed to record training run", zap.Error(err))
	}
}
