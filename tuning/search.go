package tuning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"mailclass/corpus"
	"mailclass/logging"
	"mailclass/ml"
)

// CVResult is the cross-validated score of one combo.
type CVResult struct {
	Combo      Combo     `json:"combo"`
	MeanScore  float64   `json:"mean_score"`
	StdScore   float64   `json:"std_score"`
	FoldScores []float64 `json:"fold_scores"`
}

// Search evaluates combos with stratified k-fold cross-validation.
type Search struct {
	Folds   int
	Seed    int64
	Workers int
	Factory ml.Factory
	Logger  *zap.Logger
}

type foldTask struct {
	combo int
	fold  int
}

// Run returns one CVResult per combo, in combo order. Every (combo, fold)
// pair gets a freshly built pipeline, so vocabulary never crosses folds.
// Workers > 1 only changes scheduling, never the values.
func (s *Search) Run(ctx context.Context, train *corpus.Dataset, combos []Combo) ([]CVResult, error) {
	logger := logging.OrNop(s.Logger)
	if len(combos) == 0 {
		return nil, errors.New("tuning: no combos to evaluate")
	}
	factory := s.Factory
	if factory == nil {
		factory = ml.NewPipeline
	}

	folds, err := StratifiedKFold(train.Labels(), s.Folds, s.Seed)
	if err != nil {
		return nil, err
	}
	trainSets := make([]*corpus.Dataset, len(folds))
	valSets := make([]*corpus.Dataset, len(folds))
	for i, f := range folds {
		trainSets[i] = train.Subset(f.Train)
		valSets[i] = train.Subset(f.Validation)
	}

	logger.Info("grid search started",
		zap.Int("combos", len(combos)),
		zap.Int("folds", len(folds)),
		zap.Int("samples", train.Len()),
		zap.Int("workers", s.workers()))
	started := time.Now()

	scores := make([][]float64, len(combos))
	for i := range scores {
		scores[i] = make([]float64, len(folds))
	}

	tasks := make(chan foldTask)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) { errOnce.Do(func() { firstErr = err }) }

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for w := 0; w < s.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				combo := combos[task.combo]
				score, err := scoreFold(factory(combo.PipelineConfig()), trainSets[task.fold], valSets[task.fold])
				if err != nil {
					fail(fmt.Errorf("tuning: %s fold %d: %w", combo, task.fold, err))
					cancel()
					continue
				}
				scores[task.combo][task.fold] = score
			}
		}()
	}

feed:
	for c := range combos {
		for f := range folds {
			select {
			case <-ctx.Done():
				break feed
			case tasks <- foldTask{combo: c, fold: f}:
			}
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tuning: grid search cancelled: %w", err)
	}

	results := make([]CVResult, len(combos))
	for i, combo := range combos {
		mean, std := stat.PopMeanStdDev(scores[i], nil)
		results[i] = CVResult{Combo: combo, MeanScore: mean, StdScore: std, FoldScores: scores[i]}
		logger.Info("combo evaluated",
			zap.Stringer("combo", combo),
			zap.Float64("mean_score", mean),
			zap.Float64("std_score", std))
	}

	logger.Info("grid search completed", zap.Duration("elapsed", time.Since(started)))
	return results, nil
}

func (s *Search) workers() int {
	if s.Workers < 1 {
		return 1
	}
	return s.Workers
}

// scoreFold fits p on train and returns its accuracy on val. A fold whose
// feature space or label set collapses scores zero instead of failing.
func scoreFold(p *ml.Pipeline, train, val *corpus.Dataset) (float64, error) {
	err := p.Fit(train.Texts(), train.Labels())
	if errors.Is(err, ml.ErrEmptyVocabulary) || errors.Is(err, ml.ErrSingleClass) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Score(val.Texts(), val.Labels()), nil
}
