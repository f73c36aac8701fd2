package tuning

import (
	"context"
	"errors"
	"fmt"

	"mailclass/corpus"
	"mailclass/ml"
)

// ErrNoResults is returned when model selection gets no CV results.
var ErrNoResults = errors.New("tuning: no cross-validation results to select from")

// Selection is the outcome of model selection.
type Selection struct {
	Best     CVResult
	Pipeline *ml.Pipeline
	Report   *ml.ClassificationReport
}

// Best returns the result with the highest mean score. Ties go to the
// earliest result.
func Best(results []CVResult) (CVResult, error) {
	if len(results) == 0 {
		return CVResult{}, ErrNoResults
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.MeanScore > best.MeanScore {
			best = r
		}
	}
	return best, nil
}

// Select refits the best combo on the whole training split and evaluates it
// once on the test split. The test report is informational only.
func Select(ctx context.Context, results []CVResult, train, test *corpus.Dataset, factory ml.Factory) (*Selection, error) {
	best, err := Best(results)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = ml.NewPipeline
	}

	p := factory(best.Combo.PipelineConfig())
	if err := p.Fit(train.Texts(), train.Labels()); err != nil {
		return nil, fmt.Errorf("tuning: refit %s: %w", best.Combo, err)
	}

	report := ml.NewClassificationReport(p.Classes(), test.Labels(), p.PredictAll(test.Texts()))
	return &Selection{Best: best, Pipeline: p, Report: report}, nil
}
