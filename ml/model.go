package ml

// TextClassifier is the read-only view the inference service needs of a
// fitted pipeline.
type TextClassifier interface {
	Classes() []string
	Predict(text string) string
	PredictProba(text string) ([]float64, bool)
	SupportsProba() bool
}

var _ TextClassifier = (*Pipeline)(nil)

// Factory builds a fresh, unfit pipeline. Grid search calls it once per
// combo and fold so no state leaks between fits.
type Factory func(cfg PipelineConfig) *Pipeline
