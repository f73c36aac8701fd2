package ml

// NewFactory returns a Factory that applies the shared training options
// (classifier kind, optimiser limits, stop words) to every combo.
func NewFactory(modelType string, maxIter int, tol float64, stopWords bool) (Factory, error) {
	kind, err := ParseKind(modelType)
	if err != nil {
		return nil, err
	}
	return func(cfg PipelineConfig) *Pipeline {
		cfg.Kind = kind
		cfg.MaxIter = maxIter
		cfg.Tol = tol
		cfg.StopWords = stopWords
		return NewPipeline(cfg)
	}, nil
}
