package ml

import (
	"errors"
	"fmt"
	"sort"
)

// PipelineConfig holds the hyperparameters of one extractor + classifier pair.
type PipelineConfig struct {
	MaxFeatures int
	NGram       NGramRange
	StopWords   bool
	C           float64
	Kind        Kind
	MaxIter     int
	Tol         float64
}

// Pipeline chains a TF-IDF extractor and a linear classifier. Labels is the
// label ordering discovered at fit time; index k of any probability vector
// belongs to Labels[k].
type Pipeline struct {
	Vectorizer *TFIDF
	Model      *LinearModel
	Labels     []string
}

// NewPipeline returns an unfit pipeline configured by cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	kind := cfg.Kind
	if kind == "" {
		kind = Logistic
	}
	return &Pipeline{
		Vectorizer: NewTFIDF(cfg.MaxFeatures, cfg.NGram, cfg.StopWords),
		Model:      NewLinearModel(kind, cfg.C, cfg.MaxIter, cfg.Tol),
	}
}

// Fit learns the vocabulary, the label ordering and the classifier weights.
func (p *Pipeline) Fit(texts, labels []string) error {
	if len(texts) != len(labels) {
		return fmt.Errorf("ml: %d texts but %d labels", len(texts), len(labels))
	}
	if err := p.Vectorizer.Fit(texts); err != nil {
		return err
	}

	p.Labels = sortedUnique(labels)
	if len(p.Labels) < 2 {
		return ErrSingleClass
	}
	index := make(map[string]int, len(p.Labels))
	for i, l := range p.Labels {
		index[l] = i
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i] = index[l]
	}

	X := p.Vectorizer.TransformAll(texts)
	return p.Model.Fit(X, y, len(p.Labels), p.Vectorizer.Dim())
}

// Classes returns the label ordering.
func (p *Pipeline) Classes() []string { return append([]string(nil), p.Labels...) }

// Predict returns the hard label for text.
func (p *Pipeline) Predict(text string) string {
	return p.Labels[p.Model.Predict(p.Vectorizer.Transform(text))]
}

// PredictProba returns probabilities aligned with Labels, or false when the
// classifier has no probability support.
func (p *Pipeline) PredictProba(text string) ([]float64, bool) {
	return p.Model.PredictProba(p.Vectorizer.Transform(text))
}

// SupportsProba reports the classifier's probability capability.
func (p *Pipeline) SupportsProba() bool { return p.Model.SupportsProba() }

// PredictAll returns the hard labels for texts.
func (p *Pipeline) PredictAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = p.Predict(t)
	}
	return out
}

// Score returns the fraction of texts whose predicted label matches.
func (p *Pipeline) Score(texts, labels []string) float64 {
	return Accuracy(labels, p.PredictAll(texts))
}

// Validate checks that the extractor, classifier and label ordering agree.
func (p *Pipeline) Validate() error {
	if p.Vectorizer == nil || p.Model == nil {
		return errors.New("ml: pipeline is incomplete")
	}
	if p.Vectorizer.Dim() == 0 {
		return ErrEmptyVocabulary
	}
	if p.Model.Dim() != p.Vectorizer.Dim() {
		return fmt.Errorf("ml: classifier expects %d features, extractor yields %d", p.Model.Dim(), p.Vectorizer.Dim())
	}
	if p.Model.NumClasses() != len(p.Labels) {
		return fmt.Errorf("ml: classifier has %d classes, label ordering has %d", p.Model.NumClasses(), len(p.Labels))
	}
	seen := make(map[string]bool, len(p.Labels))
	for _, l := range p.Labels {
		if seen[l] {
			return fmt.Errorf("ml: duplicate label %q", l)
		}
		seen[l] = true
	}
	return nil
}

func sortedUnique(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
