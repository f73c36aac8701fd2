package ml

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"mailclass/corpus/corpustest"
)

func fitFixture(t *testing.T, kind Kind) *Pipeline {
	t.Helper()
	ds := corpustest.Dataset(t)
	p := NewPipeline(PipelineConfig{
		MaxFeatures: 5000,
		NGram:       NGramRange{Min: 1, Max: 2},
		StopWords:   true,
		C:           50,
		Kind:        kind,
		MaxIter:     300,
	})
	if err := p.Fit(ds.Texts(), ds.Labels()); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return p
}

func TestPipelineLogisticFitsFixture(t *testing.T) {
	p := fitFixture(t, Logistic)
	ds := corpustest.Dataset(t)

	want := []string{"action_request", "complaint", "information", "spam", "urgent"}
	if !reflect.DeepEqual(p.Classes(), want) {
		t.Fatalf("label ordering = %v, want %v", p.Classes(), want)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if acc := p.Score(ds.Texts(), ds.Labels()); acc < 0.9 {
		t.Fatalf("expected training accuracy >= 0.9, got %.3f", acc)
	}

	proba, ok := p.PredictProba("URGENT the server is down, respond immediately")
	if !ok {
		t.Fatal("logistic pipeline should support probabilities")
	}
	var sum float64
	for _, v := range proba {
		if v < 0 || v > 1 {
			t.Fatalf("probability out of range: %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v", sum)
	}
	if got := p.Predict("URGENT the server is down, respond immediately"); got != "urgent" {
		t.Fatalf("expected urgent, got %s", got)
	}
}

func TestPipelineLinearSVMHasNoProbabilities(t *testing.T) {
	p := fitFixture(t, LinearSVM)
	if p.SupportsProba() {
		t.Fatal("linear_svm must not report probability support")
	}
	if _, ok := p.PredictProba("free prize click here"); ok {
		t.Fatal("expected no probabilities")
	}
	if got := p.Predict("claim your free prize, click here now"); got != "spam" {
		t.Fatalf("expected spam, got %s", got)
	}
}

func TestPipelineSingleClass(t *testing.T) {
	p := NewPipeline(PipelineConfig{NGram: NGramRange{1, 1}, C: 1})
	err := p.Fit([]string{"invoice due", "invoice paid"}, []string{"information", "information"})
	if !errors.Is(err, ErrSingleClass) {
		t.Fatalf("expected ErrSingleClass, got %v", err)
	}
}

func TestRestoreLinearModelRoundTrip(t *testing.T) {
	p := fitFixture(t, Logistic)
	m := p.Model
	restored, err := RestoreLinearModel(m.Kind, m.C, m.NumClasses(), m.Dim(), m.Coef(), m.Intercept())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := p.Vectorizer.Transform("please review the contract")
	if !reflect.DeepEqual(m.Decision(x), restored.Decision(x)) {
		t.Fatal("restored model scores differently")
	}

	if _, err := RestoreLinearModel(Logistic, 1, 2, 3, []float64{1}, []float64{0, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if _, err := RestoreLinearModel("tree", 1, 2, 1, []float64{1, 1}, []float64{0, 0}); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != Logistic {
		t.Fatalf("expected logistic default, got %v %v", k, err)
	}
	if _, err := ParseKind("decision_tree"); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestNewFactoryAppliesSharedOptions(t *testing.T) {
	factory, err := NewFactory("linear_svm", 50, 1e-3, true)
	if err != nil {
		t.Fatal(err)
	}
	p := factory(PipelineConfig{MaxFeatures: 10, NGram: NGramRange{1, 2}, C: 5})
	if p.Model.Kind != LinearSVM || p.Model.MaxIter != 50 || !p.Vectorizer.StopWords {
		t.Fatalf("factory did not apply options: %+v %+v", p.Model, p.Vectorizer)
	}
	if p.Vectorizer.MaxFeatures != 10 || p.Model.C != 5 {
		t.Fatalf("factory lost combo values: %+v", p)
	}
}
