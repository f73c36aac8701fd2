package http

import (
	"math"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"mailclass/artifact"
	"mailclass/config"
	"mailclass/corpus/corpustest"
	"mailclass/inference"
	"mailclass/ml"
)

func TestClassifyWithTrainedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	svc := inference.New(path, inference.WithDisplayNames(config.DefaultDisplayNames()))
	h := testRouter(svc, nil)

	// Nothing trained yet.
	w, payload := do(t, h, http.MethodPost, "/classify", `{"email":"Please review the attached invoice."}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before training, got %d", w.Code)
	}
	if payload["model_status"] != "unavailable" {
		t.Fatalf("unexpected payload %v", payload)
	}

	ds := corpustest.Dataset(t)
	p := ml.NewPipeline(ml.PipelineConfig{
		NGram:     ml.NGramRange{Min: 1, Max: 2},
		StopWords: true,
		C:         50,
		Kind:      ml.Logistic,
		MaxIter:   200,
	})
	if err := p.Fit(ds.Texts(), ds.Labels()); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := artifact.Save(path, &artifact.Artifact{Pipeline: p, Meta: artifact.Meta{RunID: "run-1", TrainedAt: time.Now()}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	w, payload = do(t, h, http.MethodPost, "/api/model/reload", "")
	if w.Code != http.StatusOK || payload["model_status"] != "loaded" {
		t.Fatalf("reload failed: %d %v", w.Code, payload)
	}

	w, payload = do(t, h, http.MethodPost, "/classify", `{"email":"Please review the attached invoice and process payment by Friday."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	names := make(map[string]bool)
	for _, n := range config.DefaultDisplayNames() {
		names[n] = true
	}
	if !names[payload["predicted_class"].(string)] {
		t.Fatalf("predicted class %v is not a display name", payload["predicted_class"])
	}
	probs := payload["probabilities"].(map[string]any)
	if len(probs) != len(names) {
		t.Fatalf("expected %d probabilities, got %v", len(names), probs)
	}
	var sum float64
	for name, v := range probs {
		if !names[name] {
			t.Fatalf("unexpected key %q", name)
		}
		sum += v.(float64)
	}
	if math.Abs(sum-1) > 0.001 {
		t.Fatalf("probabilities sum to %v", sum)
	}

	w, payload = do(t, h, http.MethodGet, "/api/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	meta := payload["meta"].(map[string]any)
	if meta["run_id"] != "run-1" {
		t.Fatalf("unexpected meta %v", meta)
	}
}
