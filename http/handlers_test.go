package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailclass/config"
	"mailclass/db"
	"mailclass/inference"
	"mailclass/monitoring"
)

type fakeClassifier struct {
	result    inference.Result
	err       error
	available bool
	reloadErr error
	reloads   int
	calls     int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (inference.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeClassifier) Status() inference.Status {
	if f.available {
		return inference.Status{State: inference.StateLoaded, Available: true}
	}
	return inference.Status{State: inference.StateFailed}
}

func (f *fakeClassifier) Reload(ctx context.Context) error {
	f.reloads++
	return f.reloadErr
}

func testRouter(c Classifier, runs RunStore) http.Handler {
	cfg := config.Default().Http
	cfg.MaxBodyBytes = 1024
	return NewRouter(cfg, Deps{Classifier: c, Runs: runs})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return w, payload
}

func TestRootReportsModelStatus(t *testing.T) {
	for _, available := range []bool{true, false} {
		h := testRouter(&fakeClassifier{available: available}, nil)
		w, payload := do(t, h, http.MethodGet, "/", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		want := "unavailable"
		if available {
			want = "loaded"
		}
		if payload["message"] != rootMessage || payload["model_status"] != want {
			t.Fatalf("unexpected payload %v", payload)
		}
		if w.Header().Get("X-Request-ID") == "" {
			t.Fatal("expected a request id header")
		}
	}
}

func TestClassifySuccess(t *testing.T) {
	fake := &fakeClassifier{
		available: true,
		result: inference.Result{
			PredictedClass: "Action Request",
			Label:          "action_request",
			Probabilities:  map[string]float64{"Action Request": 0.7, "Spam": 0.3},
		},
	}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":"please send the report"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if payload["message"] != classifiedMessage || payload["predicted_class"] != "Action Request" || payload["model_status"] != "loaded" {
		t.Fatalf("unexpected payload %v", payload)
	}
	probs := payload["probabilities"].(map[string]any)
	if probs["Spam"].(float64) != 0.3 {
		t.Fatalf("unexpected probabilities %v", probs)
	}
}

func TestClassifyNullProbabilities(t *testing.T) {
	fake := &fakeClassifier{available: true, result: inference.Result{PredictedClass: "Spam", Label: "spam"}}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":"win a prize"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v, ok := payload["probabilities"]; !ok || v != nil {
		t.Fatalf("expected explicit null probabilities, got %v", payload)
	}
}

func TestClassifyInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing field", `{}`},
		{"null", `{"email":null}`},
		{"empty", `{"email":""}`},
		{"whitespace", `{"email":"  \n\t "}`},
		{"wrong type", `{"email":42}`},
		{"malformed", `{"email":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeClassifier{available: true}
			w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if payload["detail"] != invalidInputMsg {
				t.Fatalf("unexpected detail %v", payload["detail"])
			}
			if fake.calls != 0 {
				t.Fatal("classifier must not be called for invalid input")
			}
		})
	}
}

func TestClassifyInvalidInputWinsOverUnavailable(t *testing.T) {
	fake := &fakeClassifier{err: inference.ErrModelUnavailable}
	w, _ := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":" "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestClassifyModelUnavailable(t *testing.T) {
	fake := &fakeClassifier{err: inference.ErrModelUnavailable}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":"hello"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if payload["detail"] != unavailableMsg || payload["model_status"] != "unavailable" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestClassifyBodyTooLarge(t *testing.T) {
	body := `{"email":"` + strings.Repeat("a", 4096) + `"}`
	w, _ := do(t, testRouter(&fakeClassifier{available: true}, nil), http.MethodPost, "/classify", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestClassifyInternalError(t *testing.T) {
	fake := &fakeClassifier{available: true, err: errors.New("boom")}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":"hello"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(payload["detail"].(string), "boom") {
		t.Fatal("internal errors must not leak to clients")
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/classify", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	testRouter(&fakeClassifier{}, nil).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestModelReload(t *testing.T) {
	fake := &fakeClassifier{available: true}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/api/model/reload", "")
	if w.Code != http.StatusOK || fake.reloads != 1 {
		t.Fatalf("expected successful reload, got %d (%d reloads)", w.Code, fake.reloads)
	}
	if payload["model_status"] != "loaded" {
		t.Fatalf("unexpected payload %v", payload)
	}

	fake.reloadErr = errors.New("artifact: decode failed")
	w, _ = do(t, testRouter(fake, nil), http.MethodPost, "/api/model/reload", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestTrainingRunsWithoutLedger(t *testing.T) {
	w, _ := do(t, testRouter(&fakeClassifier{}, nil), http.MethodGet, "/api/training/runs", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTrainingRuns(t *testing.T) {
	ledger, err := db.Open(filepath.Join(t.TempDir(), "training.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	run := &db.Run{
		ID:         db.NewRunID(),
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Status:     db.StatusSucceeded,
		Classifier: "logistic",
		BestCombo:  "max_features=100 ngram=(1,2) C=10",
	}
	if err := ledger.SaveRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	h := testRouter(&fakeClassifier{}, ledger)

	w, payload := do(t, h, http.MethodGet, "/api/training/runs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if runs := payload["runs"].([]any); len(runs) != 1 {
		t.Fatalf("expected one run, got %v", runs)
	}

	w, _ = do(t, h, http.MethodGet, "/api/training/runs/"+run.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/training/runs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w, _ = do(t, h, http.MethodGet, "/api/training/runs?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	w, payload := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError || payload["detail"] != "internal server error" {
		t.Fatalf("unexpected response %d %v", w.Code, payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	cfg := config.Default().Http
	fake := &fakeClassifier{available: true, result: inference.Result{PredictedClass: "Spam", Label: "spam"}}
	h := NewRouter(cfg, Deps{Classifier: fake, Metrics: metrics})

	do(t, h, http.MethodPost, "/classify", `{"email":"win a prize"}`)
	do(t, h, http.MethodPost, "/classify", `{"email":""}`)

	if v, _ := metrics.Value("classifications_total", map[string]string{"label": "spam"}); v != 1 {
		t.Fatalf("expected one spam classification, got %v", v)
	}
	ok, _ := metrics.Value("http_requests_total", map[string]string{"route": "/classify", "method": "POST", "status": "200"})
	bad, _ := metrics.Value("http_requests_total", map[string]string{"route": "/classify", "method": "POST", "status": "400"})
	if ok != 1 || bad != 1 {
		t.Fatalf("unexpected request counts ok=%v bad=%v", ok, bad)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `classifications_total{label="spam"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", w.Body.String())
	}
}

func TestClassifyUnencodableResultIsServerError(t *testing.T) {
	fake := &fakeClassifier{
		available: true,
		result: inference.Result{
			PredictedClass: "Spam",
			Label:          "spam",
			Probabilities:  map[string]float64{"Spam": math.NaN()},
		},
	}
	w, payload := do(t, testRouter(fake, nil), http.MethodPost, "/classify", `{"email":"win a prize"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if payload["detail"] != "internal server error" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
