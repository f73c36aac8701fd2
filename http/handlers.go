package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mailclass/db"
	"mailclass/inference"
	"mailclass/monitoring"
)

const (
	rootMessage       = "Email Classifier API is running"
	classifiedMessage = "Classification successful"
	invalidInputMsg   = "Invalid email text."
	unavailableMsg    = "Model not loaded. Train the model and ensure the model artifact exists."
)

// Classifier is the part of inference.Service the handlers use.
type Classifier interface {
	Classify(ctx context.Context, text string) (inference.Result, error)
	Status() inference.Status
}

// Reloader is implemented by services that can reload their model.
type Reloader interface {
	Reload(ctx context.Context) error
}

// RunStore is the read side of the training ledger.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
}

// Handlers serves the HTTP API.
type Handlers struct {
	classifier Classifier
	runs       RunStore
	metrics    *monitoring.MetricsCollector
	logger     *zap.Logger
	started    time.Time
}

type errorResponse struct {
	Detail      string `json:"detail"`
	ModelStatus string `json:"model_status,omitempty"`
}

type rootResponse struct {
	Message     string `json:"message"`
	ModelStatus string `json:"model_status"`
}

type classifyRequest struct {
	Email *string `json:"email"`
}

type classifyResponse struct {
	Message        string             `json:"message"`
	Probabilities  map[string]float64 `json:"probabilities"`
	PredictedClass string             `json:"predicted_class"`
	ModelStatus    string             `json:"model_status"`
}

type modelResponse struct {
	inference.Status
	ModelStatus string `json:"model_status"`
}

// Register mounts every route on r.
func (h *Handlers) Register(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Post("/classify", h.handleClassify)
	r.Get("/api/health", h.handleHealth)
	r.Get("/api/model", h.handleModel)
	r.Post("/api/model/reload", h.handleReload)
	r.Get("/api/training/runs", h.handleListRuns)
	r.Get("/api/training/runs/{id}", h.handleGetRun)
}

func (h *Handlers) modelStatus() string {
	return h.classifier.Status().ModelStatus()
}

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Message: rootMessage, ModelStatus: h.modelStatus()})
}

func (h *Handlers) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.", h.modelStatus())
			return
		}
		writeError(w, http.StatusBadRequest, invalidInputMsg, h.modelStatus())
		return
	}
	if req.Email == nil || strings.TrimSpace(*req.Email) == "" {
		writeError(w, http.StatusBadRequest, invalidInputMsg, h.modelStatus())
		return
	}

	res, err := h.classifier.Classify(r.Context(), *req.Email)
	switch {
	case err == nil:
	case errors.Is(err, inference.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, invalidInputMsg, h.modelStatus())
		return
	case errors.Is(err, inference.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, unavailableMsg, "unavailable")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timeout", h.modelStatus())
		return
	default:
		h.logger.Error("classification failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", h.modelStatus())
		return
	}

	if h.metrics != nil {
		h.metrics.RecordClassification(res.Label)
	}
	writeJSON(w, http.StatusOK, classifyResponse{
		Message:        classifiedMessage,
		Probabilities:  res.Probabilities,
		PredictedClass: res.PredictedClass,
		ModelStatus:    "loaded",
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.classifier.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_status": st.ModelStatus(),
		"state":        st.State,
		"uptime":       time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	st := h.classifier.Status()
	writeJSON(w, http.StatusOK, modelResponse{Status: st, ModelStatus: st.ModelStatus()})
}

func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) {
	reloader, ok := h.classifier.(Reloader)
	if !ok {
		writeError(w, http.StatusNotImplemented, "reload not supported", h.modelStatus())
		return
	}
	if err := reloader.Reload(r.Context()); err != nil {
		// The previous model, if any, is still serving.
		writeError(w, http.StatusInternalServerError, err.Error(), h.modelStatus())
		return
	}
	st := h.classifier.Status()
	writeJSON(w, http.StatusOK, modelResponse{Status: st, ModelStatus: st.ModelStatus()})
}

func (h *Handlers) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "training ledger not configured", "")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", "")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list training runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "training ledger not configured", "")
		return
	}
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "training run not found", "")
		return
	}
	if err != nil {
		h.logger.Error("get training run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// writeJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of a 200 with an empty body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"detail":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, detail, modelStatus string) {
	writeJSON(w, status, errorResponse{Detail: detail, ModelStatus: modelStatus})
}
