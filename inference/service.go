// Package inference serves classifications from a loaded model artifact.
//
// The loaded model lives in an immutable context behind an atomic pointer.
// Classify only reads that pointer; Reload builds a complete new context and
// swaps it in, so a request sees either the old model or the new one.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"mailclass/artifact"
	"mailclass/logging"
	"mailclass/ml"
)

var (
	// ErrInvalidInput is returned for empty or whitespace-only text.
	ErrInvalidInput = errors.New("inference: invalid email text")
	// ErrModelUnavailable is returned while no model is loaded.
	ErrModelUnavailable = errors.New("inference: model not loaded")
)

// State is the lifecycle stage of the service.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
)

// Result is one classification. Probabilities is keyed by display name and
// is nil when the loaded classifier has no probability support.
type Result struct {
	PredictedClass string             `json:"predicted_class"`
	Label          string             `json:"label"`
	Probabilities  map[string]float64 `json:"probabilities"`
}

// Status describes what the service is currently serving.
type Status struct {
	State     State          `json:"state"`
	Available bool           `json:"available"`
	Labels    []string       `json:"labels,omitempty"`
	Proba     bool           `json:"probabilities"`
	Meta      *artifact.Meta `json:"meta,omitempty"`
	LoadedAt  *time.Time     `json:"loaded_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// ModelStatus is the availability flag reported to clients.
func (s Status) ModelStatus() string {
	if s.Available {
		return "loaded"
	}
	return "unavailable"
}

// modelContext is everything a request needs. It is never mutated after
// install; the cache is internally synchronised.
type modelContext struct {
	pipeline *ml.Pipeline
	labels   []string
	display  []string
	proba    bool
	meta     artifact.Meta
	loadedAt time.Time
	cache    *lru.Cache[string, Result]
}

// Service owns the loaded model.
type Service struct {
	path   string
	opts   options
	logger *zap.Logger

	current atomic.Pointer[modelContext]

	reloadMu sync.Mutex

	mu      sync.Mutex
	state   State
	lastErr error
	onSwap  []func(Status)
}

// New returns an unloaded service for the artifact at path.
func New(path string, opts ...Option) *Service {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Service{
		path:   path,
		opts:   o,
		logger: logging.OrNop(o.logger),
		state:  StateUnloaded,
	}
}

// Path returns the artifact location.
func (s *Service) Path() string { return s.path }

// Load performs the startup load. A failure leaves the service in
// StateFailed; the error is returned once and logged once.
func (s *Service) Load(ctx context.Context) error {
	return s.Reload(ctx)
}

// Reload reads the artifact again and swaps it in. When it fails and a
// model is already loaded, the previous model keeps serving.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.setState(StateLoading, nil)
	started := time.Now()

	a, err := artifact.Load(s.path)
	if err == nil {
		err = s.install(a)
	}
	if err != nil {
		if s.current.Load() != nil {
			s.logger.Error("model reload failed, keeping previous model", zap.String("path", s.path), zap.Error(err))
			s.setState(StateLoaded, err)
		} else {
			s.logger.Error("model load failed", zap.String("path", s.path), zap.Error(err))
			s.setState(StateFailed, err)
		}
		s.notify()
		return err
	}

	s.logger.Info("model loaded",
		zap.String("path", s.path),
		zap.String("run_id", a.Meta.RunID),
		zap.Strings("labels", a.Pipeline.Labels),
		zap.Bool("probabilities", a.Pipeline.SupportsProba()),
		zap.Duration("elapsed", time.Since(started)))
	s.notify()
	return nil
}

// install builds a context for a and publishes it.
func (s *Service) install(a *artifact.Artifact) error {
	labels := append([]string(nil), a.Pipeline.Labels...)
	display := make([]string, len(labels))
	owner := make(map[string]string, len(labels))
	for i, l := range labels {
		display[i] = s.opts.displayNames.Name(l)
		if prev, dup := owner[display[i]]; dup {
			return fmt.Errorf("inference: labels %q and %q share display name %q", prev, l, display[i])
		}
		owner[display[i]] = l
	}

	var cache *lru.Cache[string, Result]
	if s.opts.cacheSize > 0 {
		c, err := lru.New[string, Result](s.opts.cacheSize)
		if err != nil {
			return err
		}
		cache = c
	}

	s.current.Store(&modelContext{
		pipeline: a.Pipeline,
		labels:   labels,
		display:  display,
		proba:    a.Pipeline.SupportsProba(),
		meta:     a.Meta,
		loadedAt: time.Now().UTC(),
		cache:    cache,
	})
	s.setState(StateLoaded, nil)
	return nil
}

// Classify labels text with the current model.
func (s *Service) Classify(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrInvalidInput
	}
	mc := s.current.Load()
	if mc == nil {
		return Result{}, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if mc.cache != nil {
		if r, ok := mc.cache.Get(text); ok {
			return r.clone(), nil
		}
	}

	r := mc.classify(text)
	if mc.cache != nil {
		mc.cache.Add(text, r.clone())
	}
	return r, nil
}

func (mc *modelContext) classify(text string) Result {
	if mc.proba {
		probs, ok := mc.pipeline.PredictProba(text)
		if ok && len(probs) == len(mc.labels) {
			// MaxIdx returns the first maximum, so ties go to the earlier label.
			best := floats.MaxIdx(probs)
			out := make(map[string]float64, len(probs))
			for i, p := range probs {
				out[mc.display[i]] = round4(p)
			}
			return Result{
				PredictedClass: mc.display[best],
				Label:          mc.labels[best],
				Probabilities:  out,
			}
		}
	}

	label := mc.pipeline.Predict(text)
	for i, l := range mc.labels {
		if l == label {
			return Result{PredictedClass: mc.display[i], Label: label}
		}
	}
	return Result{PredictedClass: label, Label: label}
}

func (r Result) clone() Result {
	if r.Probabilities == nil {
		return r
	}
	probs := make(map[string]float64, len(r.Probabilities))
	for k, v := range r.Probabilities {
		probs[k] = v
	}
	r.Probabilities = probs
	return r
}

func round4(p float64) float64 {
	return math.Round(p*1e4) / 1e4
}

// Available reports whether Classify can currently succeed.
func (s *Service) Available() bool {
	return s.current.Load() != nil
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{State: s.state}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if mc := s.current.Load(); mc != nil {
		meta := mc.meta
		loadedAt := mc.loadedAt
		st.Available = true
		st.Labels = append([]string(nil), mc.labels...)
		st.Proba = mc.proba
		st.Meta = &meta
		st.LoadedAt = &loadedAt
	}
	return st
}

// OnSwap registers fn to run after every load attempt, successful or not.
// Callbacks run synchronously in registration order.
func (s *Service) OnSwap(fn func(Status)) {
	s.mu.Lock()
	s.onSwap = append(s.onSwap, fn)
	s.mu.Unlock()
}

func (s *Service) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Service) notify() {
	s.mu.Lock()
	callbacks := slices.Clone(s.onSwap)
	s.mu.Unlock()

	st := s.Status()
	for _, fn := range callbacks {
		fn(st)
	}
}
