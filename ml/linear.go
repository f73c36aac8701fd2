package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrSingleClass is returned when training data holds fewer than two labels.
var ErrSingleClass = errors.New("ml: need at least two classes to fit a classifier")

// Kind selects the loss a LinearModel is trained with.
type Kind string

const (
	// Logistic is multinomial logistic regression. It supports probabilities.
	Logistic Kind = "logistic"
	// LinearSVM is a one-vs-rest squared hinge model. It yields hard labels only.
	LinearSVM Kind = "linear_svm"
)

// ParseKind validates a classifier name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Logistic, LinearSVM:
		return Kind(s), nil
	case "":
		return Logistic, nil
	default:
		return "", fmt.Errorf("ml: unsupported classifier %q", s)
	}
}

// LinearModel is an L2-regularised multi-class linear classifier with
// balanced class weights.
type LinearModel struct {
	Kind    Kind
	C       float64
	MaxIter int
	Tol     float64

	classes   int
	dim       int
	coef      []float64 // row-major [classes, dim]
	intercept []float64
	iters     int
}

// NewLinearModel returns an unfit model.
func NewLinearModel(kind Kind, c float64, maxIter int, tol float64) *LinearModel {
	if maxIter <= 0 {
		maxIter = 1000
	}
	if tol <= 0 {
		tol = 1e-4
	}
	return &LinearModel{Kind: kind, C: c, MaxIter: maxIter, Tol: tol}
}

// Fit trains on X with labels y in [0, classes). dim is the feature count.
func (m *LinearModel) Fit(X []SparseVector, y []int, classes, dim int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("ml: %d samples but %d labels", len(X), len(y))
	}
	if classes < 2 {
		return ErrSingleClass
	}
	if m.C <= 0 {
		return fmt.Errorf("ml: regularization strength must be positive, got %v", m.C)
	}

	m.classes = classes
	m.dim = dim
	m.coef = make([]float64, classes*dim)
	m.intercept = make([]float64, classes)

	weights := balancedWeights(y, classes)
	n := float64(len(X))

	// Step size from a Lipschitz bound of the averaged loss gradient.
	curvature := 0.5
	if m.Kind == LinearSVM {
		curvature = 2
	}
	var lipschitz float64
	for i, x := range X {
		lipschitz += weights[i] * curvature * (x.SquaredNorm() + 1)
	}
	lipschitz = lipschitz/n + 1/(m.C*n)
	step := 1 / lipschitz

	var gradFn func(w, b, gw, gb []float64)
	switch m.Kind {
	case Logistic:
		gradFn = func(w, b, gw, gb []float64) { m.logisticGrad(X, y, weights, w, b, gw, gb) }
	case LinearSVM:
		gradFn = func(w, b, gw, gb []float64) { m.hingeGrad(X, y, weights, w, b, gw, gb) }
	default:
		return fmt.Errorf("ml: unsupported classifier %q", m.Kind)
	}

	// Nesterov accelerated gradient descent.
	w, b := m.coef, m.intercept
	prevW := make([]float64, len(w))
	prevB := make([]float64, len(b))
	lookW := make([]float64, len(w))
	lookB := make([]float64, len(b))
	gw := make([]float64, len(w))
	gb := make([]float64, len(b))

	m.iters = 0
	for it := 1; it <= m.MaxIter; it++ {
		momentum := float64(it-1) / float64(it+2)
		for j := range w {
			lookW[j] = w[j] + momentum*(w[j]-prevW[j])
		}
		for k := range b {
			lookB[k] = b[k] + momentum*(b[k]-prevB[k])
		}

		gradFn(lookW, lookB, gw, gb)
		for j := range gw {
			gw[j] = gw[j]/n + lookW[j]/(m.C*n)
		}
		for k := range gb {
			gb[k] /= n
		}

		copy(prevW, w)
		copy(prevB, b)
		copy(w, lookW)
		copy(b, lookB)
		floats.AddScaled(w, -step, gw)
		floats.AddScaled(b, -step, gb)
		m.iters = it

		if math.Max(floats.Norm(gw, math.Inf(1)), floats.Norm(gb, math.Inf(1))) < m.Tol {
			break
		}
	}
	return nil
}

// logisticGrad accumulates the unscaled weighted cross-entropy gradient.
func (m *LinearModel) logisticGrad(X []SparseVector, y []int, sw, w, b, gw, gb []float64) {
	zero(gw)
	zero(gb)
	z := make([]float64, m.classes)
	for i, x := range X {
		for k := 0; k < m.classes; k++ {
			z[k] = x.Dot(w[k*m.dim:(k+1)*m.dim]) + b[k]
		}
		softmax(z)
		for k := 0; k < m.classes; k++ {
			g := z[k]
			if k == y[i] {
				g -= 1
			}
			g *= sw[i]
			if g == 0 {
				continue
			}
			row := gw[k*m.dim : (k+1)*m.dim]
			for j, idx := range x.Indices {
				row[idx] += g * x.Values[j]
			}
			gb[k] += g
		}
	}
}

// hingeGrad accumulates the unscaled one-vs-rest squared hinge gradient.
func (m *LinearModel) hingeGrad(X []SparseVector, y []int, sw, w, b, gw, gb []float64) {
	zero(gw)
	zero(gb)
	for i, x := range X {
		for k := 0; k < m.classes; k++ {
			target := -1.0
			if k == y[i] {
				target = 1
			}
			margin := 1 - target*(x.Dot(w[k*m.dim:(k+1)*m.dim])+b[k])
			if margin <= 0 {
				continue
			}
			g := -2 * sw[i] * target * margin
			row := gw[k*m.dim : (k+1)*m.dim]
			for j, idx := range x.Indices {
				row[idx] += g * x.Values[j]
			}
			gb[k] += g
		}
	}
}

// Decision returns the per-class linear scores for x.
func (m *LinearModel) Decision(x SparseVector) []float64 {
	scores := make([]float64, m.classes)
	for k := range scores {
		scores[k] = x.Dot(m.coef[k*m.dim:(k+1)*m.dim]) + m.intercept[k]
	}
	return scores
}

// Predict returns the index of the highest scoring class. Ties go to the
// lowest index.
func (m *LinearModel) Predict(x SparseVector) int {
	return floats.MaxIdx(m.Decision(x))
}

// SupportsProba reports whether PredictProba yields probabilities.
func (m *LinearModel) SupportsProba() bool { return m.Kind == Logistic }

// PredictProba returns the class probability vector, or false when the
// model kind has no probability estimates.
func (m *LinearModel) PredictProba(x SparseVector) ([]float64, bool) {
	if !m.SupportsProba() {
		return nil, false
	}
	scores := m.Decision(x)
	softmax(scores)
	return scores, true
}

// NumClasses returns the number of fitted classes.
func (m *LinearModel) NumClasses() int { return m.classes }

// Dim returns the fitted feature count.
func (m *LinearModel) Dim() int { return m.dim }

// Iterations returns how many optimiser steps the last Fit took.
func (m *LinearModel) Iterations() int { return m.iters }

// Coef returns a copy of the row-major coefficient matrix.
func (m *LinearModel) Coef() []float64 { return append([]float64(nil), m.coef...) }

// Intercept returns a copy of the per-class intercepts.
func (m *LinearModel) Intercept() []float64 { return append([]float64(nil), m.intercept...) }

// RestoreLinearModel rebuilds a fitted model from persisted state.
func RestoreLinearModel(kind Kind, c float64, classes, dim int, coef, intercept []float64) (*LinearModel, error) {
	if _, err := ParseKind(string(kind)); err != nil || kind == "" {
		return nil, fmt.Errorf("ml: unsupported classifier %q", kind)
	}
	if classes < 2 {
		return nil, ErrSingleClass
	}
	if dim <= 0 {
		return nil, fmt.Errorf("ml: invalid feature dimension %d", dim)
	}
	if len(coef) != classes*dim {
		return nil, fmt.Errorf("ml: coefficient size %d does not match %dx%d", len(coef), classes, dim)
	}
	if len(intercept) != classes {
		return nil, fmt.Errorf("ml: intercept size %d does not match %d classes", len(intercept), classes)
	}
	if !allFinite(coef) {
		return nil, errors.New("ml: non-finite coefficient")
	}
	if !allFinite(intercept) {
		return nil, errors.New("ml: non-finite intercept")
	}
	m := NewLinearModel(kind, c, 0, 0)
	m.classes = classes
	m.dim = dim
	m.coef = append([]float64(nil), coef...)
	m.intercept = append([]float64(nil), intercept...)
	return m, nil
}

// balancedWeights gives each sample n / (k * n_class) so every present
// class contributes equally to the loss.
func balancedWeights(y []int, classes int) []float64 {
	counts := make([]int, classes)
	for _, label := range y {
		counts[label]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	n := float64(len(y))
	weights := make([]float64, len(y))
	for i, label := range y {
		weights[i] = n / (float64(present) * float64(counts[label]))
	}
	return weights
}

func softmax(z []float64) {
	top := z[floats.MaxIdx(z)]
	var sum float64
	for i := range z {
		z[i] = math.Exp(z[i] - top)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
