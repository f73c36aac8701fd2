package ml

import "math"

// SparseVector holds the non-zero entries of a feature vector. Indices are
// strictly increasing.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Len returns the number of stored entries.
func (v SparseVector) Len() int { return len(v.Indices) }

// Dot returns the inner product with a dense row.
func (v SparseVector) Dot(row []float64) float64 {
	var sum float64
	for i, idx := range v.Indices {
		sum += v.Values[i] * row[idx]
	}
	return sum
}

// SquaredNorm returns the squared L2 norm.
func (v SparseVector) SquaredNorm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return sum
}

// normalize scales v to unit L2 norm in place. Zero vectors are left alone.
func (v SparseVector) normalize() {
	norm := math.Sqrt(v.SquaredNorm())
	if norm == 0 {
		return
	}
	for i := range v.Values {
		v.Values[i] /= norm
	}
}
