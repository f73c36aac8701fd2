package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrEmptyVocabulary is returned by Fit when no term survives tokenisation.
var ErrEmptyVocabulary = errors.New("ml: empty vocabulary")

// NGramRange is the inclusive span of token n-gram lengths used as features.
type NGramRange struct {
	Min int
	Max int
}

func (r NGramRange) String() string {
	return fmt.Sprintf("(%d,%d)", r.Min, r.Max)
}

// TFIDF converts text into L2-normalised term-frequency times inverse
// document frequency vectors. It is fit once and read-only afterwards.
type TFIDF struct {
	MaxFeatures int
	NGram       NGramRange
	StopWords   bool

	vocab map[string]int
	terms []string
	idf   []float64
}

// NewTFIDF returns an unfit extractor. maxFeatures <= 0 keeps every term.
func NewTFIDF(maxFeatures int, ngram NGramRange, stopWords bool) *TFIDF {
	return &TFIDF{MaxFeatures: maxFeatures, NGram: ngram, StopWords: stopWords}
}

// Fit builds the vocabulary and IDF weights from texts.
func (v *TFIDF) Fit(texts []string) error {
	if v.NGram.Min < 1 || v.NGram.Max < v.NGram.Min {
		return fmt.Errorf("ml: invalid ngram range %v", v.NGram)
	}

	termCount := make(map[string]int)
	docFreq := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]bool)
		for _, term := range v.analyze(text) {
			termCount[term]++
			if !seen[term] {
				seen[term] = true
				docFreq[term]++
			}
		}
	}
	if len(termCount) == 0 {
		return ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(termCount))
	for term := range termCount {
		terms = append(terms, term)
	}
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			ci, cj := termCount[terms[i]], termCount[terms[j]]
			if ci != cj {
				return ci > cj
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(texts))
	v.terms = terms
	v.vocab = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocab[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}
	return nil
}

// Transform maps text into the fitted feature space. Unknown terms are
// ignored; text with no known term yields an empty vector.
func (v *TFIDF) Transform(text string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range v.analyze(text) {
		if idx, ok := v.vocab[term]; ok {
			counts[idx]++
		}
	}

	vec := SparseVector{
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)
	for _, idx := range vec.Indices {
		vec.Values = append(vec.Values, counts[idx]*v.idf[idx])
	}
	vec.normalize()
	return vec
}

// TransformAll applies Transform to each text.
func (v *TFIDF) TransformAll(texts []string) []SparseVector {
	out := make([]SparseVector, len(texts))
	for i, text := range texts {
		out[i] = v.Transform(text)
	}
	return out
}

// Dim returns the number of features, zero before Fit.
func (v *TFIDF) Dim() int { return len(v.terms) }

// Terms returns the vocabulary in feature-index order.
func (v *TFIDF) Terms() []string { return append([]string(nil), v.terms...) }

// IDF returns the per-feature inverse document frequencies.
func (v *TFIDF) IDF() []float64 { return append([]float64(nil), v.idf...) }

// RestoreTFIDF rebuilds a fitted extractor from persisted state.
func RestoreTFIDF(maxFeatures int, ngram NGramRange, stopWords bool, terms []string, idf []float64) (*TFIDF, error) {
	if len(terms) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if len(terms) != len(idf) {
		return nil, fmt.Errorf("ml: %d terms but %d idf weights", len(terms), len(idf))
	}
	if ngram.Min < 1 || ngram.Max < ngram.Min {
		return nil, fmt.Errorf("ml: invalid ngram range %v", ngram)
	}
	// Smoothed idf is always at least 1.
	for i, w := range idf {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return nil, fmt.Errorf("ml: invalid idf weight %v for term %q", w, terms[i])
		}
	}
	v := NewTFIDF(maxFeatures, ngram, stopWords)
	v.terms = append([]string(nil), terms...)
	v.idf = append([]float64(nil), idf...)
	v.vocab = make(map[string]int, len(terms))
	for i, term := range v.terms {
		if _, dup := v.vocab[term]; dup {
			return nil, fmt.Errorf("ml: duplicate vocabulary term %q", term)
		}
		v.vocab[term] = i
	}
	return v, nil
}

func (v *TFIDF) analyze(text string) []string {
	return NGrams(Tokenize(text, v.StopWords), v.NGram)
}
