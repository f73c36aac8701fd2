package ml

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input     string
		stopWords bool
		want      []string
	}{
		{"Hello, World!", false, []string{"hello", "world"}},
		{"Process the INVOICE by Friday.", true, []string{"process", "invoice", "friday"}},
		{"a I x9 ok", false, []string{"x9", "ok"}},
		{"Ｆｕｌｌｗｉｄｔｈ text", false, []string{"fullwidth", "text"}},
		{"Straße", false, []string{"strasse"}},
		{"yesterday's   minutes", false, []string{"yesterday", "minutes"}},
		{"", false, nil},
	}

	for _, tt := range tests {
		got := Tokenize(tt.input, tt.stopWords)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNGrams(t *testing.T) {
	tokens := []string{"server", "is", "down"}
	got := NGrams(tokens, NGramRange{Min: 1, Max: 2})
	want := []string{"server", "is", "down", "server is", "is down"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NGrams = %v, want %v", got, want)
	}
	if got := NGrams(tokens, NGramRange{Min: 4, Max: 5}); len(got) != 0 {
		t.Fatalf("expected no 4-grams, got %v", got)
	}
}

func TestTFIDFFitTransform(t *testing.T) {
	texts := []string{
		"invoice payment invoice",
		"server outage",
		"invoice overdue",
	}
	v := NewTFIDF(0, NGramRange{Min: 1, Max: 1}, false)
	if err := v.Fit(texts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTerms := []string{"invoice", "outage", "overdue", "payment", "server"}
	if !reflect.DeepEqual(v.Terms(), wantTerms) {
		t.Fatalf("terms = %v, want %v", v.Terms(), wantTerms)
	}

	// invoice appears in 2 of 3 documents.
	wantIDF := math.Log(4.0/3.0) + 1
	if math.Abs(v.IDF()[0]-wantIDF) > 1e-12 {
		t.Fatalf("idf(invoice) = %v, want %v", v.IDF()[0], wantIDF)
	}

	vec := v.Transform("invoice payment invoice unknownword")
	if !reflect.DeepEqual(vec.Indices, []int{0, 3}) {
		t.Fatalf("unexpected indices %v", vec.Indices)
	}
	if math.Abs(vec.SquaredNorm()-1) > 1e-12 {
		t.Fatalf("expected unit norm, got %v", vec.SquaredNorm())
	}

	if empty := v.Transform("nothing known"); empty.Len() != 0 {
		t.Fatalf("expected empty vector, got %+v", empty)
	}
}

func TestTFIDFMaxFeaturesKeepsMostFrequent(t *testing.T) {
	texts := []string{"alpha alpha beta", "alpha gamma", "beta delta"}
	v := NewTFIDF(2, NGramRange{Min: 1, Max: 1}, false)
	if err := v.Fit(texts); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v.Terms(), []string{"alpha", "beta"}) {
		t.Fatalf("expected the two most frequent terms, got %v", v.Terms())
	}
}

func TestTFIDFEmptyVocabulary(t *testing.T) {
	v := NewTFIDF(10, NGramRange{Min: 1, Max: 1}, true)
	err := v.Fit([]string{"the and of", "a"})
	if !errors.Is(err, ErrEmptyVocabulary) {
		t.Fatalf("expected ErrEmptyVocabulary, got %v", err)
	}
}

func TestRestoreTFIDF(t *testing.T) {
	v := NewTFIDF(0, NGramRange{Min: 1, Max: 2}, true)
	if err := v.Fit([]string{"urgent outage now", "invoice attached"}); err != nil {
		t.Fatal(err)
	}
	restored, err := RestoreTFIDF(v.MaxFeatures, v.NGram, v.StopWords, v.Terms(), v.IDF())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := "urgent invoice outage"
	if !reflect.DeepEqual(v.Transform(text), restored.Transform(text)) {
		t.Fatal("restored extractor transforms differently")
	}

	if _, err := RestoreTFIDF(0, NGramRange{1, 1}, false, []string{"a", "a"}, []float64{1, 1}); err == nil {
		t.Fatal("expected duplicate term error")
	}
	if _, err := RestoreTFIDF(0, NGramRange{1, 1}, false, []string{"a"}, nil); err == nil {
		t.Fatal("expected size mismatch error")
	}
}
