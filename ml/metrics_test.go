package ml

import (
	"math"
	"strings"
	"testing"
)

func TestAccuracy(t *testing.T) {
	if got := Accuracy([]string{"a", "b", "c", "a"}, []string{"a", "b", "a", "a"}); got != 0.75 {
		t.Fatalf("Accuracy = %v, want 0.75", got)
	}
	if got := Accuracy(nil, nil); got != 0 {
		t.Fatalf("Accuracy of empty input = %v, want 0", got)
	}
}

func TestClassificationReport(t *testing.T) {
	yTrue := []string{"spam", "spam", "urgent", "urgent", "information"}
	yPred := []string{"spam", "urgent", "urgent", "urgent", "spam"}

	r := NewClassificationReport([]string{"information", "spam", "urgent"}, yTrue, yPred)
	if len(r.Classes) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(r.Classes))
	}

	byLabel := make(map[string]ClassMetrics)
	for _, m := range r.Classes {
		byLabel[m.Label] = m
	}
	spam := byLabel["spam"]
	if spam.Precision != 0.5 || spam.Recall != 0.5 || spam.Support != 2 {
		t.Fatalf("unexpected spam metrics: %+v", spam)
	}
	urgent := byLabel["urgent"]
	if math.Abs(urgent.Precision-2.0/3.0) > 1e-12 || urgent.Recall != 1 {
		t.Fatalf("unexpected urgent metrics: %+v", urgent)
	}
	if info := byLabel["information"]; info.F1 != 0 {
		t.Fatalf("expected zero F1 for information, got %+v", info)
	}
	if r.Accuracy != 0.6 {
		t.Fatalf("accuracy = %v, want 0.6", r.Accuracy)
	}

	out := r.String()
	for _, want := range []string{"precision", "macro avg", "weighted avg", "accuracy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
