// Package corpustest provides a small labeled email corpus for tests.
package corpustest

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"mailclass/corpus"
)

//go:embed emails.jsonl
var emailsJSONL []byte

// Labels is the closed label set used by the fixture.
var Labels = []string{"action_request", "information", "complaint", "urgent", "spam"}

// JSONL returns the raw fixture bytes.
func JSONL() []byte {
	return append([]byte(nil), emailsJSONL...)
}

// Dataset parses the embedded corpus. It holds 12 examples per label,
// interleaved by label.
func Dataset(t testing.TB) *corpus.Dataset {
	t.Helper()
	ds, err := corpus.Read(bytes.NewReader(emailsJSONL), Labels)
	if err != nil {
		t.Fatalf("parse fixture corpus: %v", err)
	}
	return ds
}

// Balanced returns the first n examples of each label.
func Balanced(t testing.TB, n int) *corpus.Dataset {
	t.Helper()
	full := Dataset(t)
	taken := make(map[string]int)
	var idx []int
	for i, ex := range full.Examples {
		if taken[ex.Label] < n {
			taken[ex.Label]++
			idx = append(idx, i)
		}
	}
	return full.Subset(idx)
}

// WriteFile writes the fixture to a file in a fresh temp dir and returns its path.
func WriteFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.jsonl")
	if err := os.WriteFile(path, emailsJSONL, 0o600); err != nil {
		t.Fatalf("write fixture corpus: %v", err)
	}
	return path
}
