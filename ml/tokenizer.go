package ml

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenize normalises text (NFKC, case folded) and splits it into word
// tokens of at least two letters, digits or underscores. When stopWords is
// true, common English stop words are dropped.
func Tokenize(text string, stopWords bool) []string {
	// Casers keep state and must not be shared between goroutines.
	folded := cases.Fold().String(norm.NFKC.String(text))

	var tokens []string
	var cur strings.Builder
	runes := 0
	flush := func() {
		if runes >= 2 {
			tok := cur.String()
			if !stopWords || !isStopWord(tok) {
				tokens = append(tokens, tok)
			}
		}
		cur.Reset()
		runes = 0
	}

	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
			runes++
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// NGrams joins every run of n consecutive tokens, for each n in r, with a
// single space.
func NGrams(tokens []string, r NGramRange) []string {
	if r.Min < 1 {
		r.Min = 1
	}
	var out []string
	for n := r.Min; n <= r.Max; n++ {
		if n > len(tokens) {
			break
		}
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				out = append(out, tokens[i])
				continue
			}
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
