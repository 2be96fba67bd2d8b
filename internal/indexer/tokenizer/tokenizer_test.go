package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("The quick brown fox is a runner")
	assert.Equal(t, []string{"quick", "brown", "fox", "runn"}, terms(tokens))
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
	}
}

func TestTokenizeSplitsOnPunctuation(t *testing.T) {
	assert.Equal(t, []string{"postgr", "16", "rock"}, terms(Tokenize("Postgres-16, rocks!")))
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"relational": "relate",
		"indexing":   "index",
		"queries":    "query",
		"shoes":      "sho",
		"class":      "class",
		"go":         "go",
	}
	for in, want := range cases {
		assert.Equal(t, want, stem(in), in)
	}
}

func TestAnalyzerOptions(t *testing.T) {
	a := New(Options{MinTokenLen: 1, StopWords: []string{"FOO"}, Stem: false})
	assert.Equal(t, []string{"x", "running"}, terms(a.Tokenize("foo x running")))
	assert.Equal(t, "", a.Term("foo"))
	assert.Equal(t, "running", a.Term("Running"))
}

func TestTermUsesDefaultAnalyzer(t *testing.T) {
	assert.Equal(t, "search", defaultAnalyzer.Term("Searches"))
	assert.Equal(t, "", defaultAnalyzer.Term("the"))
}

func BenchmarkTokenize(b *testing.B) {
	text := strings.Repeat("Replication lag between the primary and its standby servers grows under heavy write load. ", 20)
	a := New(DefaultOptions())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Tokenize(text)
	}
}
