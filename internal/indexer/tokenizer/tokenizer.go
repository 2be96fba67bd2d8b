// Package tokenizer turns row text into index terms. It lower-cases input,
// splits on non-alphanumeric boundaries, drops stop-words and short tokens,
// and optionally applies a suffix-stripping stemmer.
package tokenizer

import (
	"strings"
	"unicode"
)

var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can", "do",
	"each", "for", "from", "had", "has", "have", "he", "if", "in", "is",
	"it", "its", "no", "not", "of", "on", "or", "so", "that", "the",
	"their", "they", "this", "to", "was", "were", "what", "when", "where",
	"which", "who", "will", "with",
}

// Token is a normalised term and its position among the kept tokens.
type Token struct {
	Term     string
	Position int
}

// Options configures an Analyzer.
type Options struct {
	MinTokenLen int
	StopWords   []string
	Stem        bool
}

// DefaultOptions returns the English analyzer used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinTokenLen: 2,
		StopWords:   defaultStopWords,
		Stem:        true,
	}
}

// Analyzer tokenizes text. It is immutable after construction and safe for
// concurrent use.
type Analyzer struct {
	minLen int
	stop   map[string]struct{}
	stem   bool
}

// New builds an Analyzer from opts.
func New(opts Options) *Analyzer {
	stop := make(map[string]struct{}, len(opts.StopWords))
	for _, w := range opts.StopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	minLen := opts.MinTokenLen
	if minLen < 1 {
		minLen = 1
	}
	return &Analyzer{minLen: minLen, stop: stop, stem: opts.Stem}
}

var defaultAnalyzer = New(DefaultOptions())

// Tokenize analyzes text with the default English analyzer.
func Tokenize(text string) []Token {
	return defaultAnalyzer.Tokenize(text)
}

// Tokenize breaks text into normalised tokens.
func (a *Analyzer) Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2)
	for _, word := range words {
		if len(word) < a.minLen {
			continue
		}
		if _, isStop := a.stop[word]; isStop {
			continue
		}
		if a.stem {
			word = stem(word)
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{Term: word, Position: len(tokens)})
	}
	return tokens
}

// Term normalises a single query word, returning "" when it would be dropped.
func (a *Analyzer) Term(word string) string {
	tokens := a.Tokenize(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0].Term
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

// Longest suffixes first; the first rule whose result is long enough wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement
		if len(stemmed) >= rule.minLen {
			return stemmed
		}
	}
	return word
}
