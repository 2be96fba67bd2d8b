// Package parser turns a raw query string into a QueryPlan. Words are joined
// with AND by default; the keywords AND, OR and NOT switch the combination
// mode or exclude the following word.
package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Parse builds a plan, normalising each word with analyzer so terms match
// what was indexed. Words the analyzer drops are ignored.
func Parse(query string, analyzer *tokenizer.Analyzer) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		term := analyzer.Term(word)
		if term == "" {
			continue
		}
		if excludeNext {
			plan.ExcludeTerms = appendUnique(plan.ExcludeTerms, term)
			excludeNext = false
		} else {
			plan.Terms = appendUnique(plan.Terms, term)
		}
	}
	return plan
}

// Normalized renders the plan canonically, independent of term order and
// letter case, for use as a cache key.
func (p *QueryPlan) Normalized() string {
	terms := append([]string(nil), p.Terms...)
	excludes := append([]string(nil), p.ExcludeTerms...)
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{p.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}

func appendUnique(list []string, term string) []string {
	for _, t := range list {
		if t == term {
			return list
		}
	}
	return append(list, term)
}
