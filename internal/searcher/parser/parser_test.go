package parser

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
	"github.com/stretchr/testify/assert"
)

var analyzer = tokenizer.New(tokenizer.DefaultOptions())

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		terms    []string
		excludes []string
		typ      QueryType
	}{
		{"empty", "   ", []string{}, []string{}, QueryAND},
		{"implicit and", "postgres search", []string{"postgr", "search"}, []string{}, QueryAND},
		{"or", "ranking OR caching", []string{"rank", "cach"}, []string{}, QueryOR},
		{"not", "database NOT mysql", []string{"database"}, []string{"mysql"}, QueryAND},
		{"stop words dropped", "the index of rows", []string{"index", "row"}, []string{}, QueryAND},
		{"duplicates collapsed", "Search search SEARCHES", []string{"search"}, []string{}, QueryAND},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query, analyzer)
			assert.Equal(t, tt.terms, plan.Terms)
			assert.Equal(t, tt.excludes, plan.ExcludeTerms)
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestNormalizedIsOrderInsensitive(t *testing.T) {
	a := Parse("search postgres NOT mysql", analyzer)
	b := Parse("POSTGRES Search not MySQL", analyzer)
	assert.Equal(t, a.Normalized(), b.Normalized())
	assert.Equal(t, "AND|postgr,search|NOT:mysql", a.Normalized())

	c := Parse("search OR postgres", analyzer)
	assert.NotEqual(t, a.Normalized(), c.Normalized())
}
