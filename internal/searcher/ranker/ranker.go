// Package ranker scores candidate rows with Okapi BM25.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Hit is one scored row.
type Hit struct {
	Row   rowid.RowKey
	Addr  rowid.DocAddress
	Score float32
}

type RankParams struct {
	TotalDocs    int64
	AvgDocLength float64
	// DocFreq overrides the per-term document frequency when the postings
	// passed to Rank were already filtered down to the candidate rows.
	DocFreq map[string]int
}

// Ranking is the ranked hit list together with the score bounds over every
// scored row, not just the returned ones.
type Ranking struct {
	Hits     []Hit
	Total    int
	MinScore float32
	MaxScore float32
}

// Rank scores every row in postingsPerTerm and returns the best limit hits
// ordered by score descending, then row key ascending. limit <= 0 returns all.
func Rank(
	postingsPerTerm map[string]index.PostingList,
	params RankParams,
	docLength func(row rowid.RowKey) int,
	limit int,
) Ranking {
	scores := make(map[rowid.RowKey]float64)
	addrs := make(map[rowid.RowKey]rowid.DocAddress)
	for term, postings := range postingsPerTerm {
		df := len(postings)
		if n, ok := params.DocFreq[term]; ok {
			df = n
		}
		idf := computeIDF(params.TotalDocs, int64(df))
		for _, posting := range postings {
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(docLength(posting.Row)),
				params.AvgDocLength,
			)
			scores[posting.Row] += idf * tfNorm
			addrs[posting.Row] = posting.Addr
		}
	}

	ranking := Ranking{Hits: make([]Hit, 0, len(scores)), Total: len(scores)}
	for row, score := range scores {
		ranking.Hits = append(ranking.Hits, Hit{Row: row, Addr: addrs[row], Score: float32(score)})
	}
	sort.Slice(ranking.Hits, func(i, j int) bool {
		if ranking.Hits[i].Score != ranking.Hits[j].Score {
			return ranking.Hits[i].Score > ranking.Hits[j].Score
		}
		return ranking.Hits[i].Row.Less(ranking.Hits[j].Row)
	})
	if n := len(ranking.Hits); n > 0 {
		ranking.MaxScore = ranking.Hits[0].Score
		ranking.MinScore = ranking.Hits[n-1].Score
	}
	if limit > 0 && len(ranking.Hits) > limit {
		ranking.Hits = ranking.Hits[:limit]
	}
	return ranking
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
