package index

import "github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"

// Posting records one row's occurrences of a term.
type Posting struct {
	Row       rowid.RowKey     `json:"r"`
	Addr      rowid.DocAddress `json:"a"`
	Frequency int              `json:"f"`
	Positions []int            `json:"p,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// StoredDoc is what the engine keeps per indexed document and returns when a
// hit is re-fetched by address.
type StoredDoc struct {
	Row    rowid.RowKey     `json:"row"`
	Addr   rowid.DocAddress `json:"address"`
	Length int              `json:"length"`
}
