package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
)

// MemoryIndex is the mutable segment that receives new rows until it is
// flushed. Every document added to it is addressed with the index's segment
// sequence number and its insertion ordinal, and keeps that address once
// written to disk.
type MemoryIndex struct {
	mu    sync.RWMutex
	seq   uint32
	index map[string][]Posting
	docs  []StoredDoc
	size  int64
}

func NewMemoryIndex(seq uint32) *MemoryIndex {
	return &MemoryIndex{
		seq:   seq,
		index: make(map[string][]Posting),
	}
}

// AddDocument indexes tokens for row and returns the address assigned to it.
func (m *MemoryIndex) AddDocument(row rowid.RowKey, tokens []tokenizer.Token) rowid.DocAddress {
	termData := make(map[string]*Posting)
	order := make([]string, 0, len(tokens))
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{Row: row, Positions: make([]int, 0, 4)}
			termData[token.Term] = p
			order = append(order, token.Term)
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := rowid.DocAddress{Segment: m.seq, Doc: uint32(len(m.docs))}
	m.docs = append(m.docs, StoredDoc{Row: row, Addr: addr, Length: len(tokens)})
	for _, term := range order {
		posting := termData[term]
		posting.Addr = addr
		m.index[term] = append(m.index[term], *posting)
		m.size += int64(len(term) + len(posting.Positions)*8 + 64)
	}
	m.size += 32
	return addr
}

// Search returns the postings for term in address order.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	postings, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, len(postings))
	copy(result, postings)
	return result
}

// Doc returns the stored document at ordinal doc.
func (m *MemoryIndex) Doc(doc uint32) (StoredDoc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(doc) >= len(m.docs) {
		return StoredDoc{}, false
	}
	return m.docs[doc], true
}

// Snapshot returns the term dictionary sorted by term together with the
// document table in ordinal order.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []StoredDoc) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, postings := range m.index {
		pl := make(PostingList, len(postings))
		copy(pl, postings)
		entries = append(entries, TermEntry{Term: term, Postings: pl})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	docs := make([]StoredDoc, len(m.docs))
	copy(docs, m.docs)
	return entries, docs
}

func (m *MemoryIndex) Seq() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Reset empties the index and moves it to segment sequence seq.
func (m *MemoryIndex) Reset(seq uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = seq
	m.index = make(map[string][]Posting)
	m.docs = nil
	m.size = 0
}
