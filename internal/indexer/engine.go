// Package indexer owns the search engine side of rowsearch: rows are
// tokenized into an in-memory index, flushed into immutable segment files,
// and searched across memory and disk. Superseded and deleted rows are
// tracked as tombstoned document addresses.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

const tombstoneFile = "tombstones.roar"

// Stats are the corpus statistics BM25 needs.
type Stats struct {
	TotalDocs    int64
	AvgDocLength float64
}

// FlushInfo describes a completed flush. Segment is empty when only
// tombstones were written.
type FlushInfo struct {
	Segment  string
	Segments int
	LiveRows int
}

type liveDoc struct {
	addr   rowid.DocAddress
	length int
}

type Engine struct {
	cfg      config.IndexerConfig
	analyzer *tokenizer.Analyzer
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	logger   *slog.Logger

	mu          sync.RWMutex
	readers     map[uint32]*segment.Reader
	live        map[rowid.RowKey]liveDoc
	deleted     *roaring64.Bitmap
	totalTokens int64
	nextSeq     uint32
	// tombstones changed since they were last written
	dirty bool

	onFlush func(FlushInfo, error)

	// serializes IndexRow/DeleteRow/Flush so addresses and tombstones agree
	writeMu sync.Mutex
}

func NewEngine(cfg config.IndexerConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		analyzer: tokenizer.New(cfg.AnalyzerOptions()),
		writer:   segment.NewWriter(cfg.DataDir),
		logger:   slog.Default().With("component", "indexer"),
		readers:  make(map[uint32]*segment.Reader),
		live:     make(map[rowid.RowKey]liveDoc),
		deleted:  roaring64.New(),
	}
	if _, err := e.loadSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	e.memIndex = index.NewMemoryIndex(e.nextSeq)
	return e, nil
}

// Analyzer returns the analyzer rows were indexed with, so queries can be
// normalised the same way.
func (e *Engine) Analyzer() *tokenizer.Analyzer {
	return e.analyzer
}

// IndexRow indexes text for row. An earlier version of the same row is
// tombstoned.
func (e *Engine) IndexRow(row rowid.RowKey, text string) error {
	tokens := e.analyzer.Tokenize(text)

	e.writeMu.Lock()
	addr := e.memIndex.AddDocument(row, tokens)
	e.mu.Lock()
	if prev, ok := e.live[row]; ok {
		e.deleted.Add(prev.addr.Pack())
		e.totalTokens -= int64(prev.length)
		e.dirty = true
	}
	e.live[row] = liveDoc{addr: addr, length: len(tokens)}
	e.totalTokens += int64(len(tokens))
	e.mu.Unlock()
	e.writeMu.Unlock()

	e.logger.Debug("row indexed in memory",
		"row", row.String(),
		"address", addr.String(),
		"token_count", len(tokens),
		"mem_size", e.memIndex.Size(),
	)
	if e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// DeleteRow tombstones row. It reports whether the row was indexed.
func (e *Engine) DeleteRow(row rowid.RowKey) bool {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.live[row]
	if !ok {
		return false
	}
	e.deleted.Add(prev.addr.Pack())
	e.totalTokens -= int64(prev.length)
	delete(e.live, row)
	e.dirty = true
	return true
}

// Retain tombstones every live row for which keep reports false and returns
// how many rows were removed.
func (e *Engine) Retain(keep func(rowid.RowKey) bool) int {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for row, doc := range e.live {
		if keep(row) {
			continue
		}
		e.deleted.Add(doc.addr.Pack())
		e.totalTokens -= int64(doc.length)
		delete(e.live, row)
		removed++
	}
	if removed > 0 {
		e.dirty = true
	}
	return removed
}

// OnFlush registers fn to be called after every flush attempt that had
// something to write. It must be set before the engine is used.
func (e *Engine) OnFlush(fn func(FlushInfo, error)) {
	e.onFlush = fn
}

// Flush writes the memory index to a new segment and persists the
// tombstones. It is a no-op when nothing changed since the last flush.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.RLock()
	dirty := e.dirty
	e.mu.RUnlock()
	if e.memIndex.DocCount() == 0 && !dirty {
		return nil
	}
	info, err := e.flushLocked()
	if e.onFlush != nil {
		e.onFlush(info, err)
	}
	return err
}

// flushLocked does the work of Flush. The caller holds writeMu.
func (e *Engine) flushLocked() (FlushInfo, error) {
	var info FlushInfo
	if e.memIndex.DocCount() > 0 {
		seq := e.memIndex.Seq()
		entries, docs := e.memIndex.Snapshot()
		segmentName, err := e.writer.Write(seq, entries, docs)
		if err != nil {
			return info, fmt.Errorf("writing segment: %w", err)
		}
		reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, segmentName))
		if err != nil {
			return info, fmt.Errorf("opening new segment for reading: %w", err)
		}
		e.mu.Lock()
		e.readers[seq] = reader
		e.nextSeq = seq + 1
		e.memIndex.Reset(e.nextSeq)
		e.mu.Unlock()

		info.Segment = segmentName
		e.logger.Info("segment flushed",
			"segment", segmentName,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	if err := e.writeTombstones(); err != nil {
		return info, err
	}

	e.mu.RLock()
	info.Segments = len(e.readers)
	info.LiveRows = len(e.live)
	e.mu.RUnlock()
	return info, nil
}

// Search returns the live postings for an already-normalised term across the
// memory index and every segment.
func (e *Engine) Search(term string) (index.PostingList, error) {
	if term == "" {
		return nil, nil
	}
	// Flush moves documents from memory to a reader under mu, so taking
	// both views under one read lock never sees a document twice.
	e.mu.RLock()
	postings := e.memIndex.Search(term)
	readers := e.sortedReaders()
	e.mu.RUnlock()

	for _, reader := range readers {
		found, err := reader.Search(term)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", reader.Seq(), err)
		}
		postings = append(postings, found...)
	}

	// Only the current version of a row counts. Stale versions can still be
	// on disk when a segment was written but its tombstones were not.
	e.mu.RLock()
	defer e.mu.RUnlock()
	live := postings[:0]
	for _, p := range postings {
		if doc, ok := e.live[p.Row]; ok && doc.addr == p.Addr {
			live = append(live, p)
		}
	}
	return live, nil
}

// Doc re-fetches the stored document behind a hit address. Addresses that
// are not the current version of their row are reported as missing.
func (e *Engine) Doc(addr rowid.DocAddress) (index.StoredDoc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deleted.Contains(addr.Pack()) {
		return index.StoredDoc{}, false
	}
	var (
		doc index.StoredDoc
		ok  bool
	)
	if reader, found := e.readers[addr.Segment]; found {
		doc, ok = reader.Doc(addr.Doc)
	} else if addr.Segment == e.memIndex.Seq() {
		doc, ok = e.memIndex.Doc(addr.Doc)
	}
	if !ok {
		return index.StoredDoc{}, false
	}
	if current, live := e.live[doc.Row]; !live || current.addr != addr {
		return index.StoredDoc{}, false
	}
	return doc, true
}

// DocLength returns the token count of the live version of row.
func (e *Engine) DocLength(row rowid.RowKey) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live[row].length
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{TotalDocs: int64(len(e.live))}
	if s.TotalDocs > 0 {
		s.AvgDocLength = float64(e.totalTokens) / float64(s.TotalDocs)
	}
	return s
}

// Segments returns the number of open segments.
func (e *Engine) Segments() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.readers)
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// ReloadSegments picks up segments and tombstones written by another
// process sharing the data directory. It returns the number of new segments.
func (e *Engine) ReloadSegments() (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	loaded, err := e.loadSegments()
	if err != nil {
		return 0, err
	}
	if e.memIndex.DocCount() == 0 {
		e.memIndex.Reset(e.nextSeq)
	}
	return loaded, nil
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = make(map[uint32]*segment.Reader)
	return nil
}

// loadSegments opens segment files not yet known, reloads the tombstone set
// and rebuilds the live row table. Callers hold writeMu or own the engine
// exclusively.
func (e *Engine) loadSegments() (int, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	deleted, err := e.readTombstones()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := 0
	for _, name := range names {
		path := filepath.Join(e.cfg.DataDir, name)
		if e.known(path) {
			continue
		}
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers[reader.Seq()] = reader
		if reader.Seq() >= e.nextSeq {
			e.nextSeq = reader.Seq() + 1
		}
		loaded++
		e.logger.Info("loaded segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	if deleted != nil {
		e.deleted.Or(deleted)
	}
	e.rebuildLive()
	e.logger.Info("segment recovery complete",
		"segments_loaded", loaded,
		"segments_active", len(e.readers),
		"live_rows", len(e.live),
	)
	return loaded, nil
}

func (e *Engine) known(path string) bool {
	for _, r := range e.readers {
		if r.Path() == path {
			return true
		}
	}
	return false
}

// rebuildLive recomputes the row table from segments in sequence order,
// later segments shadowing earlier ones. The caller holds mu.
func (e *Engine) rebuildLive() {
	live := make(map[rowid.RowKey]liveDoc)
	var tokens int64
	for _, reader := range e.sortedReaders() {
		for _, doc := range reader.Docs() {
			if e.deleted.Contains(doc.Addr.Pack()) {
				continue
			}
			if prev, ok := live[doc.Row]; ok {
				tokens -= int64(prev.length)
			}
			live[doc.Row] = liveDoc{addr: doc.Addr, length: doc.Length}
			tokens += int64(doc.Length)
		}
	}
	if e.memIndex != nil {
		_, docs := e.memIndex.Snapshot()
		for _, doc := range docs {
			if e.deleted.Contains(doc.Addr.Pack()) {
				continue
			}
			if prev, ok := live[doc.Row]; ok {
				tokens -= int64(prev.length)
			}
			live[doc.Row] = liveDoc{addr: doc.Addr, length: doc.Length}
			tokens += int64(doc.Length)
		}
	}
	e.live = live
	e.totalTokens = tokens
}

// sortedReaders returns the open readers in sequence order. The caller holds
// mu.
func (e *Engine) sortedReaders() []*segment.Reader {
	readers := make([]*segment.Reader, 0, len(e.readers))
	for _, r := range e.readers {
		readers = append(readers, r)
	}
	sort.Slice(readers, func(i, j int) bool {
		return readers[i].Seq() < readers[j].Seq()
	})
	return readers
}

// writeTombstones persists the tombstone set. The caller holds writeMu.
func (e *Engine) writeTombstones() error {
	e.mu.RLock()
	data, err := e.deleted.MarshalBinary()
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("serializing tombstones: %w", err)
	}
	path := filepath.Join(e.cfg.DataDir, tombstoneFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing tombstones: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming tombstones: %w", err)
	}
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) readTombstones() (*roaring64.Bitmap, error) {
	data, err := os.ReadFile(filepath.Join(e.cfg.DataDir, tombstoneFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tombstones: %w", err)
	}
	bm := roaring64.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("parsing tombstones: %w", err)
	}
	return bm, nil
}
