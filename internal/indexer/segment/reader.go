package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// Reader serves term lookups and document fetches from one immutable
// segment file. The dictionary and document table are held in memory; the
// postings are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []index.StoredDoc
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header of %s: %v", apperrors.ErrCorruptSegment, path, err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x in %s", apperrors.ErrCorruptSegment, header.Magic, path)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d in %s", apperrors.ErrCorruptSegment, header.Version, path)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DocsOffset+header.DocsSize); err != nil {
		return nil, fmt.Errorf("%w: reading footer of %s: %v", apperrors.ErrCorruptSegment, path, err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch in %s", apperrors.ErrCorruptSegment, path)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	if crc32.ChecksumIEEE(docsBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("%w: document table checksum mismatch in %s", apperrors.ErrCorruptSegment, path)
	}
	var docs []index.StoredDoc
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}

	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
	}, nil
}

func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Doc returns the stored document at ordinal doc.
func (r *Reader) Doc(doc uint32) (index.StoredDoc, bool) {
	if int(doc) >= len(r.docs) {
		return index.StoredDoc{}, false
	}
	return r.docs[doc], true
}

// Docs returns the document table in ordinal order. The slice is shared and
// must not be modified.
func (r *Reader) Docs() []index.StoredDoc {
	return r.docs
}

func (r *Reader) Seq() uint32 {
	return r.header.Seq
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
