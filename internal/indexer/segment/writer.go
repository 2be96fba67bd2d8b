package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 96
	FooterSize    int    = 16
	Extension            = ".spdx"
)

// SegmentHeader is the fixed-size header written at the start of every
// segment. The postings region starts right after it, followed by the
// dictionary and the document table.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	Seq        uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
}

// DictEntry maps a term to its postings offset, length, and document frequency
// in the segment file.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// FileName returns the file name of the segment with sequence number seq.
// Names sort in sequence order.
func FileName(seq uint32) string {
	return fmt.Sprintf("seg_%010d%s", seq, Extension)
}

// Writer serialises memory index snapshots into new segment files.
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates the segment file for seq. It writes to a .tmp
// file first and renames on success.
func (w *Writer) Write(seq uint32, entries []index.TermEntry, docs []index.StoredDoc) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := FileName(seq)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		Seq:        seq,
		TermCount:  uint32(len(entries)),
		DocCount:   uint32(len(docs)),
		CreatedAt:  time.Now().Unix(),
		PostOffset: int64(HeaderSize),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("reserving header: %w", err)
	}

	dict := make([]DictEntry, 0, len(entries))
	var offset int64
	for _, entry := range entries {
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(data),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(data))
	}
	header.PostSize = offset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))

	docsData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling document table: %w", err)
	}
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing document table: %w", err)
	}
	header.DocsOffset = header.DictOffset + header.DictSize
	header.DocsSize = int64(len(docsData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(docsData))
	binary.LittleEndian.PutUint32(footer[8:12], header.DocCount)
	binary.LittleEndian.PutUint32(footer[12:16], MagicBytes)
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Seq)
	binary.LittleEndian.PutUint32(buf[12:16], h.TermCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.DocCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(buf[72:80], uint64(h.DocsSize))
	return buf
}

func decodeHeader(buf []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		Seq:        binary.LittleEndian.Uint32(buf[8:12]),
		TermCount:  binary.LittleEndian.Uint32(buf[12:16]),
		DocCount:   binary.LittleEndian.Uint32(buf[16:20]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(buf[24:32])),
		PostOffset: int64(binary.LittleEndian.Uint64(buf[32:40])),
		PostSize:   int64(binary.LittleEndian.Uint64(buf[40:48])),
		DictOffset: int64(binary.LittleEndian.Uint64(buf[48:56])),
		DictSize:   int64(binary.LittleEndian.Uint64(buf[56:64])),
		DocsOffset: int64(binary.LittleEndian.Uint64(buf[64:72])),
		DocsSize:   int64(binary.LittleEndian.Uint64(buf[72:80])),
	}
}
