// Package rowid defines the locators shared by the index engine and the
// query executor: RowKey, the physical position of a row in the host table,
// and DocAddress, the engine's own address for an indexed document.
package rowid

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// RowKey identifies a row by storage block and slot offset within that
// block, i.e. a Postgres ctid. Two keys are equal iff both fields are equal.
type RowKey struct {
	Block  uint32 `json:"block"`
	Offset uint16 `json:"offset"`
}

// ParseRowKey parses the textual ctid form "(block,offset)".
func ParseRowKey(s string) (RowKey, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || s[0] != '(' || s[len(s)-1] != ')' {
		return RowKey{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidRowKey, s)
	}
	blockStr, offsetStr, ok := strings.Cut(s[1:len(s)-1], ",")
	if !ok {
		return RowKey{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidRowKey, s)
	}
	block, err := strconv.ParseUint(strings.TrimSpace(blockStr), 10, 32)
	if err != nil {
		return RowKey{}, fmt.Errorf("%w: block of %q: %v", apperrors.ErrInvalidRowKey, s, err)
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(offsetStr), 10, 16)
	if err != nil {
		return RowKey{}, fmt.Errorf("%w: offset of %q: %v", apperrors.ErrInvalidRowKey, s, err)
	}
	return RowKey{Block: uint32(block), Offset: uint16(offset)}, nil
}

// String renders the key in ctid form, e.g. "(3,5)".
func (k RowKey) String() string {
	return "(" + strconv.FormatUint(uint64(k.Block), 10) + "," + strconv.FormatUint(uint64(k.Offset), 10) + ")"
}

// Pack folds the key into a single integer that preserves ordering.
func (k RowKey) Pack() uint64 {
	return uint64(k.Block)<<16 | uint64(k.Offset)
}

// Unpack is the inverse of RowKey.Pack.
func Unpack(v uint64) RowKey {
	return RowKey{Block: uint32(v >> 16), Offset: uint16(v)}
}

// Less orders keys by block, then offset.
func (k RowKey) Less(other RowKey) bool {
	if k.Block != other.Block {
		return k.Block < other.Block
	}
	return k.Offset < other.Offset
}

// DocAddress is the engine's address for an indexed document: the segment it
// lives in and its ordinal inside that segment. Callers outside the engine
// treat it as opaque.
type DocAddress struct {
	Segment uint32 `json:"segment"`
	Doc     uint32 `json:"doc"`
}

// String renders the address as "segment:doc".
func (a DocAddress) String() string {
	return strconv.FormatUint(uint64(a.Segment), 10) + ":" + strconv.FormatUint(uint64(a.Doc), 10)
}

// Pack folds the address into a single integer, segment in the high half.
func (a DocAddress) Pack() uint64 {
	return uint64(a.Segment)<<32 | uint64(a.Doc)
}

// UnpackDocAddress is the inverse of DocAddress.Pack.
func UnpackDocAddress(v uint64) DocAddress {
	return DocAddress{Segment: uint32(v >> 32), Doc: uint32(v)}
}

// ParseDocAddress parses the "segment:doc" form produced by String.
func ParseDocAddress(s string) (DocAddress, error) {
	segStr, docStr, ok := strings.Cut(s, ":")
	if !ok {
		return DocAddress{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDocAddress, s)
	}
	seg, err := strconv.ParseUint(segStr, 10, 32)
	if err != nil {
		return DocAddress{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDocAddress, s)
	}
	doc, err := strconv.ParseUint(docStr, 10, 32)
	if err != nil {
		return DocAddress{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDocAddress, s)
	}
	return DocAddress{Segment: uint32(seg), Doc: uint32(doc)}, nil
}
