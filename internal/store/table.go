// Package store reads rows of the indexed host table from PostgreSQL. Rows
// are addressed by ctid, which maps one-to-one onto rowid.RowKey.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one materialized table row.
type Row struct {
	Key    rowid.RowKey
	Fields map[string]any
}

// RowSource fetches rows by key. Keys that no longer exist are omitted from
// the result; order is not guaranteed.
type RowSource interface {
	FetchRows(ctx context.Context, keys []rowid.RowKey) ([]Row, error)
}

// Table is the RowSource backed by the configured Postgres table.
type Table struct {
	db         *sql.DB
	columns    []string
	fetchQuery string
	scanQuery  string
	logger     *slog.Logger
}

// NewTable validates the configured identifiers and prepares the queries.
func NewTable(db *sql.DB, cfg config.TableConfig) (*Table, error) {
	idents := []string{cfg.Schema, cfg.Name}
	idents = append(idents, cfg.TextColumns...)
	idents = append(idents, cfg.ReturnColumns...)
	for _, ident := range idents {
		if !identifierPattern.MatchString(ident) {
			return nil, fmt.Errorf("%w: bad identifier %q", apperrors.ErrInvalidInput, ident)
		}
	}
	if len(cfg.TextColumns) == 0 {
		return nil, fmt.Errorf("%w: no text columns", apperrors.ErrInvalidInput)
	}
	fetch, scan := buildQueries(cfg)
	return &Table{
		db:         db,
		columns:    cfg.ReturnColumns,
		fetchQuery: fetch,
		scanQuery:  scan,
		logger:     slog.Default().With("component", "row-store", "table", cfg.Name),
	}, nil
}

func buildQueries(cfg config.TableConfig) (fetch string, scan string) {
	table := pq.QuoteIdentifier(cfg.Schema) + "." + pq.QuoteIdentifier(cfg.Name)

	selectCols := []string{"ctid::text"}
	for _, c := range cfg.ReturnColumns {
		selectCols = append(selectCols, pq.QuoteIdentifier(c))
	}
	fetch = fmt.Sprintf("SELECT %s FROM %s WHERE ctid = ANY($1::tid[])",
		strings.Join(selectCols, ", "), table)

	textCols := make([]string, 0, len(cfg.TextColumns))
	for _, c := range cfg.TextColumns {
		textCols = append(textCols, pq.QuoteIdentifier(c)+"::text")
	}
	scan = fmt.Sprintf("SELECT ctid::text, concat_ws(' ', %s) FROM %s",
		strings.Join(textCols, ", "), table)
	return fetch, scan
}

// FetchRows loads the configured return columns for keys.
func (t *Table) FetchRows(ctx context.Context, keys []rowid.RowKey) ([]Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctids := make([]string, len(keys))
	for i, k := range keys {
		ctids[i] = k.String()
	}
	rows, err := t.db.QueryContext(ctx, t.fetchQuery, pq.Array(ctids))
	if err != nil {
		return nil, fmt.Errorf("fetching rows: %w", err)
	}
	defer rows.Close()

	result := make([]Row, 0, len(keys))
	for rows.Next() {
		var ctid string
		values := make([]any, len(t.columns))
		dest := make([]any, 0, len(t.columns)+1)
		dest = append(dest, &ctid)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		key, err := rowid.ParseRowKey(ctid)
		if err != nil {
			return nil, err
		}
		fields := make(map[string]any, len(t.columns))
		for i, col := range t.columns {
			fields[col] = normalizeValue(values[i])
		}
		result = append(result, Row{Key: key, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}

// ScanAll streams the concatenated text columns of every row to fn. A
// non-nil error from fn stops the scan and is returned.
func (t *Table) ScanAll(ctx context.Context, fn func(key rowid.RowKey, text string) error) error {
	rows, err := t.db.QueryContext(ctx, t.scanQuery)
	if err != nil {
		return fmt.Errorf("scanning table: %w", err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var ctid string
		var text sql.NullString
		if err := rows.Scan(&ctid, &text); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		key, err := rowid.ParseRowKey(ctid)
		if err != nil {
			return err
		}
		if err := fn(key, text.String); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	t.logger.Info("table scan complete", "rows", n)
	return nil
}

// normalizeValue turns driver byte slices into strings so rows serialise as
// readable JSON.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
