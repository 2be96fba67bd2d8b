package reload

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
)

type countingCache struct{ calls int }

func (c *countingCache) Invalidate(context.Context) (int64, error) {
	c.calls++
	return 0, nil
}

func engines(t *testing.T) (writer, reader *indexer.Engine) {
	t.Helper()
	cfg := config.IndexerConfig{
		DataDir:        t.TempDir(),
		SegmentMaxSize: 1 << 20,
		FlushInterval:  time.Hour,
		Stem:           true,
	}
	reader, err := indexer.NewEngine(cfg)
	require.NoError(t, err)
	writer, err = indexer.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		writer.Close()
		reader.Close()
	})
	return writer, reader
}

func TestReloadInvalidatesOnlyOnChange(t *testing.T) {
	writer, reader := engines(t)
	cache := &countingCache{}
	r := New(reader, cache, "articles", nil)
	ctx := context.Background()

	require.NoError(t, r.Reload(ctx, false))
	assert.Zero(t, cache.calls)

	require.NoError(t, writer.IndexRow(rowid.RowKey{Block: 3, Offset: 5}, "fresh row"))
	require.NoError(t, writer.Flush())
	require.NoError(t, r.Reload(ctx, false))
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, int64(1), reader.Stats().TotalDocs)

	writer.DeleteRow(rowid.RowKey{Block: 3, Offset: 5})
	require.NoError(t, writer.Flush())
	require.NoError(t, r.Reload(ctx, false))
	assert.Equal(t, 2, cache.calls, "tombstone-only change")
	assert.Zero(t, reader.Stats().TotalDocs)

	require.NoError(t, r.Reload(ctx, true))
	assert.Equal(t, 3, cache.calls)
}

func TestHandleMessageFiltersByTable(t *testing.T) {
	writer, reader := engines(t)
	cache := &countingCache{}
	handle := New(reader, cache, "articles", nil).HandleMessage()
	ctx := context.Background()

	require.NoError(t, writer.IndexRow(rowid.RowKey{Block: 1, Offset: 1}, "hello"))
	require.NoError(t, writer.Flush())

	other, err := json.Marshal(indexer.IndexCompleteEvent{Table: "comments", Segments: 1})
	require.NoError(t, err)
	require.NoError(t, handle(ctx, nil, other))
	assert.Zero(t, cache.calls)
	assert.Zero(t, reader.Segments())

	mine, err := json.Marshal(indexer.IndexCompleteEvent{Table: "articles", Segment: "seg_0000000000.spdx", Segments: 1})
	require.NoError(t, err)
	require.NoError(t, handle(ctx, nil, mine))
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, 1, reader.Segments())

	assert.ErrorIs(t, handle(ctx, nil, []byte("{")), kafka.ErrSkip)
}

func TestReloadWithoutCache(t *testing.T) {
	_, reader := engines(t)
	assert.NoError(t, New(reader, nil, "articles", nil).Reload(context.Background(), true))
}
