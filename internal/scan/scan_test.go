package scan

import (
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(block uint32, offset uint16) rowid.RowKey {
	return rowid.RowKey{Block: block, Offset: offset}
}

func TestLookupOnUnpopulatedContext(t *testing.T) {
	var m Manager
	ctx := m.Fresh()

	assert.NotPanics(t, func() {
		_, ok := ctx.Score(key(0, 1))
		assert.False(t, ok)
		_, ok = ctx.DocAddress(key(0, 1))
		assert.False(t, ok)
	})
	assert.Nil(t, ctx.scores)
	assert.Nil(t, ctx.addresses)
	assert.Zero(t, ctx.Len())
}

func TestScoreRoundTripIsBitExact(t *testing.T) {
	var c ResultCache
	scores := []float32{
		0,
		0.82,
		1.10,
		-3.5,
		math.SmallestNonzeroFloat32,
		math.MaxFloat32,
		float32(math.Inf(1)),
		math.Float32frombits(0x80000000),
	}
	for i, s := range scores {
		k := key(uint32(i), uint16(i))
		c.AddScore(k, s)
		got, ok := c.Score(k)
		require.True(t, ok)
		assert.Equal(t, math.Float32bits(s), math.Float32bits(got))
	}
}

func TestLastWriteWins(t *testing.T) {
	var c ResultCache
	k := key(7, 2)
	c.AddScore(k, 0.5)
	c.AddScore(k, 2.25)

	got, ok := c.Score(k)
	require.True(t, ok)
	assert.Equal(t, float32(2.25), got)
	assert.Equal(t, 1, c.Len())

	c.AddDocAddress(k, rowid.DocAddress{Segment: 1, Doc: 1})
	c.AddDocAddress(k, rowid.DocAddress{Segment: 2, Doc: 9})
	addr, ok := c.DocAddress(k)
	require.True(t, ok)
	assert.Equal(t, rowid.DocAddress{Segment: 2, Doc: 9}, addr)
}

func TestMappingsAreIndependent(t *testing.T) {
	var c ResultCache
	k := key(3, 5)

	c.AddDocAddress(k, rowid.DocAddress{Segment: 0, Doc: 4})
	_, ok := c.Score(k)
	assert.False(t, ok, "address insert must not create a score")

	c.AddScore(k, 0.9)
	addr, ok := c.DocAddress(k)
	require.True(t, ok)
	assert.Equal(t, rowid.DocAddress{Segment: 0, Doc: 4}, addr)

	other := key(8, 8)
	c.AddScore(other, 1)
	_, ok = c.DocAddress(other)
	assert.False(t, ok, "score insert must not create an address")
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	var c ResultCache
	k1 := key(3, 5)
	k2 := key(5, 3)

	c.AddScore(k2, 0.1)
	c.AddScore(k1, 0.7)
	c.AddScore(k1, 0.8)

	got, ok := c.Score(k2)
	require.True(t, ok)
	assert.Equal(t, float32(0.1), got)

	_, ok = c.Score(key(3, 6))
	assert.False(t, ok)
	_, ok = c.Score(key(4, 5))
	assert.False(t, ok)
}

func TestScoreRangePassThrough(t *testing.T) {
	var r ScoreRange
	assert.Zero(t, r.MaxScore())
	assert.Zero(t, r.MinScore())

	for _, v := range []float32{0, 1.5, -2, math.MaxFloat32, float32(math.Inf(-1))} {
		r.SetMaxScore(v)
		assert.Equal(t, v, r.MaxScore())
		r.SetMinScore(v)
		assert.Equal(t, v, r.MinScore())
	}

	r.SetMinScore(4)
	r.SetMaxScore(1)
	assert.Equal(t, float32(4), r.MinScore())
	assert.Equal(t, float32(1), r.MaxScore())
}

func TestNormalize(t *testing.T) {
	var r ScoreRange
	r.SetMinScore(1)
	r.SetMaxScore(3)

	assert.Equal(t, float32(0), r.Normalize(1))
	assert.Equal(t, float32(0.5), r.Normalize(2))
	assert.Equal(t, float32(1), r.Normalize(3))
	assert.Equal(t, float32(0), r.Normalize(-4))
	assert.Equal(t, float32(1), r.Normalize(9))

	r.SetMinScore(2)
	r.SetMaxScore(2)
	assert.Equal(t, float32(1), r.Normalize(2), "single-hit range")
}

func TestFreshDiscardsPreviousScan(t *testing.T) {
	var m Manager
	ctx := m.Current()
	keys := []rowid.RowKey{key(0, 1), key(0, 2), key(9, 1)}
	for i, k := range keys {
		ctx.AddScore(k, float32(i))
		ctx.AddDocAddress(k, rowid.DocAddress{Doc: uint32(i)})
	}
	ctx.SetMaxScore(2)
	ctx.SetMinScore(0)

	fresh := m.Fresh()
	for _, k := range keys {
		_, ok := fresh.Score(k)
		assert.False(t, ok)
		_, ok = fresh.DocAddress(k)
		assert.False(t, ok)
	}
	assert.Zero(t, fresh.MaxScore())
	assert.Zero(t, fresh.MinScore())
	assert.Same(t, fresh, m.Current())
	assert.NotSame(t, ctx, fresh)
}

func TestCurrentCreatesOnFirstUse(t *testing.T) {
	var m Manager
	assert.Nil(t, m.current)

	ctx := m.Current()
	require.NotNil(t, ctx)
	assert.Same(t, ctx, m.Current())

	ctx.AddScore(key(1, 1), 3)
	got, ok := m.Current().Score(key(1, 1))
	require.True(t, ok)
	assert.Equal(t, float32(3), got)
}

func TestTwoScansEndToEnd(t *testing.T) {
	var m Manager
	k := key(3, 5)

	m.Fresh().AddScore(k, 0.82)
	got, ok := m.Current().Score(k)
	require.True(t, ok)
	assert.Equal(t, float32(0.82), got)

	m.Fresh()
	_, ok = m.Current().Score(k)
	assert.False(t, ok)

	m.Current().AddScore(k, 1.10)
	got, ok = m.Current().Score(k)
	require.True(t, ok)
	assert.Equal(t, float32(1.10), got)
}

func BenchmarkScoreLookup(b *testing.B) {
	var m Manager
	ctx := m.Fresh()
	const n = 100_000
	for i := 0; i < n; i++ {
		ctx.AddScore(key(uint32(i/64), uint16(i%64)), float32(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		_, _ = m.Current().Score(key(uint32(j/64), uint16(j%64)))
	}
}

func BenchmarkFreshScan(b *testing.B) {
	var m Manager
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ctx := m.Fresh()
		for j := 0; j < 100; j++ {
			k := key(uint32(j), 1)
			ctx.AddScore(k, float32(j))
			ctx.AddDocAddress(k, rowid.DocAddress{Doc: uint32(j)})
		}
	}
}
