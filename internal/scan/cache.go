package scan

import "github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"

// ResultCache correlates host rows with what the engine reported for them
// during one scan. Both maps stay nil until their first insert so scans with
// no hits allocate nothing.
type ResultCache struct {
	scores    map[rowid.RowKey]float32
	addresses map[rowid.RowKey]rowid.DocAddress
}

// AddScore records score for key, replacing any earlier score.
func (c *ResultCache) AddScore(key rowid.RowKey, score float32) {
	if c.scores == nil {
		c.scores = make(map[rowid.RowKey]float32)
	}
	c.scores[key] = score
}

// Score returns the last score recorded for key.
func (c *ResultCache) Score(key rowid.RowKey) (float32, bool) {
	score, ok := c.scores[key]
	return score, ok
}

// AddDocAddress records the engine address for key, replacing any earlier one.
func (c *ResultCache) AddDocAddress(key rowid.RowKey, addr rowid.DocAddress) {
	if c.addresses == nil {
		c.addresses = make(map[rowid.RowKey]rowid.DocAddress)
	}
	c.addresses[key] = addr
}

// DocAddress returns the last engine address recorded for key.
func (c *ResultCache) DocAddress(key rowid.RowKey) (rowid.DocAddress, bool) {
	addr, ok := c.addresses[key]
	return addr, ok
}

// Len reports how many rows have a score.
func (c *ResultCache) Len() int {
	return len(c.scores)
}
