package indexer

import "time"

// IndexCompleteEvent is published after every flush so searchers reload
// segments and drop cached results.
type IndexCompleteEvent struct {
	Table     string    `json:"table"`
	Segment   string    `json:"segment,omitempty"`
	Segments  int       `json:"segments"`
	LiveRows  int       `json:"live_rows"`
	FlushedAt time.Time `json:"flushed_at"`
}
