package scan

// ScoreRange holds the score bounds the engine reported for the current scan.
// The values are set explicitly by the executor and are never derived from
// the cache contents. Min greater than max is accepted as given.
type ScoreRange struct {
	maxScore float32
	minScore float32
}

// SetMaxScore records the engine-reported upper bound.
func (r *ScoreRange) SetMaxScore(v float32) { r.maxScore = v }

// MaxScore returns the recorded upper bound, zero if none was set.
func (r *ScoreRange) MaxScore() float32 { return r.maxScore }

// SetMinScore records the engine-reported lower bound.
func (r *ScoreRange) SetMinScore(v float32) { r.minScore = v }

// MinScore returns the recorded lower bound, zero if none was set.
func (r *ScoreRange) MinScore() float32 { return r.minScore }

// Normalize maps score onto [0,1] relative to the tracked bounds. A degenerate
// range (max <= min) maps every score to 1.
func (r *ScoreRange) Normalize(score float32) float32 {
	span := r.maxScore - r.minScore
	if span <= 0 {
		return 1
	}
	n := (score - r.minScore) / span
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}
