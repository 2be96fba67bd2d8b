// Package scan holds the state that lives for exactly one query execution:
// the scores and engine addresses recorded for each row during the probe
// phase, and the score bounds reported by the engine. The executor records
// hits while probing the index and reads them back while materializing rows
// from the host table.
//
// Nothing here is safe for concurrent use. A Manager belongs to one worker,
// and a worker runs one scan at a time.
package scan

// ExecutionContext bundles the per-scan cache and score bounds.
type ExecutionContext struct {
	ResultCache
	ScoreRange
}

// Manager hands out the worker's current ExecutionContext. The zero value is
// ready to use and holds no context until the first call to Current or Fresh.
type Manager struct {
	current *ExecutionContext
}

// Current returns the live context, creating an empty one on first use.
func (m *Manager) Current() *ExecutionContext {
	if m.current == nil {
		m.current = &ExecutionContext{}
	}
	return m.current
}

// Fresh discards the live context and returns a new, empty one. It must be
// called once at the top of every scan; handles obtained before the call keep
// pointing at the discarded context and must not be used afterwards.
func (m *Manager) Fresh() *ExecutionContext {
	m.current = &ExecutionContext{}
	return m.current
}
