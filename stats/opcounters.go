package stats

import (
	"sync"

	"github.com/moosefs/chunkmaster/ops"
)

// Outcome is how one issued operation was finally accounted: attempted,
// succeeded, or came back/timed out as a failure (chunks.h's chunk_stats
// CHUNK_STATS_CNT try/ok/err triple).
type Outcome uint8

const (
	Tried Outcome = iota
	Succeeded
	Failed
)

// OpCount is one CommandKind's try/ok/err triple.
type OpCount struct {
	Tried, Succeeded, Failed uint64
}

// OpCounters is the per-operation-type try/ok/err matrix spec §6.3 and
// chunks.h's chunk_stats array report: one row per CommandKind, one column
// per Outcome. Safe for concurrent use — the scheduler's tick goroutine
// writes to it while an operator-facing reporter reads a snapshot.
type OpCounters struct {
	mu     sync.RWMutex
	counts map[ops.CommandKind]OpCount
}

// NewOpCounters returns an empty counter matrix.
func NewOpCounters() *OpCounters {
	return &OpCounters{counts: make(map[ops.CommandKind]OpCount)}
}

// Record tallies one outcome for kind.
func (c *OpCounters) Record(kind ops.CommandKind, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.counts[kind]
	switch outcome {
	case Tried:
		row.Tried++
	case Succeeded:
		row.Succeeded++
	case Failed:
		row.Failed++
	}
	c.counts[kind] = row
}

// Snapshot returns a point-in-time copy of every row currently tracked.
func (c *OpCounters) Snapshot() map[ops.CommandKind]OpCount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ops.CommandKind]OpCount, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
