package stats

import (
	"github.com/NebulousLabs/demotemutex"
)

// ReplicationCounters tracks each chunk-server's in-flight replication
// read/write counts (spec §4.5 Phase E/F, §6.4's replication_read_counter/
// replication_write_counter), backing the engine.ServerInfo.ReadCounter/
// WriteCounter contract. Guarded by a DemoteMutex rather than a plain
// RWMutex: the decision engine's hot path only reads counters while
// picking a source/destination (so it should mostly take the cheap RLock
// path), but a got-status callback incrementing/decrementing a counter
// needs the exclusive path, and demotemutex lets a writer that already
// holds the exclusive lock step down to the shared one instead of
// dropping and reacquiring — the same pattern host.go uses around its
// storage obligations.
type ReplicationCounters struct {
	mu    demotemutex.DemoteMutex
	reads map[uint16]int
	writes map[uint16]int
}

// NewReplicationCounters returns an empty counter set.
func NewReplicationCounters() *ReplicationCounters {
	return &ReplicationCounters{
		reads:  make(map[uint16]int),
		writes: make(map[uint16]int),
	}
}

// ReadCounter returns serverID's current in-flight read-replication count.
func (r *ReplicationCounters) ReadCounter(serverID uint16) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads[serverID]
}

// WriteCounter returns serverID's current in-flight write-replication
// count.
func (r *ReplicationCounters) WriteCounter(serverID uint16) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes[serverID]
}

// BeginRead/EndRead and BeginWrite/EndWrite bracket one replication's use
// of serverID as a source (read) or destination (write), matching
// ops.IssueReplicate's Sources/destination bookkeeping at the call site.
func (r *ReplicationCounters) BeginRead(serverID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[serverID]++
}

func (r *ReplicationCounters) EndRead(serverID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reads[serverID] > 0 {
		r.reads[serverID]--
	}
}

func (r *ReplicationCounters) BeginWrite(serverID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes[serverID]++
}

func (r *ReplicationCounters) EndWrite(serverID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writes[serverID] > 0 {
		r.writes[serverID]--
	}
}

// UnderWriteLimit reports whether serverID's current write-replication
// count is still below limits[budgetClass] (spec §6.4's
// CHUNKS_WRITE_REP_LIMIT), so callers can exclude overbudget destinations
// before asking the placement matcher to consider them.
func (r *ReplicationCounters) UnderWriteLimit(serverID uint16, limits [5]int, budgetClass int) bool {
	if budgetClass < 0 || budgetClass >= len(limits) {
		return true
	}
	return r.WriteCounter(serverID) < limits[budgetClass]
}

// UnderReadLimit is UnderWriteLimit's read-side counterpart
// (CHUNKS_READ_REP_LIMIT).
func (r *ReplicationCounters) UnderReadLimit(serverID uint16, limits [5]int, budgetClass int) bool {
	if budgetClass < 0 || budgetClass >= len(limits) {
		return true
	}
	return r.ReadCounter(serverID) < limits[budgetClass]
}
