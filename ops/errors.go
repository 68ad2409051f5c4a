// Package ops implements the operation protocol (spec §4.8): the
// three-phase precondition/issue/reconcile exchange that drives every
// write-side chunk operation, the chunk-server wire contract (spec §6.2,
// §6.3) as in-process message values, and the result codes callers see
// (spec §7).
package ops

import "github.com/NebulousLabs/errors"

// Result codes at the core's boundary (spec §7). Callers compare with
// errors.Contains, matching the composed-sentinel idiom the teacher's own
// modules use throughout (e.g. host/renter error tables).
var (
	ErrNoChunk        = errors.New("referenced chunk id not in the registry")
	ErrWrongVersion   = errors.New("version mismatch: replica is stale")
	ErrWrongChunkID   = errors.New("server returned a different chunk id than asked")
	ErrChunkLost      = errors.New("no source of truth for this chunk exists in the current inventory")
	ErrChunkBusy      = errors.New("operation already in progress")
	ErrLocked         = errors.New("chunk is write-locked or replication-locked")
	ErrEAgain         = errors.New("transient condition, retry later")
	ErrNoChunkServers = errors.New("no chunk-server connected at all")
	ErrCSNotPresent   = errors.New("needed chunk-server not currently connected")
	ErrNoSpace        = errors.New("every candidate chunk-server refused for space")
	ErrETimedOut      = errors.New("operation did not complete within the lock timeout")
	ErrNotDone        = errors.New("operation was never attempted")
	ErrMismatch       = errors.New("invariant violation observed")
)
