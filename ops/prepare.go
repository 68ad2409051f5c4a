package ops

import (
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// PrepareVerdict is chunk_prepare_to_modify's outcome (spec §4.8 step 1)
// when no error is returned: either proceed straight to Issue, or convert
// to copy mode first.
type PrepareVerdict uint8

const (
	// VerdictProceed: the chunk has at least one reachable valid full copy
	// (or the operation does not require one); Issue may run.
	VerdictProceed PrepareVerdict = iota
	// VerdictNeedsCopyConversion: the chunk's only valid replicas are EC
	// parts; a JOIN must run to produce a full copy before this operation
	// can proceed (spec §4.8 step 1, last bullet).
	VerdictNeedsCopyConversion
)

// PrepareToModify implements chunk_prepare_to_modify (spec §4.8 step 1):
// the precondition check every write-side operation runs before Issue.
func PrepareToModify(rec *registry.Record, arena *replica.Arena, servers *csreg.Registry) (PrepareVerdict, error) {
	var validReachable, validUnreachable, hasFullCopy, anyReplica int

	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		anyReplica++
		if !r.State.IsValid() {
			return true
		}
		reachable := false
		if s := servers.Get(r.ServerID); s != nil && s.Valid {
			reachable = true
		}
		if reachable {
			validReachable++
			if r.Part.IsFullCopy() {
				hasFullCopy++
			}
		} else {
			validUnreachable++
		}
		return true
	})

	if validReachable == 0 {
		if validUnreachable > 0 {
			// Recoverable in principle, but every holder is currently
			// disconnected. While chunk-servers are still completing their
			// post-connect registration handshake, give them a chance to
			// come back (spec boundary B1: EAGAIN until
			// chunk_counters_in_progress() == 0).
			if servers.InProgress() > 0 {
				return VerdictProceed, ErrEAgain
			}
			return VerdictProceed, ErrChunkLost
		}
		if anyReplica == 0 {
			return VerdictProceed, ErrChunkLost
		}
		// Every replica on record is itself bad (INVALID/WVER/DEL) — no
		// source of truth remains.
		return VerdictProceed, ErrChunkLost
	}

	if hasFullCopy == 0 && rec.StorageMode != registry.ModeCopies {
		return VerdictNeedsCopyConversion, nil
	}
	return VerdictProceed, nil
}
