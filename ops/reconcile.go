package ops

import (
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// Outcome is what a GotStatus call determined once the last BUSY replica for
// a chunk's in-flight operation cleared.
type Outcome uint8

const (
	// Pending: other replicas are still BUSY; the operation has not
	// finished yet.
	Pending Outcome = iota
	// Succeeded: at least one VALID (or TDVALID) replica remains; the
	// operation is done.
	Succeeded
	// Failed: no valid replica survived; the caller gets a consolidated
	// error.
	Failed
)

// GotStatus implements the reconcile phase of the operation protocol (spec
// §4.8 step 3): a chunk-server's <op>_STATUS reply for one participating
// replica. It returns the Outcome once every BUSY replica for this
// operation has reported, or Pending while some are still outstanding.
func GotStatus(rec *registry.Record, arena *replica.Arena, serverID uint16, part replica.PartID, status Status) (Outcome, error) {
	r, ok := rec.Replicas.Find(arena, serverID, part)
	if !ok || !r.State.IsBusy() {
		return Pending, nil // stale/duplicate report; nothing to reconcile
	}

	switch status {
	case StatusNotDone:
		// The server never started: it is still at the pre-op version.
		// Revert rather than leaving it BUSY (spec §4.8 step 3, "NOTDONE is
		// special").
		reverted := r
		reverted.Version = rec.PreOpVersion
		if r.State == replica.TDBUSY {
			reverted.State = replica.TDVALID
		} else {
			reverted.State = replica.VALID
		}
		rec.Replicas = rec.Replicas.Insert(arena, reverted)
	case StatusOK:
		done := r
		if r.State == replica.TDBUSY {
			done.State = replica.TDVALID
		} else {
			done.State = replica.VALID
		}
		done.Version = rec.Version()
		rec.Replicas = rec.Replicas.Insert(arena, done)
	default:
		invalid := r
		invalid.State = replica.INVALID
		rec.Replicas = rec.Replicas.Insert(arena, invalid)
		rec.Interrupted = true
		if status != StatusNoSpace {
			rec.NoSpaceOnly = false
		}
	}

	if stillBusy(rec, arena) {
		return Pending, nil
	}

	return finalize(rec, arena)
}

func stillBusy(rec *registry.Record, arena *replica.Arena) bool {
	busy := false
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if r.State.IsBusy() {
			busy = true
			return false
		}
		return true
	})
	return busy
}

// finalize runs once the last BUSY replica for rec's operation has cleared
// (spec §4.8 step 3, last paragraph). It distinguishes three outcomes: a
// genuine success (some replica is valid at the just-issued version), an
// all-reverted wash (every survivor is valid only at the pre-op version —
// spec scenario S4, where a partial NOTDONE/disconnect leaves nobody at the
// new version and the chunk's version must roll back with it), and a true
// loss (nothing valid survives at all).
func finalize(rec *registry.Record, arena *replica.Arena) (Outcome, error) {
	validAtCurrent := false
	validAtPreOp := false
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		switch r.Version {
		case rec.Version():
			validAtCurrent = true
		case rec.PreOpVersion:
			validAtPreOp = true
		}
		return true
	})

	switch {
	case validAtCurrent:
		if rec.Interrupted {
			// Emergency version bump; the chunk stays in SET_VERSION rather
			// than clearing its operation (spec §4.8 step 3).
			rec.SetVersion(rec.Version() + 1)
			rec.Operation = registry.OpSetVersion
			rec.Interrupted = false
			return Succeeded, nil
		}
		rec.Operation = registry.OpNone
		rec.Interrupted = false
		return Succeeded, nil

	case validAtPreOp:
		// Nobody reached the new version; roll the chunk itself back (spec
		// S4: "chunk's version is rolled back to v10 ... operation cleared;
		// waiting clients receive NOTDONE").
		rec.SetVersion(rec.PreOpVersion)
		rec.Operation = registry.OpNone
		rec.Interrupted = false
		return Failed, ErrNotDone

	default:
		rec.Operation = registry.OpNone
		rec.Interrupted = false
		if rec.NoSpaceOnly {
			return Failed, ErrNoSpace
		}
		return Failed, ErrNotDone
	}
}
