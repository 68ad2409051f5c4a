package engine

import (
	"math/bits"

	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// FileLoopResult is chunk_fileloop_task's result enum (CHUNK_FLOOP_*):
// chunks.c/chunks.h name it as the file-system layer's per-file scrub
// driver's signal for one chunk reference, richer than a bare bool.
type FileLoopResult uint8

const (
	FloopNotFound FileLoopResult = iota
	FloopDeleted
	FloopMissingNoCopy
	FloopMissingInvalid
	FloopMissingWrongVersion
	FloopMissingPartialEC
	FloopUndergoal
	FloopOK
)

func (r FileLoopResult) String() string {
	switch r {
	case FloopNotFound:
		return "NOTFOUND"
	case FloopDeleted:
		return "DELETED"
	case FloopMissingNoCopy:
		return "MISSING_NOCOPY"
	case FloopMissingInvalid:
		return "MISSING_INVALID"
	case FloopMissingWrongVersion:
		return "MISSING_WRONGVERSION"
	case FloopMissingPartialEC:
		return "MISSING_PARTIALEC"
	case FloopUndergoal:
		return "UNDERGOAL"
	case FloopOK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

// ecMasks tallies, per EC profile, which data/checksum slots are covered by
// a wrong-version replica, an invalid replica, or any other live
// (non-deleted) replica — the three bitmasks chunk_fileloop_task keeps to
// decide whether a missing-goal chunk is actually unrecoverable right now
// or just has some parts mid-repair.
type ecMasks struct {
	wrongVersion, invalid, live uint32
}

func (m *ecMasks) observe(r replica.Replica) {
	bit := uint32(1) << uint(r.Part.Index())
	switch {
	case r.State.IsWrongVersion():
		m.wrongVersion |= bit
	case r.State == replica.INVALID:
		m.invalid |= bit
	case r.State != replica.DEL:
		m.live |= bit
	}
}

// FileLoopTask classifies one chunk reference for the file-system layer's
// scrub driver (chunk_fileloop_task), given the goal-equivalent required by
// its current storage class/archive state. rec==nil models "chunk not
// found in the registry" (FloopNotFound); FloopDeleted is the caller's
// responsibility to report once it has actually removed the chunk's last
// file reference (rec.AllGoalEquiv==0 with no pending operation and past
// its lock), since this package does not own file-reference bookkeeping.
func FileLoopTask(rec *registry.Record, arena *replica.Arena, goal int) FileLoopResult {
	if rec == nil {
		return FloopNotFound
	}
	if rec.AllGoalEquiv > 0 {
		if int(rec.AllGoalEquiv) < goal {
			return FloopUndergoal
		}
		return FloopOK
	}

	var wv, inv bool
	var ec4, ec8 ecMasks
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		switch {
		case r.Part.IsFullCopy():
			switch {
			case r.State.IsWrongVersion():
				wv = true
			case r.State == replica.INVALID:
				inv = true
			}
		case r.Part.IsEC4():
			ec4.observe(r)
		case r.Part.IsEC8():
			ec8.observe(r)
		}
		return true
	})

	if wv || bits.OnesCount32(ec4.wrongVersion|ec4.live) >= 4 || bits.OnesCount32(ec8.wrongVersion|ec8.live) >= 8 {
		return FloopMissingWrongVersion
	}
	if inv || bits.OnesCount32(ec4.wrongVersion|ec4.invalid|ec4.live) >= 4 || bits.OnesCount32(ec8.wrongVersion|ec8.invalid|ec8.live) >= 8 {
		return FloopMissingInvalid
	}
	if ec4.live != 0 || ec8.live != 0 {
		return FloopMissingPartialEC
	}
	return FloopMissingNoCopy
}
