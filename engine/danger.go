// Package engine implements the per-chunk decision engine (spec §4.4,
// §4.5): danger-priority classification and the ordered repair/replication
// decision the scheduler runs once per visited chunk per tick.
package engine

import (
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// Inventory is the per-replica-list scan result Phase A's recomputation and
// DangerPriority both need, so the hot path scans a chunk's (typically tiny)
// replica list once (spec §4.5 Phase A: "scan the replica list once").
type Inventory struct {
	ValidFullCopies int
	ValidECParts    int
	HasCopyPart     bool
	HasEC4Part      bool
	HasEC8Part      bool

	// DuplicatePartID is true if the same part_id appears on two servers
	// (spec §4.4 "overlapping parts").
	DuplicatePartID bool
	// PartShareServer is true if two parts of the same chunk live on the
	// same server (spec §4.4's "part-share-server").
	PartShareServer bool
}

// ScanInventory walks rec's replica list once, classifying every replica.
func ScanInventory(rec *registry.Record, arena *replica.Arena) Inventory {
	var inv Inventory
	seenPart := map[replica.PartID]int{}
	seenServer := map[uint16]int{}

	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if r.Part.IsFullCopy() {
			inv.HasCopyPart = true
		} else if r.Part.IsEC4() {
			inv.HasEC4Part = true
		} else if r.Part.IsEC8() {
			inv.HasEC8Part = true
		}
		if r.State.IsValid() {
			if r.Part.IsFullCopy() {
				inv.ValidFullCopies++
			} else {
				inv.ValidECParts++
			}
			seenPart[r.Part]++
			seenServer[r.ServerID]++
		}
		return true
	})
	for _, n := range seenPart {
		if n > 1 {
			inv.DuplicatePartID = true
		}
	}
	for _, n := range seenServer {
		if n > 1 {
			inv.PartShareServer = true
		}
	}
	return inv
}

// MixedStorage reports whether the inventory spans more than one of
// {copy, EC4, EC8} simultaneously — a mid-conversion chunk (spec §4.4 level
// 5, UNFINISHEDEC).
func (inv Inventory) MixedStorage() bool {
	n := 0
	if inv.HasCopyPart {
		n++
	}
	if inv.HasEC4Part {
		n++
	}
	if inv.HasEC8Part {
		n++
	}
	return n > 1
}

// WrongLabels is an injected, possibly-expensive predicate (spec §4.4:
// "label repairability [is an] expensive check gated by a parameter");
// nil means "never check", matching the hot re-eval path's default.
type WrongLabels func(rec *registry.Record) (violates, repairable bool)

// DangerPriority implements the spec §4.4 classification table. goal is G,
// already adjusted down for EC availability by the caller (spec §4.4:
// "adjusted down if fewer than G+D-1 servers are available for EC with D
// data parts"). checkExpensive gates the part-share-server/overlap and
// label-repairability checks onto the hot path only when the caller can
// afford them (spec §4.4's "expensive checks gated by a parameter").
func DangerPriority(rec *registry.Record, inv Inventory, goal int, checkExpensive bool, wrongLabels WrongLabels) queue.Level {
	reg := int(rec.RegGoalEquiv)
	all := int(rec.AllGoalEquiv)
	validCopies := inv.ValidFullCopies + inv.ValidECParts

	switch {
	case validCopies == 1 && goal >= 3:
		return queue.OneCopyHighGoal
	case validCopies == 1 && goal == 2:
		return queue.OneCopyAny
	case reg <= 1 && all > reg:
		return queue.OneRegCopyPlusMFR
	case reg < goal && all > reg:
		return queue.MarkedForRemoval
	case inv.MixedStorage():
		return queue.UnfinishedEC
	case reg < goal:
		return queue.Undergoal
	}

	if checkExpensive && (inv.DuplicatePartID || inv.PartShareServer) {
		return queue.Overgoal
	}
	if reg > goal {
		return queue.Overgoal
	}
	if checkExpensive && wrongLabels != nil {
		if violates, repairable := wrongLabels(rec); violates && repairable {
			return queue.WrongLabels
		}
	}
	return queue.NoLevel
}
