package core

import (
	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// RepairOutcome reports what Repair actually did to the chunk (chunk_repair
// returns a plain changed/not-changed bool in the original; this splits
// "nothing to do" from the three ways a repair can conclude so a caller can
// log and change-log each distinctly).
type RepairOutcome uint8

const (
	// RepairNoChange: the chunk was already fine, still locked, or had no
	// record at all to erase.
	RepairNoChange RepairOutcome = iota
	// RepairPromoted: a best-version WVER full copy (or complete EC data
	// set) was accepted as the new source of truth, no network round trip
	// needed.
	RepairPromoted
	// RepairErased: no data survives at all and the caller authorized
	// deletion; the file reference was dropped.
	RepairErased
	// RepairAllowedReadZeros: no data survives and deletion was not
	// authorized; the chunk is marked to serve zero-filled reads.
	RepairAllowedReadZeros
)

// RepairEraseAllowed is chunk_repair's flags&1 bit.
const RepairEraseAllowed = 1 << 0

// Repair implements chunk_repair (spec §4.4's "repair" entry point): called
// on a chunk whose all_goal_equiv has dropped to zero, it looks for a
// best-effort source of truth among WVER/TDWVER replicas (a version bump
// that no server ever confirmed) and promotes it without re-issuing
// commands, since the data itself was never touched. If nothing at all
// survives, it either erases the chunk's reference (when permitted) or
// authorizes degraded zero-reads.
func (c *Core) Repair(now uint32, chunkID uint64, sclassID uint8, flags uint8) (uint32, RepairOutcome, []ops.Command, error) {
	rec, err := c.record(chunkID)
	if err != nil {
		return 0, RepairNoChange, nil, nil // chunk already gone: caller's reference is stale, nothing to repair
	}
	if rec.LockedTo >= now || c.Replock.Locked(chunkID, now) {
		return 0, RepairNoChange, nil, nil
	}
	if rec.AllGoalEquiv > 0 {
		return 0, RepairNoChange, nil, nil
	}

	var bestFullVersion uint32
	var ec4, ec8 ecVersionMask
	haveCopy := false
	rec.Replicas.Each(c.replicaArena(), func(r replica.Replica) bool {
		if s := c.Servers.Get(r.ServerID); s == nil || !s.Valid {
			return true
		}
		switch {
		case r.State.IsWrongVersion():
			switch {
			case r.Part.IsFullCopy():
				if r.Version >= bestFullVersion {
					bestFullVersion = r.Version
				}
			case r.Part.IsEC4():
				ec4.observe(r)
			case r.Part.IsEC8():
				ec8.observe(r)
			}
		case r.State.IsValid() || r.State.IsBusy():
			switch {
			case r.Part.IsFullCopy():
				haveCopy = true
				return false // a full copy is already in play; nothing to repair
			case r.Part.IsEC4():
				ec4.observe(r)
			case r.Part.IsEC8():
				ec8.observe(r)
			}
		}
		return true
	})

	if haveCopy {
		return 0, RepairNoChange, nil, nil
	}
	if bestFullVersion > 0 {
		return c.promoteFullCopy(rec, bestFullVersion), RepairPromoted, nil, nil
	}

	switch {
	case bitcount32(ec8.mask) >= 8:
		version, cmds := c.promoteECSet(rec, replica.PartID.IsEC8, ec8.bestVersion)
		return version, RepairPromoted, cmds, nil
	case bitcount32(ec4.mask) >= 4:
		version, cmds := c.promoteECSet(rec, replica.PartID.IsEC4, ec4.bestVersion)
		return version, RepairPromoted, cmds, nil
	}

	if flags&RepairEraseAllowed != 0 {
		rec.FileHead = filelist.DeleteFile(c.fileArena(), rec.FileHead, sclassID)
		return 0, RepairErased, nil, nil
	}
	rec.SetAllowReadZeros(true)
	return rec.Version() | 0x80000000, RepairAllowedReadZeros, nil, nil
}

// ecVersionMask tracks, for one EC profile, which part indices have a
// repair-eligible (WVER/TDWVER/VALID/BUSY) replica and the best version seen
// among them.
type ecVersionMask struct {
	mask        uint32
	bestVersion uint32
}

func (m *ecVersionMask) observe(r replica.Replica) {
	m.mask |= uint32(1) << uint(r.Part.Index())
	if r.Version >= m.bestVersion {
		m.bestVersion = r.Version
	}
}

// promoteFullCopy accepts version as the chunk's new truth: every full-copy
// replica at that version goes VALID/TDVALID directly (no command sent,
// mirroring chunk_repair's bestversion branch), and any surviving EC part
// is invalidated since the class is reverting to copy mode.
func (c *Core) promoteFullCopy(rec *registry.Record, version uint32) uint32 {
	var toValid, toInvalid []replica.Replica
	rec.Replicas.Each(c.replicaArena(), func(r replica.Replica) bool {
		if r.Part.IsFullCopy() && r.Version == version && r.State.IsWrongVersion() {
			toValid = append(toValid, r)
		} else if !r.Part.IsFullCopy() && r.State.IsValid() {
			toInvalid = append(toInvalid, r)
		}
		return true
	})
	for _, r := range toValid {
		if r.State == replica.WVER {
			r.State = replica.VALID
		} else {
			r.State = replica.TDVALID
		}
		rec.Replicas = rec.Replicas.Insert(c.replicaArena(), r)
	}
	for _, r := range toInvalid {
		r.State = replica.INVALID
		rec.Replicas = rec.Replicas.Insert(c.replicaArena(), r)
	}
	rec.SetVersion(version)
	return version
}

// promoteECSet accepts version as the EC profile's new truth, sending a
// SET_VERSION command to every WVER/TDWVER part at that profile (mirroring
// chunk_repair's EC branch, which — unlike the full-copy branch — does
// round-trip through the chunk-server since the part's on-disk version
// still needs correcting) and invalidating any surviving replica outside
// the chosen profile.
func (c *Core) promoteECSet(rec *registry.Record, isProfile func(replica.PartID) bool, version uint32) (uint32, []ops.Command) {
	var cmds []ops.Command
	var toInvalid []replica.Replica
	rec.Replicas.Each(c.replicaArena(), func(r replica.Replica) bool {
		switch {
		case isProfile(r.Part) && r.State.IsWrongVersion():
			busy := r
			if r.State == replica.TDWVER {
				busy.State = replica.TDBUSY
			} else {
				busy.State = replica.BUSY
			}
			busy.Version = version
			rec.Replicas = rec.Replicas.Insert(c.replicaArena(), busy)
			cmds = append(cmds, ops.Command{
				Kind: ops.CmdSetVersion, ServerID: r.ServerID, ChunkID: rec.ChunkID,
				Part: r.Part, OldVersion: 0, Version: version,
			})
		case !isProfile(r.Part) && r.State.IsValid():
			toInvalid = append(toInvalid, r)
		}
		return true
	})
	for _, r := range toInvalid {
		r.State = replica.INVALID
		rec.Replicas = rec.Replicas.Insert(c.replicaArena(), r)
	}
	rec.PreOpVersion = rec.Version()
	rec.SetVersion(version)
	rec.NeedsVerIncrease = true
	rec.Operation = registry.OpSetVersion
	return version, cmds
}
