package ops

import (
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

// IssueCreate transitions a freshly-inserted chunk record into CREATE (spec
// §4.8 table: "new id from monotonic counter; initial version = 1") and
// returns one CREATE command per destination server.
func IssueCreate(rec *registry.Record, arena *replica.Arena, servers []uint16) []Command {
	rec.SetVersion(1)
	rec.Operation = registry.OpCreate
	rec.NoSpaceOnly = true
	rec.PreOpVersion = 0

	cmds := make([]Command, 0, len(servers))
	for _, s := range servers {
		rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{
			ServerID: s, Part: replica.PartFullCopy, State: replica.BUSY, Version: 1,
		})
		cmds = append(cmds, Command{Kind: CmdCreate, ServerID: s, ChunkID: rec.ChunkID, Part: replica.PartFullCopy, Version: 1})
	}
	return cmds
}

// busyEachValid transitions every currently-valid replica in rec to its busy
// form (preserving the marked-for-removal bit) and calls emit for each,
// before the version they report against was bumped.
func busyEachValid(rec *registry.Record, arena *replica.Arena, emit func(r replica.Replica)) {
	var valid []replica.Replica
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if r.State.IsValid() {
			valid = append(valid, r)
		}
		return true
	})
	for _, r := range valid {
		busy := r
		if r.State.IsTD() {
			busy.State = replica.TDBUSY
		} else {
			busy.State = replica.BUSY
		}
		rec.Replicas = rec.Replicas.Insert(arena, busy)
		emit(r)
	}
}

// IssueSetVersion implements the SET_VERSION op (spec §4.8 table:
// "version += 1"): every currently-valid replica goes BUSY/TDBUSY at the old
// version, and a SET_VERSION command is sent to each.
func IssueSetVersion(rec *registry.Record, arena *replica.Arena) []Command {
	old := rec.Version()
	rec.PreOpVersion = old
	newVersion := old + 1

	var cmds []Command
	busyEachValid(rec, arena, func(r replica.Replica) {
		cmds = append(cmds, Command{
			Kind: CmdSetVersion, ServerID: r.ServerID, ChunkID: rec.ChunkID,
			Part: r.Part, OldVersion: old, Version: newVersion,
		})
	})
	rec.Operation = registry.OpSetVersion
	rec.NoSpaceOnly = true
	rec.SetVersion(newVersion)
	return cmds
}

// IssueTruncate implements TRUNCATE (spec §4.8 table: "version += 1; length
// delivered to CS").
func IssueTruncate(rec *registry.Record, arena *replica.Arena, length uint64) []Command {
	old := rec.Version()
	rec.PreOpVersion = old
	newVersion := old + 1

	var cmds []Command
	busyEachValid(rec, arena, func(r replica.Replica) {
		cmds = append(cmds, Command{
			Kind: CmdTruncate, ServerID: r.ServerID, ChunkID: rec.ChunkID,
			Part: r.Part, OldVersion: old, Version: newVersion, Length: length,
		})
	})
	rec.Operation = registry.OpTruncate
	rec.NoSpaceOnly = true
	rec.SetVersion(newVersion)
	return cmds
}

// IssueDuplicate implements DUPLICATE (spec §4.8 table: "new chunkid; old
// kept read-only"). The source record (rec) is left untouched — per spec §9's
// resolved open question, the duplicate's version is frozen at the source's
// current version and never retroactively rolled back. newRec must already
// be registry.Insert'd under the new chunk id.
func IssueDuplicate(rec *registry.Record, newRec *registry.Record, arena *replica.Arena) []Command {
	sourceVersion := rec.Version()
	newRec.SetVersion(sourceVersion)
	newRec.PreOpVersion = 0
	newRec.Operation = registry.OpDuplicate
	newRec.NoSpaceOnly = true

	var cmds []Command
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		newRec.Replicas = newRec.Replicas.Insert(arena, replica.Replica{
			ServerID: r.ServerID, Part: r.Part, State: replica.BUSY, Version: sourceVersion,
		})
		cmds = append(cmds, Command{
			Kind: CmdDuplicate, ServerID: r.ServerID,
			ChunkID: rec.ChunkID, Part: r.Part, Version: sourceVersion,
			NewChunkID: newRec.ChunkID, NewPart: r.Part, NewVersion: sourceVersion,
		})
		return true
	})
	return cmds
}

// IssueDupTrunc implements DUPTRUNC: as IssueDuplicate, but the new chunk's
// version is bumped once past the source (the duplicate is simultaneously
// truncated) and a length is delivered.
func IssueDupTrunc(rec *registry.Record, newRec *registry.Record, arena *replica.Arena, length uint64) []Command {
	sourceVersion := rec.Version()
	newVersion := sourceVersion + 1
	newRec.SetVersion(newVersion)
	newRec.PreOpVersion = 0
	newRec.Operation = registry.OpDupTrunc
	newRec.NoSpaceOnly = true

	var cmds []Command
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		newRec.Replicas = newRec.Replicas.Insert(arena, replica.Replica{
			ServerID: r.ServerID, Part: r.Part, State: replica.BUSY, Version: sourceVersion,
		})
		cmds = append(cmds, Command{
			Kind: CmdDupTrunc, ServerID: r.ServerID,
			ChunkID: rec.ChunkID, Part: r.Part, Version: sourceVersion,
			NewChunkID: newRec.ChunkID, NewPart: r.Part, NewVersion: newVersion, Length: length,
		})
		return true
	})
	return cmds
}

// IssueReplicate implements REPLICATE (spec §4.8 table: "new BUSY replica at
// c.version"), seating a placeholder replica on dest and building the
// command in whichever of the four wire shapes mode calls for (spec §6.2).
func IssueReplicate(rec *registry.Record, arena *replica.Arena, dest uint16, part replica.PartID, mode ReplicateMode, sources []uint16, ecids []replica.PartID, reason ReplicationReason) Command {
	rec.Operation = registry.OpReplicate
	rec.NoSpaceOnly = true
	rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{
		ServerID: dest, Part: part, State: replica.BUSY, Version: rec.Version(),
	})
	return Command{
		Kind: CmdReplicate, ServerID: dest, ChunkID: rec.ChunkID, Part: part,
		Version: rec.Version(), ReplicateMode: mode, Sources: sources, ECIDs: ecids, Reason: reason,
	}
}

// IssueDelete implements DELETE (spec §6.2): unlike the other operations,
// a delete carries no precondition/issue/reconcile cycle (spec §4.8's table
// omits it) — the replica is dropped from rec immediately and the command
// is purely informational context for the chunk-server.
func IssueDelete(rec *registry.Record, arena *replica.Arena, r replica.Replica, reason DeleteReason) Command {
	rec.Replicas, _ = rec.Replicas.Remove(arena, r.ServerID, r.Part)
	return Command{
		Kind: CmdDelete, ServerID: r.ServerID, ChunkID: rec.ChunkID,
		Part: r.Part, Version: r.Version, DeleteReason: reason,
	}
}

// IssueLocalSplit implements LOCALSPLIT: one chunk-server derives the
// missing EC parts locally from its own full copy.
func IssueLocalSplit(rec *registry.Record, arena *replica.Arena, server uint16, missingMask uint32, parts []replica.PartID, reason ReplicationReason) Command {
	rec.Operation = registry.OpLocalSplit
	rec.NoSpaceOnly = true
	for _, p := range parts {
		rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{
			ServerID: server, Part: p, State: replica.BUSY, Version: rec.Version(),
		})
	}
	return Command{
		Kind: CmdLocalSplit, ServerID: server, ChunkID: rec.ChunkID,
		Version: rec.Version(), MissingMask: missingMask, Parts: parts, Reason: reason,
	}
}
