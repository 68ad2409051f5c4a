package engine

import (
	"github.com/moosefs/chunkmaster/config"
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/sclass"
)

// FailReason records why a job's tick made no progress, for the per-class
// fail counters (spec §4.3) and the operator-visible loop histogram (spec
// §9: "exit reasons are returned as a small enum for metrics rather than
// thrown"). Spec notes the real system's taxonomy runs to ~90 values; this
// enum covers the decision points this package codes a distinct branch for.
// ReasonDeleteThrottled and ReasonNoProgress are also declared, and the
// scheduler's counters match on them, but Job.Run never returns either.
type FailReason uint8

const (
	ReasonNone FailReason = iota // made progress, or chunk fully satisfied
	ReasonLocked
	ReasonReplicationLocked
	ReasonOperationInProgress
	ReasonChunkLost
	ReasonDeletedDuplicatePart
	ReasonDeletedInvalidReplica
	ReasonDeletedUnusedChunk
	ReasonDeleteThrottled
	ReasonDelayProtected
	ReasonIssuedReplicate
	ReasonIssuedRebalance
	ReasonNoMatchingServer
	ReasonUnknownClass
	ReasonNoProgress
	ReasonDeletedSameServerPart
	ReasonOffloadedMFR
	ReasonIssuedRecover
	ReasonIssuedLocalSplit
	ReasonIssuedSplit
	ReasonIssuedJoin
	ReasonDeletedOvergoal
	ReasonDeletedMFRSlack
	ReasonDeletedExtraPart
)

// ServerInfo adapts external label/usage/topology data the decision engine
// does not own itself into what the placement matcher and rebalance need
// (spec §1: labels and disk usage belong to the chunk-server and file-system
// layers, not the chunk-management core).
type ServerInfo interface {
	// Candidates returns every currently-usable server as placement
	// candidates, for the bipartite matcher.
	Candidates() []placement.Candidate
	// Usage returns a server's fractional disk usage, for rebalance and
	// "fullest server" deletion ordering.
	Usage(serverID uint16) float64
	// ReadCounter/WriteCounter are replication_read_counter/
	// replication_write_counter (spec §5 backpressure).
	ReadCounter(serverID uint16) int
	WriteCounter(serverID uint16) int
}

// Job holds the per-tick configuration and collaborators the decision
// engine consults. One Job is constructed per scheduler and reused across
// chunks; Run is not safe to call concurrently on the same Job (spec §5:
// cooperative single-threaded scheduling, no per-chunk locks).
type Job struct {
	Tunables config.Tunables
	Classes  sclass.Registry
	Servers  *csreg.Registry
	Matcher  placement.Matcher
	Info     ServerInfo

	ReplicaArena *replica.Arena

	Delay   *queue.DelayProtector
	Replock *queue.ReplicationLock
	Queues  *queue.Queues
}

// clampGoalForEC adjusts G down when fewer than G+D-1 servers are available
// (spec §4.4).
func clampGoalForEC(goal, ecD, availableServers int) int {
	if ecD <= 0 {
		return goal
	}
	need := goal + ecD - 1
	if availableServers < need {
		adjusted := availableServers - ecD + 1
		if adjusted < 1 {
			adjusted = 1
		}
		if adjusted < goal {
			return adjusted
		}
	}
	return goal
}

// Run executes the decision engine for one chunk at time now (spec §4.5,
// Phases A-F). It returns the FailReason attributable to this tick (None if
// progress was made or the chunk needed nothing) plus any commands to send.
func (j *Job) Run(rec *registry.Record, now uint32, availableServers int) (FailReason, []ops.Command) {
	inv := j.phaseA(rec, now)

	if reason, handled := j.phaseB(rec, inv, now); handled {
		return reason, nil
	}

	if rec.Operation != registry.OpNone {
		return ReasonOperationInProgress, nil
	}
	if rec.LockedTo >= now {
		return ReasonLocked, nil
	}
	if j.Replock.Locked(rec.ChunkID, now) {
		return ReasonReplicationLocked, nil
	}

	cls, ok := j.Classes.Class(rec.SclassID)
	if !ok {
		return ReasonUnknownClass, nil
	}
	rec.StorageMode = classStorageMode(cls)
	goal := cls.Keep.GoalEquiv()
	goal = clampGoalForEC(goal, cls.Keep.EC.D, availableServers)

	if reason, cmd, handled := j.phaseD(rec, inv, now); handled {
		if cmd != nil {
			return reason, []ops.Command{*cmd}
		}
		return reason, nil
	}

	if reason, cmd, handled := j.phaseE(rec, inv, cls, goal, now); handled {
		if cmd != nil {
			return reason, []ops.Command{*cmd}
		}
		return reason, nil
	}

	return j.phaseF(rec, cls, now)
}

// phaseA implements spec §4.5 Phase A: drop replicas whose server is
// disconnected, and — for SET_VERSION/TRUNCATE with no VALID survivors —
// retroactively accept version-1 (pre-op) replicas as VALID, since the bump
// never reached any server. It then recomputes all/reg goal-equivalent from
// a single scan of the (now-reconciled) replica list.
func (j *Job) phaseA(rec *registry.Record, now uint32) Inventory {
	var stale []replica.Replica
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if s := j.Servers.Get(r.ServerID); s == nil || !s.Valid {
			stale = append(stale, r)
		}
		return true
	})
	for _, r := range stale {
		rec.Replicas, _ = rec.Replicas.Remove(j.ReplicaArena, r.ServerID, r.Part)
	}

	if len(stale) > 0 && (rec.Operation == registry.OpSetVersion || rec.Operation == registry.OpTruncate) {
		hasValid := false
		rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
			if r.State.IsValid() {
				hasValid = true
				return false
			}
			return true
		})
		if !hasValid {
			// No survivor ever reached the bumped version, and the servers
			// that were BUSY at the old one disconnected before confirming
			// anything — the same net result as every participant replying
			// NOTDONE (spec scenario S4), just triggered by disconnect
			// instead. Roll the chunk itself back rather than waiting on
			// replies that will never arrive.
			rec.SetVersion(rec.PreOpVersion)
			rec.Operation = registry.OpNone
			rec.Interrupted = false
		}
	}

	inv := ScanInventory(rec, j.ReplicaArena)
	rec.SetGoalEquiv(inv.ValidFullCopies+inv.ValidECParts, inv.ValidFullCopies+inv.ValidECParts)
	return inv
}

// phaseB implements the subset of spec §4.5 Phase B this package codes: a
// chunk with no valid replica left and nothing recoverable is flagged lost.
// The unexpected-BUSY-with-no-operation fix-up and the WVER best-version
// acceptance are not performed here, and the scheduler's loop sweep, which
// only calls Run, does not perform them either.
func (j *Job) phaseB(rec *registry.Record, inv Inventory, now uint32) (FailReason, bool) {
	if inv.ValidFullCopies+inv.ValidECParts == 0 && rec.Live(now) {
		rec.OnDangerList = true
		return ReasonChunkLost, true
	}
	return ReasonNone, false
}

// phaseD implements a subset of spec §4.5 Phase D: delete a chunk with no
// remaining references, and trim one INVALID/wrong-version replica per tick
// once the chunk can spare it. It is delay-protector gated (spec §3.6) so a
// chunk that just finished an operation isn't immediately re-touched.
func (j *Job) phaseD(rec *registry.Record, inv Inventory, now uint32) (FailReason, *ops.Command, bool) {
	if rec.FileHead.Empty() && rec.LockedTo < now && rec.Replicas.Empty() {
		return ReasonDeletedUnusedChunk, nil, true
	}

	if j.Delay.Protected(rec.ChunkID, now) {
		return ReasonDelayProtected, nil, false
	}

	if inv.ValidFullCopies+inv.ValidECParts == 0 {
		return ReasonNone, nil, false
	}

	var victim replica.Replica
	found := false
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if r.State == replica.INVALID || r.State.IsWrongVersion() {
			victim = r
			found = true
			return false
		}
		return true
	})
	if !found {
		return ReasonNone, nil, false
	}
	cmd := ops.IssueDelete(rec, j.ReplicaArena, victim, ops.DeleteInvalid)
	return ReasonDeletedInvalidReplica, &cmd, true
}

// phaseE implements spec §4.5 Phase E: the 14-item ordered repair and
// replication decision, run against a single shared ecSurvey so every item
// sees the same snapshot of the chunk's parts. d/x are derived from
// whichever EC profile is actually in play — the target class's Keep.EC
// when it calls for one, otherwise whatever profile the chunk's existing
// parts already show (mid-JOIN conversion back to copies still needs to
// reason about the EC parts it's retiring).
func (j *Job) phaseE(rec *registry.Record, inv Inventory, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	d, x := cls.Keep.EC.D, cls.Keep.EC.X
	if !cls.Keep.EC.Enabled {
		switch {
		case inv.HasEC8Part:
			d, x = 8, 9
		case inv.HasEC4Part:
			d, x = 4, 9
		default:
			d, x = 0, 0
		}
	}
	var survey ecSurvey
	if d > 0 {
		survey = surveyEC(rec, j.ReplicaArena, d, x)
	}

	for _, rule := range phaseERules {
		if reason, cmd, handled := rule(j, rec, inv, survey, cls, goal, now); handled {
			return reason, cmd, true
		}
	}
	return ReasonNone, nil, false
}

func firstDuplicate(rec *registry.Record, arena *replica.Arena) (replica.Replica, bool) {
	seen := map[replica.PartID]int{}
	var dup replica.Replica
	found := false
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		seen[r.Part]++
		if seen[r.Part] > 1 && !found {
			dup = r
			found = true
		}
		return true
	})
	return dup, found
}

// usableCandidates returns j.Info's candidates filtered down to servers
// still valid in the connection registry — Info may be backed by slower-
// changing topology data than csreg's live connect/disconnect state.
func (j *Job) usableCandidates() []placement.Candidate {
	all := j.Info.Candidates()
	out := make([]placement.Candidate, 0, len(all))
	for _, c := range all {
		if s := j.Servers.Get(uint16(c.ServerID)); s != nil && s.Valid {
			out = append(out, c)
		}
	}
	return out
}

// phaseF implements spec §4.5 Phase F's acceptable-difference rebalance:
// once nothing else needed doing, move one full copy from the most-used
// candidate server to the least-used one if their usage gap exceeds
// AcceptableDifference (spec §4.10). It only fires for copy-mode classes
// with at least one settled replica to move; EC rebalance is out of scope
// for this pass.
func (j *Job) phaseF(rec *registry.Record, cls sclass.Class, now uint32) (FailReason, []ops.Command) {
	if j.Info == nil || rec.StorageMode != registry.ModeCopies {
		return ReasonNone, nil
	}
	candidates := j.usableCandidates()
	if len(candidates) < 2 {
		return ReasonNone, nil
	}

	var source *placement.Candidate
	var dest *placement.Candidate
	for i := range candidates {
		c := candidates[i]
		if _, ok := rec.Replicas.Find(j.ReplicaArena, uint16(c.ServerID), replica.PartFullCopy); !ok {
			if dest == nil || j.Info.Usage(uint16(c.ServerID)) < j.Info.Usage(uint16(dest.ServerID)) {
				dest = &candidates[i]
			}
			continue
		}
		if source == nil || j.Info.Usage(uint16(c.ServerID)) > j.Info.Usage(uint16(source.ServerID)) {
			source = &candidates[i]
		}
	}
	if source == nil || dest == nil {
		return ReasonNone, nil
	}
	if j.Info.Usage(uint16(source.ServerID))-j.Info.Usage(uint16(dest.ServerID)) <= j.Tunables.AcceptableDifference {
		return ReasonNone, nil
	}

	cmd := ops.IssueReplicate(rec, j.ReplicaArena, uint16(dest.ServerID), replica.PartFullCopy,
		ops.ReplicateSimple, []uint16{uint16(source.ServerID)}, nil, ops.ReasonCopyRebalance)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedRebalance, []ops.Command{cmd}
}
