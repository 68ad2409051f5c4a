// Package core wires every chunk-management component into the set of
// entry points spec.md §2 lists: client/file-system-facing calls
// (create, modify, truncate, unlock, read-check, set-archflag,
// file-loop-task, repair, get-version-and-csdata) and chunk-server-event-
// facing calls (connected, has-chunk, damaged, lost, got-<op>-status,
// disconnected). Nothing here replaces a package's own logic; Core is a
// thin dispatcher that picks the right collaborator, in the order
// chunks.c's top-level entry points do.
package core

import (
	"github.com/NebulousLabs/errors"

	"github.com/moosefs/chunkmaster/chunkid"
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/engine"
	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/sclass"
	"github.com/moosefs/chunkmaster/stats"
)

// LockTimeoutSeconds is LOCKTIMEOUT (spec §5): how long a write session's
// lock lasts once an operation is issued.
const LockTimeoutSeconds = 120

// HasChunkLockSeconds is the 7-day grace period has-chunk seeds onto a
// record it had to create, so an orphaned report from a chunk-server
// retains the chunk long enough for a file to claim it before the decision
// engine's phase D reclaims it (spec §4.7).
const HasChunkLockSeconds = 7 * 24 * 3600

// Core is the process-wide collection of collaborators the entry points
// below dispatch into. Every field is exported so a caller can construct
// one by hand (cmd/chunkmasterd does exactly that); there is no hidden
// global state.
type Core struct {
	Registry *registry.Registry
	Servers  *csreg.Registry
	Queues   *queue.Queues
	Classes  sclass.Registry
	Matcher  placement.Matcher

	ChunkIDs *chunkid.Allocator

	Delay   *queue.DelayProtector
	Replock *queue.ReplicationLock

	Ops   *stats.OpCounters
	Repl  *stats.ReplicationCounters
	Sclasses *stats.SclassCounters
	Cluster  *stats.ClusterSnapshot
}

func (c *Core) replicaArena() *replica.Arena { return c.Registry.ReplicaArena() }
func (c *Core) fileArena() *filelist.Arena   { return c.Registry.FileArena() }

// record looks up chunkID, returning ops.ErrNoChunk when absent — the
// guard nearly every entry point below starts with.
func (c *Core) record(chunkID uint64) (*registry.Record, error) {
	rec := c.Registry.Find(chunkID)
	if rec == nil {
		return nil, ops.ErrNoChunk
	}
	return rec, nil
}

// recordOp wraps Ops.Record so every dispatch below reports try/succeeded/
// failed without repeating the three-line pattern.
func (c *Core) recordOp(kind ops.CommandKind, err error) error {
	if c.Ops == nil {
		return err
	}
	c.Ops.Record(kind, stats.Tried)
	if err != nil {
		c.Ops.Record(kind, stats.Failed)
	} else {
		c.Ops.Record(kind, stats.Succeeded)
	}
	return err
}

// createPlan resolves sclassID's Create storage mode into the goal slot
// count and label expressions Create should match candidates against. When
// sclassID names no registered class, Create falls back to one destination
// per candidate offered, unlabelled and never refusing — the same behavior
// a caller that already resolved its own destinations got before this
// package consulted storage classes at all.
func (c *Core) createPlan(sclassID uint8, numCandidates int) (sclass.StorageMode, int, bool) {
	cls, ok := c.Classes.Class(sclassID)
	if !ok {
		return sclass.StorageMode{}, numCandidates, false
	}
	goal := cls.Create.GoalEquiv()
	if goal <= 0 {
		goal = numCandidates
	}
	return cls.Create, goal, true
}

// Create implements chunk_univ_multi_modify's "brand new chunk" path
// reached when a file has no chunk yet: run the storage class's Create mode
// through the placement matcher to turn candidates into destinations (spec
// §4.6), seat one BUSY replica per destination, and return the CREATE
// commands to send. A Strict-mode class that can't fill every label slot
// refuses the creation outright (spec §8 S6) rather than placing a
// short chunk.
func (c *Core) Create(now uint32, sclassID uint8, candidates []placement.Candidate) (uint64, []ops.Command, error) {
	sm, goal, haveClass := c.createPlan(sclassID, len(candidates))

	slots := make([]placement.Expr, goal)
	for i := range slots {
		if i < len(sm.Labels) {
			slots[i] = sm.Labels[i]
		}
	}
	uniq := placement.UniqueMode(sm.UniqueMask)
	results := placement.Match(slots, candidates, uniq, sm.Mode, c.Matcher)

	var destinations []uint16
	for _, res := range results {
		if res.OK {
			destinations = append(destinations, uint16(res.ServerID))
		}
	}
	if haveClass && sm.Mode == placement.Strict && len(destinations) < goal {
		return 0, nil, c.recordOp(ops.CmdCreate, ops.ErrNoSpace)
	}

	chunkID := c.ChunkIDs.Next()
	rec := c.Registry.Insert(chunkID)
	rec.SclassID = sclassID
	rec.LockedTo = now + LockTimeoutSeconds
	rec.FileHead = filelist.AddFile(c.fileArena(), rec.FileHead, sclassID)

	cmds := ops.IssueCreate(rec, c.replicaArena(), destinations)
	return chunkID, cmds, c.recordOp(ops.CmdCreate, nil)
}

// Modify implements chunk_univ_multi_modify (spec §4.8 table, SET_VERSION/
// DUPLICATE): a client reopening a chunk for write either bumps its version
// in place, when it is the only file referencing it, or forks a fresh chunk
// id and leaves the original read-only for whichever other files still
// reference it.
func (c *Core) Modify(now uint32, ochunkID uint64, sclassID uint8) (uint64, []ops.Command, error) {
	rec, err := c.record(ochunkID)
	if err != nil {
		return 0, nil, err
	}
	if rec.LockedTo >= now || c.Replock.Locked(ochunkID, now) {
		return 0, nil, ops.ErrLocked
	}

	verdict, err := ops.PrepareToModify(rec, c.replicaArena(), c.Servers)
	if err != nil {
		return 0, nil, err
	}
	_ = verdict // copy-conversion (JOIN) is out of scope for this pass; see DESIGN.md

	if soleReference(rec) {
		cmds := ops.IssueSetVersion(rec, c.replicaArena())
		rec.LockedTo = now + LockTimeoutSeconds
		return ochunkID, cmds, c.recordOp(ops.CmdSetVersion, nil)
	}

	newChunkID := c.ChunkIDs.Next()
	newRec := c.Registry.Insert(newChunkID)
	newRec.SclassID = sclassID
	rec.FileHead = filelist.DeleteFile(c.fileArena(), rec.FileHead, sclassID)
	newRec.FileHead = filelist.AddFile(c.fileArena(), newRec.FileHead, sclassID)
	newRec.LockedTo = now + LockTimeoutSeconds

	cmds := ops.IssueDuplicate(rec, newRec, c.replicaArena())
	return newChunkID, cmds, c.recordOp(ops.CmdDuplicate, nil)
}

// Truncate implements chunk_univ_multi_truncate (spec §4.8 table, TRUNCATE/
// DUPTRUNC): the length-aware counterpart of Modify.
func (c *Core) Truncate(now uint32, ochunkID uint64, sclassID uint8, length uint64) (uint64, []ops.Command, error) {
	rec, err := c.record(ochunkID)
	if err != nil {
		return 0, nil, err
	}
	if rec.LockedTo >= now || c.Replock.Locked(ochunkID, now) {
		return 0, nil, ops.ErrLocked
	}

	if _, err := ops.PrepareToModify(rec, c.replicaArena(), c.Servers); err != nil {
		return 0, nil, err
	}

	if soleReference(rec) {
		cmds := ops.IssueTruncate(rec, c.replicaArena(), length)
		rec.LockedTo = now + LockTimeoutSeconds
		return ochunkID, cmds, c.recordOp(ops.CmdTruncate, nil)
	}

	newChunkID := c.ChunkIDs.Next()
	newRec := c.Registry.Insert(newChunkID)
	newRec.SclassID = sclassID
	rec.FileHead = filelist.DeleteFile(c.fileArena(), rec.FileHead, sclassID)
	newRec.FileHead = filelist.AddFile(c.fileArena(), newRec.FileHead, sclassID)
	newRec.LockedTo = now + LockTimeoutSeconds

	cmds := ops.IssueDupTrunc(rec, newRec, c.replicaArena(), length)
	return newChunkID, cmds, c.recordOp(ops.CmdDupTrunc, nil)
}

// soleReference reports whether rec's file-count list shows exactly one
// file referencing the chunk (chunks.c's FLISTONEFILEINDX check): the
// inline head form with a count of exactly 1.
func soleReference(rec *registry.Record) bool {
	return rec.FileHead.Value == 1
}

// Unlock implements chunk_unlock: release a write session's lock one tick
// early and let the decision engine re-evaluate the chunk immediately if it
// was sitting on the danger list.
func (c *Core) Unlock(now uint32, chunkID uint64) error {
	rec, err := c.record(chunkID)
	if err != nil {
		return err
	}
	rec.LockedTo = now - 1
	return nil
}

// ErrNeedsRepair is ReadCheck's signal that the chunk has no full copy and
// no complete erasure-coded set right now, but enough scattered data parts
// exist that a repair driven by the next scheduler tick could still recover
// it (chunk_read_check's "trying to recover" branch).
var ErrNeedsRepair = errors.New("chunk unreadable without repair; recoverable")

// ReadCheck implements chunk_read_check: can a client read this chunk right
// now. The fast-path repair chunk_read_check triggers inline is left to the
// scheduler's next tick (ErrNeedsRepair signals it is worth enqueuing at
// IOReady rather than failing the read outright).
func (c *Core) ReadCheck(now uint32, chunkID uint64) error {
	rec, err := c.record(chunkID)
	if err != nil {
		return err
	}
	if rec.LockedTo >= now {
		return ops.ErrLocked
	}
	if rec.Operation != registry.OpNone {
		return ops.ErrChunkBusy
	}

	var ec4, ec8 ecMasks
	ok := false
	busy := false
	rec.Replicas.Each(c.replicaArena(), func(r replica.Replica) bool {
		if r.State.IsBusy() {
			busy = true
			return false
		}
		if !r.State.IsValid() {
			return true
		}
		switch {
		case r.Part.IsFullCopy():
			ok = true
			return false
		case r.Part.IsEC4():
			ec4.observe(r)
		case r.Part.IsEC8():
			ec8.observe(r)
		}
		return true
	})
	if busy {
		// BUSY replicas with operation==NONE is an inconsistent state in the
		// original (a logged warning); treated the same way as "try later".
		return ops.ErrEAgain
	}
	if ok {
		return nil
	}
	if ec8.live&0xFF == 0xFF || ec4.live&0x0F == 0x0F {
		return nil
	}
	if bitcount32(ec8.live) >= 8 || bitcount32(ec4.live) >= 4 {
		c.Queues.Upsert(chunkID, queue.IOReady)
		return ErrNeedsRepair
	}
	return ops.ErrChunkLost
}

// SetArchFlag implements chunk_set_archflag: flip the ARCH bit, reporting
// whether it actually changed.
func (c *Core) SetArchFlag(chunkID uint64, archive bool) (bool, error) {
	rec, err := c.record(chunkID)
	if err != nil {
		return false, err
	}
	want := rec.Flags &^ registry.FlagArch
	if archive {
		want |= registry.FlagArch
	}
	if want == rec.Flags {
		return false, nil
	}
	rec.Flags = want
	return true, nil
}

// FileLoopTask implements the file-system scrub driver's per-reference call
// (chunk_fileloop_task), delegating the classification itself to
// engine.FileLoopTask.
func (c *Core) FileLoopTask(chunkID uint64, goal int) engine.FileLoopResult {
	rec := c.Registry.Find(chunkID)
	return engine.FileLoopTask(rec, c.replicaArena(), goal)
}

// GetVersionAndCSData implements chunk_get_version_and_csdata, simplified:
// it returns the chunk's version and every server currently holding a valid
// full copy (or, lacking any, a data-complete EC profile's server set). The
// original's per-client topology-sorted server list and "split" flag are a
// transport-facing presentation concern (spec §1's out-of-scope front-end);
// callers sort/distance-filter c.Servers themselves using topology.Provider.
func (c *Core) GetVersionAndCSData(chunkID uint64) (uint32, []uint16, error) {
	rec, err := c.record(chunkID)
	if err != nil {
		return 0, nil, err
	}

	var copies []uint16
	var ec4, ec8 ecMasks
	ec4servers := map[int]uint16{}
	ec8servers := map[int]uint16{}
	rec.Replicas.Each(c.replicaArena(), func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		switch {
		case r.Part.IsFullCopy():
			copies = append(copies, r.ServerID)
		case r.Part.IsEC4() && r.Part.IsData():
			ec4.observe(r)
			ec4servers[r.Part.Index()] = r.ServerID
		case r.Part.IsEC8() && r.Part.IsData():
			ec8.observe(r)
			ec8servers[r.Part.Index()] = r.ServerID
		}
		return true
	})

	if len(copies) > 0 {
		return rec.Version(), copies, nil
	}
	if ec8.live&0xFF == 0xFF {
		return rec.Version(), serversInOrder(ec8servers, 8), nil
	}
	if ec4.live&0x0F == 0x0F {
		return rec.Version(), serversInOrder(ec4servers, 4), nil
	}

	if rec.AllGoalEquiv == 0 && c.Servers.InProgress() == 0 {
		if rec.AllowReadZeros() {
			return 0, nil, nil
		}
		return 0, nil, ops.ErrChunkLost
	}
	return rec.Version(), nil, ops.ErrEAgain
}

func serversInOrder(byIndex map[int]uint16, n int) []uint16 {
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		if s, ok := byIndex[i]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ecMasks and bitcount32 mirror engine.ecMasks/math/bits.OnesCount32; kept
// local since engine's is unexported and this package needs the same
// per-profile live-part tally for ReadCheck/GetVersionAndCSData, not the
// fuller classification FileLoopTask performs.
type ecMasks struct {
	live uint32
}

func (m *ecMasks) observe(r replica.Replica) {
	m.live |= uint32(1) << uint(r.Part.Index())
}

func bitcount32(v uint32) int {
	n := 0
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}
