package core

import (
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/replica"
)

// Connected implements the chunk-server lifecycle's connect step (spec
// §4.7): allocate a compact id for a newly-connecting server.
func (c *Core) Connected(h csreg.Handle) uint16 {
	return c.Servers.Connect(h)
}

// RegisterEnd implements register-end (spec §4.7): mark a server registered
// once its inventory handshake completes.
func (c *Core) RegisterEnd(id uint16, onInvalidate func(uint16)) {
	c.Servers.RegisterEnd(id, onInvalidate)
}

// HasChunk implements has-chunk (spec §4.7): a chunk-server reports holding
// a replica. A chunk unknown to the registry is created with a 7-day lock so
// it survives long enough for a file reference to claim it, but is reclaimed
// by the decision engine's phase D if none ever does.
func (c *Core) HasChunk(now uint32, serverID uint16, chunkID uint64, part replica.PartID, version uint32) error {
	rec := c.Registry.Find(chunkID)
	if rec == nil {
		rec = c.Registry.Insert(chunkID)
		rec.LockedTo = now + HasChunkLockSeconds
		rec.SetVersion(version)
	}

	state := replica.VALID
	if rec.Version() != version {
		state = replica.WVER
	}
	if s := c.Servers.Get(serverID); s != nil && s.MFR != csreg.UnknownHard && s.MFR != csreg.UnknownSoft {
		state = state.WithTD(true)
	}
	rec.Replicas = rec.Replicas.Insert(c.replicaArena(), replica.Replica{
		ServerID: serverID, Part: part, State: state, Version: version,
	})
	return nil
}

// Damaged implements damaged (spec §4.7): the reporting server's replica for
// this chunk is bad but still present on disk; flip it to INVALID and
// re-enqueue for the decision engine's attention.
func (c *Core) Damaged(chunkID uint64, serverID uint16, part replica.PartID) error {
	rec, err := c.record(chunkID)
	if err != nil {
		return err
	}
	if r, ok := rec.Replicas.Find(c.replicaArena(), serverID, part); ok {
		r.State = replica.INVALID
		rec.Replicas = rec.Replicas.Insert(c.replicaArena(), r)
	}
	c.Queues.Upsert(chunkID, queue.WrongLabels)
	return nil
}

// Lost implements lost (spec §4.7): the server no longer has this replica at
// all; drop it outright and re-enqueue.
func (c *Core) Lost(chunkID uint64, serverID uint16, part replica.PartID) error {
	rec, err := c.record(chunkID)
	if err != nil {
		return err
	}
	rec.Replicas, _ = rec.Replicas.Remove(c.replicaArena(), serverID, part)
	c.Queues.Upsert(chunkID, queue.WrongLabels)
	return nil
}

// GotStatus implements got-<op>-status (spec §4.8 step 3) for whichever
// operation kind is in flight on the chunk; ops.GotStatus itself is already
// op-agnostic (it reconciles off rec.Operation, not the caller's belief
// about which op this is), so every got-*-status entry point converges here.
func (c *Core) GotStatus(chunkID uint64, serverID uint16, part replica.PartID, status ops.Status) (ops.Outcome, error) {
	rec, err := c.record(chunkID)
	if err != nil {
		return ops.Pending, err
	}
	outcome, err := ops.GotStatus(rec, c.replicaArena(), serverID, part, status)
	if outcome != ops.Pending {
		c.Replock.Unlock(chunkID)
	}
	return outcome, err
}

// Disconnected implements disconnect (spec §4.7): move the server to the
// deferred-disconnect queue. The scheduler's drainDisconnects sweep frees it
// in bounded batches; engine.Job.phaseA lazily drops the stale replicas of
// any server csreg still reports invalid, every time that chunk is next
// visited, rather than this call walking the whole registry itself.
func (c *Core) Disconnected(serverID uint16) {
	c.Servers.Disconnect(serverID)
}

var _ = filelist.Head{} // keeps the filelist import referenced; nothing in this file otherwise uses it
