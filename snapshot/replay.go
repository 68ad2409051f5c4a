package snapshot

import (
	"github.com/NebulousLabs/errors"

	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/registry"
)

// ErrChunkExists and ErrActive are replay-specific outcomes
// chunk_mr_chunkadd/chunk_mr_chunkdel return that the ops package has no
// existing sentinel for.
var (
	ErrChunkExists = errors.New("chunk id already present in the registry")
	ErrActive      = errors.New("chunk still has a live file reference")
)

// Replayer applies a metadata change log's typed entries to a registry,
// mirroring chunk_mr_multi_modify/chunk_mr_increase_version/
// chunk_mr_set_version/chunk_mr_chunkadd/chunk_mr_chunkdel (SPEC_FULL.md's
// SUPPLEMENTED FEATURES). The change-log reader itself — deciding which
// entry to replay next, where the log lives — is external; this type only
// gives that reader a typed surface instead of one that re-derives
// chunk_mr_*'s semantics by hand.
//
// Idempotency follows chunk_mr_*'s own error contract rather than silently
// swallowing a repeat: replaying an entry whose effect is already applied
// returns the same sentinel the original would (ErrChunkExists from a
// repeated ReplayChunkAdd, for instance), and a caller replaying a log is
// expected to treat that as "already applied" rather than a fatal error —
// the same way the original's own multi-master changelog reconciliation
// does. ReplayIncreaseVersion has no such check: replaying it twice bumps
// the version twice.
type Replayer struct {
	Registry    *registry.Registry
	NextChunkID uint64
}

// ReplayNextChunkID applies chunk_mr_nextchunkid: it only ever advances the
// allocator's watermark.
func (r *Replayer) ReplayNextChunkID(n uint64) error {
	if n <= r.NextChunkID {
		return ops.ErrMismatch
	}
	r.NextChunkID = n
	return nil
}

// ReplayChunkAdd applies chunk_mr_chunkadd: register a brand-new chunk id
// with an already-known version and lock state (used when a follower is
// catching up on a CREATE it never issued itself).
func (r *Replayer) ReplayChunkAdd(now uint32, chunkID uint64, version, lockedTo uint32) error {
	if r.Registry.Find(chunkID) != nil {
		return ErrChunkExists
	}
	if lockedTo > 0 && lockedTo < now {
		return ops.ErrMismatch
	}
	if chunkID >= r.NextChunkID {
		r.NextChunkID = chunkID + 1
	}
	rec := r.Registry.Insert(chunkID)
	rec.SetVersion(version)
	rec.LockedTo = lockedTo
	return nil
}

// ReplayChunkDel applies chunk_mr_chunkdel: remove a chunk that has no more
// file references, no outstanding replicas, and is unlocked.
func (r *Replayer) ReplayChunkDel(now uint32, chunkID uint64, version uint32) error {
	rec := r.Registry.Find(chunkID)
	if rec == nil {
		return ops.ErrNoChunk
	}
	if rec.Version() != version {
		return ops.ErrWrongVersion
	}
	if !rec.FileHead.Empty() {
		return ErrActive
	}
	if !rec.Replicas.Empty() {
		return ops.ErrChunkBusy
	}
	if rec.LockedTo >= now {
		return ops.ErrLocked
	}
	r.Registry.Remove(chunkID)
	return nil
}

// ReplaySetVersion applies chunk_mr_set_version: overwrite a chunk's
// version and allow-read-zeros bit outright (used for SET_VERSION/TRUNCATE
// replay, which already carry the post-operation version rather than an
// increment).
func (r *Replayer) ReplaySetVersion(chunkID uint64, version uint32) error {
	rec := r.Registry.Find(chunkID)
	if rec == nil {
		return ops.ErrNoChunk
	}
	rec.SetAllowReadZeros(version&versionAllowReadZerosBit != 0)
	rec.SetVersion(version & versionMask)
	return nil
}

// ReplayIncreaseVersion applies chunk_mr_increase_version: bump a chunk's
// version by exactly one (used for the plain SET_VERSION bump case, where
// the log only records that a bump happened, not the resulting value).
func (r *Replayer) ReplayIncreaseVersion(chunkID uint64) error {
	rec := r.Registry.Find(chunkID)
	if rec == nil {
		return ops.ErrNoChunk
	}
	rec.SetVersion(rec.Version() + 1)
	return nil
}
