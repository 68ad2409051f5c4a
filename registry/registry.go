// Package registry implements the in-memory chunk registry (spec §3.1,
// §4.1): the table of every chunk record in the cluster, keyed by chunk id,
// plus the per-chunk state fields the decision engine reads and mutates
// every tick.
//
// Spec §4.1 describes a hand-rolled open-addressing hash table with
// incremental rehash and page-array memory, specifically to keep pointers
// stable while a background sweep walks the table mid-rehash. Spec §9's own
// design note calls that requirement out as a C-specific concern: "a safe
// [Go-like] implementation uses handles ... resolving to pointers per
// access; that removes the need for pointer stability during rehash
// entirely." This package follows that note: chunks live in a bump-allocated
// slab (so existing handles never move), and lookup-by-id goes through a
// plain Go map from chunk id to slab index. The map's own incremental growth
// gives us the amortized-O(1) behavior spec §4.1 wants without replicating
// its page-array bookkeeping by hand.
package registry

import (
	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/replica"
)

// Operation is the chunk-level operation state machine (spec §3.1, §4.8).
type Operation uint8

const (
	OpNone Operation = iota
	OpCreate
	OpSetVersion
	OpDuplicate
	OpTruncate
	OpDupTrunc
	OpReplicate
	OpLocalSplit
)

// StorageMode is the chunk's derived inventory shape (spec §3.1).
type StorageMode uint8

const (
	ModeCopies StorageMode = iota
	ModeEC8
	ModeEC4
)

// Flags are the chunk-level 2-bit flag field (spec §3.1).
type Flags uint8

const (
	FlagArch Flags = 1 << iota
	FlagTrash
)

const maxGoalEquiv = 15 // 4-bit saturating field

// version field layout (spec §3.1): bit31 = allow-read-zeros, low 30 bits =
// the logical version. Bit 30 is reserved and always zero.
const versionAllowReadZerosBit = uint32(1) << 31
const versionMask = uint32(1)<<30 - 1

// Record is one chunk's full in-memory record (spec §3.1).
type Record struct {
	ChunkID uint64

	version uint32 // see versionAllowReadZerosBit / versionMask

	SclassID uint8 // dominant storage class (spec §3.2)
	Flags    Flags

	StorageMode StorageMode

	AllGoalEquiv uint8 // saturates at maxGoalEquiv
	RegGoalEquiv uint8

	Operation Operation

	LockedTo uint32 // wall-clock seconds; 0 = not locked

	FileHead filelist.Head

	Replicas replica.List

	NeedsVerIncrease bool
	Interrupted      bool
	WriteInProgress  bool
	OnDangerList     bool

	// PreOpVersion is the version in effect immediately before the current
	// operation was issued. The ops package uses it to revert a replica's
	// state/version when a chunk-server reports NOTDONE (spec §4.8 step 3).
	PreOpVersion uint32

	// NoSpaceOnly tracks, across every got-status reply for the current
	// operation, whether every failing replica reported NOSPACE specifically
	// (spec §4.8 step 3's consolidated-error rule). Reset true by Issue*,
	// cleared the first time a non-NOSPACE failure is observed.
	NoSpaceOnly bool
}

// Version returns the logical version, without the allow-read-zeros bit.
func (r *Record) Version() uint32 { return r.version & versionMask }

// SetVersion sets the logical version, preserving the allow-read-zeros bit.
func (r *Record) SetVersion(v uint32) { r.version = (r.version & versionAllowReadZerosBit) | (v & versionMask) }

// AllowReadZeros reports whether repair has authorized degraded reads on a
// chunk with no valid copy.
func (r *Record) AllowReadZeros() bool { return r.version&versionAllowReadZerosBit != 0 }

// SetAllowReadZeros sets or clears the allow-read-zeros bit.
func (r *Record) SetAllowReadZeros(b bool) {
	if b {
		r.version |= versionAllowReadZerosBit
	} else {
		r.version &^= versionAllowReadZerosBit
	}
}

// bumpGoalEquiv saturates at maxGoalEquiv (spec §3.1: "Saturates at 15").
func bumpGoalEquiv(v int) uint8 {
	if v > maxGoalEquiv {
		return maxGoalEquiv
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// SetGoalEquiv records the all/reg goal-equivalent pair computed by the
// decision engine's Phase A, saturating each to the 4-bit field's range and
// preserving invariant 1 (all >= reg) by clamping reg down if necessary.
func (r *Record) SetGoalEquiv(all, reg int) {
	r.AllGoalEquiv = bumpGoalEquiv(all)
	r.RegGoalEquiv = bumpGoalEquiv(reg)
	if r.RegGoalEquiv > r.AllGoalEquiv {
		r.RegGoalEquiv = r.AllGoalEquiv
	}
}

// Live reports whether the chunk must still exist (spec §3.1 invariant):
// referenced by a file, locked, or holding at least one replica.
func (r *Record) Live(now uint32) bool {
	return !r.FileHead.Empty() || r.LockedTo >= now || !r.Replicas.Empty()
}

const slabPageSize = 1 << 16

// Registry is the chunk hash table: a bump-allocated slab of Records plus a
// map from chunk id to slab index, and the single-slot find cache spec
// §4.1 calls for ("the previous find result is cached ... to speed up
// repeated access to the same chunk by the operation-status handlers").
type Registry struct {
	pages [][]Record
	bump  uint32
	free  []uint32

	index map[uint64]uint32

	cacheID  uint64
	cacheIdx uint32
	cacheOK  bool

	replicaArena *replica.Arena
	fileArena    *filelist.Arena
}

// New returns an empty registry sharing the given replica and file-count
// arenas (callers typically own one of each per process).
func New(replicaArena *replica.Arena, fileArena *filelist.Arena) *Registry {
	r := &Registry{
		index:        map[uint64]uint32{},
		replicaArena: replicaArena,
		fileArena:    fileArena,
	}
	r.pages = append(r.pages, make([]Record, slabPageSize))
	r.bump = 1 // index 0 reserved as a nil sentinel
	return r
}

func (r *Registry) slot(idx uint32) *Record {
	return &r.pages[idx/slabPageSize][idx%slabPageSize]
}

func (r *Registry) alloc() uint32 {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		return idx
	}
	page := r.bump / slabPageSize
	if int(page) >= len(r.pages) {
		r.pages = append(r.pages, make([]Record, slabPageSize))
	}
	idx := r.bump
	r.bump++
	return idx
}

// Find returns the chunk's record, or nil if not present. Hits the
// single-slot cache first.
func (r *Registry) Find(chunkID uint64) *Record {
	if r.cacheOK && r.cacheID == chunkID {
		rec := r.slot(r.cacheIdx)
		if rec.ChunkID == chunkID {
			return rec
		}
		r.cacheOK = false
	}
	idx, ok := r.index[chunkID]
	if !ok {
		return nil
	}
	r.cacheID, r.cacheIdx, r.cacheOK = chunkID, idx, true
	return r.slot(idx)
}

// Insert adds a new chunk record for chunkID (must not already exist) and
// returns it for the caller to populate.
func (r *Registry) Insert(chunkID uint64) *Record {
	idx := r.alloc()
	rec := r.slot(idx)
	*rec = Record{ChunkID: chunkID}
	r.index[chunkID] = idx
	r.cacheID, r.cacheIdx, r.cacheOK = chunkID, idx, true
	return rec
}

// Remove deletes chunkID's record. Callers must have already verified the
// liveness invariant (spec §8 invariant 5) before calling this.
func (r *Registry) Remove(chunkID uint64) {
	idx, ok := r.index[chunkID]
	if !ok {
		return
	}
	delete(r.index, chunkID)
	*r.slot(idx) = Record{}
	r.free = append(r.free, idx)
	if r.cacheOK && r.cacheID == chunkID {
		r.cacheOK = false
	}
}

// Len returns the number of chunk records currently in the registry.
func (r *Registry) Len() int { return len(r.index) }

// Each calls fn for every chunk record, in an unspecified order. fn must not
// insert or remove records.
func (r *Registry) Each(fn func(*Record) bool) {
	for _, idx := range r.index {
		if !fn(r.slot(idx)) {
			return
		}
	}
}

// ReplicaArena returns the shared replica arena, for callers assembling a
// replica.List against a record's Replicas head.
func (r *Registry) ReplicaArena() *replica.Arena { return r.replicaArena }

// FileArena returns the shared file-count arena.
func (r *Registry) FileArena() *filelist.Arena { return r.fileArena }
