// Package filelist implements the per-chunk file-count list (spec §3.2): a
// compact representation of the multiset of storage classes referencing a
// chunk, used to decide which storage class "owns" a chunk for scheduling
// purposes when more than one file (under more than one class) references it.
package filelist

import "github.com/moosefs/chunkmaster/build"

const (
	// pageSize is the number of nodes per arena page (spec §3.2: "64k-entry
	// pages, allocated on demand").
	pageSize = 1 << 16

	// maxPages bounds the arena the way spec §4.1 bounds the chunk hash
	// table: up to 128 pages lazily allocated.
	maxPages = 128

	// FirstIndx is the smallest file_head value that must be interpreted as
	// an arena index rather than an inline count. Values in [1, FirstIndx-1]
	// are inline counts.
	FirstIndx = 5

	// MaxFCount is the largest file count a single node may hold (2^24-1);
	// exceeding it prepends a new node for the same class (spec §3.2).
	MaxFCount = 1<<24 - 1
)

// node is one {sclass_id, file_count, next} entry in the paged arena.
type node struct {
	sclassID uint8
	fcount   uint32 // 24-bit value; top byte unused
	next     uint32 // 0 = nil
	used     bool
}

// Arena is the paged, lazily-allocated store backing every chunk's
// file-count list. One Arena is shared by the whole chunk registry.
type Arena struct {
	pages    [][]node
	bump     uint32 // next never-yet-used index
	freeList []uint32
}

// NewArena returns an empty file-count arena.
func NewArena() *Arena {
	// Indices below FirstIndx are never handed out: a head Value in that
	// range is an inline file count, and index 0 is the nil sentinel.
	a := &Arena{bump: FirstIndx}
	a.pages = append(a.pages, make([]node, pageSize))
	return a
}

func (a *Arena) get(idx uint32) *node {
	page := idx / pageSize
	off := idx % pageSize
	return &a.pages[page][off]
}

func (a *Arena) alloc() uint32 {
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		*a.get(idx) = node{used: true}
		return idx
	}
	page := a.bump / pageSize
	if int(page) >= len(a.pages) {
		if len(a.pages) >= maxPages {
			build.Critical("filelist arena exhausted all", maxPages, "pages")
		}
		a.pages = append(a.pages, make([]node, pageSize))
	}
	idx := a.bump
	a.bump++
	a.get(idx).used = true
	return idx
}

func (a *Arena) free(idx uint32) {
	*a.get(idx) = node{}
	a.freeList = append(a.freeList, idx)
}

// ClassInfo is what the filelist needs to know about a storage class to pick
// the dominant one: its goal-equivalent redundancy level and whether it
// carries any label constraints. The sclass package's registry satisfies
// this. dominant consults only GoalEquiv, because ties between distinct ids
// are settled by the id before the label rule is reached.
type ClassInfo interface {
	GoalEquiv(sclassID uint8) int
	Labelled(sclassID uint8) bool
}

// Head is a chunk's file_head field (spec §3.1/§3.2): either an inline
// {class, count} pair (when exactly one class references the chunk with
// count < FirstIndx) or an arena index.
type Head struct {
	// Inline holds {SclassID, count} when Value < FirstIndx and Value != 0.
	Value    uint32
	SclassID uint8
}

// Empty reports whether no file references the chunk.
func (h Head) Empty() bool {
	return h.Value == 0
}

// dominant recomputes the sclass_id with the highest goal-equivalent across
// every class referencing the chunk (ties: smaller id, then labelled over
// unlabelled), per spec §4.2. Candidate ids are distinct, so the smaller id
// always settles a tie and the labelled rule never has to decide.
func dominant(ci ClassInfo, candidates map[uint8]struct{}) uint8 {
	var best uint8
	bestSet := false
	bestGoal := -1
	for id := range candidates {
		g := ci.GoalEquiv(id)
		if !bestSet {
			best, bestGoal, bestSet = id, g, true
			continue
		}
		switch {
		case g > bestGoal:
			best, bestGoal = id, g
		case g == bestGoal && id < best:
			best = id
		}
	}
	return best
}

// AddFile adds one reference under sclassID to the chunk whose current head
// is h, returning the updated head. Call Dominant afterward to recompute the
// chunk's scheduling class (spec §4.2).
func AddFile(a *Arena, h Head, sclassID uint8) Head {
	if h.Empty() {
		return Head{Value: 1, SclassID: sclassID}
	}
	if h.Value < FirstIndx {
		if h.SclassID == sclassID {
			if h.Value+1 < FirstIndx {
				return Head{Value: h.Value + 1, SclassID: sclassID}
			}
			// promote to arena form once we'd overflow the inline range
			idx := a.alloc()
			n := a.get(idx)
			n.sclassID = sclassID
			n.fcount = h.Value + 1
			return Head{Value: idx}
		}
		// a second class now references the chunk: both become arena nodes
		idxOld := a.alloc()
		no := a.get(idxOld)
		no.sclassID = h.SclassID
		no.fcount = h.Value
		idxNew := a.alloc()
		nn := a.get(idxNew)
		nn.sclassID = sclassID
		nn.fcount = 1
		nn.next = idxOld
		return Head{Value: idxNew}
	}
	// Arena form: find a node for sclassID, or prepend one.
	idx := h.Value
	for idx != 0 {
		n := a.get(idx)
		if n.sclassID == sclassID {
			if n.fcount >= MaxFCount {
				break // overflow: fall through to prepend a fresh node
			}
			n.fcount++
			return h
		}
		idx = n.next
	}
	newIdx := a.alloc()
	nn := a.get(newIdx)
	nn.sclassID = sclassID
	nn.fcount = 1
	nn.next = h.Value
	return Head{Value: newIdx}
}

// DeleteFile removes one reference under sclassID from the chunk whose
// current head is h, returning the updated head. Deleting a reference that
// does not exist is a no-op (matches spec R3's "add;delete is a no-op").
func DeleteFile(a *Arena, h Head, sclassID uint8) Head {
	if h.Empty() {
		return h
	}
	if h.Value < FirstIndx {
		if h.SclassID != sclassID {
			return h
		}
		if h.Value <= 1 {
			return Head{}
		}
		return Head{Value: h.Value - 1, SclassID: sclassID}
	}
	// Arena form: walk with a trailing pointer so we can unlink.
	var prev uint32
	idx := h.Value
	for idx != 0 {
		n := a.get(idx)
		if n.sclassID == sclassID {
			if n.fcount > 1 {
				n.fcount--
				return h
			}
			// unlink this node
			next := n.next
			a.free(idx)
			if prev == 0 {
				h.Value = next
			} else {
				a.get(prev).next = next
			}
			return collapseIfSingleton(a, h)
		}
		prev = idx
		idx = n.next
	}
	return h
}

// collapseIfSingleton converts a one-node arena-form list back into inline
// form when it fits, freeing the arena node. This keeps the representation
// canonical so Len/Classes agree regardless of history.
func collapseIfSingleton(a *Arena, h Head) Head {
	if h.Value == 0 || h.Value < FirstIndx {
		return h
	}
	n := a.get(h.Value)
	if n.next != 0 || n.fcount >= FirstIndx {
		return h
	}
	sclassID := n.sclassID
	fcount := n.fcount
	a.free(h.Value)
	return Head{Value: fcount, SclassID: sclassID}
}

// ChangeFile moves one reference from oldSclassID to newSclassID. A no-op
// when they are equal (spec R4).
func ChangeFile(a *Arena, h Head, oldSclassID, newSclassID uint8) Head {
	if oldSclassID == newSclassID {
		return h
	}
	h = DeleteFile(a, h, oldSclassID)
	return AddFile(a, h, newSclassID)
}

// Classes returns the set of storage classes currently referencing the
// chunk, for dominant-class recomputation and snapshotting.
func Classes(a *Arena, h Head) map[uint8]struct{} {
	out := map[uint8]struct{}{}
	if h.Empty() {
		return out
	}
	if h.Value < FirstIndx {
		out[h.SclassID] = struct{}{}
		return out
	}
	for idx := h.Value; idx != 0; idx = a.get(idx).next {
		out[a.get(idx).sclassID] = struct{}{}
	}
	return out
}

// Pairs returns every {sclassID, fcount} pair referencing the chunk, summed
// across duplicate nodes for the same class (spec §3.2 allows more than one
// node per class after an overflow-prepend).
func Pairs(a *Arena, h Head) map[uint8]uint32 {
	out := map[uint8]uint32{}
	if h.Empty() {
		return out
	}
	if h.Value < FirstIndx {
		out[h.SclassID] = h.Value
		return out
	}
	for idx := h.Value; idx != 0; idx = a.get(idx).next {
		n := a.get(idx)
		out[n.sclassID] += n.fcount
	}
	return out
}

// FromPairs rebuilds a Head directly from a {sclassID: fcount} map, used by
// the snapshot loader to reconstruct a chunk's file-count list from its
// persisted pairs block (spec §6.1) without replaying fcount individual
// AddFile calls. Canonicalizes to inline form when a single pair fits.
func FromPairs(a *Arena, pairs map[uint8]uint32) Head {
	if len(pairs) == 0 {
		return Head{}
	}
	if len(pairs) == 1 {
		for sclassID, fcount := range pairs {
			if fcount < FirstIndx {
				return Head{Value: fcount, SclassID: sclassID}
			}
			idx := a.alloc()
			n := a.get(idx)
			n.sclassID = sclassID
			n.fcount = fcount
			return Head{Value: idx}
		}
	}
	var head uint32
	for sclassID, fcount := range pairs {
		idx := a.alloc()
		n := a.get(idx)
		n.sclassID = sclassID
		n.fcount = fcount
		n.next = head
		head = idx
	}
	return Head{Value: head}
}

// Dominant recomputes the dominant sclass_id for scheduling purposes (spec
// §4.2): the class with the highest goal-equivalent, ties broken by smaller
// id then by labelled-over-unlabelled.
func Dominant(ci ClassInfo, a *Arena, h Head) uint8 {
	if h.Empty() {
		return h.SclassID
	}
	return dominant(ci, Classes(a, h))
}
