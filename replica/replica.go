// Package replica implements the per-chunk replica record and its state
// machine (spec §3.3): which server holds which copy or erasure-coded part,
// in which validity state, at which version.
package replica

import "fmt"

// PartID encodes a replica's role within its chunk. 0 is a full copy;
// 0x10..0x1C are EC4 parts; 0x20..0x30 are EC8 parts.
type PartID uint8

const (
	// PartFullCopy marks a replica as a whole, unsplit copy of the chunk.
	PartFullCopy PartID = 0x00

	// EC4 parts run 0x10 (first data part) through 0x1C (last possible
	// checksum part): 4 data parts + up to 9 checksum parts.
	ec4Base      PartID = 0x10
	ec4DataCount        = 4
	ec4MaxParity        = 9

	// EC8 parts run 0x20 through 0x30: 8 data parts + up to 9 checksum parts.
	ec8Base      PartID = 0x20
	ec8DataCount        = 8
	ec8MaxParity        = 9
)

// IsFullCopy reports whether p represents a whole copy rather than an EC
// part.
func (p PartID) IsFullCopy() bool {
	return p == PartFullCopy
}

// IsEC4 reports whether p is an EC4 data or checksum part.
func (p PartID) IsEC4() bool {
	return p >= ec4Base && p < ec4Base+ec4DataCount+ec4MaxParity
}

// IsEC8 reports whether p is an EC8 data or checksum part.
func (p PartID) IsEC8() bool {
	return p >= ec8Base && p < ec8Base+ec8DataCount+ec8MaxParity
}

// IsData reports whether p is a data part (as opposed to a checksum/parity
// part) of whichever EC profile it belongs to. Full copies count as data.
func (p PartID) IsData() bool {
	switch {
	case p.IsFullCopy():
		return true
	case p.IsEC4():
		return p < ec4Base+ec4DataCount
	case p.IsEC8():
		return p < ec8Base+ec8DataCount
	}
	return false
}

// Index returns the zero-based data/checksum index of p within its EC
// profile (0 for the first data part, D for the first checksum part, and so
// on). Only meaningful when !p.IsFullCopy().
func (p PartID) Index() int {
	switch {
	case p.IsEC4():
		return int(p - ec4Base)
	case p.IsEC8():
		return int(p - ec8Base)
	}
	return 0
}

// EC4Part returns the PartID for EC4 shard index i (0-based; 0..3 are data,
// 4..12 are checksum).
func EC4Part(i int) PartID { return ec4Base + PartID(i) }

// EC8Part returns the PartID for EC8 shard index i (0-based; 0..7 are data,
// 8..16 are checksum).
func EC8Part(i int) PartID { return ec8Base + PartID(i) }

func (p PartID) String() string {
	switch {
	case p.IsFullCopy():
		return "copy"
	case p.IsEC4():
		return fmt.Sprintf("ec4[%d]", p.Index())
	case p.IsEC8():
		return fmt.Sprintf("ec8[%d]", p.Index())
	default:
		return fmt.Sprintf("part(0x%02x)", uint8(p))
	}
}

// State is one of the eight replica validity states (spec §3.3), spanning
// three orthogonal axes: good/busy/bad, and marked-for-removal or not.
type State uint8

const (
	// VALID is a good copy/part, current version, server active.
	VALID State = iota
	// TDVALID is VALID but on a disk marked for removal.
	TDVALID
	// BUSY is involved in an in-progress master-initiated operation.
	BUSY
	// TDBUSY is BUSY and on a disk marked for removal.
	TDBUSY
	// WVER is a wrong (stale) version.
	WVER
	// TDWVER is WVER on a disk marked for removal.
	TDWVER
	// INVALID is reported bad and scheduled for deletion.
	INVALID
	// DEL has had a delete command sent, awaiting confirmation.
	DEL
)

func (s State) String() string {
	switch s {
	case VALID:
		return "VALID"
	case TDVALID:
		return "TDVALID"
	case BUSY:
		return "BUSY"
	case TDBUSY:
		return "TDBUSY"
	case WVER:
		return "WVER"
	case TDWVER:
		return "TDWVER"
	case INVALID:
		return "INVALID"
	case DEL:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// IsTD reports whether s is one of the three "on a marked-for-removal disk"
// states.
func (s State) IsTD() bool {
	return s == TDVALID || s == TDBUSY || s == TDWVER
}

// IsValid reports whether s counts toward goal-equivalent (VALID or TDVALID).
func (s State) IsValid() bool {
	return s == VALID || s == TDVALID
}

// IsBusy reports whether s is BUSY or TDBUSY.
func (s State) IsBusy() bool {
	return s == BUSY || s == TDBUSY
}

// IsWrongVersion reports whether s is WVER or TDWVER.
func (s State) IsWrongVersion() bool {
	return s == WVER || s == TDWVER
}

// WithTD returns s shifted onto (td=true) or off (td=false) the
// marked-for-removal axis, preserving the busy/valid/wver axis. DEL and
// INVALID have no TD variant and are returned unchanged.
func (s State) WithTD(td bool) State {
	switch s {
	case VALID, TDVALID:
		if td {
			return TDVALID
		}
		return VALID
	case BUSY, TDBUSY:
		if td {
			return TDBUSY
		}
		return BUSY
	case WVER, TDWVER:
		if td {
			return TDWVER
		}
		return WVER
	default:
		return s
	}
}

// Replica is one (server, part-id, state, version) tuple in a chunk's replica
// list (spec §3.3). The replica list itself is an ordered, arena-backed
// singly linked list; see Arena and List in list.go for the index-linked
// arena.
type Replica struct {
	ServerID uint16
	Part     PartID
	State    State
	Version  uint32

	// next is the arena index of the following replica in the chunk's
	// sorted-by-(server,part) list; 0 means "no next". Arena index 0 is
	// reserved as the nil sentinel the way spec §3.2's file-count list
	// reserves node 0.
	next uint32
}

// Less reports whether r sorts before o under the chunk's canonical ordering
// (server_id, part_id), matching spec §3.1's "replica list is sorted by
// (server_id, part_id)" invariant.
func (r Replica) Less(o Replica) bool {
	if r.ServerID != o.ServerID {
		return r.ServerID < o.ServerID
	}
	return r.Part < o.Part
}
