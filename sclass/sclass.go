// Package sclass models the storage-class registry (spec §2 item 4): for
// each of the create/keep/archive/trash storage modes a storage class
// supplies a replication count, an optional erasure-coding profile (D data
// parts + X checksum parts), a label expression per slot, a labels mode, and
// a uniqueness mask. The registry itself is the external collaborator spec
// §1 calls out (the file system owns class definitions); this package is the
// shape the core needs from it, plus the EC-profile validation the core
// performs once per class using a real Reed-Solomon codec.
package sclass

import (
	"github.com/NebulousLabs/errors"
	"github.com/klauspost/reedsolomon"

	"github.com/moosefs/chunkmaster/placement"
)

// LabelsMode is placement.LabelsMode: the matcher is the thing that actually
// consumes a class's mode, so the type lives there and sclass aliases it
// rather than keeping a parallel, convertible copy.
type LabelsMode = placement.LabelsMode

const (
	Loose   = placement.Loose
	Default = placement.Default
	Strict  = placement.Strict
)

// StorageMode is one of a storage class's four slots (create/keep/arch/trash):
// either a plain replication count, or an erasure-coding profile. Spec §2
// item 4, §4.6.
type StorageMode struct {
	// ReplCount is the target number of full copies when EC is not used.
	// Ignored when EC.Enabled is true.
	ReplCount uint8

	EC EC

	// Labels is one label expression per placement slot (spec §4.11); its
	// length is the number of slots the matcher must fill. For a copy mode,
	// len(Labels) == ReplCount conceptually (repeats allowed); for EC, it is
	// one slot per data+checksum part actually in use.
	Labels []placement.Expr

	Mode LabelsMode

	// UniqueMask selects the matcher's grouping key (spec §4.6): 0 none,
	// 1 no-same-ip, 2 no-same-rack, matching config.Tunables.UniqueMode
	// unless the class overrides it.
	UniqueMask uint32
}

// EC describes an erasure-coding profile: D data parts plus X checksum
// parts, validated against a real codec at registration time.
type EC struct {
	Enabled bool
	D       int // data parts: 4 or 8 in MooseFS' EC4/EC8 profiles
	X       int // checksum parts, 1..9
}

// GoalEquiv returns the number of equivalent full copies this storage mode
// targets: ReplCount for copy mode, or D for an EC profile (spec glossary
// "Goal-equivalent").
func (sm StorageMode) GoalEquiv() int {
	if sm.EC.Enabled {
		return sm.EC.D
	}
	return int(sm.ReplCount)
}

// Class is one named storage class: four storage modes (create, keep,
// archive, trash) plus the archive/trash policy fields the decision engine
// consults indirectly via the file system layer. Only the fields the chunk
// core reads are modeled here; description, export group, and similar
// file-system-facing metadata are the inode tree's concern (out of scope).
type Class struct {
	ID     uint8
	Create StorageMode
	Keep   StorageMode
	Arch   StorageMode
	Trash  StorageMode
}

// validate constructs a throwaway reedsolomon.Encoder for sm's EC profile
// (if any) purely to reject D/X combinations the codec itself considers
// illegal — the same validation a real erasure-coding library would apply
// before ever touching data, just run here against metadata only.
func validate(sm StorageMode) error {
	if !sm.EC.Enabled {
		return nil
	}
	if sm.EC.D <= 0 || sm.EC.X <= 0 {
		return errors.New("erasure-coding profile must have at least one data and one checksum part")
	}
	if _, err := reedsolomon.New(sm.EC.D, sm.EC.X); err != nil {
		return errors.AddContext(err, "invalid erasure-coding profile")
	}
	return nil
}

// Registry is the external collaborator the core queries for class
// definitions. The core never mutates it directly; class create/change/
// delete live in the file-system layer. NewRegistry/Put below give tests (and
// a thin adapter) a concrete implementation.
type Registry interface {
	Class(id uint8) (Class, bool)
	GoalEquiv(id uint8) int
	Labelled(id uint8) bool
}

// MapRegistry is a simple in-memory Registry, used by tests and by any
// caller that loads its storage-class table from the snapshot/config up
// front rather than serving it from a live external service.
type MapRegistry struct {
	classes map[uint8]Class
}

// NewMapRegistry returns an empty MapRegistry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{classes: map[uint8]Class{}}
}

// Put validates and installs (or replaces) a class definition.
func (r *MapRegistry) Put(c Class) error {
	for _, sm := range []StorageMode{c.Create, c.Keep, c.Arch, c.Trash} {
		if err := validate(sm); err != nil {
			return errors.AddContext(err, "storage class")
		}
	}
	r.classes[c.ID] = c
	return nil
}

// Class returns the class definition for id.
func (r *MapRegistry) Class(id uint8) (Class, bool) {
	c, ok := r.classes[id]
	return c, ok
}

// GoalEquiv implements filelist.ClassInfo: the dominant-class comparison
// uses the Keep mode, since that is what a chunk's steady-state redundancy
// target is measured against (spec §4.2, §4.4).
func (r *MapRegistry) GoalEquiv(id uint8) int {
	c, ok := r.classes[id]
	if !ok {
		return 0
	}
	return c.Keep.GoalEquiv()
}

// Labelled implements filelist.ClassInfo.
func (r *MapRegistry) Labelled(id uint8) bool {
	c, ok := r.classes[id]
	return ok && len(c.Keep.Labels) > 0
}
