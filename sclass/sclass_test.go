package sclass

import (
	"testing"

	"github.com/moosefs/chunkmaster/placement"
)

func TestGoalEquivCopyMode(t *testing.T) {
	sm := StorageMode{ReplCount: 3}
	if sm.GoalEquiv() != 3 {
		t.Fatalf("expected goal-equivalent 3, got %d", sm.GoalEquiv())
	}
}

func TestGoalEquivECMode(t *testing.T) {
	sm := StorageMode{EC: EC{Enabled: true, D: 4, X: 2}}
	if sm.GoalEquiv() != 4 {
		t.Fatalf("expected goal-equivalent 4 (D), got %d", sm.GoalEquiv())
	}
}

func TestValidateRejectsBadECProfile(t *testing.T) {
	sm := StorageMode{EC: EC{Enabled: true, D: 0, X: 2}}
	if err := validate(sm); err == nil {
		t.Fatal("expected an error for a zero-data-part EC profile")
	}
}

func TestValidateAcceptsEC4(t *testing.T) {
	sm := StorageMode{EC: EC{Enabled: true, D: 4, X: 3}}
	if err := validate(sm); err != nil {
		t.Fatalf("expected EC4 profile (4 data + 3 checksum) to validate, got %v", err)
	}
}

func TestMapRegistryPutAndLookup(t *testing.T) {
	r := NewMapRegistry()
	c := Class{
		ID:    1,
		Keep:  StorageMode{ReplCount: 2, Labels: []placement.Expr{nil, nil}},
		Create: StorageMode{ReplCount: 2},
		Arch:  StorageMode{ReplCount: 1},
		Trash: StorageMode{ReplCount: 1},
	}
	if err := r.Put(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.Class(1)
	if !ok || got.Keep.ReplCount != 2 {
		t.Fatalf("expected class 1 with keep replcount 2, got %+v ok=%v", got, ok)
	}
	if r.GoalEquiv(1) != 2 {
		t.Fatalf("expected goal-equiv 2, got %d", r.GoalEquiv(1))
	}
	if !r.Labelled(1) {
		t.Fatal("expected class 1 to be labelled (keep has label slots)")
	}
}

func TestMapRegistryPutRejectsInvalidEC(t *testing.T) {
	r := NewMapRegistry()
	c := Class{ID: 2, Keep: StorageMode{EC: EC{Enabled: true, D: -1, X: 1}}}
	if err := r.Put(c); err == nil {
		t.Fatal("expected Put to reject an invalid EC profile")
	}
	if _, ok := r.Class(2); ok {
		t.Fatal("a class that failed validation should not be installed")
	}
}

func TestUnknownClassDefaults(t *testing.T) {
	r := NewMapRegistry()
	if r.GoalEquiv(99) != 0 {
		t.Fatalf("expected 0 for unknown class, got %d", r.GoalEquiv(99))
	}
	if r.Labelled(99) {
		t.Fatal("expected false for unknown class")
	}
}
