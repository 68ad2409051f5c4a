package filelist

import "testing"

type fakeClassInfo struct {
	goal     map[uint8]int
	labelled map[uint8]bool
}

func (f fakeClassInfo) GoalEquiv(id uint8) int  { return f.goal[id] }
func (f fakeClassInfo) Labelled(id uint8) bool  { return f.labelled[id] }

func TestAddDeleteIsNoOp(t *testing.T) {
	a := NewArena()
	var h Head
	h = AddFile(a, h, 7)
	h = DeleteFile(a, h, 7)
	if !h.Empty() {
		t.Fatalf("add;delete should be a no-op, got %+v", h)
	}
}

func TestChangeFileSameClassIsNoOp(t *testing.T) {
	a := NewArena()
	h := AddFile(a, Head{}, 3)
	before := h
	h = ChangeFile(a, h, 3, 3)
	if h != before {
		t.Fatalf("change to the same class should be a no-op")
	}
}

func TestInlineCountsUpToFour(t *testing.T) {
	a := NewArena()
	var h Head
	for i := 0; i < 4; i++ {
		h = AddFile(a, h, 9)
	}
	if h.Value != 4 || h.SclassID != 9 {
		t.Fatalf("expected inline {4,9}, got %+v", h)
	}
	pairs := Pairs(a, h)
	if pairs[9] != 4 {
		t.Fatalf("expected 4 files under class 9, got %v", pairs)
	}
}

func TestPromotionToArenaOnSecondClass(t *testing.T) {
	a := NewArena()
	h := AddFile(a, Head{}, 1)
	h = AddFile(a, h, 2)
	classes := Classes(a, h)
	if _, ok := classes[1]; !ok {
		t.Error("expected class 1 present")
	}
	if _, ok := classes[2]; !ok {
		t.Error("expected class 2 present")
	}
}

func TestDominantPrefersHigherGoalThenSmallerID(t *testing.T) {
	a := NewArena()
	h := AddFile(a, Head{}, 5)
	h = AddFile(a, h, 2)
	ci := fakeClassInfo{goal: map[uint8]int{5: 2, 2: 3}}
	if got := Dominant(ci, a, h); got != 2 {
		t.Fatalf("expected class 2 (higher goal), got %v", got)
	}

	ci2 := fakeClassInfo{goal: map[uint8]int{5: 3, 2: 3}}
	if got := Dominant(ci2, a, h); got != 2 {
		t.Fatalf("expected tie broken toward smaller id (2), got %v", got)
	}
}

func TestDeleteUnlinksArenaNodeAndCollapses(t *testing.T) {
	a := NewArena()
	h := AddFile(a, Head{}, 1)
	h = AddFile(a, h, 2) // now arena-backed, two nodes
	h = DeleteFile(a, h, 1)
	if h.Value >= FirstIndx {
		t.Fatalf("expected collapse back to inline form, got %+v", h)
	}
	if h.SclassID != 2 || h.Value != 1 {
		t.Fatalf("expected inline {1,2}, got %+v", h)
	}
}

func TestFromPairsInlinesSinglePairUnderFirstIndx(t *testing.T) {
	a := NewArena()
	h := FromPairs(a, map[uint8]uint32{7: 3})
	if h.Value >= FirstIndx {
		t.Fatalf("expected inline form for a single small pair, got %+v", h)
	}
	if h.SclassID != 7 || h.Value != 3 {
		t.Fatalf("expected inline {7,3}, got %+v", h)
	}
}

func TestFromPairsRoundTripsThroughPairs(t *testing.T) {
	a := NewArena()
	want := map[uint8]uint32{1: 10, 2: 20, 3: 30}
	h := FromPairs(a, want)
	got := Pairs(a, h)
	if len(got) != len(want) {
		t.Fatalf("expected %d pairs back, got %d (%v)", len(want), len(got), got)
	}
	for id, cnt := range want {
		if got[id] != cnt {
			t.Fatalf("expected class %d count %d, got %d", id, cnt, got[id])
		}
	}
}

func TestFromPairsEmptyIsEmptyHead(t *testing.T) {
	a := NewArena()
	h := FromPairs(a, map[uint8]uint32{})
	if !h.Empty() {
		t.Fatalf("expected an empty pairs map to produce an empty head, got %+v", h)
	}
}
