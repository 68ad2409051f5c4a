package csreg

import "testing"

func TestConnectRegisterEnd(t *testing.T) {
	r := New()
	id := r.Connect("handle-a")
	if r.InProgress() != 1 {
		t.Fatalf("expected in-progress counter 1 after connect, got %d", r.InProgress())
	}
	s := r.Get(id)
	if s == nil || s.Registered {
		t.Fatal("expected an unregistered slot right after connect")
	}
	invalidated := false
	r.RegisterEnd(id, func(uint16) { invalidated = true })
	if !r.Get(id).Registered || !r.Get(id).Valid {
		t.Fatal("expected slot to be registered and valid")
	}
	if r.InProgress() != 0 {
		t.Fatalf("expected in-progress counter back to 0, got %d", r.InProgress())
	}
	if !invalidated {
		t.Fatal("expected the invalidate hook to fire")
	}
}

func TestConnectReusesFreedIDs(t *testing.T) {
	r := New()
	id1 := r.Connect("a")
	r.Disconnect(id1)
	r.DrainDisconnects(10, nil)
	id2 := r.Connect("b")
	if id2 != id1 {
		t.Fatalf("expected id reuse: got %d, want %d", id2, id1)
	}
}

func TestDisconnectQueuesAndStatus(t *testing.T) {
	r := New()
	id := r.Connect("a")
	r.RegisterEnd(id, nil)
	r.Disconnect(id)
	if r.Get(id).Valid {
		t.Fatal("expected slot to be invalid after disconnect")
	}
	if len(r.PendingDisconnects()) != 1 {
		t.Fatalf("expected 1 pending disconnect, got %d", len(r.PendingDisconnects()))
	}
}

func TestDrainDisconnectsRespectsBudget(t *testing.T) {
	r := New()
	var ids []uint16
	for i := 0; i < 5; i++ {
		id := r.Connect(i)
		r.RegisterEnd(id, nil)
		r.Disconnect(id)
		ids = append(ids, id)
	}
	var cleaned []uint16
	r.DrainDisconnects(2, func(id uint16) { cleaned = append(cleaned, id) })
	if len(cleaned) != 2 {
		t.Fatalf("expected exactly 2 drained this call, got %d", len(cleaned))
	}
	if len(r.PendingDisconnects()) != 3 {
		t.Fatalf("expected 3 still pending, got %d", len(r.PendingDisconnects()))
	}
}

func TestMFRTransitionTable(t *testing.T) {
	cases := []struct {
		from, want MFRState
	}{
		{UnknownHard, UnknownSoft},
		{UnknownSoft, CanBeRemoved},
		{CanBeRemoved, CanBeRemoved},
		{ReplInProgress, WasInProgress},
		{WasInProgress, CanBeRemoved},
	}
	for _, c := range cases {
		if got := c.from.AdvanceOnLoopEnd(); got != c.want {
			t.Errorf("AdvanceOnLoopEnd(%v) = %v, want %v", c.from, got, c.want)
		}
	}
}

func TestSlotStatus(t *testing.T) {
	s := &Slot{}
	if s.Status() != StatusValidating {
		t.Fatal("unregistered slot should report StatusValidating")
	}
	s.Registered = true
	if s.Status() != StatusReady {
		t.Fatal("registered, no pending ops should report StatusReady")
	}
	s.PendingOps = []uint64{1}
	if s.Status() != StatusInProgress {
		t.Fatal("registered with pending ops should report StatusInProgress")
	}
}
