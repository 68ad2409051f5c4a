package ops

import (
	"testing"

	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

func connectedServers(t *testing.T, ids ...uint16) *csreg.Registry {
	t.Helper()
	r := csreg.New()
	for _, want := range ids {
		id := r.Connect(nil)
		if id != want {
			t.Fatalf("expected csreg to hand out id %d, got %d (adjust test fixture)", want, id)
		}
		r.RegisterEnd(id, nil)
	}
	return r
}

func TestIssueCreateSeatsBusyReplicasOnEveryServer(t *testing.T) {
	arena := replica.NewArena()
	rec := &registry.Record{ChunkID: 1}
	cmds := IssueCreate(rec, arena, []uint16{1, 2})
	if len(cmds) != 2 {
		t.Fatalf("expected 2 CREATE commands, got %d", len(cmds))
	}
	if rec.Operation != registry.OpCreate || rec.Version() != 1 {
		t.Fatalf("expected operation CREATE at version 1, got op=%v version=%d", rec.Operation, rec.Version())
	}
	if rec.Replicas.Len(arena) != 2 {
		t.Fatalf("expected 2 replicas seated, got %d", rec.Replicas.Len(arena))
	}
}

func TestPrepareToModifyProceedsWithReachableValidCopy(t *testing.T) {
	arena := replica.NewArena()
	servers := connectedServers(t, 1)
	rec := &registry.Record{ChunkID: 1}
	rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	verdict, err := PrepareToModify(rec, arena, servers)
	if err != nil || verdict != VerdictProceed {
		t.Fatalf("expected Proceed/nil, got verdict=%v err=%v", verdict, err)
	}
}

func TestPrepareToModifyReturnsChunkLostWhenFullyRegisteredAndUnreachable(t *testing.T) {
	arena := replica.NewArena()
	servers := csreg.New()
	id := servers.Connect(nil)
	servers.RegisterEnd(id, nil)
	servers.Disconnect(id) // registered once, now down; in-progress is back to 0

	rec := &registry.Record{ChunkID: 1}
	rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: id, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	_, err := PrepareToModify(rec, arena, servers)
	if err != ErrChunkLost {
		t.Fatalf("expected ErrChunkLost, got %v", err)
	}
}

func TestPrepareToModifyReturnsEAgainWhileServersStillRegistering(t *testing.T) {
	arena := replica.NewArena()
	servers := csreg.New()
	id := servers.Connect(nil) // still registering: InProgress() > 0

	rec := &registry.Record{ChunkID: 1}
	rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: id, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	_, err := PrepareToModify(rec, arena, servers)
	if err != ErrEAgain {
		t.Fatalf("expected ErrEAgain, got %v", err)
	}
}

func TestSetVersionFullSuccessClearsOperation(t *testing.T) {
	arena := replica.NewArena()
	rec := &registry.Record{ChunkID: 1}
	rec.SetVersion(10)
	for _, s := range []uint16{1, 2, 3} {
		rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: s, Part: replica.PartFullCopy, State: replica.VALID, Version: 10})
	}

	cmds := IssueSetVersion(rec, arena)
	if len(cmds) != 3 || rec.Version() != 11 {
		t.Fatalf("expected 3 commands at new version 11, got %d cmds version=%d", len(cmds), rec.Version())
	}

	for _, s := range []uint16{1, 2, 3} {
		outcome, err := GotStatus(rec, arena, s, replica.PartFullCopy, StatusOK)
		if s != 3 {
			if outcome != Pending {
				t.Fatalf("expected Pending before the last reply, got %v", outcome)
			}
			continue
		}
		if outcome != Succeeded || err != nil {
			t.Fatalf("expected Succeeded/nil after the last reply, got %v/%v", outcome, err)
		}
	}
	if rec.Operation != registry.OpNone {
		t.Fatalf("expected operation cleared, got %v", rec.Operation)
	}
	if rec.Version() != 11 {
		t.Fatalf("expected version to stay at 11, got %d", rec.Version())
	}
}

// TestSetVersionAllNotDoneRollsBackVersion reproduces spec scenario S4: a
// SET_VERSION bump where every participant ultimately reports NOTDONE (here
// modeled as two direct NOTDONE replies; a genuine disconnect is handled by
// the scheduler's deferred-disconnect sweep, not GotStatus, but has the same
// net effect on the replica it touches).
func TestSetVersionAllNotDoneRollsBackVersion(t *testing.T) {
	arena := replica.NewArena()
	rec := &registry.Record{ChunkID: 1}
	rec.SetVersion(10)
	for _, s := range []uint16{1, 2} {
		rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: s, Part: replica.PartFullCopy, State: replica.VALID, Version: 10})
	}

	IssueSetVersion(rec, arena)
	if rec.Version() != 11 {
		t.Fatalf("expected version bumped to 11 at issue, got %d", rec.Version())
	}

	GotStatus(rec, arena, 1, replica.PartFullCopy, StatusNotDone)
	outcome, err := GotStatus(rec, arena, 2, replica.PartFullCopy, StatusNotDone)

	if outcome != Failed || err != ErrNotDone {
		t.Fatalf("expected Failed/ErrNotDone, got %v/%v", outcome, err)
	}
	if rec.Version() != 10 {
		t.Fatalf("expected version rolled back to 10, got %d", rec.Version())
	}
	if rec.Operation != registry.OpNone {
		t.Fatalf("expected operation cleared after rollback, got %v", rec.Operation)
	}
	for _, s := range []uint16{1, 2} {
		r, ok := rec.Replicas.Find(arena, s, replica.PartFullCopy)
		if !ok || r.State != replica.VALID || r.Version != 10 {
			t.Fatalf("expected server %d reverted to VALID/10, got %+v ok=%v", s, r, ok)
		}
	}
}

func TestReplicateSeatsBusyDestinationReplica(t *testing.T) {
	arena := replica.NewArena()
	rec := &registry.Record{ChunkID: 1}
	rec.SetVersion(5)
	rec.Replicas = rec.Replicas.Insert(arena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 5})

	cmd := IssueReplicate(rec, arena, 2, replica.PartFullCopy, ReplicateSimple, []uint16{1}, nil, ReasonCopyUndergoal)
	if cmd.Kind != CmdReplicate || cmd.ServerID != 2 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	r, ok := rec.Replicas.Find(arena, 2, replica.PartFullCopy)
	if !ok || r.State != replica.BUSY {
		t.Fatalf("expected destination replica BUSY, got %+v ok=%v", r, ok)
	}

	outcome, err := GotStatus(rec, arena, 2, replica.PartFullCopy, StatusOK)
	if outcome != Succeeded || err != nil {
		t.Fatalf("expected Succeeded/nil, got %v/%v", outcome, err)
	}
	r, _ = rec.Replicas.Find(arena, 2, replica.PartFullCopy)
	if r.State != replica.VALID || r.Version != 5 {
		t.Fatalf("expected destination VALID at version 5, got %+v", r)
	}
}

func TestDuplicateFreezesSourceVersionAndLeavesSourceUntouched(t *testing.T) {
	arena := replica.NewArena()
	src := &registry.Record{ChunkID: 1}
	src.SetVersion(7)
	src.Replicas = src.Replicas.Insert(arena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 7})

	dup := &registry.Record{ChunkID: 2}
	cmds := IssueDuplicate(src, dup, arena)
	if len(cmds) != 1 || cmds[0].NewChunkID != 2 {
		t.Fatalf("unexpected duplicate commands %+v", cmds)
	}
	if dup.Version() != 7 {
		t.Fatalf("expected duplicate frozen at source version 7, got %d", dup.Version())
	}
	if src.Operation != registry.OpNone {
		t.Fatalf("expected source chunk's operation untouched (kept read-only), got %v", src.Operation)
	}
}
