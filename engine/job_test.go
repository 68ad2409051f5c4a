package engine

import (
	"testing"

	"github.com/moosefs/chunkmaster/config"
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/sclass"
)

// fakeServerInfo is a minimal ServerInfo backed by fixed candidate/usage
// tables, standing in for the real topology/label-database collaborator.
type fakeServerInfo struct {
	candidates []placement.Candidate
	usage      map[uint16]float64
}

func (f *fakeServerInfo) Candidates() []placement.Candidate { return f.candidates }
func (f *fakeServerInfo) Usage(id uint16) float64            { return f.usage[id] }
func (f *fakeServerInfo) ReadCounter(uint16) int              { return 0 }
func (f *fakeServerInfo) WriteCounter(uint16) int             { return 0 }

func connected(ids ...uint16) *csreg.Registry {
	r := csreg.New()
	for _, want := range ids {
		id := r.Connect(nil)
		if id != want {
			panic("csreg fixture expects sequential ids starting at 1")
		}
		r.RegisterEnd(id, nil)
	}
	return r
}

func newJob(servers *csreg.Registry, classes *sclass.MapRegistry, info ServerInfo) *Job {
	return &Job{
		Classes:      classes,
		Servers:      servers,
		Matcher:      placement.MaskOrGroup{0},
		Info:         info,
		ReplicaArena: replica.NewArena(),
		Delay:        queue.NewDelayProtector(),
		Replock:      queue.NewReplicationLock(),
		Queues:       queue.New(),
		Tunables:     config.Tunables{},
	}
}

func copyClass(id uint8, keepGoal int) *sclass.MapRegistry {
	reg := sclass.NewMapRegistry()
	reg.Put(sclass.Class{
		ID:   id,
		Keep: sclass.StorageMode{ReplCount: uint8(keepGoal)},
	})
	return reg
}

func TestJobRunUndergoalIssuesReplicate(t *testing.T) {
	servers := connected(1, 2, 3)
	classes := copyClass(1, 3)
	info := &fakeServerInfo{
		candidates: []placement.Candidate{
			{ServerID: 1}, {ServerID: 2}, {ServerID: 3},
		},
		usage: map[uint16]float64{1: 0.1, 2: 0.1, 3: 0.1},
	}
	j := newJob(servers, classes, info)

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	reason, cmds := j.Run(rec, 1000, 3)
	if reason != ReasonIssuedReplicate {
		t.Fatalf("expected ReasonIssuedReplicate, got %v (cmds=%v)", reason, cmds)
	}
	if len(cmds) != 1 || cmds[0].Kind != ops.CmdReplicate {
		t.Fatalf("expected one REPLICATE command, got %+v", cmds)
	}
	if !j.Replock.Locked(1, 1000) {
		t.Fatalf("expected chunk replication-locked after issuing a repair")
	}
}

func TestJobRunSatisfiedChunkMakesNoProgress(t *testing.T) {
	servers := connected(1, 2, 3)
	classes := copyClass(1, 3)
	info := &fakeServerInfo{usage: map[uint16]float64{}}
	j := newJob(servers, classes, info)

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	for _, s := range []uint16{1, 2, 3} {
		rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: s, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})
	}

	reason, cmds := j.Run(rec, 1000, 3)
	if reason != ReasonNone || cmds != nil {
		t.Fatalf("expected no action on a satisfied chunk, got reason=%v cmds=%v", reason, cmds)
	}
}

func TestJobRunOperationInProgressShortCircuits(t *testing.T) {
	servers := connected(1)
	classes := copyClass(1, 1)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1, Operation: registry.OpSetVersion}
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.BUSY, Version: 1})

	reason, _ := j.Run(rec, 1000, 1)
	if reason != ReasonOperationInProgress {
		t.Fatalf("expected ReasonOperationInProgress, got %v", reason)
	}
}

func TestJobRunLockedToShortCircuits(t *testing.T) {
	servers := connected(1)
	classes := copyClass(1, 1)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1, LockedTo: 2000}
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	reason, _ := j.Run(rec, 1000, 1)
	if reason != ReasonLocked {
		t.Fatalf("expected ReasonLocked, got %v", reason)
	}
}

func TestJobRunDropsReplicaOnDisconnectedServer(t *testing.T) {
	servers := connected(1, 2)
	servers.Disconnect(2)
	servers.DrainDisconnects(10, nil)
	classes := copyClass(1, 1)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 2, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	j.Run(rec, 1000, 1)

	if _, ok := rec.Replicas.Find(j.ReplicaArena, 2, replica.PartFullCopy); ok {
		t.Fatalf("expected replica on disconnected server 2 to be dropped")
	}
	if _, ok := rec.Replicas.Find(j.ReplicaArena, 1, replica.PartFullCopy); !ok {
		t.Fatalf("expected replica on still-connected server 1 to survive")
	}
}

func TestJobRunSetVersionRollsBackWhenAllParticipantsDisconnect(t *testing.T) {
	servers := connected(1, 2)
	classes := copyClass(1, 2)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	rec.SetVersion(10)
	for _, s := range []uint16{1, 2} {
		rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: s, Part: replica.PartFullCopy, State: replica.VALID, Version: 10})
	}
	cmds := ops.IssueSetVersion(rec, j.ReplicaArena)
	if len(cmds) != 2 || rec.Version() != 11 {
		t.Fatalf("fixture setup failed: %d cmds, version %d", len(cmds), rec.Version())
	}

	servers.Disconnect(1)
	servers.DrainDisconnects(10, nil)
	servers.Disconnect(2)
	servers.DrainDisconnects(10, nil)

	j.Run(rec, 1000, 0)

	if rec.Version() != 10 {
		t.Fatalf("expected version rolled back to 10, got %d", rec.Version())
	}
	if rec.Operation != registry.OpNone {
		t.Fatalf("expected operation cleared, got %v", rec.Operation)
	}
}

func TestJobRunFlagsLostChunk(t *testing.T) {
	servers := connected(1)
	classes := copyClass(1, 1)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	rec.LockedTo = 5000 // keeps it Live without any replica

	reason, _ := j.Run(rec, 1000, 1)
	if reason != ReasonChunkLost {
		t.Fatalf("expected ReasonChunkLost, got %v", reason)
	}
	if !rec.OnDangerList {
		t.Fatalf("expected OnDangerList set")
	}
}

func TestJobRunDeletesUnreferencedEmptyChunk(t *testing.T) {
	servers := connected(1)
	classes := copyClass(1, 1)
	j := newJob(servers, classes, &fakeServerInfo{})

	rec := &registry.Record{ChunkID: 1, SclassID: 1}

	reason, _ := j.Run(rec, 1000, 1)
	if reason != ReasonDeletedUnusedChunk {
		t.Fatalf("expected ReasonDeletedUnusedChunk, got %v", reason)
	}
}

func TestJobRunRebalanceMovesFromFullestToEmptiest(t *testing.T) {
	servers := connected(1, 2)
	classes := copyClass(1, 1)
	info := &fakeServerInfo{
		candidates: []placement.Candidate{{ServerID: 1}, {ServerID: 2}},
		usage:      map[uint16]float64{1: 0.9, 2: 0.1},
	}
	j := newJob(servers, classes, info)

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{ServerID: 1, Part: replica.PartFullCopy, State: replica.VALID, Version: 1})

	reason, cmds := j.Run(rec, 1000, 2)
	if reason != ReasonIssuedRebalance {
		t.Fatalf("expected ReasonIssuedRebalance, got %v", reason)
	}
	if len(cmds) != 1 || cmds[0].ServerID != 2 {
		t.Fatalf("expected a rebalance replicate to server 2, got %+v", cmds)
	}
}
