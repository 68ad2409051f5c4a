package engine

import (
	"testing"

	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/sclass"
)

// ecClass builds a single-class MapRegistry whose Keep mode is an EC8
// profile (D data parts + X checksum parts), mirroring copyClass for the
// copy-mode tests above.
func ecClass(id uint8, d, x int) *sclass.MapRegistry {
	reg := sclass.NewMapRegistry()
	reg.Put(sclass.Class{
		ID:   id,
		Keep: sclass.StorageMode{EC: sclass.EC{Enabled: true, D: d, X: x}},
	})
	return reg
}

// TestJobRunEC8RecoversDataPartAfterServerDisconnect exercises spec §8
// scenario S3: an EC8 chunk (8 data parts + 2 checksum parts, one per
// server) loses the server holding data part 0. Phase E item 4 should
// reconstruct it from the 9 remaining survivors with a RECOVER command.
func TestJobRunEC8RecoversDataPartAfterServerDisconnect(t *testing.T) {
	const d, x = 8, 2
	ids := make([]uint16, 0, d+x+1)
	for i := uint16(1); i <= uint16(d+x+1); i++ {
		ids = append(ids, i)
	}
	servers := connected(ids...)

	classes := ecClass(1, d, x)

	candidates := make([]placement.Candidate, 0, len(ids))
	usage := map[uint16]float64{}
	for _, id := range ids {
		candidates = append(candidates, placement.Candidate{ServerID: id})
		usage[id] = 0.1
	}
	info := &fakeServerInfo{candidates: candidates, usage: usage}

	j := newJob(servers, classes, info)

	rec := &registry.Record{ChunkID: 1, SclassID: 1}
	for i := 0; i < d; i++ {
		rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{
			ServerID: ids[i], Part: replica.EC8Part(i), State: replica.VALID, Version: 1,
		})
	}
	for i := 0; i < x; i++ {
		rec.Replicas = rec.Replicas.Insert(j.ReplicaArena, replica.Replica{
			ServerID: ids[d+i], Part: replica.EC8Part(d + i), State: replica.VALID, Version: 1,
		})
	}

	lostServer := ids[0]
	servers.Disconnect(lostServer)
	servers.DrainDisconnects(10, nil)

	reason, cmds := j.Run(rec, 1000, len(ids)-1)
	if reason != ReasonIssuedRecover {
		t.Fatalf("expected ReasonIssuedRecover, got %v (cmds=%v)", reason, cmds)
	}
	if len(cmds) != 1 || cmds[0].Kind != ops.CmdReplicate || cmds[0].ReplicateMode != ops.ReplicateRecover {
		t.Fatalf("expected one RECOVER command, got %+v", cmds)
	}
	if cmds[0].Part != replica.EC8Part(0) {
		t.Fatalf("expected RECOVER to target data part 0, got %v", cmds[0].Part)
	}
	if len(cmds[0].Sources) != d+x-1 {
		t.Fatalf("expected %d surviving sources, got %d (%v)", d+x-1, len(cmds[0].Sources), cmds[0].Sources)
	}
	for _, src := range cmds[0].Sources {
		if src == lostServer {
			t.Fatalf("disconnected server %d should not appear as a RECOVER source", lostServer)
		}
	}
}
