package core

import (
	"testing"

	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

func TestRepairPromotesBestWrongVersionFullCopy(t *testing.T) {
	c := newCore(t)
	servers := connected(t, c, 2)
	chunkID, _, _ := c.Create(1000, 1, nil)
	rec := c.Registry.Find(chunkID)
	rec.LockedTo = 0
	rec.AllGoalEquiv = 0
	rec.Replicas = rec.Replicas.Insert(c.replicaArena(), replica.Replica{
		ServerID: servers[0], Part: replica.PartFullCopy, State: replica.WVER, Version: 5,
	})
	rec.Replicas = rec.Replicas.Insert(c.replicaArena(), replica.Replica{
		ServerID: servers[1], Part: replica.PartFullCopy, State: replica.WVER, Version: 3,
	})

	version, outcome, cmds, err := c.Repair(2000, chunkID, 1, 0)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if outcome != RepairPromoted || version != 5 {
		t.Fatalf("expected promotion to version 5, got version=%d outcome=%v", version, outcome)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands for a full-copy promotion, got %v", cmds)
	}
	r, ok := rec.Replicas.Find(c.replicaArena(), servers[0], replica.PartFullCopy)
	if !ok || r.State != replica.VALID {
		t.Fatalf("expected server %d's replica to become VALID, got %+v/%v", servers[0], r, ok)
	}
}

func TestRepairPromotesCompleteEC8SetWithCommands(t *testing.T) {
	c := newCore(t)
	servers := connected(t, c, 8)
	chunkID, _, _ := c.Create(1000, 1, nil)
	rec := c.Registry.Find(chunkID)
	rec.LockedTo = 0
	rec.AllGoalEquiv = 0
	for i := 0; i < 8; i++ {
		rec.Replicas = rec.Replicas.Insert(c.replicaArena(), replica.Replica{
			ServerID: servers[i], Part: replica.EC8Part(i), State: replica.WVER, Version: 9,
		})
	}

	version, outcome, cmds, err := c.Repair(2000, chunkID, 1, 0)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if outcome != RepairPromoted || version != 9 {
		t.Fatalf("expected EC8 promotion to version 9, got version=%d outcome=%v", version, outcome)
	}
	if len(cmds) != 8 {
		t.Fatalf("expected 8 SET_VERSION commands, one per part, got %d", len(cmds))
	}
	for _, cmd := range cmds {
		if cmd.Kind != ops.CmdSetVersion {
			t.Fatalf("expected SET_VERSION commands only, got %v", cmd.Kind)
		}
	}
	if rec.Operation != registry.OpSetVersion {
		t.Fatalf("expected chunk operation to be SET_VERSION, got %v", rec.Operation)
	}
}

func TestRepairErasesWhenNothingSurvivesAndAllowed(t *testing.T) {
	c := newCore(t)
	chunkID, _, _ := c.Create(1000, 1, nil)
	rec := c.Registry.Find(chunkID)
	rec.LockedTo = 0
	rec.AllGoalEquiv = 0

	_, outcome, cmds, err := c.Repair(2000, chunkID, 1, RepairEraseAllowed)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if outcome != RepairErased || len(cmds) != 0 {
		t.Fatalf("expected RepairErased with no commands, got outcome=%v cmds=%v", outcome, cmds)
	}
}

func TestRepairAllowsReadZerosWhenErasureNotPermitted(t *testing.T) {
	c := newCore(t)
	chunkID, _, _ := c.Create(1000, 1, nil)
	rec := c.Registry.Find(chunkID)
	rec.LockedTo = 0
	rec.AllGoalEquiv = 0

	version, outcome, _, err := c.Repair(2000, chunkID, 1, 0)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if outcome != RepairAllowedReadZeros {
		t.Fatalf("expected RepairAllowedReadZeros, got %v", outcome)
	}
	if version&0x80000000 == 0 {
		t.Fatalf("expected the high bit set on the returned version, got %#x", version)
	}
	if !rec.AllowReadZeros() {
		t.Fatal("expected AllowReadZeros to be set on the record")
	}
}

func TestRepairNoopWhenStillLocked(t *testing.T) {
	c := newCore(t)
	chunkID, _, _ := c.Create(1000, 1, nil)

	_, outcome, _, err := c.Repair(1000, chunkID, 1, 0)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if outcome != RepairNoChange {
		t.Fatalf("expected RepairNoChange while locked, got %v", outcome)
	}
}
