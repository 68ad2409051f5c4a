package snapshot

import (
	"testing"

	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

func newReplayer() *Replayer {
	arena := filelist.NewArena()
	reg := registry.New(replica.NewArena(), arena)
	return &Replayer{Registry: reg}
}

func TestReplayNextChunkIDOnlyAdvances(t *testing.T) {
	r := newReplayer()
	if err := r.ReplayNextChunkID(5); err != nil {
		t.Fatalf("ReplayNextChunkID: %v", err)
	}
	if r.NextChunkID != 5 {
		t.Fatalf("expected NextChunkID 5, got %d", r.NextChunkID)
	}
	if err := r.ReplayNextChunkID(5); err == nil {
		t.Fatal("expected replaying the same watermark to be rejected")
	}
	if err := r.ReplayNextChunkID(3); err == nil {
		t.Fatal("expected a lower watermark to be rejected")
	}
}

func TestReplayChunkAddThenDuplicateIsRejected(t *testing.T) {
	r := newReplayer()
	if err := r.ReplayChunkAdd(100, 7, 3, 0); err != nil {
		t.Fatalf("ReplayChunkAdd: %v", err)
	}
	rec := r.Registry.Find(7)
	if rec == nil || rec.Version() != 3 {
		t.Fatalf("expected chunk 7 version 3, got %+v", rec)
	}
	if r.NextChunkID != 8 {
		t.Fatalf("expected next chunk id raised to 8, got %d", r.NextChunkID)
	}
	if err := r.ReplayChunkAdd(100, 7, 3, 0); err != ErrChunkExists {
		t.Fatalf("expected ErrChunkExists on replay, got %v", err)
	}
}

func TestReplayChunkDelRejectsWrongVersion(t *testing.T) {
	r := newReplayer()
	r.Registry.Insert(1).SetVersion(4)
	if err := r.ReplayChunkDel(100, 1, 5); err != ops.ErrWrongVersion {
		t.Fatalf("expected ErrWrongVersion, got %v", err)
	}
}

func TestReplayChunkDelRejectsActiveChunk(t *testing.T) {
	r := newReplayer()
	rec := r.Registry.Insert(1)
	rec.FileHead = filelist.AddFile(r.Registry.FileArena(), rec.FileHead, 2)
	if err := r.ReplayChunkDel(100, 1, 0); err != ErrActive {
		t.Fatalf("expected ErrActive, got %v", err)
	}
}

func TestReplayChunkDelRemovesIdleChunk(t *testing.T) {
	r := newReplayer()
	r.Registry.Insert(9)
	if err := r.ReplayChunkDel(100, 9, 0); err != nil {
		t.Fatalf("ReplayChunkDel: %v", err)
	}
	if r.Registry.Find(9) != nil {
		t.Fatal("expected chunk 9 to be removed")
	}
}

func TestReplaySetVersionAppliesAllowReadZerosBit(t *testing.T) {
	r := newReplayer()
	r.Registry.Insert(1)
	if err := r.ReplaySetVersion(1, 7|versionAllowReadZerosBit); err != nil {
		t.Fatalf("ReplaySetVersion: %v", err)
	}
	rec := r.Registry.Find(1)
	if rec.Version() != 7 || !rec.AllowReadZeros() {
		t.Fatalf("expected version 7 with allow-read-zeros, got %d/%v", rec.Version(), rec.AllowReadZeros())
	}
}

func TestReplayIncreaseVersionBumpsByOne(t *testing.T) {
	r := newReplayer()
	r.Registry.Insert(1).SetVersion(4)
	if err := r.ReplayIncreaseVersion(1); err != nil {
		t.Fatalf("ReplayIncreaseVersion: %v", err)
	}
	if r.Registry.Find(1).Version() != 5 {
		t.Fatalf("expected version 5, got %d", r.Registry.Find(1).Version())
	}
}

func TestReplayOnMissingChunkReturnsNoChunk(t *testing.T) {
	r := newReplayer()
	if err := r.ReplaySetVersion(123, 1); err != ops.ErrNoChunk {
		t.Fatalf("expected ErrNoChunk, got %v", err)
	}
	if err := r.ReplayIncreaseVersion(123); err != ops.ErrNoChunk {
		t.Fatalf("expected ErrNoChunk, got %v", err)
	}
	if err := r.ReplayChunkDel(100, 123, 0); err != ops.ErrNoChunk {
		t.Fatalf("expected ErrNoChunk, got %v", err)
	}
}
