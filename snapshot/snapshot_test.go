package snapshot

import (
	"bytes"
	"testing"

	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
)

func TestStoreLoadRoundTripsSingleClassChunk(t *testing.T) {
	srcArena := filelist.NewArena()
	src := registry.New(replica.NewArena(), srcArena)

	rec := src.Insert(100)
	rec.SetVersion(7)
	rec.SetAllowReadZeros(true)
	rec.LockedTo = 555
	rec.Flags = registry.FlagArch
	rec.FileHead = filelist.AddFile(srcArena, rec.FileHead, 3)
	rec.SclassID = 3

	var buf bytes.Buffer
	if err := Store(&buf, src, srcArena, 200); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dstArena := filelist.NewArena()
	dst := registry.New(replica.NewArena(), dstArena)
	next, err := Load(&buf, dst, dstArena)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if next != 200 {
		t.Fatalf("expected next chunk id 200, got %d", next)
	}

	got := dst.Find(100)
	if got == nil {
		t.Fatal("expected chunk 100 to be loaded")
	}
	if got.Version() != 7 || !got.AllowReadZeros() {
		t.Fatalf("expected version 7 with allow-read-zeros, got %d / %v", got.Version(), got.AllowReadZeros())
	}
	if got.LockedTo != 555 {
		t.Fatalf("expected lockedto 555, got %d", got.LockedTo)
	}
	if got.Flags != registry.FlagArch {
		t.Fatalf("expected FlagArch preserved, got %v", got.Flags)
	}
	if got.SclassID != 3 {
		t.Fatalf("expected sclassid 3, got %d", got.SclassID)
	}
	pairs := filelist.Pairs(dstArena, got.FileHead)
	if pairs[3] != 1 {
		t.Fatalf("expected one file reference under class 3, got %+v", pairs)
	}
}

func TestStoreLoadRoundTripsMultiClassChunkWithCalculatedSclass(t *testing.T) {
	srcArena := filelist.NewArena()
	src := registry.New(replica.NewArena(), srcArena)

	rec := src.Insert(1)
	rec.FileHead = filelist.AddFile(srcArena, rec.FileHead, 1)
	rec.FileHead = filelist.AddFile(srcArena, rec.FileHead, 2)
	rec.SclassID = 2

	var buf bytes.Buffer
	if err := Store(&buf, src, srcArena, 2); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dstArena := filelist.NewArena()
	dst := registry.New(replica.NewArena(), dstArena)
	if _, err := Load(&buf, dst, dstArena); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := dst.Find(1)
	if got == nil {
		t.Fatal("expected chunk 1 to be loaded")
	}
	if got.SclassID != 2 {
		t.Fatalf("expected calculated_sclassid 2 to survive the round trip, got %d", got.SclassID)
	}
	pairs := filelist.Pairs(dstArena, got.FileHead)
	if pairs[1] != 1 || pairs[2] != 1 {
		t.Fatalf("expected both classes' pairs preserved, got %+v", pairs)
	}
}

func TestLoadRejectsMalformedSentinel(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(MverV12))
	buf.Write(make([]byte, 8)) // nextChunkID = 0
	// a "sentinel" with chunkid 0 but a nonzero version is malformed.
	rec := make([]byte, 18)
	rec[11] = 1 // version low byte = 1
	buf.Write(rec)

	arena := filelist.NewArena()
	reg := registry.New(replica.NewArena(), arena)
	if _, err := Load(&buf, reg, arena); err == nil {
		t.Fatal("expected malformed sentinel to produce an error")
	}
}

func TestLoadRaisesNextChunkIDPastMaxLoaded(t *testing.T) {
	srcArena := filelist.NewArena()
	src := registry.New(replica.NewArena(), srcArena)
	src.Insert(500)

	var buf bytes.Buffer
	// Store with a stale persisted next-id lower than the loaded chunk id.
	if err := Store(&buf, src, srcArena, 10); err != nil {
		t.Fatalf("Store: %v", err)
	}

	dstArena := filelist.NewArena()
	dst := registry.New(replica.NewArena(), dstArena)
	next, err := Load(&buf, dst, dstArena)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if next != 501 {
		t.Fatalf("expected next chunk id raised to 501, got %d", next)
	}
}

func TestLoadRejectsUnsupportedMver(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x05)
	arena := filelist.NewArena()
	reg := registry.New(replica.NewArena(), arena)
	if _, err := Load(&buf, reg, arena); err == nil {
		t.Fatal("expected an unsupported mver to produce an error")
	}
}
