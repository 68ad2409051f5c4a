// Package snapshot implements the §6.1 on-disk chunk-record format: the
// fixed static part (chunk id, version, locked_to, flags, pair count) plus
// the per-chunk file-count pairs block, terminated by a zero sentinel
// record. Grounded directly on mfsmaster/chunks.c's chunk_store/chunk_load
// (mver 0x10/0x11/0x12), reproduced byte-for-byte including the three
// loader-compatible layouts and the pairs-overflow bit.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/NebulousLabs/errors"

	"github.com/moosefs/chunkmaster/filelist"
	"github.com/moosefs/chunkmaster/registry"
)

// Mver selects one of the three chunk-record layouts chunk_load supports.
type Mver uint8

const (
	MverV10 Mver = 0x10 // chunkid:64 version:32 lockedto:32
	MverV11 Mver = 0x11 // + flags:8
	MverV12 Mver = 0x12 // + pairs:8, pairs block, calculated_sclassid

	// CurrentMver is the layout Store always writes.
	CurrentMver = MverV12
)

// recSize is the fixed static-part size per mver, matching chunks.c's
// CHUNKFSIZE (18) and its mver==0x10/0x11 special cases.
func recSize(mver Mver) int {
	switch mver {
	case MverV10:
		return 16
	case MverV11:
		return 17
	default:
		return 18
	}
}

const versionAllowReadZerosBit = uint32(1) << 31
const versionMask = versionAllowReadZerosBit - 1

// maxPairs bounds a single record's pairs block the way chunks.c's
// CHUNKMAXPAIRS does: every storage class (255) plus the largest number of
// overflow nodes one chunk's file-count list could plausibly need (128).
const maxPairs = 255 + 128

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Store writes every record in reg to w in the current (0x12) layout,
// followed by the terminating zero sentinel (spec §6.1).
func Store(w io.Writer, reg *registry.Registry, arena *filelist.Arena, nextChunkID uint64) error {
	bw := bufio.NewWriter(w)

	var hdr [9]byte
	hdr[0] = byte(CurrentMver)
	binary.BigEndian.PutUint64(hdr[1:], nextChunkID)
	if _, err := bw.Write(hdr[:]); err != nil {
		return errors.AddContext(err, "snapshot: writing header")
	}

	var writeErr error
	reg.Each(func(rec *registry.Record) bool {
		if err := writeRecord(bw, rec, arena); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}

	var sentinel [18]byte
	if _, err := bw.Write(sentinel[:]); err != nil {
		return errors.AddContext(err, "snapshot: writing sentinel record")
	}
	return errors.AddContext(bw.Flush(), "snapshot: flushing")
}

func writeRecord(w io.Writer, rec *registry.Record, arena *filelist.Arena) error {
	version := rec.Version()
	if rec.AllowReadZeros() {
		version |= versionAllowReadZerosBit
	}

	pairs := filelist.Pairs(arena, rec.FileHead)
	ids := make([]uint8, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sortUint8s(ids)
	if len(ids) > maxPairs {
		ids = ids[:maxPairs]
	}

	flags := byte(rec.Flags) & 0x03
	pairCount := len(ids)
	pairByte := pairCount
	if pairCount > 255 {
		flags |= 0x80
		pairByte = pairCount & 0xFF
	}

	var static [18]byte
	binary.BigEndian.PutUint64(static[0:8], rec.ChunkID)
	binary.BigEndian.PutUint32(static[8:12], version)
	binary.BigEndian.PutUint32(static[12:16], rec.LockedTo)
	static[16] = flags
	static[17] = byte(pairByte)
	if _, err := w.Write(static[:]); err != nil {
		return errors.AddContext(err, "snapshot: writing record header")
	}

	if pairCount == 0 {
		return nil
	}
	dyn := make([]byte, 0, pairCount*4+1)
	for _, id := range ids {
		var buf [4]byte
		buf[0] = id
		put24(buf[1:], pairs[id])
		dyn = append(dyn, buf[:]...)
	}
	if pairCount > 1 {
		dyn = append(dyn, rec.SclassID)
	}
	if _, err := w.Write(dyn); err != nil {
		return errors.AddContext(err, "snapshot: writing pairs block")
	}
	return nil
}

func sortUint8s(ids []uint8) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Load replays a snapshot written by Store (or by any of the three
// mver-compatible layouts) into reg, allocating file-count nodes in arena.
// Returns the persisted next-chunk-id, raised to max(loaded id)+1 if any
// loaded chunk id would otherwise violate invariant 6's monotonicity.
func Load(r io.Reader, reg *registry.Registry, arena *filelist.Arena) (uint64, error) {
	br := bufio.NewReader(r)

	mverByte, err := br.ReadByte()
	if err != nil {
		return 0, errors.AddContext(err, "snapshot: reading mver")
	}
	mver := Mver(mverByte)
	if mver != MverV10 && mver != MverV11 && mver != MverV12 {
		return 0, errors.New("snapshot: unsupported mver")
	}

	var hdr8 [8]byte
	if _, err := io.ReadFull(br, hdr8[:]); err != nil {
		return 0, errors.AddContext(err, "snapshot: reading next-chunk-id")
	}
	nextChunkID := binary.BigEndian.Uint64(hdr8[:])
	maxSeen := uint64(0)

	size := recSize(mver)
	buf := make([]byte, size)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, errors.AddContext(err, "snapshot: reading record")
		}
		chunkID := binary.BigEndian.Uint64(buf[0:8])
		version := binary.BigEndian.Uint32(buf[8:12])
		lockedTo := binary.BigEndian.Uint32(buf[12:16])

		var flags byte
		if mver >= MverV11 {
			flags = buf[16]
		}
		var pairs int
		if mver >= MverV12 {
			pairs = int(buf[17])
		}
		if flags&0x80 != 0 {
			flags &^= 0x80
			pairs |= 0x100
		}

		var dynsize int
		if pairs > 0 {
			dynsize = 4 * pairs
			if pairs > 1 {
				dynsize++
			}
		}
		dynbuf := make([]byte, dynsize)
		if dynsize > 0 {
			if _, err := io.ReadFull(br, dynbuf); err != nil {
				return 0, errors.AddContext(err, "snapshot: reading pairs block")
			}
		}

		if chunkID == 0 {
			if version == 0 && lockedTo == 0 && flags == 0 {
				if maxSeen+1 > nextChunkID {
					nextChunkID = maxSeen + 1
				}
				return nextChunkID, nil
			}
			return 0, errors.New("snapshot: malformed terminating record")
		}
		if chunkID > maxSeen {
			maxSeen = chunkID
		}

		if reg.Find(chunkID) != nil {
			return 0, errors.New("snapshot: duplicate chunk id in snapshot")
		}
		rec := reg.Insert(chunkID)
		rec.SetVersion(version)
		rec.SetAllowReadZeros(version&versionAllowReadZerosBit != 0)
		rec.LockedTo = lockedTo
		rec.Flags = registry.Flags(flags & 0x03)

		if pairs > 0 {
			pairMap := map[uint8]uint32{}
			var calculated uint8
			if pairs > 1 {
				for i := 0; i < pairs; i++ {
					off := i * 4
					pairMap[dynbuf[off]] += get24(dynbuf[off+1 : off+4])
				}
				calculated = dynbuf[pairs*4]
			} else {
				pairMap[dynbuf[0]] += get24(dynbuf[1:4])
				calculated = dynbuf[0]
			}
			rec.FileHead = filelist.FromPairs(arena, pairMap)
			rec.SclassID = calculated
		}
	}
}
