// Package stats implements the operator-visible counters spec §4.5 and §6.3
// call for but do not persist anywhere themselves: the per-operation-type
// try/ok/err matrix, the per-storage-class goal-comparison buckets, the
// cluster-wide chart snapshot, the bbolt-backed loop histogram, and the
// demotemutex-guarded replication rate counters the decision engine checks
// before choosing a source or destination server.
package stats

import (
	"encoding/binary"
	"math"

	bolt "go.etcd.io/bbolt"

	"github.com/NebulousLabs/errors"
)

// loopSampleSize is the fixed wire width of one LoopSample record: three
// uint64/int64 fields plus TmpMaxDel's raw bits, each big-endian, the same
// fixed-width layout snapshot.go uses for chunk records rather than a
// reflection-based marshaller.
const loopSampleSize = 8 + 8 + 8 + 8

func putLoopSample(buf []byte, s LoopSample) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.StartedAtUnix))
	binary.BigEndian.PutUint64(buf[8:16], uint64(s.DurationNanos))
	binary.BigEndian.PutUint64(buf[16:24], s.ChunksVisited)
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(s.TmpMaxDel))
}

func getLoopSample(buf []byte) (LoopSample, error) {
	if len(buf) < loopSampleSize {
		return LoopSample{}, errors.New("stats: truncated loop sample record")
	}
	return LoopSample{
		StartedAtUnix: int64(binary.BigEndian.Uint64(buf[0:8])),
		DurationNanos: int64(binary.BigEndian.Uint64(buf[8:16])),
		ChunksVisited: binary.BigEndian.Uint64(buf[16:24]),
		TmpMaxDel:     math.Float64frombits(binary.BigEndian.Uint64(buf[24:32])),
	}, nil
}

var (
	loopHistogramBucket  = []byte("LoopHistogram")
	loopHistogramTailKey = []byte("LoopHistogramTailID")
)

// LoopSample is one completed registry sweep's operator-visible summary
// (spec §4.5's "operator-visible loop histogram"): how long the sweep took,
// how many chunks it visited, and the delete throttle's state at the end.
// Timestamps and durations are stored as plain integers (unix seconds,
// nanoseconds) rather than time.Time/time.Duration to keep the on-disk
// record a fixed-width layout.
type LoopSample struct {
	StartedAtUnix int64
	DurationNanos int64
	ChunksVisited uint64
	TmpMaxDel     float64
}

// Histogram persists a bounded, append-only log of loop samples in a bolt
// bucket, the way modules/consensus/changelog.go persists its own changelog
// — except the changelog's keys are content hashes and need an explicit
// singly-linked "next" pointer to stay ordered, while a loop sample's key is
// already a sequentially-assigned sweep number, so the bucket's own key
// ordering is the log order and no linked-list bookkeeping is needed. This
// is *not* the authoritative chunk snapshot (§6.1 owns that): losing this
// data costs an operator some dashboard history, nothing more.
type Histogram struct {
	db     *bolt.DB
	nextID uint64
	maxLen int
}

// OpenHistogram opens (creating if necessary) path as a bolt-backed loop
// histogram store, keeping at most maxLen most-recent samples (0 means
// unbounded).
func OpenHistogram(path string, maxLen int) (*Histogram, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "stats: opening histogram store")
	}
	h := &Histogram{db: db, maxLen: maxLen}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(loopHistogramBucket)
		if err != nil {
			return err
		}
		if v := b.Get(loopHistogramTailKey); v != nil {
			h.nextID = binary.BigEndian.Uint64(v) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "stats: initializing histogram bucket")
	}
	return h, nil
}

// Close releases the underlying bolt database handle.
func (h *Histogram) Close() error { return h.db.Close() }

// Append records one completed loop's sample, trimming the oldest entry
// once maxLen is exceeded.
func (h *Histogram) Append(s LoopSample) error {
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(loopHistogramBucket)
		id := h.nextID
		h.nextID++

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		var rec [loopSampleSize]byte
		putLoopSample(rec[:], s)
		if err := b.Put(key[:], rec[:]); err != nil {
			return err
		}
		if err := b.Put(loopHistogramTailKey, key[:]); err != nil {
			return err
		}
		if h.maxLen > 0 && id+1 > uint64(h.maxLen) {
			var oldKey [8]byte
			binary.BigEndian.PutUint64(oldKey[:], id+1-uint64(h.maxLen)-1)
			return b.Delete(oldKey[:])
		}
		return nil
	})
	return errors.AddContext(err, "stats: appending loop sample")
}

// Recent returns up to n most-recently appended samples, newest first.
func (h *Histogram) Recent(n int) ([]LoopSample, error) {
	var out []LoopSample
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(loopHistogramBucket)
		tailKey := b.Get(loopHistogramTailKey)
		if tailKey == nil {
			return nil
		}
		id := binary.BigEndian.Uint64(tailKey)
		for {
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], id)
			raw := b.Get(key[:])
			if raw == nil {
				break
			}
			sample, err := getLoopSample(raw)
			if err != nil {
				return err
			}
			out = append(out, sample)
			if len(out) >= n || id == 0 {
				break
			}
			id--
		}
		return nil
	})
	return out, errors.AddContext(err, "stats: reading histogram")
}
