package stats

import (
	"sync"

	"github.com/moosefs/chunkmaster/registry"
)

// GoalBucket is one of the six goal-comparison buckets chunks.c's
// chunk_sclass_inc_counters keeps per storage class: whether a chunk's
// current replication is under, exactly at, or over its class's declared
// goal, crossed with whether the chunk's storage mode is plain copies or
// erasure-coded.
type GoalBucket uint8

const (
	UnderCopy GoalBucket = iota
	UnderEC
	ExactCopy
	ExactEC
	OverCopy
	OverEC
	bucketCount
)

// SclassCounters holds the six goal buckets for every storage class,
// updated incrementally by the decision engine each time it reclassifies a
// chunk rather than recomputed by a full registry scan (spec §4.5: danger
// classification already visits every chunk once per loop; a second full
// scan to total the same classification would be wasted work).
type SclassCounters struct {
	mu      sync.RWMutex
	buckets map[uint8][bucketCount]uint64
}

// NewSclassCounters returns an empty per-class bucket set.
func NewSclassCounters() *SclassCounters {
	return &SclassCounters{buckets: make(map[uint8][bucketCount]uint64)}
}

// Move subtracts one tally from from's bucket (if from is a valid bucket)
// and adds one to to's bucket for storage class sclassID. Pass
// bucketCount for from when a chunk is being classified for the first time
// (nothing to subtract).
func (c *SclassCounters) Move(sclassID uint8, from, to GoalBucket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.buckets[sclassID]
	if from < bucketCount {
		row[from]--
	}
	if to < bucketCount {
		row[to]++
	}
	c.buckets[sclassID] = row
}

// Snapshot returns a point-in-time copy of every class's bucket counts.
func (c *SclassCounters) Snapshot() map[uint8][bucketCount]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint8][bucketCount]uint64, len(c.buckets))
	for k, v := range c.buckets {
		out[k] = v
	}
	return out
}

// ClusterSnapshot is the cluster-wide chunk_chart_data-style aggregate
// (spec §6.3): totals across every storage class, split by storage mode
// and by whether a chunk is endangered (missing every valid replica) or
// merely undergoal.
type ClusterSnapshot struct {
	mu sync.RWMutex

	CopyChunks uint64
	EC4Chunks  uint64
	EC8Chunks  uint64

	EndangeredChunks uint64
	UndergoalChunks  uint64
}

// NewClusterSnapshot returns a zeroed aggregate.
func NewClusterSnapshot() *ClusterSnapshot {
	return &ClusterSnapshot{}
}

func (s *ClusterSnapshot) modeDelta(mode registry.StorageMode, delta int64) {
	switch mode {
	case registry.ModeCopies:
		s.CopyChunks = addDelta(s.CopyChunks, delta)
	case registry.ModeEC4:
		s.EC4Chunks = addDelta(s.EC4Chunks, delta)
	case registry.ModeEC8:
		s.EC8Chunks = addDelta(s.EC8Chunks, delta)
	}
}

func addDelta(v uint64, delta int64) uint64 {
	if delta < 0 {
		return v - uint64(-delta)
	}
	return v + uint64(delta)
}

// AddChunk records a newly-registered chunk's storage mode.
func (s *ClusterSnapshot) AddChunk(mode registry.StorageMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeDelta(mode, 1)
}

// RemoveChunk retires a deleted chunk's storage mode tally.
func (s *ClusterSnapshot) RemoveChunk(mode registry.StorageMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeDelta(mode, -1)
}

// ChangeMode moves a chunk's tally from one storage mode to another, for a
// LOCALSPLIT or join conversion.
func (s *ClusterSnapshot) ChangeMode(from, to registry.StorageMode) {
	if from == to {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeDelta(from, -1)
	s.modeDelta(to, 1)
}

// SetDanger updates the endangered/undergoal totals when a chunk's danger
// classification changes state (spec §4.4). Pass false/false when a chunk
// becomes fully satisfied.
func (s *ClusterSnapshot) SetDanger(wasEndangered, wasUndergoal, isEndangered, isUndergoal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasEndangered != isEndangered {
		if isEndangered {
			s.EndangeredChunks++
		} else {
			s.EndangeredChunks--
		}
	}
	if wasUndergoal != isUndergoal {
		if isUndergoal {
			s.UndergoalChunks++
		} else {
			s.UndergoalChunks--
		}
	}
}

// Snapshot returns a point-in-time copy of the aggregate's counters.
func (s *ClusterSnapshot) Snapshot() ClusterSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ClusterSnapshot{
		CopyChunks:       s.CopyChunks,
		EC4Chunks:        s.EC4Chunks,
		EC8Chunks:        s.EC8Chunks,
		EndangeredChunks: s.EndangeredChunks,
		UndergoalChunks:  s.UndergoalChunks,
	}
}
