// Package config defines the tunables that govern the chunk management core
// (spec §6.4). It only holds the struct shape and the bounds-clamping that
// keeps a misconfigured value from destabilizing the scheduler; reading these
// values from environment variables, flags, or a config file is the job of
// the (out of scope) command layer.
package config

import "time"

// Tunables mirrors the CHUNKS_* environment knobs documented in spec §6.4.
// Every field has a package-level default matching the table there.
type Tunables struct {
	// SoftDelLimit and HardDelLimit bound TmpMaxDel, the AIMD per-server
	// deletion throttle (§4.9).
	SoftDelLimit float64
	HardDelLimit float64

	// WriteReplLimit and ReadReplLimit are indexed by replication budget
	// class 0..4 (§4.5 Phase E).
	WriteReplLimit [5]int
	ReadReplLimit  [5]int

	// LoopMinTime is the minimum duration of one full registry sweep.
	LoopMinTime time.Duration
	// LoopMaxCPS caps the sweep rate in chunks per second.
	LoopMaxCPS int

	// AcceptableDifference is the usage-fraction gap (0.001-0.10) that makes
	// a chunk eligible for rebalancing (§4.10).
	AcceptableDifference float64

	// ReplicationsDelayInit holds replication for this long after the
	// process starts, giving chunk servers time to report their inventory.
	ReplicationsDelayInit time.Duration

	// ReplicationsRespectTopology selects how the source/destination choice
	// consults the injected topology.Provider (§4.10): 0 none, 1 min-distance,
	// 2 rack-sort.
	ReplicationsRespectTopology int
	// CreationsRespectTopology is the distance threshold under which a
	// creation destination is preferred as "close" (0 disables the check).
	CreationsRespectTopology int

	// ChunkProtectionSeconds is the delay protector window (§3.6).
	ChunkProtectionSeconds time.Duration
	// ReplockTimeout is the replication lock TTL (§3.6).
	ReplockTimeout time.Duration
	// LockTimeout bounds how long a BUSY replica may sit before the op is
	// cancelled (§5 Cancellation and timeouts).
	LockTimeout time.Duration

	// PriorityQueuesLength caps the total size of the nine danger queues
	// (§3.5, §5 Backpressure).
	PriorityQueuesLength int

	// UniqueMode selects the placement matcher's grouping key: 0 none,
	// 1 no-same-ip, 2 no-same-rack (§4.6).
	UniqueMode int

	// JobsTimerInterval is the scheduler tick period (§4.3).
	JobsTimerInterval time.Duration

	// MaxFailsPerClass and FailClassCounterResetTicks bound the per-class
	// fail counters used by the high-priority drain (§4.3).
	MaxFailsPerClass           int
	FailClassCounterResetTicks int

	// HashCptMax bounds how many I/O-ready chunks are drained per tick
	// (§4.3 step 1).
	HashCptMax int
}

// Default returns the tunables at their spec-documented defaults.
func Default() Tunables {
	return Tunables{
		SoftDelLimit:               10,
		HardDelLimit:               25,
		WriteReplLimit:             [5]int{2, 1, 1, 4, 4},
		ReadReplLimit:              [5]int{10, 5, 2, 5, 10},
		LoopMinTime:                300 * time.Second,
		LoopMaxCPS:                 100000,
		AcceptableDifference:       0.01,
		ReplicationsDelayInit:      60 * time.Second,
		ReplicationsRespectTopology: 0,
		CreationsRespectTopology:   0,
		ChunkProtectionSeconds:     15 * time.Second,
		ReplockTimeout:             120 * time.Second,
		LockTimeout:                120 * time.Second,
		PriorityQueuesLength:       1000000,
		UniqueMode:                 0,
		JobsTimerInterval:          5 * time.Millisecond,
		MaxFailsPerClass:           64,
		FailClassCounterResetTicks: 10000,
		HashCptMax:                 32,
	}
}

// clampInt returns v clamped to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sanitize clamps every bounded field to the range spec §6.4 documents,
// leaving unbounded fields untouched. It is safe to call on a zero-value
// Tunables; the result will have every bounded field pulled up to its floor.
func (t Tunables) Sanitize() Tunables {
	t.LoopMinTime = clampDuration(t.LoopMinTime, 60*time.Second, 7200*time.Second)
	t.LoopMaxCPS = clampInt(t.LoopMaxCPS, 10000, 10000000)
	t.AcceptableDifference = clampFloat(t.AcceptableDifference, 0.001, 0.10)
	t.JobsTimerInterval = clampDuration(t.JobsTimerInterval, time.Millisecond, 50*time.Millisecond)
	if t.HardDelLimit < t.SoftDelLimit {
		t.HardDelLimit = t.SoftDelLimit
	}
	if t.PriorityQueuesLength <= 0 {
		t.PriorityQueuesLength = Default().PriorityQueuesLength
	}
	if t.UniqueMode < 0 || t.UniqueMode > 2 {
		t.UniqueMode = 0
	}
	if t.ReplicationsRespectTopology < 0 || t.ReplicationsRespectTopology > 2 {
		t.ReplicationsRespectTopology = 0
	}
	return t
}
