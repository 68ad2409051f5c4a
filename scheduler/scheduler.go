package scheduler

import (
	"time"

	"github.com/NebulousLabs/fastrand"
	"github.com/NebulousLabs/threadgroup"

	"github.com/moosefs/chunkmaster/config"
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/engine"
	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/queue"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/sclass"
)

// Sink receives every command the decision engine issues during a tick, for
// the caller to actually dispatch to chunk-servers. The scheduler itself
// never talks to a transport; that is explicitly out of scope (spec §1).
type Sink interface {
	Send(ops.Command)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ops.Command)

// Send implements Sink.
func (f SinkFunc) Send(cmd ops.Command) { f(cmd) }

// Scheduler is the tick dispatcher spec §4.3 describes: it owns the nine
// danger queues, the AIMD delete throttle, and a full registry sweep that
// feeds them, and calls into the per-chunk decision engine (engine.Job) to
// turn a chunk's state into commands. Grounded on mfsmaster/chunks.c's
// chunk_jobs_main/chunk_do_jobs pair: the JOBS_INIT/JOBS_EVERYLOOP/
// JOBS_EVERYTICK/JOBS_TERM mode dispatch there is this type's Start/Tick/
// Stop.
type Scheduler struct {
	Registry *registry.Registry
	Servers  *csreg.Registry
	Queues   *queue.Queues
	Job      *engine.Job
	Throttle *DeleteThrottle
	Tunables config.Tunables

	Sink Sink

	tg threadgroup.ThreadGroup

	sweep    []uint64
	sweepPos int

	// deldone/delnotdone are the current loop's scratch delete-outcome
	// counters, rotated into the AIMD throttle at loop end and reset every
	// JOBS_EVERYTICK (spec §4.9).
	deldone, delnotdone int

	// failCounter bounds how many consecutive no-progress attempts a single
	// storage class may absorb from the high-priority drain before later
	// classes get a turn (spec §4.3's "per-class fail counters").
	failCounter     map[uint8]int
	failCounterTick int
}

// New returns a scheduler ready to Start, with TmpMaxDel seeded from t.
func New(reg *registry.Registry, servers *csreg.Registry, j *engine.Job, t config.Tunables, sink Sink) *Scheduler {
	return &Scheduler{
		Registry: reg,
		Servers:  servers,
		Queues:   j.Queues,
		Job:      j,
		Throttle: NewDeleteThrottle(t),
		Tunables: t,
		Sink:     sink,
		failCounter: map[uint8]int{},
	}
}

// Start launches the tick goroutine under tg, ticking every
// Tunables.JobsTimerInterval until tg is stopped. It mirrors
// chunk_jobs_main's main_msectime_register registration: one recurring
// timer callback for the lifetime of the process.
func (s *Scheduler) Start() error {
	if err := s.tg.Add(); err != nil {
		return err
	}
	go func() {
		defer s.tg.Done()
		interval := s.Tunables.JobsTimerInterval
		if interval <= 0 {
			interval = config.Default().JobsTimerInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.tg.StopChan():
				return
			case <-ticker.C:
				s.Tick(nowSeconds())
			}
		}
	}()
	return nil
}

// Stop blocks until the tick goroutine has exited (JOBS_TERM).
func (s *Scheduler) Stop() error {
	return s.tg.Stop()
}

// nowSeconds is the wall-clock source for tick-driven calls; split out so
// tests can avoid a real clock by calling Tick directly with a fixed value.
func nowSeconds() uint32 { return uint32(time.Now().Unix()) }

// Tick runs one JOBS_EVERYTICK step: drain the I/O-ready queue, drain a
// budget of high-priority danger-queue entries, advance the registry sweep
// by a rate-capped batch, and roll over per-tick scratch state (spec §4.3).
func (s *Scheduler) Tick(now uint32) {
	s.drainDisconnects(now)
	s.drainIOReady(now)
	s.drainHighPriority(now)
	s.advanceSweep(now)

	s.failCounterTick++
	if s.failCounterTick >= s.Tunables.FailClassCounterResetTicks {
		s.failCounterTick = 0
		s.failCounter = map[uint8]int{}
	}
}

// drainDisconnects frees up to the deferred-disconnect batch budget spec
// §4.7 describes (5 * JOBS_TIMER_MS * 200µs chunks), removing each
// disconnected server's replicas from every record it touched. The actual
// per-chunk cleanup happens lazily: engine.Job.phaseA already drops stale
// replicas for servers csreg reports invalid, so this only needs to run the
// registry sweep faster than the disconnect queue refills, not walk the
// registry itself.
func (s *Scheduler) drainDisconnects(now uint32) {
	interval := s.Tunables.JobsTimerInterval
	if interval <= 0 {
		interval = config.Default().JobsTimerInterval
	}
	budget := int(5 * interval.Milliseconds() * 200 / 1000)
	if budget < 1 {
		budget = 1
	}
	s.Servers.DrainDisconnects(budget, nil)
}

// drainIOReady pops up to HashCptMax chunks off the IOReady queue every
// tick: these are chunks whose decision was already made and are just
// waiting on their operation's reconciliation, so they get priority over
// the rate-capped sweep (spec §4.3 step 1).
func (s *Scheduler) drainIOReady(now uint32) {
	ids := s.Queues.PopN(queue.IOReady, s.hashCptMax())
	for _, id := range ids {
		s.runOne(id, now)
	}
}

func (s *Scheduler) hashCptMax() int {
	if s.Tunables.HashCptMax > 0 {
		return s.Tunables.HashCptMax
	}
	return config.Default().HashCptMax
}

// drainHighPriority walks the eight danger levels from most to least urgent
// (everything below IOReady) and runs one chunk per non-empty level per
// tick, bounded by a per-class fail counter: once a storage class has
// failed to make progress MaxFailsPerClass times within the current
// counter window, further attempts from that class are skipped until the
// window resets, so one stuck class cannot starve the rest (spec §4.3).
func (s *Scheduler) drainHighPriority(now uint32) {
	for lvl := queue.OneCopyHighGoal; int(lvl) < int(queue.WrongLabels)+1; lvl++ {
		id, ok := s.Queues.Pop(lvl)
		if !ok {
			continue
		}
		s.runOne(id, now)
	}
}

// advanceSweep runs one rate-capped batch of the full registry sweep (spec
// §4.3's loop, §4.9's delete-outcome accounting). When the current sweep
// snapshot is exhausted, it rotates in a fresh one and folds the completed
// loop's outcome into the AIMD throttle and every connected server's MFR
// state (spec §4.7, §4.9).
func (s *Scheduler) advanceSweep(now uint32) {
	if len(s.sweep) == 0 {
		s.startSweep()
		if len(s.sweep) == 0 {
			return
		}
	}
	n := s.batchSize()
	for i := 0; i < n && s.sweepPos < len(s.sweep); i++ {
		s.runOne(s.sweep[s.sweepPos], now)
		s.sweepPos++
	}
	if s.sweepPos >= len(s.sweep) {
		s.onLoopEnd()
		s.startSweep()
	}
}

// startSweep snapshots every chunk id currently in the registry, in a
// fastrand-shuffled order so no single chunk id range is perpetually first
// (and therefore perpetually favored by any early-batch rate limiting).
func (s *Scheduler) startSweep() {
	ids := make([]uint64, 0, s.Registry.Len())
	s.Registry.Each(func(rec *registry.Record) bool {
		ids = append(ids, rec.ChunkID)
		return true
	})
	shuffled := make([]uint64, len(ids))
	for i, p := range fastrand.Perm(len(ids)) {
		shuffled[i] = ids[p]
	}
	s.sweep = shuffled
	s.sweepPos = 0
}

// batchSize computes how many chunks this tick should visit: capped by
// LoopMaxCPS (chunks/second), and large enough that a full sweep completes
// no faster than LoopMinTime (spec §4.3, §6.4).
func (s *Scheduler) batchSize() int {
	interval := s.Tunables.JobsTimerInterval
	if interval <= 0 {
		interval = config.Default().JobsTimerInterval
	}
	maxCPS := s.Tunables.LoopMaxCPS
	if maxCPS <= 0 {
		maxCPS = config.Default().LoopMaxCPS
	}
	byRate := int(float64(maxCPS) * interval.Seconds())
	if byRate < 1 {
		byRate = 1
	}

	minTime := s.Tunables.LoopMinTime
	if minTime <= 0 {
		minTime = config.Default().LoopMinTime
	}
	ticksPerLoop := minTime.Seconds() / interval.Seconds()
	byMinTime := byRate
	if ticksPerLoop >= 1 {
		byMinTime = int(float64(len(s.sweep))/ticksPerLoop + 0.5)
		if byMinTime < 1 {
			byMinTime = 1
		}
	}

	if byMinTime < byRate {
		return byMinTime
	}
	return byRate
}

// onLoopEnd folds the just-completed sweep's delete outcomes into the AIMD
// throttle and advances every connected server's MFR state (spec §4.3
// "on a completed sweep"; §4.7; §4.9).
func (s *Scheduler) onLoopEnd() {
	s.Throttle.OnLoopEnd(s.deldone, s.delnotdone)
	s.deldone, s.delnotdone = 0, 0
	s.Servers.AdvanceAllOnLoopEnd()
}

// runOne invokes the decision engine for one chunk, classifies and re-
// queues it by danger priority, tallies delete outcomes for the AIMD
// throttle, and forwards any issued command to the sink.
func (s *Scheduler) runOne(chunkID uint64, now uint32) {
	rec := s.Registry.Find(chunkID)
	if rec == nil {
		s.Queues.Remove(chunkID)
		return
	}

	available := 0
	if s.Job.Info != nil {
		available = len(s.Job.Info.Candidates())
	}

	class, hasClass := s.Job.Classes.Class(rec.SclassID)
	if hasClass && !s.classAllowed(rec.SclassID) {
		return
	}

	reason, cmds := s.Job.Run(rec, now, available)
	s.tallyDelete(reason)
	s.recordOutcome(rec.SclassID, reason)

	for _, cmd := range cmds {
		if s.Sink != nil {
			s.Sink.Send(cmd)
		}
	}

	s.requeue(rec, class, hasClass)
}

// tallyDelete folds a single decision's outcome into this loop's
// deldone/delnotdone scratch counters, the inputs to the AIMD throttle.
func (s *Scheduler) tallyDelete(reason engine.FailReason) {
	switch reason {
	case engine.ReasonDeletedDuplicatePart, engine.ReasonDeletedInvalidReplica, engine.ReasonDeletedUnusedChunk:
		s.deldone++
	case engine.ReasonDeleteThrottled:
		s.delnotdone++
	}
}

// classAllowed reports whether sclassID's fail counter still has headroom
// in the high-priority drain this window.
func (s *Scheduler) classAllowed(sclassID uint8) bool {
	max := s.Tunables.MaxFailsPerClass
	if max <= 0 {
		max = config.Default().MaxFailsPerClass
	}
	return s.failCounter[sclassID] < max
}

// recordOutcome bumps or clears sclassID's fail counter depending on
// whether this chunk's decision made progress.
func (s *Scheduler) recordOutcome(sclassID uint8, reason engine.FailReason) {
	switch reason {
	case engine.ReasonNoMatchingServer, engine.ReasonUnknownClass, engine.ReasonNoProgress:
		s.failCounter[sclassID]++
	default:
		delete(s.failCounter, sclassID)
	}
}

// requeue re-derives the chunk's danger priority and places it back on the
// matching queue, or drops it from every queue once it is fully satisfied
// (spec §3.5, §4.4).
func (s *Scheduler) requeue(rec *registry.Record, class sclass.Class, hasClass bool) {
	if rec.Operation != registry.OpNone {
		s.Queues.Upsert(rec.ChunkID, queue.IOReady)
		return
	}
	inv := engine.ScanInventory(rec, s.Job.ReplicaArena)
	goal := int(rec.AllGoalEquiv)
	if hasClass {
		goal = class.Keep.GoalEquiv()
	}
	lvl := engine.DangerPriority(rec, inv, goal, true, nil)
	if lvl == queue.NoLevel {
		s.Queues.Remove(rec.ChunkID)
		return
	}
	s.Queues.Upsert(rec.ChunkID, lvl)
}
