// Package scheduler drives the per-chunk decision engine across the whole
// registry: the nine-level danger queues, the AIMD delete throttle, and the
// timer tick that ties them together (spec §4.3, §4.9).
package scheduler

import "github.com/moosefs/chunkmaster/config"

// DeleteThrottle tracks TmpMaxDel, the AIMD-adjusted cap on how many
// deletions may be outstanding per chunk-server at once (spec §4.9).
// Grounded directly on mfsmaster/chunks.c's chunk_do_jobs: every 16
// completed loop-end events it multiplies the limit by 1.5 (clamped to the
// hard limit) when deletes are falling behind and the queue is growing, or
// divides it by 1.5 (clamped down to the soft limit) once the queue starts
// shrinking again.
type DeleteThrottle struct {
	// TmpMaxDel is the current per-server concurrent-deletion cap. Starts at
	// the soft limit.
	TmpMaxDel float64

	soft, hard float64

	prevToDelete int
	loopEnds     int
	doneSum      int
	notDoneSum   int
}

// NewDeleteThrottle returns a throttle starting at tunables' soft limit.
func NewDeleteThrottle(t config.Tunables) *DeleteThrottle {
	return &DeleteThrottle{
		TmpMaxDel: t.SoftDelLimit,
		soft:      t.SoftDelLimit,
		hard:      t.HardDelLimit,
	}
}

// Allow reports whether server currently has headroom to receive another
// delete command, given its outstanding deletion count.
func (d *DeleteThrottle) Allow(outstanding int) bool {
	return float64(outstanding) < d.TmpMaxDel
}

// OnLoopEnd folds one completed registry sweep's delete-done/delete-
// not-done counts into the AIMD state. Every 16th call actually adjusts
// TmpMaxDel; the rest just accumulate, matching the original's "do this
// once every 16 JOBS_EVERYLOOP events" cadence.
func (d *DeleteThrottle) OnLoopEnd(deldone, delnotdone int) {
	d.doneSum += deldone
	d.notDoneSum += delnotdone
	d.loopEnds++
	if d.loopEnds < 16 {
		return
	}
	d.loopEnds = 0
	toDelete := d.doneSum + d.notDoneSum

	switch {
	case d.notDoneSum > d.doneSum && toDelete > d.prevToDelete:
		d.TmpMaxDel *= 1.5
		if d.TmpMaxDel > d.hard {
			d.TmpMaxDel = d.hard
		}
	case toDelete < d.prevToDelete:
		if d.TmpMaxDel > d.soft {
			d.TmpMaxDel /= 1.5
			if d.TmpMaxDel < d.soft {
				d.TmpMaxDel = d.soft
			}
		}
	}
	d.prevToDelete = toDelete
	d.doneSum, d.notDoneSum = 0, 0
}
