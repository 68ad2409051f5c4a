package engine

import (
	"sort"

	"github.com/moosefs/chunkmaster/ops"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/registry"
	"github.com/moosefs/chunkmaster/replica"
	"github.com/moosefs/chunkmaster/sclass"
)

// ecSurvey is a by-index view of a chunk's erasure-coded parts, built once
// per Phase E pass so every ordered repair check (spec §4.5 items 1-10) can
// share it instead of re-walking the replica list once per item. d is the
// number of data parts in the profile currently in play (4 or 8); x is its
// checksum-part width.
type ecSurvey struct {
	d, x int

	dataServer     map[int]uint16 // data index -> server holding a VALID/TDVALID copy
	checksumServer map[int]uint16 // checksum index (0-based) -> server
	fullCopy       []replica.Replica
	sameServer     map[uint16][]replica.Replica // server -> every EC part of this chunk it holds
}

func surveyEC(rec *registry.Record, arena *replica.Arena, d, x int) ecSurvey {
	s := ecSurvey{
		d: d, x: x,
		dataServer:     map[int]uint16{},
		checksumServer: map[int]uint16{},
		sameServer:     map[uint16][]replica.Replica{},
	}
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if r.Part.IsFullCopy() {
			if r.State.IsValid() {
				s.fullCopy = append(s.fullCopy, r)
			}
			return true
		}
		if !r.State.IsValid() {
			return true
		}
		idx := r.Part.Index()
		if r.Part.IsData() {
			s.dataServer[idx] = r.ServerID
		} else {
			s.checksumServer[idx-d] = r.ServerID
		}
		s.sameServer[r.ServerID] = append(s.sameServer[r.ServerID], r)
		return true
	})
	return s
}

// survivorSourcesAndIDs returns every surviving data/checksum part's server
// and part id, data parts first, each list sorted by index for determinism
// (RECOVER/JOIN don't care about source order, but a stable order keeps
// tests and logs reproducible).
func (s ecSurvey) survivorSourcesAndIDs() ([]uint16, []replica.PartID) {
	dataIdx := make([]int, 0, len(s.dataServer))
	for i := range s.dataServer {
		dataIdx = append(dataIdx, i)
	}
	sort.Ints(dataIdx)
	checksumIdx := make([]int, 0, len(s.checksumServer))
	for i := range s.checksumServer {
		checksumIdx = append(checksumIdx, i)
	}
	sort.Ints(checksumIdx)

	var srcs []uint16
	var ids []replica.PartID
	for _, i := range dataIdx {
		srcs = append(srcs, s.dataServer[i])
		ids = append(ids, ecPartID(s.d, i))
	}
	for _, i := range checksumIdx {
		srcs = append(srcs, s.checksumServer[i])
		ids = append(ids, ecPartID(s.d, s.d+i))
	}
	return srcs, ids
}

// anyPart returns an arbitrary surviving EC part, used to pick a deletion
// victim once a conversion no longer needs any of them (item 9's
// copy-mode-target branch).
func (s ecSurvey) anyPart() (replica.Replica, bool) {
	for _, parts := range s.sameServer {
		if len(parts) > 0 {
			return parts[0], true
		}
	}
	return replica.Replica{}, false
}

// ecPartID builds the PartID for data/checksum index within a D-data-part
// profile (4 selects EC4, anything else EC8).
func ecPartID(d, index int) replica.PartID {
	if d == 4 {
		return replica.EC4Part(index)
	}
	return replica.EC8Part(index)
}

// labelForIndex returns the label expression for placement slot idx, or nil
// (no constraint) if the class didn't specify one that far.
func labelForIndex(labels []placement.Expr, idx int) placement.Expr {
	if idx >= 0 && idx < len(labels) {
		return labels[idx]
	}
	return nil
}

// alreadyHolds reports whether server already holds any replica of rec,
// full copy or EC part.
func alreadyHolds(rec *registry.Record, arena *replica.Arena, server uint16) bool {
	found := false
	rec.Replicas.Each(arena, func(r replica.Replica) bool {
		if r.ServerID == server {
			found = true
			return false
		}
		return true
	})
	return found
}

// pickDest chooses one destination server for a single-slot placement
// decision (repair items 1, 3, 4, 6, 7, 8, 11): candidates already
// holding a replica of this chunk are excluded, and the remaining ones are
// run through the same bipartite matcher item 14 uses, so label/unique
// rules stay consistent across every repair path.
func (j *Job) pickDest(rec *registry.Record, cls sclass.Class, label placement.Expr) (uint16, bool) {
	if j.Info == nil {
		return 0, false
	}
	all := j.usableCandidates()
	candidates := make([]placement.Candidate, 0, len(all))
	for _, c := range all {
		if !alreadyHolds(rec, j.ReplicaArena, uint16(c.ServerID)) {
			candidates = append(candidates, c)
		}
	}
	uniq := placement.UniqueMode(cls.Keep.UniqueMask)
	results := placement.Match([]placement.Expr{label}, candidates, uniq, cls.Keep.Mode, j.Matcher)
	if len(results) == 1 && results[0].OK {
		return uint16(results[0].ServerID), true
	}
	return 0, false
}

// localSplitCapable is an optional capability a ServerInfo may implement
// (spec §4.5 item 5: "the chunk server capable of local split"). When Info
// doesn't implement it, local split is simply never attempted and item 7's
// SPLIT-from-copy path covers the same gap instead.
type localSplitCapable interface {
	CapableOfLocalSplit(serverID uint16) bool
}

func (j *Job) csCapableOfLocalSplit(serverID uint16) bool {
	lsc, ok := j.Info.(localSplitCapable)
	return ok && lsc.CapableOfLocalSplit(serverID)
}

// classStorageMode derives the registry.StorageMode (spec §4.5 Phase A:
// "recompute ... storage_mode") from a class's keep-mode EC settings.
func classStorageMode(cls sclass.Class) registry.StorageMode {
	if !cls.Keep.EC.Enabled {
		return registry.ModeCopies
	}
	if cls.Keep.EC.D == 4 {
		return registry.ModeEC4
	}
	return registry.ModeEC8
}

// phaseERule is one of the 14 ordered checks in spec §4.5 Phase E. Each
// reports ReasonNone/false when it doesn't apply to rec so phaseE can fall
// through to the next one.
type phaseERule func(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool)

// phaseERules is spec §4.5 Phase E's ordered list, items 1-14 in order.
var phaseERules = []phaseERule{
	ruleECSameServer,      // 1
	ruleOverlappingParts,  // 2
	ruleOffloadMFR,        // 3
	ruleRecoverData,       // 4
	ruleLocalSplit,        // 5
	ruleRecoverChecksum,   // 6
	ruleSplit,             // 7
	ruleJoin,              // 8
	ruleExtraStorage,      // 9
	ruleOvergoalEC,        // 10
	ruleWrongLabels,       // 11
	ruleOvergoalCopies,    // 12
	ruleMFRSlack,          // 13
	ruleUndergoalCopies,   // 14
}

// ruleECSameServer implements item 1: an EC part sharing a server with
// another part of the same chunk is deleted if the chunk is already
// overgoal, otherwise replicated off to a fresh server.
func ruleECSameServer(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled || !inv.PartShareServer {
		return ReasonNone, nil, false
	}
	var offender replica.Replica
	found := false
	for _, parts := range survey.sameServer {
		if len(parts) > 1 {
			offender = parts[1]
			found = true
			break
		}
	}
	if !found {
		return ReasonNone, nil, false
	}
	if int(rec.RegGoalEquiv) > goal {
		cmd := ops.IssueDelete(rec, j.ReplicaArena, offender, ops.DeleteOvergoal)
		return ReasonDeletedSameServerPart, &cmd, true
	}
	label := labelForIndex(cls.Keep.Labels, offender.Part.Index())
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, offender.Part, ops.ReplicateSimple, nil, nil, ops.ReasonECEndangered)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedReplicate, &cmd, true
}

// ruleOverlappingParts implements item 2: the same part_id sitting on two
// servers is an overlap, not a repairable shortfall; one copy is simply
// deleted.
func ruleOverlappingParts(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !inv.DuplicatePartID {
		return ReasonNone, nil, false
	}
	r, ok := firstDuplicate(rec, j.ReplicaArena)
	if !ok {
		return ReasonNone, nil, false
	}
	cmd := ops.IssueDelete(rec, j.ReplicaArena, r, ops.DeleteNotNeeded)
	return ReasonDeletedDuplicatePart, &cmd, true
}

// ruleOffloadMFR implements item 3: when no full copy survives, a part
// sitting only on a marked-for-removal disk is replicated off before
// anything else is attempted.
func ruleOffloadMFR(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled || len(survey.fullCopy) > 0 {
		return ReasonNone, nil, false
	}
	var victim replica.Replica
	found := false
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if r.State == replica.TDVALID {
			victim = r
			found = true
			return false
		}
		return true
	})
	if !found {
		return ReasonNone, nil, false
	}
	label := labelForIndex(cls.Keep.Labels, victim.Part.Index())
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, victim.Part, ops.ReplicateSimple, []uint16{victim.ServerID}, nil, ops.ReasonECEndangered)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonOffloadedMFR, &cmd, true
}

// recoverMissing backs items 4 and 6: when enough of the other kind of part
// survives (at least D total), reconstruct the missing ones with a RECOVER
// op instead of waiting on a SPLIT/JOIN. dataFirst selects which half of
// the profile is being checked for gaps.
func recoverMissing(j *Job, rec *registry.Record, survey ecSurvey, cls sclass.Class, now uint32, dataFirst bool) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled {
		return ReasonNone, nil, false
	}
	if !dataFirst && len(survey.dataServer) < survey.d {
		return ReasonNone, nil, false // item 6 only fires once data is complete
	}
	var missing int = -1
	if dataFirst {
		for i := 0; i < survey.d; i++ {
			if _, ok := survey.dataServer[i]; !ok {
				missing = i
				break
			}
		}
	} else {
		for i := 0; i < survey.x; i++ {
			if _, ok := survey.checksumServer[i]; !ok {
				missing = survey.d + i
				break
			}
		}
	}
	if missing < 0 {
		return ReasonNone, nil, false
	}
	srcs, ecids := survey.survivorSourcesAndIDs()
	if len(srcs) < survey.d {
		return ReasonNone, nil, false // not enough survivors to reconstruct yet
	}
	label := labelForIndex(cls.Keep.Labels, missing)
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	part := ecPartID(survey.d, missing)
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, part, ops.ReplicateRecover, srcs, ecids, ops.ReasonRecoverIO)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedRecover, &cmd, true
}

func ruleRecoverData(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	return recoverMissing(j, rec, survey, cls, now, true)
}

func ruleRecoverChecksum(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	return recoverMissing(j, rec, survey, cls, now, false)
}

// ruleLocalSplit implements item 5: when a full copy is present and its
// chunk-server can derive the missing EC parts itself, one LOCALSPLIT
// replaces what would otherwise be a SPLIT/RECOVER round trip.
func ruleLocalSplit(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled || len(survey.fullCopy) == 0 || j.Info == nil {
		return ReasonNone, nil, false
	}
	var missingMask uint32
	var parts []replica.PartID
	for i := 0; i < survey.d; i++ {
		if _, ok := survey.dataServer[i]; !ok {
			missingMask |= 1 << uint(i)
			parts = append(parts, ecPartID(survey.d, i))
		}
	}
	for i := 0; i < survey.x; i++ {
		if _, ok := survey.checksumServer[i]; !ok {
			missingMask |= 1 << uint(survey.d+i)
			parts = append(parts, ecPartID(survey.d, survey.d+i))
		}
	}
	if len(parts) == 0 {
		return ReasonNone, nil, false
	}
	server := survey.fullCopy[0].ServerID
	if !j.csCapableOfLocalSplit(server) {
		return ReasonNone, nil, false
	}
	reason := ops.ReasonLocalSplitToEC8
	if survey.d == 4 {
		reason = ops.ReasonLocalSplitToEC4
	}
	cmd := ops.IssueLocalSplit(rec, j.ReplicaArena, server, missingMask, parts, reason)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedLocalSplit, &cmd, true
}

// ruleSplit implements item 7: a full copy exists, some data parts are
// missing, and no chunk-server offered to split them locally — derive the
// first missing data part from the copy with a SPLIT op.
func ruleSplit(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled || len(survey.fullCopy) == 0 {
		return ReasonNone, nil, false
	}
	missing := -1
	for i := 0; i < survey.d; i++ {
		if _, ok := survey.dataServer[i]; !ok {
			missing = i
			break
		}
	}
	if missing < 0 {
		return ReasonNone, nil, false
	}
	source := survey.fullCopy[0]
	label := labelForIndex(cls.Keep.Labels, missing)
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	part := ecPartID(survey.d, missing)
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, part, ops.ReplicateSplit, []uint16{source.ServerID}, nil, ops.ReasonSplitECGeneric)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedSplit, &cmd, true
}

// ruleJoin implements item 8: the target storage mode is copies but the
// chunk still carries a full EC data set — combine it into a full copy on
// a label-respecting destination.
func ruleJoin(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if cls.Keep.EC.Enabled || survey.d == 0 {
		return ReasonNone, nil, false
	}
	if len(survey.dataServer) < survey.d {
		return ReasonNone, nil, false
	}
	if len(survey.fullCopy) >= goal {
		return ReasonNone, nil, false
	}
	srcs, ecids := survey.survivorSourcesAndIDs()
	label := labelForIndex(cls.Keep.Labels, len(survey.fullCopy))
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, replica.PartFullCopy, ops.ReplicateJoin, srcs, ecids, ops.ReasonJoinECChange)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedJoin, &cmd, true
}

// ruleExtraStorage implements item 9: extra full copies while the target is
// EC, or leftover EC parts once a JOIN back to copies has produced enough
// full copies, are simply deleted.
func ruleExtraStorage(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	switch {
	case cls.Keep.EC.Enabled && len(survey.fullCopy) > 0:
		cmd := ops.IssueDelete(rec, j.ReplicaArena, survey.fullCopy[0], ops.DeleteNotNeeded)
		return ReasonDeletedExtraPart, &cmd, true
	case !cls.Keep.EC.Enabled && survey.d > 0 && len(survey.fullCopy) >= goal:
		if r, ok := survey.anyPart(); ok {
			cmd := ops.IssueDelete(rec, j.ReplicaArena, r, ops.DeleteNotNeeded)
			return ReasonDeletedExtraPart, &cmd, true
		}
	}
	return ReasonNone, nil, false
}

// ruleOvergoalEC implements item 10: trim checksum parts at or beyond
// min+(D-1)+G first, highest part id first.
func ruleOvergoalEC(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if !cls.Keep.EC.Enabled || survey.d == 0 {
		return ReasonNone, nil, false
	}
	threshold := survey.d - 1 + goal
	bestIdx := -1
	var victim replica.Replica
	for idx, srv := range survey.checksumServer {
		partIdx := survey.d + idx
		if partIdx < threshold {
			continue
		}
		if partIdx > bestIdx {
			bestIdx = partIdx
			victim = replica.Replica{ServerID: srv, Part: ecPartID(survey.d, partIdx)}
		}
	}
	if bestIdx < 0 {
		return ReasonNone, nil, false
	}
	cmd := ops.IssueDelete(rec, j.ReplicaArena, victim, ops.DeleteOvergoal)
	return ReasonDeletedOvergoal, &cmd, true
}

// ruleWrongLabels implements item 11: a valid replica (copy or EC part)
// whose server's label mask doesn't satisfy its slot's expression gets
// replicated to a server that does.
func ruleWrongLabels(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if len(cls.Keep.Labels) == 0 || j.Matcher == nil || j.Info == nil {
		return ReasonNone, nil, false
	}
	labelMask := map[uint16]uint32{}
	for _, c := range j.usableCandidates() {
		labelMask[uint16(c.ServerID)] = c.LabelMask
	}
	var offender replica.Replica
	found := false
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if !r.State.IsValid() {
			return true
		}
		slot := 0
		if !r.Part.IsFullCopy() {
			slot = r.Part.Index()
		}
		label := labelForIndex(cls.Keep.Labels, slot)
		if len(label) == 0 {
			return true
		}
		mask, ok := labelMask[r.ServerID]
		if !ok || j.Matcher.Matches(mask, label) {
			return true
		}
		offender = r
		found = true
		return false
	})
	if !found {
		return ReasonNone, nil, false
	}
	slot := 0
	if !offender.Part.IsFullCopy() {
		slot = offender.Part.Index()
	}
	label := labelForIndex(cls.Keep.Labels, slot)
	dest, ok := j.pickDest(rec, cls, label)
	if !ok {
		return ReasonNoMatchingServer, nil, true
	}
	reason := ops.ReasonCopyWrongLabel
	if !offender.Part.IsFullCopy() {
		reason = ops.ReasonECWrongLabel
	}
	cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, offender.Part, ops.ReplicateSimple, []uint16{offender.ServerID}, nil, reason)
	j.Replock.Lock(rec.ChunkID, now)
	j.Delay.Protect(rec.ChunkID, now)
	return ReasonIssuedReplicate, &cmd, true
}

// ruleOvergoalCopies implements item 12: copy-mode overgoal deletes on the
// fullest server holding a full copy.
func ruleOvergoalCopies(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if cls.Keep.EC.Enabled || j.Info == nil {
		return ReasonNone, nil, false
	}
	if int(rec.RegGoalEquiv) <= goal {
		return ReasonNone, nil, false
	}
	var victim replica.Replica
	found := false
	bestUsage := -1.0
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if r.Part != replica.PartFullCopy || !r.State.IsValid() {
			return true
		}
		u := j.Info.Usage(r.ServerID)
		if !found || u > bestUsage {
			victim = r
			bestUsage = u
			found = true
		}
		return true
	})
	if !found {
		return ReasonNone, nil, false
	}
	cmd := ops.IssueDelete(rec, j.ReplicaArena, victim, ops.DeleteOvergoal)
	return ReasonDeletedOvergoal, &cmd, true
}

// ruleMFRSlack implements item 13: when a chunk is undergoal purely because
// its only slack is marked-for-removal copies and no free destination
// exists anywhere else, dropping one MFR copy makes room for a future
// replication rather than leaving the chunk pinned to disks about to
// disappear.
func ruleMFRSlack(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	reg := int(rec.RegGoalEquiv)
	all := int(rec.AllGoalEquiv)
	if reg >= goal || all <= reg {
		return ReasonNone, nil, false
	}
	if j.Info != nil && len(j.usableCandidates()) > 0 {
		return ReasonNone, nil, false // room exists elsewhere; item 14 replicates instead
	}
	var victim replica.Replica
	found := false
	rec.Replicas.Each(j.ReplicaArena, func(r replica.Replica) bool {
		if r.State == replica.TDVALID {
			victim = r
			found = true
			return false
		}
		return true
	})
	if !found {
		return ReasonNone, nil, false
	}
	cmd := ops.IssueDelete(rec, j.ReplicaArena, victim, ops.DeleteNotNeeded)
	return ReasonDeletedMFRSlack, &cmd, true
}

// ruleUndergoalCopies implements item 14: bipartite-match servers to label
// slots for a copy-mode class, issuing one chunk_undergoal_replicate for
// the first unmatched slot. EC targets with fewer than D survivors have no
// repair op defined (spec's RECOVER/SPLIT/JOIN triad already covers every
// recoverable EC shortfall in items 4-8) so they're left for the next tick.
func ruleUndergoalCopies(j *Job, rec *registry.Record, inv Inventory, survey ecSurvey, cls sclass.Class, goal int, now uint32) (FailReason, *ops.Command, bool) {
	if cls.Keep.EC.Enabled || j.Info == nil {
		return ReasonNone, nil, false
	}
	reg := int(rec.RegGoalEquiv)
	if reg >= goal {
		return ReasonNone, nil, false
	}

	candidates := j.usableCandidates()
	slots := make([]placement.Expr, goal-reg)
	for i := range slots {
		if i < len(cls.Keep.Labels) {
			slots[i] = cls.Keep.Labels[i]
		}
	}
	uniq := placement.UniqueMode(cls.Keep.UniqueMask)
	results := placement.Match(slots, candidates, uniq, cls.Keep.Mode, j.Matcher)

	for _, res := range results {
		if !res.OK {
			continue
		}
		dest := uint16(res.ServerID)
		if _, taken := rec.Replicas.Find(j.ReplicaArena, dest, replica.PartFullCopy); taken {
			continue
		}
		cmd := ops.IssueReplicate(rec, j.ReplicaArena, dest, replica.PartFullCopy,
			ops.ReplicateSimple, nil, nil, ops.ReasonCopyUndergoal)
		j.Replock.Lock(rec.ChunkID, now)
		j.Delay.Protect(rec.ChunkID, now)
		return ReasonIssuedReplicate, &cmd, true
	}
	return ReasonNoMatchingServer, nil, true
}
