package placement

import "sort"

// Candidate is one chunk-server the matcher may assign to a label slot.
// LabelMask is the server's own label bitmask; IP and RackID feed the
// uniqueness grouping (spec §4.6: "no two parts on the same IP" / "...same
// rack").
type Candidate struct {
	ServerID  uint32
	LabelMask uint32
	IP        uint32
	RackID    uint32
}

// UniqueMode selects the matcher's grouping key, mirroring
// config.Tunables.UniqueMode / a class's per-slot override.
type UniqueMode uint8

const (
	// UniqueNone groups nothing: every candidate is its own group.
	UniqueNone UniqueMode = iota
	// UniqueIP collapses candidates sharing an IP into one group.
	UniqueIP
	// UniqueRack collapses candidates sharing a rack id into one group.
	UniqueRack
)

// groupKey returns the key candidates sharing a uniqueness group collapse
// under: their own server id when ungrouped, or the shared IP/rack.
func groupKey(c Candidate, mode UniqueMode) uint64 {
	switch mode {
	case UniqueIP:
		return uint64(c.IP)<<32 | 1<<63
	case UniqueRack:
		return uint64(c.RackID)<<32 | 1<<62
	default:
		return uint64(c.ServerID)
	}
}

// Result is the matcher's verdict: one assigned server id per label slot (or
// ok=false if the slot went unfilled), in slot order.
type Result struct {
	ServerID uint32
	Slot     int
	OK       bool
}

// Match runs the bipartite placement matcher (spec §4.6): it assigns each
// label slot at most one server, maximizing the number of filled slots,
// subject to at most one slot per uniqueness group and (when strict) a slot
// only ever being filled by a candidate whose label mask satisfies its
// expression.
//
// The assignment itself is computed with per-left-node augmenting paths
// (Kuhn's algorithm) rather than Hopcroft-Karp's phased BFS/DFS structure;
// both produce an identical maximum matching, and the server counts a single
// metadata-server placement decision ever considers (tens to low hundreds of
// candidates) make the simpler O(V*E) bound more than sufficient.
//
// When mode is not Strict and some slots remain unfilled after the
// label-respecting pass, a second "extend" pass fills the remaining slots
// from whatever ungrouped candidates (label match or not) are left, so an
// undergoal chunk still gets copies rather than staying stuck on labels
// (spec §4.6's "non-strict extend").
func Match(slots []Expr, candidates []Candidate, uniq UniqueMode, mode LabelsMode, lm Matcher) []Result {
	groups := groupCandidates(candidates, uniq)

	matchSlot := make([]int, len(slots)) // group index matched to slot, -1 if none
	for i := range matchSlot {
		matchSlot[i] = -1
	}
	matchGroup := make([]int, len(groups)) // slot index matched to group, -1 if none
	for i := range matchGroup {
		matchGroup[i] = -1
	}

	adj := make([][]int, len(slots))
	for s, expr := range slots {
		for g, grp := range groups {
			if anyMatches(grp, expr, lm) {
				adj[s] = append(adj[s], g)
			}
		}
	}

	for s := range slots {
		visited := make([]bool, len(groups))
		tryAugment(s, adj, visited, matchGroup, matchSlot)
	}

	if mode != Strict {
		extendUnlabelled(slots, groups, matchSlot, matchGroup)
	}

	out := make([]Result, len(slots))
	for s := range slots {
		out[s] = Result{Slot: s}
		if g := matchSlot[s]; g >= 0 {
			out[s].ServerID = groups[g][0].ServerID
			out[s].OK = true
		}
	}
	return out
}

func anyMatches(group []Candidate, expr Expr, lm Matcher) bool {
	if lm == nil || len(expr) == 0 {
		return true
	}
	for _, c := range group {
		if lm.Matches(c.LabelMask, expr) {
			return true
		}
	}
	return false
}

// tryAugment attempts to find an augmenting path from slot s, following the
// standard Kuhn's-algorithm recursion.
func tryAugment(s int, adj [][]int, visited []bool, matchGroup, matchSlot []int) bool {
	for _, g := range adj[s] {
		if visited[g] {
			continue
		}
		visited[g] = true
		if matchGroup[g] == -1 || tryAugment(matchGroup[g], adj, visited, matchGroup, matchSlot) {
			matchGroup[g] = s
			matchSlot[s] = g
			return true
		}
	}
	return false
}

// extendUnlabelled fills any still-unmatched slot from any still-unmatched
// group, ignoring label expressions entirely; used for Loose/Default modes
// once the label-respecting matching has run out of candidates.
func extendUnlabelled(slots []Expr, groups [][]Candidate, matchSlot, matchGroup []int) {
	free := make([]int, 0, len(groups))
	for g := range groups {
		if matchGroup[g] == -1 {
			free = append(free, g)
		}
	}
	sort.Ints(free)
	fi := 0
	for s := range slots {
		if matchSlot[s] != -1 {
			continue
		}
		if fi >= len(free) {
			break
		}
		g := free[fi]
		fi++
		matchSlot[s] = g
		matchGroup[g] = s
	}
}

func groupCandidates(candidates []Candidate, mode UniqueMode) [][]Candidate {
	byKey := map[uint64][]Candidate{}
	var order []uint64
	for _, c := range candidates {
		k := groupKey(c, mode)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	groups := make([][]Candidate, len(order))
	for i, k := range order {
		groups[i] = byKey[k]
	}
	return groups
}
