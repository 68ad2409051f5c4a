package replica

// Arena is a slab allocator for Replica nodes, in the spirit of spec §9's
// "arena + index pattern": intrusive linked lists become tagged integers
// into a flat slice instead of pointers, so the registry's incremental
// rehash never has to worry about replica pointer stability. Index 0 is the
// nil sentinel; real nodes start at index 1.
type Arena struct {
	nodes    []Replica
	freeList []uint32
}

// NewArena returns an empty replica arena.
func NewArena() *Arena {
	return &Arena{nodes: make([]Replica, 1)} // index 0 reserved as nil
}

func (a *Arena) alloc(r Replica) uint32 {
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.nodes[idx] = r
		return idx
	}
	a.nodes = append(a.nodes, r)
	return uint32(len(a.nodes) - 1)
}

func (a *Arena) free(idx uint32) {
	a.nodes[idx] = Replica{}
	a.freeList = append(a.freeList, idx)
}

// Get returns the replica stored at idx by value. idx==0 is the nil sentinel
// and returns the zero Replica; callers must check against List.Empty/
// iteration end first.
func (a *Arena) Get(idx uint32) Replica {
	return a.nodes[idx]
}

// List is a handle to the head of one chunk's sorted replica list, living in
// a shared Arena. The zero value is an empty list.
type List struct {
	head uint32
}

// Empty reports whether the list has no replicas.
func (l List) Empty() bool {
	return l.head == 0
}

// Head returns the arena index of the first replica, or 0 if empty.
func (l List) Head() uint32 {
	return l.head
}

// Find returns the replica for (serverID, part) and true, or the zero value
// and false if no such replica exists.
func (l List) Find(a *Arena, serverID uint16, part PartID) (Replica, bool) {
	for idx := l.head; idx != 0; {
		r := a.Get(idx)
		if r.ServerID == serverID && r.Part == part {
			return r, true
		}
		if r.ServerID > serverID || (r.ServerID == serverID && r.Part > part) {
			break // sorted list, target would have sorted before here
		}
		idx = r.next
	}
	return Replica{}, false
}

// Each calls fn for every replica in ascending (server, part) order. fn
// returning false stops the iteration early.
func (l List) Each(a *Arena, fn func(Replica) bool) {
	for idx := l.head; idx != 0; {
		r := a.Get(idx)
		if !fn(r) {
			return
		}
		idx = r.next
	}
}

// Len returns the number of replicas in the list.
func (l List) Len(a *Arena) int {
	n := 0
	l.Each(a, func(Replica) bool { n++; return true })
	return n
}

// Insert inserts r into the list, keeping it sorted by (ServerID, Part) and
// preserving the "at most one replica per (server,part)" invariant (spec
// §3.1): an existing replica at the same key is overwritten in place. It
// returns the (possibly unchanged) list head.
func (l List) Insert(a *Arena, r Replica) List {
	r.next = 0
	if l.head == 0 {
		l.head = a.alloc(r)
		return l
	}
	// Overwrite in place if the key already exists.
	for idx := l.head; idx != 0; idx = a.Get(idx).next {
		cur := a.Get(idx)
		if cur.ServerID == r.ServerID && cur.Part == r.Part {
			r.next = cur.next
			a.nodes[idx] = r
			return l
		}
	}
	// Find insertion point keeping ascending order.
	if r.Less(a.Get(l.head)) {
		r.next = l.head
		l.head = a.alloc(r)
		return l
	}
	prev := l.head
	for {
		cur := a.Get(prev)
		if cur.next == 0 || r.Less(a.Get(cur.next)) {
			r.next = cur.next
			idx := a.alloc(r)
			pr := a.Get(prev)
			pr.next = idx
			a.nodes[prev] = pr
			return l
		}
		prev = cur.next
	}
}

// Remove deletes the replica matching (serverID, part), if any, returning
// the (possibly unchanged) list head and whether a replica was removed.
func (l List) Remove(a *Arena, serverID uint16, part PartID) (List, bool) {
	if l.head == 0 {
		return l, false
	}
	head := a.Get(l.head)
	if head.ServerID == serverID && head.Part == part {
		next := head.next
		a.free(l.head)
		l.head = next
		return l, true
	}
	prev := l.head
	for {
		cur := a.Get(prev)
		if cur.next == 0 {
			return l, false
		}
		node := a.Get(cur.next)
		if node.ServerID == serverID && node.Part == part {
			pr := a.Get(prev)
			pr.next = node.next
			a.nodes[prev] = pr
			a.free(cur.next)
			return l, true
		}
		prev = cur.next
	}
}

// RemoveServer deletes every replica belonging to serverID (used when a
// chunk server disconnects, spec §4.7). It returns the new head and the
// removed replicas, in list order.
func (l List) RemoveServer(a *Arena, serverID uint16) (List, []Replica) {
	var matches []PartID
	l.Each(a, func(r Replica) bool {
		if r.ServerID == serverID {
			matches = append(matches, r.Part)
		}
		return true
	})
	removed := make([]Replica, 0, len(matches))
	for _, part := range matches {
		if r, ok := l.Find(a, serverID, part); ok {
			removed = append(removed, r)
		}
		l, _ = l.Remove(a, serverID, part)
	}
	return l, removed
}
