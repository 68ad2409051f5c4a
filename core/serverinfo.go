package core

import (
	"github.com/moosefs/chunkmaster/csreg"
	"github.com/moosefs/chunkmaster/placement"
	"github.com/moosefs/chunkmaster/stats"
)

// ServerMeta is the per-server metadata a csreg.Handle may optionally
// provide (spec §1 leaves the chunk-server-side transport, and with it the
// server's real IP/label/rack/usage, out of scope for this core - exactly
// the way topology.Provider is injected rather than computed here). A
// Handle that does not implement ServerMeta contributes a bare ServerID
// with no label/rack grouping and zero reported usage.
type ServerMeta interface {
	LabelMask() uint32
	IP() uint32
	RackID() uint32
	Usage() float64
}

// ServerInfo adapts csreg.Registry and stats.ReplicationCounters into the
// engine.ServerInfo contract engine.Job needs every tick.
type ServerInfo struct {
	Servers *csreg.Registry
	Repl    *stats.ReplicationCounters
}

// Candidates implements engine.ServerInfo: every registered, live server as
// a placement.Candidate.
func (s *ServerInfo) Candidates() []placement.Candidate {
	var out []placement.Candidate
	s.Servers.Each(func(slot *csreg.Slot) bool {
		if !slot.Valid || !slot.Registered {
			return true
		}
		c := placement.Candidate{ServerID: uint32(slot.ServerID)}
		if meta, ok := slot.Handle.(ServerMeta); ok {
			c.LabelMask = meta.LabelMask()
			c.IP = meta.IP()
			c.RackID = meta.RackID()
		}
		out = append(out, c)
		return true
	})
	return out
}

// Usage implements engine.ServerInfo: serverID's fractional disk usage, or
// 0 if the server is unknown or its Handle carries no usage telemetry.
func (s *ServerInfo) Usage(serverID uint16) float64 {
	slot := s.Servers.Get(serverID)
	if slot == nil {
		return 0
	}
	if meta, ok := slot.Handle.(ServerMeta); ok {
		return meta.Usage()
	}
	return 0
}

// ReadCounter/WriteCounter implement engine.ServerInfo by forwarding to the
// shared replication counters.
func (s *ServerInfo) ReadCounter(serverID uint16) int  { return s.Repl.ReadCounter(serverID) }
func (s *ServerInfo) WriteCounter(serverID uint16) int { return s.Repl.WriteCounter(serverID) }
