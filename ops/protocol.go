package ops

import "github.com/moosefs/chunkmaster/replica"

// CommandKind is the master->chunk-server message family (spec §6.2).
type CommandKind uint8

const (
	CmdCreate CommandKind = iota
	CmdDelete
	CmdSetVersion
	CmdDuplicate
	CmdTruncate
	CmdDupTrunc
	CmdReplicate
	CmdLocalSplit
	CmdChunkStatusQuery
)

// DeleteReason is purely informational context sent with CmdDelete (spec
// §6.2).
type DeleteReason uint8

const (
	DeleteInvalid DeleteReason = iota
	DeleteNotNeeded
	DeleteOvergoal
)

// ReplicateMode selects one of the four REPLICATE message shapes (spec
// §6.2).
type ReplicateMode uint8

const (
	ReplicateSimple ReplicateMode = iota
	ReplicateSplit
	ReplicateRecover
	ReplicateJoin
)

// ReplicationReason is the operator-visible reason code for a REPLICATE
// command (spec §6.3).
type ReplicationReason uint8

const (
	ReasonCopyIO ReplicationReason = iota
	ReasonCopyEndangered
	ReasonCopyUndergoal
	ReasonCopyWrongLabel
	ReasonCopyRebalance
	ReasonECEndangered
	ReasonECUndergoal
	ReasonECWrongLabel
	ReasonECRebalance
	ReasonLocalSplitToEC4
	ReasonLocalSplitToEC8
	ReasonJoinECIO
	ReasonJoinECChange
	ReasonJoinECNoServers
	ReasonJoinECGeneric
	ReasonSplitECGeneric
	ReasonRecoverIO
)

// Status is a chunk-server's report of how a command went (spec §6.2).
type Status uint8

const (
	StatusOK Status = iota
	StatusNotDone
	StatusWrongVersion
	StatusNoChunk
	StatusNoSpace
	StatusETimedOut
	StatusMismatch
)

// Command is one outbound master->chunk-server message (spec §6.2). Not
// every field is meaningful for every Kind; see the per-op Issue functions
// for which fields each Kind actually populates.
type Command struct {
	Kind CommandKind

	ServerID uint16

	ChunkID    uint64
	Part       replica.PartID
	Version    uint32
	OldVersion uint32

	// DUPLICATE/DUPTRUNC: the new chunk being derived from this one.
	NewChunkID uint64
	NewPart    replica.PartID
	NewVersion uint32

	// TRUNCATE/DUPTRUNC.
	Length uint64

	DeleteReason DeleteReason

	// REPLICATE.
	ReplicateMode ReplicateMode
	Sources       []uint16
	ECIDs         []replica.PartID
	Reason        ReplicationReason

	// LOCALSPLIT.
	MissingMask uint32
	Parts       []replica.PartID
}

// PendingOp is the per-server bookkeeping the CS registry keeps so a
// disconnect or a got-status reply can be matched back to the operation
// that caused it (spec §3.4, §4.8).
type PendingOp struct {
	OpID     uint64
	ChunkID  uint64
	Part     replica.PartID
	ServerID uint16
}
