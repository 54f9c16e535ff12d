package types

import (
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

// RequestVote is the message sent by a candidate to gather the votes of the
// other members.
//
// - implements serde.Message
type RequestVote struct {
	Term         uint64
	Candidate    string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// Serialize implements serde.Message.
func (m RequestVote) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// VoteReply is the answer to a vote request.
//
// - implements serde.Message
type VoteReply struct {
	Term    uint64
	Granted bool
}

// Serialize implements serde.Message.
func (m VoteReply) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// AppendEntries is the message sent by a leader to replicate its log. It is
// also sent without entries as a heartbeat.
//
// - implements serde.Message
type AppendEntries struct {
	Term         uint64
	Leader       string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

// Serialize implements serde.Message.
func (m AppendEntries) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// AppendReply is the answer to an append request. On success, the index is the
// last index known to match the leader log. Otherwise it is the index the
// leader should try next.
//
// - implements serde.Message
type AppendReply struct {
	Term    uint64
	Success bool
	Index   uint64
}

// Serialize implements serde.Message.
func (m AppendReply) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// InstallSnapshot is the message sent by a leader to a member that is behind
// the compaction point of the log. The state is compressed and the checksum is
// computed over the compressed data.
//
// - implements serde.Message
type InstallSnapshot struct {
	Term      uint64
	Leader    string
	LastIndex uint64
	LastTerm  uint64
	Data      []byte
	Checksum  []byte
}

// Serialize implements serde.Message.
func (m InstallSnapshot) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// SnapshotReply is the answer to a snapshot installation.
//
// - implements serde.Message
type SnapshotReply struct {
	Term    uint64
	Success bool
}

// Serialize implements serde.Message.
func (m SnapshotReply) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, m)
}

// EntryKey is the key of the entry factory in the serde context.
type EntryKey struct{}

// MessageFactory is the factory to deserialize the Raft messages.
//
// - implements serde.Factory
type MessageFactory struct{}

// NewMessageFactory returns a new message factory.
func NewMessageFactory() MessageFactory {
	return MessageFactory{}
}

// Deserialize implements serde.Factory. It populates the message from the data
// if appropriate, otherwise it returns an error.
func (f MessageFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := msgFormats.Get(ctx.GetFormat())

	ctx = serde.WithFactory(ctx, EntryKey{}, EntryFactory{})

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("decoding failed: %v", err)
	}

	return msg, nil
}

func serializeMessage(ctx serde.Context, m serde.Message) ([]byte, error) {
	format := msgFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, m)
	if err != nil {
		return nil, xerrors.Errorf("encoding failed: %v", err)
	}

	return data, nil
}
