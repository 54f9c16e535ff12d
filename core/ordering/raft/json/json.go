// Package json defines the JSON messages of the Raft consensus.
package json

import (
	"encoding/json"

	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

func init() {
	types.RegisterMessageFormat(serde.FormatJSON, msgFormat{})
	types.RegisterEntryFormat(serde.FormatJSON, entryFormat{})
}

// EntryJSON is the JSON message of a log entry.
type EntryJSON struct {
	Index uint64
	Term  uint64
	Type  uint8
	ID    string `json:",omitempty"`
	Data  []byte `json:",omitempty"`
}

// RequestVoteJSON is the JSON message of a vote request.
type RequestVoteJSON struct {
	Term         uint64
	Candidate    string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// VoteReplyJSON is the JSON message of a vote reply.
type VoteReplyJSON struct {
	Term    uint64
	Granted bool
}

// AppendEntriesJSON is the JSON message of an append request.
type AppendEntriesJSON struct {
	Term         uint64
	Leader       string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []json.RawMessage
	LeaderCommit uint64
}

// AppendReplyJSON is the JSON message of an append reply.
type AppendReplyJSON struct {
	Term    uint64
	Success bool
	Index   uint64
}

// InstallSnapshotJSON is the JSON message of a snapshot installation.
type InstallSnapshotJSON struct {
	Term      uint64
	Leader    string
	LastIndex uint64
	LastTerm  uint64
	Data      []byte
	Checksum  []byte
}

// SnapshotReplyJSON is the JSON message of a snapshot reply.
type SnapshotReplyJSON struct {
	Term    uint64
	Success bool
}

// MessageJSON is the wrapper of the Raft messages. Only one field is expected
// to be set.
type MessageJSON struct {
	RequestVote     *RequestVoteJSON     `json:",omitempty"`
	VoteReply       *VoteReplyJSON       `json:",omitempty"`
	AppendEntries   *AppendEntriesJSON   `json:",omitempty"`
	AppendReply     *AppendReplyJSON     `json:",omitempty"`
	InstallSnapshot *InstallSnapshotJSON `json:",omitempty"`
	SnapshotReply   *SnapshotReplyJSON   `json:",omitempty"`
}

// entryFormat is the engine to encode and decode log entries in JSON format.
//
// - implements serde.FormatEngine
type entryFormat struct{}

// Encode implements serde.FormatEngine. It returns the JSON data of the entry.
func (entryFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	entry, ok := msg.(types.Entry)
	if !ok {
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	m := EntryJSON{
		Index: entry.Index,
		Term:  entry.Term,
		Type:  uint8(entry.Type),
		ID:    entry.ID,
		Data:  entry.Data,
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine. It populates the entry from the JSON
// data.
func (entryFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := EntryJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	entry := types.Entry{
		Index: m.Index,
		Term:  m.Term,
		Type:  types.EntryType(m.Type),
		ID:    m.ID,
		Data:  m.Data,
	}

	return entry, nil
}

// msgFormat is the engine to encode and decode the Raft messages in JSON
// format.
//
// - implements serde.FormatEngine
type msgFormat struct{}

// Encode implements serde.FormatEngine. It returns the JSON data of the
// message if appropriate, otherwise it returns an error.
func (msgFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	var m MessageJSON

	switch in := msg.(type) {
	case types.RequestVote:
		m.RequestVote = &RequestVoteJSON{
			Term:         in.Term,
			Candidate:    in.Candidate,
			LastLogIndex: in.LastLogIndex,
			LastLogTerm:  in.LastLogTerm,
		}
	case types.VoteReply:
		m.VoteReply = &VoteReplyJSON{
			Term:    in.Term,
			Granted: in.Granted,
		}
	case types.AppendEntries:
		entries := make([]json.RawMessage, len(in.Entries))
		for i, entry := range in.Entries {
			raw, err := entry.Serialize(ctx)
			if err != nil {
				return nil, xerrors.Errorf("couldn't serialize entry: %v", err)
			}

			entries[i] = raw
		}

		m.AppendEntries = &AppendEntriesJSON{
			Term:         in.Term,
			Leader:       in.Leader,
			PrevLogIndex: in.PrevLogIndex,
			PrevLogTerm:  in.PrevLogTerm,
			Entries:      entries,
			LeaderCommit: in.LeaderCommit,
		}
	case types.AppendReply:
		m.AppendReply = &AppendReplyJSON{
			Term:    in.Term,
			Success: in.Success,
			Index:   in.Index,
		}
	case types.InstallSnapshot:
		m.InstallSnapshot = &InstallSnapshotJSON{
			Term:      in.Term,
			Leader:    in.Leader,
			LastIndex: in.LastIndex,
			LastTerm:  in.LastTerm,
			Data:      in.Data,
			Checksum:  in.Checksum,
		}
	case types.SnapshotReply:
		m.SnapshotReply = &SnapshotReplyJSON{
			Term:    in.Term,
			Success: in.Success,
		}
	default:
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine. It populates the message from the JSON
// data if appropriate, otherwise it returns an error.
func (msgFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := MessageJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	switch {
	case m.RequestVote != nil:
		msg := types.RequestVote{
			Term:         m.RequestVote.Term,
			Candidate:    m.RequestVote.Candidate,
			LastLogIndex: m.RequestVote.LastLogIndex,
			LastLogTerm:  m.RequestVote.LastLogTerm,
		}

		return msg, nil
	case m.VoteReply != nil:
		msg := types.VoteReply{
			Term:    m.VoteReply.Term,
			Granted: m.VoteReply.Granted,
		}

		return msg, nil
	case m.AppendEntries != nil:
		return decodeAppendEntries(ctx, m.AppendEntries)
	case m.AppendReply != nil:
		msg := types.AppendReply{
			Term:    m.AppendReply.Term,
			Success: m.AppendReply.Success,
			Index:   m.AppendReply.Index,
		}

		return msg, nil
	case m.InstallSnapshot != nil:
		msg := types.InstallSnapshot{
			Term:      m.InstallSnapshot.Term,
			Leader:    m.InstallSnapshot.Leader,
			LastIndex: m.InstallSnapshot.LastIndex,
			LastTerm:  m.InstallSnapshot.LastTerm,
			Data:      m.InstallSnapshot.Data,
			Checksum:  m.InstallSnapshot.Checksum,
		}

		return msg, nil
	case m.SnapshotReply != nil:
		msg := types.SnapshotReply{
			Term:    m.SnapshotReply.Term,
			Success: m.SnapshotReply.Success,
		}

		return msg, nil
	}

	return nil, xerrors.New("message is empty")
}

func decodeAppendEntries(ctx serde.Context, m *AppendEntriesJSON) (serde.Message, error) {
	fac := ctx.GetFactory(types.EntryKey{})

	factory, ok := fac.(types.EntryFactory)
	if !ok {
		return nil, xerrors.Errorf("invalid entry factory '%T'", fac)
	}

	var entries []types.Entry
	if len(m.Entries) > 0 {
		entries = make([]types.Entry, len(m.Entries))
	}

	for i, raw := range m.Entries {
		entry, err := factory.EntryOf(ctx, raw)
		if err != nil {
			return nil, xerrors.Errorf("couldn't deserialize entry: %v", err)
		}

		entries[i] = entry
	}

	msg := types.AppendEntries{
		Term:         m.Term,
		Leader:       m.Leader,
		PrevLogIndex: m.PrevLogIndex,
		PrevLogTerm:  m.PrevLogTerm,
		Entries:      entries,
		LeaderCommit: m.LeaderCommit,
	}

	return msg, nil
}
