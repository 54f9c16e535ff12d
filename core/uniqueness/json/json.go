// Package json defines the JSON messages of the uniqueness provider.
package json

import (
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

func init() {
	types.RegisterMessageFormat(serde.FormatJSON, msgFormat{})
}

// InputJSON is the JSON message of an input reference.
type InputJSON struct {
	TxID  commitment.Digest
	Index uint32
}

// EntryJSON is the JSON message of a record of the index.
type EntryJSON struct {
	Input       InputJSON
	CommittedBy commitment.Digest
	LogIndex    uint64
	LogTerm     uint64
	Party       string `json:",omitempty"`
}

// CommandJSON is the JSON message of a commit command.
type CommandJSON struct {
	TxID   commitment.Digest
	Inputs []InputJSON
	Party  string `json:",omitempty"`
}

// ConflictJSON is the JSON message of a conflicting input.
type ConflictJSON struct {
	Input       InputJSON
	CommittedBy commitment.Digest
}

// OutcomeJSON is the JSON message of the result of a command.
type OutcomeJSON struct {
	Conflicts []ConflictJSON `json:",omitempty"`
	Reason    string         `json:",omitempty"`
}

// SnapshotJSON is the JSON message of a snapshot of the index.
type SnapshotJSON struct {
	Entries []EntryJSON
}

// MessageJSON is the wrapper of the messages. Only one field is expected to be
// set.
type MessageJSON struct {
	Entry    *EntryJSON    `json:",omitempty"`
	Command  *CommandJSON  `json:",omitempty"`
	Outcome  *OutcomeJSON  `json:",omitempty"`
	Snapshot *SnapshotJSON `json:",omitempty"`
}

// msgFormat is the engine to encode and decode the messages in JSON format.
//
// - implements serde.FormatEngine
type msgFormat struct{}

// Encode implements serde.FormatEngine. It returns the JSON data of the
// message if appropriate, otherwise it returns an error.
func (msgFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	var m MessageJSON

	switch in := msg.(type) {
	case types.CommitLogEntry:
		entry := newEntryJSON(in)
		m.Entry = &entry
	case types.CommitCommand:
		m.Command = &CommandJSON{
			TxID:   in.TxID,
			Inputs: newInputsJSON(in.Inputs),
			Party:  in.Party,
		}
	case types.CommitOutcome:
		m.Outcome = &OutcomeJSON{Reason: in.Reason}

		for _, conflict := range in.Conflicts {
			m.Outcome.Conflicts = append(m.Outcome.Conflicts, ConflictJSON{
				Input:       newInputJSON(conflict.Input),
				CommittedBy: conflict.CommittedBy,
			})
		}
	case types.IndexSnapshot:
		m.Snapshot = &SnapshotJSON{
			Entries: make([]EntryJSON, len(in.Entries)),
		}

		for i, entry := range in.Entries {
			m.Snapshot.Entries[i] = newEntryJSON(entry)
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
	case m.Entry != nil:
		return m.Entry.toEntry(), nil
	case m.Command != nil:
		cmd := types.CommitCommand{
			TxID:  m.Command.TxID,
			Party: m.Command.Party,
		}

		if len(m.Command.Inputs) > 0 {
			cmd.Inputs = make([]types.InputReference, len(m.Command.Inputs))
		}

		for i, input := range m.Command.Inputs {
			cmd.Inputs[i] = input.toInput()
		}

		return cmd, nil
	case m.Outcome != nil:
		outcome := types.CommitOutcome{Reason: m.Outcome.Reason}

		for _, conflict := range m.Outcome.Conflicts {
			outcome.Conflicts = append(outcome.Conflicts, types.Conflict{
				Input:       conflict.Input.toInput(),
				CommittedBy: conflict.CommittedBy,
			})
		}

		return outcome, nil
	case m.Snapshot != nil:
		snap := types.IndexSnapshot{}

		for _, entry := range m.Snapshot.Entries {
			snap.Entries = append(snap.Entries, entry.toEntry())
		}

		return snap, nil
	}

	return nil, xerrors.New("message is empty")
}

func newInputJSON(ref types.InputReference) InputJSON {
	return InputJSON{TxID: ref.TxID, Index: ref.Index}
}

func newInputsJSON(refs []types.InputReference) []InputJSON {
	res := make([]InputJSON, len(refs))
	for i, ref := range refs {
		res[i] = newInputJSON(ref)
	}

	return res
}

func (m InputJSON) toInput() types.InputReference {
	return types.InputReference{TxID: m.TxID, Index: m.Index}
}

func newEntryJSON(entry types.CommitLogEntry) EntryJSON {
	return EntryJSON{
		Input:       newInputJSON(entry.Input),
		CommittedBy: entry.CommittedBy,
		LogIndex:    entry.LogIndex,
		LogTerm:     entry.LogTerm,
		Party:       entry.Party,
	}
}

func (m EntryJSON) toEntry() types.CommitLogEntry {
	return types.CommitLogEntry{
		Input:       m.Input.toInput(),
		CommittedBy: m.CommittedBy,
		LogIndex:    m.LogIndex,
		LogTerm:     m.LogTerm,
		Party:       m.Party,
	}
}
