// Package types defines the entries of the replicated log and the messages
// exchanged by the members of a Raft cluster.
package types

import (
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/registry"
	"golang.org/x/xerrors"
)

var (
	msgFormats   = registry.NewSimpleRegistry()
	entryFormats = registry.NewSimpleRegistry()
)

// RegisterMessageFormat registers the engine for the provided format.
func RegisterMessageFormat(f serde.Format, e serde.FormatEngine) {
	msgFormats.Register(f, e)
}

// RegisterEntryFormat registers the engine for the provided format.
func RegisterEntryFormat(f serde.Format, e serde.FormatEngine) {
	entryFormats.Register(f, e)
}

// EntryType is the type of a log entry.
type EntryType uint8

const (
	// EntryNoOp is the entry appended by a leader when it is elected so that
	// the entries of the previous terms can be committed.
	EntryNoOp EntryType = iota

	// EntryCommand is an entry holding a command for the state machine.
	EntryCommand
)

// Entry is an element of the replicated log.
//
// - implements serde.Message
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	// ID is the correlation identifier of the proposal.
	ID   string
	Data []byte
}

// Serialize implements serde.Message. It returns the serialized data of the
// entry.
func (e Entry) Serialize(ctx serde.Context) ([]byte, error) {
	format := entryFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, e)
	if err != nil {
		return nil, xerrors.Errorf("encoding failed: %v", err)
	}

	return data, nil
}

// EntryFactory is the factory to deserialize log entries.
//
// - implements serde.Factory
type EntryFactory struct{}

// Deserialize implements serde.Factory. It populates the entry from the data
// if appropriate, otherwise it returns an error.
func (EntryFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := entryFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("decoding failed: %v", err)
	}

	return msg, nil
}

// EntryOf returns the entry of the data.
func (f EntryFactory) EntryOf(ctx serde.Context, data []byte) (Entry, error) {
	msg, err := f.Deserialize(ctx, data)
	if err != nil {
		return Entry{}, err
	}

	entry, ok := msg.(Entry)
	if !ok {
		return Entry{}, xerrors.Errorf("invalid entry '%T'", msg)
	}

	return entry, nil
}
