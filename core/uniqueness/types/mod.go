// Package types defines the input references, the replicated commands and the
// records of the index of consumed inputs.
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/registry"
	"golang.org/x/xerrors"
)

// KeySize is the size of the canonical key of an input reference.
const KeySize = commitment.DigestSize + 4

var msgFormats = registry.NewSimpleRegistry()

// RegisterMessageFormat registers the engine for the provided format.
func RegisterMessageFormat(f serde.Format, e serde.FormatEngine) {
	msgFormats.Register(f, e)
}

// InputReference is the identifier of a ledger state consumed as an input of a
// transaction: the transaction that created the state and the index of the
// output.
type InputReference struct {
	TxID  commitment.Digest
	Index uint32
}

// ParseInputReference returns the reference of the text formatted as
// "txid:index" with the transaction identifier in hexadecimal.
func ParseInputReference(text string) (InputReference, error) {
	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return InputReference{}, xerrors.Errorf("malformed input reference '%s'", text)
	}

	txID, err := commitment.DigestFromHex(parts[0])
	if err != nil {
		return InputReference{}, xerrors.Errorf("invalid transaction id: %v", err)
	}

	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return InputReference{}, xerrors.Errorf("invalid index: %v", err)
	}

	return InputReference{TxID: txID, Index: uint32(index)}, nil
}

// Key returns the canonical key of the reference, the transaction identifier
// followed by the index in big-endian.
func (ref InputReference) Key() []byte {
	key := make([]byte, KeySize)
	copy(key, ref.TxID[:])
	binary.BigEndian.PutUint32(key[commitment.DigestSize:], ref.Index)

	return key
}

// String implements fmt.Stringer. It returns the reference formatted as
// "txid:index".
func (ref InputReference) String() string {
	return fmt.Sprintf("%v:%d", ref.TxID, ref.Index)
}

// InputReferenceFromKey returns the reference of the canonical key.
func InputReferenceFromKey(key []byte) (InputReference, error) {
	if len(key) != KeySize {
		return InputReference{}, xerrors.Errorf("invalid key length %d != %d", len(key), KeySize)
	}

	ref := InputReference{
		Index: binary.BigEndian.Uint32(key[commitment.DigestSize:]),
	}

	copy(ref.TxID[:], key)

	return ref, nil
}

// UniqueInputs returns the references without duplicates, sorted by their
// canonical key so that the same set always produces the same command.
func UniqueInputs(inputs []InputReference) []InputReference {
	set := make(map[InputReference]struct{}, len(inputs))
	res := make([]InputReference, 0, len(inputs))

	for _, input := range inputs {
		_, found := set[input]
		if found {
			continue
		}

		set[input] = struct{}{}
		res = append(res, input)
	}

	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].Key(), res[j].Key()) < 0
	})

	return res
}

// CommitLogEntry is the record of an input consumed by a transaction. A record
// is written once and never modified.
//
// - implements serde.Message
type CommitLogEntry struct {
	Input       InputReference
	CommittedBy commitment.Digest
	// LogIndex and LogTerm identify the entry of the replicated log that
	// consumed the input.
	LogIndex uint64
	LogTerm  uint64
	Party    string
}

// Serialize implements serde.Message.
func (e CommitLogEntry) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, e)
}

// CommitCommand is the command of the replicated log that claims the inputs for
// a transaction.
//
// - implements serde.Message
type CommitCommand struct {
	TxID   commitment.Digest
	Inputs []InputReference
	Party  string
}

// Serialize implements serde.Message.
func (c CommitCommand) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, c)
}

// Conflict is an input already consumed by another transaction.
type Conflict struct {
	Input       InputReference
	CommittedBy commitment.Digest
}

// CommitOutcome is the result of the application of a command. The command is
// accepted when there is no conflict and no rejection reason.
//
// - implements serde.Message
type CommitOutcome struct {
	Conflicts []Conflict
	// Reason is set when the command could not be applied at all.
	Reason string
}

// Serialize implements serde.Message.
func (o CommitOutcome) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, o)
}

// IndexSnapshot is the full content of the index of consumed inputs.
//
// - implements serde.Message
type IndexSnapshot struct {
	Entries []CommitLogEntry
}

// Serialize implements serde.Message.
func (s IndexSnapshot) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, s)
}

// MessageFactory is the factory to deserialize the messages of the package.
//
// - implements serde.Factory
type MessageFactory struct{}

// Deserialize implements serde.Factory. It populates the message from the data
// if appropriate, otherwise it returns an error.
func (MessageFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := msgFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("decoding failed: %v", err)
	}

	return msg, nil
}

func serializeMessage(ctx serde.Context, msg serde.Message) ([]byte, error) {
	format := msgFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, msg)
	if err != nil {
		return nil, xerrors.Errorf("encoding failed: %v", err)
	}

	return data, nil
}
