// Package types defines the messages exchanged between a requester and the
// members of a notary cluster.
package types

import (
	"time"

	"go.dedis.ch/notary/core/commitment"
	uniqueness "go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/registry"
	"golang.org/x/xerrors"
)

var msgFormats = registry.NewSimpleRegistry()

// RegisterMessageFormat registers the engine for the provided format.
func RegisterMessageFormat(f serde.Format, e serde.FormatEngine) {
	msgFormats.Register(f, e)
}

// Status is the outcome of a notarization request.
type Status string

const (
	// StatusSigned is the status of a request notarized by the member.
	StatusSigned Status = "signed"

	// StatusConflict is the status of a request with inputs consumed by
	// another transaction.
	StatusConflict Status = "conflict"

	// StatusTimeWindowInvalid is the status of a request received outside of
	// its time window.
	StatusTimeWindowInvalid Status = "timeWindowInvalid"

	// StatusNotLeader is the status of a request received by a member which is
	// not the leader. The request should be sent again to the leader.
	StatusNotLeader Status = "notLeader"

	// StatusUnavailable is the status of a request that could not reach
	// consensus. It can be retried later.
	StatusUnavailable Status = "unavailable"

	// StatusUnknown is the status of a request with an unknown outcome. A retry
	// of the same request is safe.
	StatusUnknown Status = "unknown"

	// StatusRejected is the status of a request that the member refuses to
	// process.
	StatusRejected Status = "rejected"
)

// TimeWindow is the interval of time a transaction can be notarized in. A zero
// bound is open.
type TimeWindow struct {
	From  time.Time
	Until time.Time
}

// Contains returns true if the time is in the window extended on both sides by
// the tolerance.
func (w TimeWindow) Contains(t time.Time, tolerance time.Duration) bool {
	if !w.From.IsZero() && t.Before(w.From.Add(-tolerance)) {
		return false
	}

	if !w.Until.IsZero() && t.After(w.Until.Add(tolerance)) {
		return false
	}

	return true
}

// Request is the request to notarize a transaction.
//
// - implements serde.Message
type Request struct {
	TransactionID commitment.Digest
	Inputs        []uniqueness.InputReference
	Party         string
	TimeWindow    TimeWindow
	// Schemes is the list of signature algorithms accepted by the requester
	// in its order of preference. An empty list accepts any algorithm.
	Schemes []string
	// Payload is the content of the transaction, used by validating members.
	Payload []byte
}

// Serialize implements serde.Message.
func (r Request) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, r)
}

// Response is the answer of a member to a notarization request.
//
// - implements serde.Message
type Response struct {
	Status Status
	// Signature is set when the request is signed.
	Signature *commitment.CommitmentSignature
	// Conflicts is set when inputs are consumed by other transactions.
	Conflicts []uniqueness.Conflict
	// RedirectTo is the text representation of the address of the leader when
	// it is known.
	RedirectTo string
	Reason     string
}

// Serialize implements serde.Message.
func (r Response) Serialize(ctx serde.Context) ([]byte, error) {
	return serializeMessage(ctx, r)
}

// MessageFactory is the factory to deserialize requests and responses.
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
