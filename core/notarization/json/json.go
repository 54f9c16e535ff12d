// Package json defines the JSON messages of the notarization protocol.
package json

import (
	"encoding/json"
	"time"

	"go.dedis.ch/notary/core/commitment"
	_ "go.dedis.ch/notary/core/commitment/json"
	"go.dedis.ch/notary/core/notarization/types"
	uniqueness "go.dedis.ch/notary/core/uniqueness/types"
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

// RequestJSON is the JSON message of a notarization request. The bounds of the
// time window are RFC 3339 timestamps in UTC, and absent when open.
type RequestJSON struct {
	TransactionID commitment.Digest
	Inputs        []InputJSON
	Party         string     `json:",omitempty"`
	From          *time.Time `json:",omitempty"`
	Until         *time.Time `json:",omitempty"`
	Schemes       []string   `json:",omitempty"`
	Payload       []byte     `json:",omitempty"`
}

// ConflictJSON is the JSON message of a conflicting input.
type ConflictJSON struct {
	Input       InputJSON
	CommittedBy commitment.Digest
}

// ResponseJSON is the JSON message of a response.
type ResponseJSON struct {
	Status     string
	Signature  json.RawMessage `json:",omitempty"`
	Conflicts  []ConflictJSON  `json:",omitempty"`
	RedirectTo string          `json:",omitempty"`
	Reason     string          `json:",omitempty"`
}

// MessageJSON is the wrapper of the messages. Only one field is expected to be
// set.
type MessageJSON struct {
	Request  *RequestJSON  `json:",omitempty"`
	Response *ResponseJSON `json:",omitempty"`
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
	case types.Request:
		req := RequestJSON{
			TransactionID: in.TransactionID,
			Inputs:        make([]InputJSON, len(in.Inputs)),
			Party:         in.Party,
			From:          encodeTime(in.TimeWindow.From),
			Until:         encodeTime(in.TimeWindow.Until),
			Schemes:       in.Schemes,
			Payload:       in.Payload,
		}

		for i, input := range in.Inputs {
			req.Inputs[i] = InputJSON{TxID: input.TxID, Index: input.Index}
		}

		m.Request = &req
	case types.Response:
		resp := ResponseJSON{
			Status:     string(in.Status),
			RedirectTo: in.RedirectTo,
			Reason:     in.Reason,
		}

		if in.Signature != nil {
			data, err := in.Signature.Serialize(ctx)
			if err != nil {
				return nil, xerrors.Errorf("couldn't serialize signature: %v", err)
			}

			resp.Signature = data
		}

		for _, conflict := range in.Conflicts {
			resp.Conflicts = append(resp.Conflicts, ConflictJSON{
				Input:       InputJSON{TxID: conflict.Input.TxID, Index: conflict.Input.Index},
				CommittedBy: conflict.CommittedBy,
			})
		}

		m.Response = &resp
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
	case m.Request != nil:
		req := types.Request{
			TransactionID: m.Request.TransactionID,
			Party:         m.Request.Party,
			TimeWindow: types.TimeWindow{
				From:  decodeTime(m.Request.From),
				Until: decodeTime(m.Request.Until),
			},
			Schemes: m.Request.Schemes,
			Payload: m.Request.Payload,
		}

		if len(m.Request.Inputs) > 0 {
			req.Inputs = make([]uniqueness.InputReference, len(m.Request.Inputs))
		}

		for i, input := range m.Request.Inputs {
			req.Inputs[i] = uniqueness.InputReference{TxID: input.TxID, Index: input.Index}
		}

		return req, nil
	case m.Response != nil:
		return decodeResponse(ctx, m.Response)
	}

	return nil, xerrors.New("message is empty")
}

func decodeResponse(ctx serde.Context, m *ResponseJSON) (serde.Message, error) {
	resp := types.Response{
		Status:     types.Status(m.Status),
		RedirectTo: m.RedirectTo,
		Reason:     m.Reason,
	}

	if len(m.Signature) > 0 {
		msg, err := commitment.SignatureFactory{}.Deserialize(ctx, m.Signature)
		if err != nil {
			return nil, xerrors.Errorf("couldn't deserialize signature: %v", err)
		}

		sig, ok := msg.(commitment.CommitmentSignature)
		if !ok {
			return nil, xerrors.Errorf("invalid signature '%T'", msg)
		}

		resp.Signature = &sig
	}

	for _, conflict := range m.Conflicts {
		resp.Conflicts = append(resp.Conflicts, uniqueness.Conflict{
			Input: uniqueness.InputReference{
				TxID:  conflict.Input.TxID,
				Index: conflict.Input.Index,
			},
			CommittedBy: conflict.CommittedBy,
		})
	}

	return resp, nil
}

func encodeTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	utc := t.UTC()

	return &utc
}

func decodeTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}

	return *t
}
