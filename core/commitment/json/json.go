// Package json defines the JSON messages of the commitment data model.
package json

import (
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

func init() {
	commitment.RegisterRootFormat(serde.FormatJSON, rootFormat{})
	commitment.RegisterSignatureFormat(serde.FormatJSON, signatureFormat{})
}

// RootJSON is the JSON message of a subject.
type RootJSON struct {
	MerkleRoot      commitment.Digest
	PlatformVersion uint32
	Algorithm       string
	PublicKey       []byte
}

// SignatureJSON is the JSON message of a commitment signature.
type SignatureJSON struct {
	Data    []byte
	Subject RootJSON
}

// rootFormat is the engine to encode and decode subjects in JSON format.
//
// - implements serde.FormatEngine
type rootFormat struct{}

// Encode implements serde.FormatEngine. It returns the JSON data of the
// subject if appropriate, otherwise it returns an error.
func (rootFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	root, ok := msg.(commitment.RootWithMetadata)
	if !ok {
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	data, err := ctx.Marshal(newRootJSON(root))
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine. It populates the subject from the
// JSON data if appropriate, otherwise it returns an error.
func (rootFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := RootJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	return m.toRoot(), nil
}

// signatureFormat is the engine to encode and decode commitment signatures in
// JSON format.
//
// - implements serde.FormatEngine
type signatureFormat struct{}

// Encode implements serde.FormatEngine. It returns the JSON data of the
// signature if appropriate, otherwise it returns an error.
func (signatureFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	sig, ok := msg.(commitment.CommitmentSignature)
	if !ok {
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	m := SignatureJSON{
		Data:    sig.Data,
		Subject: newRootJSON(sig.Subject),
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine. It populates the signature from the
// JSON data if appropriate, otherwise it returns an error.
func (signatureFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := SignatureJSON{}
	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	sig := commitment.CommitmentSignature{
		Data:    m.Data,
		Subject: m.Subject.toRoot(),
	}

	return sig, nil
}

func newRootJSON(root commitment.RootWithMetadata) RootJSON {
	return RootJSON{
		MerkleRoot:      root.MerkleRoot,
		PlatformVersion: root.Metadata.PlatformVersion,
		Algorithm:       root.Metadata.Algorithm,
		PublicKey:       root.Metadata.PublicKey,
	}
}

func (m RootJSON) toRoot() commitment.RootWithMetadata {
	return commitment.RootWithMetadata{
		MerkleRoot: m.MerkleRoot,
		Metadata: commitment.TransactionMetadata{
			PlatformVersion: m.PlatformVersion,
			Algorithm:       m.Algorithm,
			PublicKey:       m.PublicKey,
		},
	}
}
