package commitment

import (
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

// Resolver resolves the public keys and the signatures transported as raw
// bytes next to their algorithm.
type Resolver interface {
	PublicKeyOf(algorithm string, data []byte) (crypto.PublicKey, error)

	SignatureOf(algorithm string, data []byte) (crypto.Signature, error)
}

// CommitmentSignature is the proof of a notarization. It is self-contained as
// it carries the subject that was signed.
//
// - implements serde.Message
type CommitmentSignature struct {
	Data    []byte
	Subject RootWithMetadata
}

// NewCommitmentSignature signs the canonical bytes of the subject with the
// signer. The metadata of the subject must match the public key of the signer.
func NewCommitmentSignature(signer crypto.Signer, subject RootWithMetadata) (CommitmentSignature, error) {
	expected, err := NewTransactionMetadata(subject.Metadata.PlatformVersion, signer.GetPublicKey())
	if err != nil {
		return CommitmentSignature{}, xerrors.Errorf("invalid signer: %v", err)
	}

	if !expected.Equal(subject.Metadata) {
		return CommitmentSignature{}, xerrors.New("metadata does not match the signer")
	}

	msg, err := subject.Bytes()
	if err != nil {
		return CommitmentSignature{}, xerrors.Errorf("couldn't encode subject: %v", err)
	}

	sig, err := signer.Sign(msg)
	if err != nil {
		return CommitmentSignature{}, xerrors.Errorf("couldn't sign: %v", err)
	}

	data, err := sig.MarshalBinary()
	if err != nil {
		return CommitmentSignature{}, xerrors.Errorf("couldn't marshal signature: %v", err)
	}

	cs := CommitmentSignature{
		Data:    data,
		Subject: subject,
	}

	return cs, nil
}

// Verify checks the signature against the public key of the subject. It
// returns true when the signature is valid and false when the verification
// fails cryptographically. An error is returned when the verification cannot
// take place: unsupported algorithm, invalid public key or malformed
// signature.
func (s CommitmentSignature) Verify(r Resolver) (bool, error) {
	meta := s.Subject.Metadata

	pubkey, err := r.PublicKeyOf(meta.Algorithm, meta.PublicKey)
	if err != nil {
		return false, xerrors.Errorf("couldn't resolve public key: %w", err)
	}

	if len(s.Data) == 0 {
		return false, ErrEmptySignature
	}

	sig, err := r.SignatureOf(meta.Algorithm, s.Data)
	if err != nil {
		return false, xerrors.Errorf("couldn't resolve signature: %w", err)
	}

	msg, err := s.Subject.Bytes()
	if err != nil {
		return false, xerrors.Errorf("couldn't encode subject: %v", err)
	}

	err = pubkey.Verify(msg, sig)
	if err != nil {
		return false, nil
	}

	return true, nil
}

// Serialize implements serde.Message. It returns the serialized data of the
// signature.
func (s CommitmentSignature) Serialize(ctx serde.Context) ([]byte, error) {
	format := signatureFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, s)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode signature: %v", err)
	}

	return data, nil
}

// SignatureFactory is the factory to deserialize commitment signatures.
//
// - implements serde.Factory
type SignatureFactory struct{}

// Deserialize implements serde.Factory. It populates the commitment signature
// from the data if appropriate, otherwise it returns an error.
func (SignatureFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := signatureFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode signature: %v", err)
	}

	return msg, nil
}
