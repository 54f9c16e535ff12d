// Package fake provides fake implementations for interfaces commonly used in
// the repository.
//
// The implementations offer configuration to return errors when it is needed
// by the unit test.
package fake

import (
	"fmt"

	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

const fakeErrMsg = "fake error"

var fakeErr = xerrors.New(fakeErrMsg)

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the expected message of an error wrapping the fake error with
// the given message.
func Err(msg string) string {
	return fmt.Sprintf("%s: %s", msg, fakeErrMsg)
}

// Address is a fake implementation of mino.Address
type Address struct {
	index int
	err   error
}

// NewAddress returns a fake address with the given index.
func NewAddress(index int) Address {
	return Address{index: index}
}

// Equal implements mino.Address.
func (a Address) Equal(o mino.Address) bool {
	other, ok := o.(Address)
	return ok && other.index == a.index
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), a.err
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("fake.Address[%d]", a.index)
}

// SignatureByte is the byte returned when marshaling a fake signature.
const SignatureByte = 0xfe

// Signature is a fake implementation of the signature.
type Signature struct {
	crypto.Signature
	err error
}

// Equal implements crypto.Signature.
func (s Signature) Equal(o crypto.Signature) bool {
	_, ok := o.(Signature)
	return ok
}

// MarshalBinary implements crypto.Signature.
func (s Signature) MarshalBinary() ([]byte, error) {
	return []byte{SignatureByte}, s.err
}

// PublicKey is a fake implementation of crypto.PublicKey.
type PublicKey struct {
	crypto.PublicKey
	err       error
	verifyErr error
}

// NewBadPublicKey returns a new fake public key that returns error when
// appropriate.
func NewBadPublicKey() PublicKey {
	return PublicKey{err: fakeErr, verifyErr: fakeErr}
}

// GetAlgorithm implements crypto.PublicKey.
func (pk PublicKey) GetAlgorithm() string {
	return "FAKE"
}

// Verify implements crypto.PublicKey.
func (pk PublicKey) Verify([]byte, crypto.Signature) error {
	return pk.verifyErr
}

// Equal implements crypto.PublicKey.
func (pk PublicKey) Equal(other interface{}) bool {
	_, ok := other.(PublicKey)
	return ok
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return []byte("PK"), pk.err
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte("fake.PublicKey"), pk.err
}

// String implements fmt.Stringer.
func (pk PublicKey) String() string {
	return "fake.PublicKey"
}

// PublicKeyFactory is a fake implementation of a public key factory.
type PublicKeyFactory struct {
	pubkey PublicKey
	err    error
}

// FromBytes implements crypto.PublicKeyFactory.
func (f PublicKeyFactory) FromBytes([]byte) (crypto.PublicKey, error) {
	return f.pubkey, f.err
}

// SignatureFactory is a fake implementation of the signature factory.
type SignatureFactory struct {
	err error
}

// FromBytes implements crypto.SignatureFactory.
func (f SignatureFactory) FromBytes([]byte) (crypto.Signature, error) {
	return Signature{}, f.err
}

// Signer is a fake implementation of the crypto.Signer interface.
type Signer struct {
	pubkey PublicKey
	err    error
}

// NewBadSigner returns a fake signer that will return an error when
// appropriate.
func NewBadSigner() Signer {
	return Signer{err: fakeErr}
}

// NewSignerWithPublicKey returns a fake signer with the public key.
func NewSignerWithPublicKey(pubkey PublicKey) Signer {
	return Signer{pubkey: pubkey}
}

// GetPublicKeyFactory implements crypto.Signer.
func (s Signer) GetPublicKeyFactory() crypto.PublicKeyFactory {
	return PublicKeyFactory{pubkey: s.pubkey}
}

// GetSignatureFactory implements crypto.Signer.
func (s Signer) GetSignatureFactory() crypto.SignatureFactory {
	return SignatureFactory{}
}

// GetPublicKey implements crypto.Signer.
func (s Signer) GetPublicKey() crypto.PublicKey {
	return s.pubkey
}

// Sign implements crypto.Signer.
func (s Signer) Sign([]byte) (crypto.Signature, error) {
	return Signature{}, s.err
}

// MarshalBinary implements crypto.Signer.
func (s Signer) MarshalBinary() ([]byte, error) {
	return []byte("SK"), s.err
}

// Message is a fake implementation of a message.
//
// - implements serde.Message
type Message struct {
	Digest []byte
}

// Serialize implements serde.Message.
func (m Message) Serialize(ctx serde.Context) ([]byte, error) {
	return []byte("{}"), nil
}

// MessageFactory is a fake implementation of a message factory.
//
// - implements serde.Factory
type MessageFactory struct {
	err error
}

// NewBadMessageFactory returns a message factory that returns an error when
// appropriate.
func NewBadMessageFactory() MessageFactory {
	return MessageFactory{err: fakeErr}
}

// Deserialize implements serde.Factory.
func (f MessageFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	return Message{}, f.err
}

// BadMessage is a fake message that always fails to serialize.
//
// - implements serde.Message
type BadMessage struct{}

// Serialize implements serde.Message.
func (BadMessage) Serialize(serde.Context) ([]byte, error) {
	return nil, fakeErr
}

// ContextEngine is a fake implementation of the serde.ContextEngine interface.
type ContextEngine struct {
	err error
}

// NewContext returns a new serde context.
func NewContext() serde.Context {
	return NewContextWithFormat(serde.FormatJSON)
}

// NewContextWithFormat returns a new serde context that returns the format.
func NewContextWithFormat(f serde.Format) serde.Context {
	return serde.NewContext(contextEngineWithFormat{format: f})
}

// NewBadContext returns a new serde context that returns an error when
// appropriate.
func NewBadContext() serde.Context {
	return serde.NewContext(ContextEngine{err: fakeErr})
}

// GetFormat implements serde.ContextEngine.
func (ctx ContextEngine) GetFormat() serde.Format {
	return serde.FormatJSON
}

// Marshal implements serde.ContextEngine.
func (ctx ContextEngine) Marshal(interface{}) ([]byte, error) {
	return nil, ctx.err
}

// Unmarshal implements serde.ContextEngine.
func (ctx ContextEngine) Unmarshal([]byte, interface{}) error {
	return ctx.err
}

type contextEngineWithFormat struct {
	ContextEngine
	format serde.Format
}

func (ctx contextEngineWithFormat) GetFormat() serde.Format {
	return ctx.format
}
