// Package crypto defines the cryptographic primitives used to commit to a
// notarization: public keys, signatures, signers and hash functions.
//
// A primitive is always bound to an algorithm name so that a public key can
// be transported as raw bytes next to its algorithm, and resolved later by a
// registry of supported schemes.
package crypto

import (
	"encoding"
	"fmt"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler
	fmt.Stringer

	// GetAlgorithm returns the name of the signature algorithm of the key.
	GetAlgorithm() string

	// Verify returns nil if the signature matches the message, otherwise an
	// error.
	Verify(msg []byte, signature Signature) error

	// Equal returns true when the other key is the same.
	Equal(other interface{}) bool
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true when the other signature is the same.
	Equal(other Signature) bool
}

// PublicKeyFactory is a factory to create public keys from their binary
// representation.
type PublicKeyFactory interface {
	// FromBytes returns the public key of the data, or an error if the data
	// is not a valid key.
	FromBytes(data []byte) (PublicKey, error)
}

// SignatureFactory is a factory to create signatures from their binary
// representation.
type SignatureFactory interface {
	// FromBytes returns the signature of the data, or an error if the data is
	// malformed.
	FromBytes(data []byte) (Signature, error)
}

// Signer provides the primitives to sign messages.
type Signer interface {
	// GetPublicKeyFactory returns the factory for the keys of the signer
	// algorithm.
	GetPublicKeyFactory() PublicKeyFactory

	// GetSignatureFactory returns the factory for the signatures of the signer
	// algorithm.
	GetSignatureFactory() SignatureFactory

	// GetPublicKey returns the public key of the signer.
	GetPublicKey() PublicKey

	// Sign returns the signature of the message.
	Sign(msg []byte) (Signature, error)

	// MarshalBinary returns the private key material so that the signer can
	// be persisted.
	MarshalBinary() ([]byte, error)
}
