// Package commitment defines the data model of a notarization: the digest of
// a transaction, the metadata of the notary that signs it and the signature
// that commits to both.
//
// The canonical bytes of a subject are the exact payload that is signed. The
// encoding is deterministic and versioned so that a signature can be verified
// offline, long after it was produced, without any other state.
package commitment

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"

	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/registry"
	"golang.org/x/xerrors"
)

const (
	// DigestSize is the size in bytes of a digest.
	DigestSize = 32

	// EncodingVersion is the version of the canonical encoding of a subject.
	EncodingVersion byte = 1
)

var encodingMagic = []byte("NTRY")

var (
	rootFormats      = registry.NewSimpleRegistry()
	signatureFormats = registry.NewSimpleRegistry()
)

// RegisterRootFormat registers the engine for the provided format.
func RegisterRootFormat(f serde.Format, e serde.FormatEngine) {
	rootFormats.Register(f, e)
}

// RegisterSignatureFormat registers the engine for the provided format.
func RegisterSignatureFormat(f serde.Format, e serde.FormatEngine) {
	signatureFormats.Register(f, e)
}

// ErrEmptySignature is returned by the verification of a signature without
// any data.
var ErrEmptySignature = xerrors.New("empty signature")

// Digest is the output of a cryptographic hash function, used to identify a
// transaction by its content.
type Digest [DigestSize]byte

// NewDigest returns the digest of the data using the hash factory.
func NewDigest(f crypto.HashFactory, data []byte) (Digest, error) {
	h := f.New()

	_, err := h.Write(data)
	if err != nil {
		return Digest{}, xerrors.Errorf("couldn't write data: %v", err)
	}

	return DigestFromBytes(h.Sum(nil))
}

// DigestFromBytes returns the digest of the buffer if it has the correct size.
func DigestFromBytes(data []byte) (Digest, error) {
	var d Digest

	if len(data) != DigestSize {
		return d, xerrors.Errorf("invalid digest length %d != %d", len(data), DigestSize)
	}

	copy(d[:], data)

	return d, nil
}

// DigestFromHex returns the digest of the hexadecimal string.
func DigestFromHex(text string) (Digest, error) {
	data, err := hex.DecodeString(text)
	if err != nil {
		return Digest{}, xerrors.Errorf("couldn't decode hex: %v", err)
	}

	return DigestFromBytes(data)
}

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	return append([]byte{}, d[:]...)
}

// IsZero returns true if every byte of the digest is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String implements fmt.Stringer. It returns the hexadecimal representation of
// the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	digest, err := DigestFromHex(string(text))
	if err != nil {
		return err
	}

	*d = digest

	return nil
}

// TransactionMetadata is the identity of the signer of a commitment along with
// the version of the platform that produced it. The public key is stored as
// the algorithm and the raw bytes so that a commitment stays readable even
// when the algorithm is not supported locally.
type TransactionMetadata struct {
	PlatformVersion uint32
	Algorithm       string
	PublicKey       []byte
}

// NewTransactionMetadata returns the metadata for the public key.
func NewTransactionMetadata(version uint32, pubkey crypto.PublicKey) (TransactionMetadata, error) {
	data, err := pubkey.MarshalBinary()
	if err != nil {
		return TransactionMetadata{}, xerrors.Errorf("couldn't marshal public key: %v", err)
	}

	m := TransactionMetadata{
		PlatformVersion: version,
		Algorithm:       pubkey.GetAlgorithm(),
		PublicKey:       data,
	}

	return m, nil
}

// Equal returns true when every field of both metadata are equal.
func (m TransactionMetadata) Equal(other TransactionMetadata) bool {
	return m.PlatformVersion == other.PlatformVersion &&
		m.Algorithm == other.Algorithm &&
		bytes.Equal(m.PublicKey, other.PublicKey)
}

// RootWithMetadata is the subject of a commitment: the digest of the
// transaction and the metadata of the signer.
//
// - implements serde.Message
type RootWithMetadata struct {
	MerkleRoot Digest
	Metadata   TransactionMetadata
}

// Equal returns true when both the roots and the metadata are equal. The
// platform version is always part of the identity of a subject.
func (r RootWithMetadata) Equal(other RootWithMetadata) bool {
	return r.MerkleRoot == other.MerkleRoot && r.Metadata.Equal(other.Metadata)
}

// Bytes returns the canonical representation of the subject that is signed.
//
//	"NTRY" | version (1) | root (32) | platform version (4) |
//	algorithm length (2) | algorithm | key length (4) | key
//
// Integers are big-endian.
func (r RootWithMetadata) Bytes() ([]byte, error) {
	algo := []byte(r.Metadata.Algorithm)
	if len(algo) > math.MaxUint16 {
		return nil, xerrors.Errorf("algorithm name too long: %d", len(algo))
	}

	if uint64(len(r.Metadata.PublicKey)) > math.MaxUint32 {
		return nil, xerrors.Errorf("public key too long: %d", len(r.Metadata.PublicKey))
	}

	size := len(encodingMagic) + 1 + DigestSize + 4 + 2 + len(algo) + 4 + len(r.Metadata.PublicKey)

	buffer := bytes.NewBuffer(make([]byte, 0, size))
	buffer.Write(encodingMagic)
	buffer.WriteByte(EncodingVersion)
	buffer.Write(r.MerkleRoot[:])

	var num [4]byte

	binary.BigEndian.PutUint32(num[:], r.Metadata.PlatformVersion)
	buffer.Write(num[:])

	binary.BigEndian.PutUint16(num[:2], uint16(len(algo)))
	buffer.Write(num[:2])
	buffer.Write(algo)

	binary.BigEndian.PutUint32(num[:], uint32(len(r.Metadata.PublicKey)))
	buffer.Write(num[:])
	buffer.Write(r.Metadata.PublicKey)

	return buffer.Bytes(), nil
}

// Serialize implements serde.Message. It returns the serialized data of the
// subject.
func (r RootWithMetadata) Serialize(ctx serde.Context) ([]byte, error) {
	format := rootFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, r)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode root: %v", err)
	}

	return data, nil
}

// RootFactory is the factory to deserialize subjects.
//
// - implements serde.Factory
type RootFactory struct{}

// Deserialize implements serde.Factory. It populates the subject from the data
// if appropriate, otherwise it returns an error.
func (RootFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := rootFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode root: %v", err)
	}

	return msg, nil
}
