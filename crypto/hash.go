package crypto

import (
	"crypto/sha256"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"
)

// HashAlgorithm is the identifier of a hash function.
type HashAlgorithm int

const (
	// Sha256 is the SHA-2 function with a 256 bits output.
	Sha256 HashAlgorithm = iota

	// Sha3_256 is the SHA-3 function with a 256 bits output.
	Sha3_256

	// Blake3 is the BLAKE3 function with its default 256 bits output.
	Blake3
)

func (a HashAlgorithm) String() string {
	switch a {
	case Sha256:
		return "sha256"
	case Sha3_256:
		return "sha3-256"
	case Blake3:
		return "blake3"
	default:
		return "unknown"
	}
}

// ParseHashAlgorithm returns the algorithm matching the name.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch strings.ToLower(name) {
	case "", "sha256":
		return Sha256, nil
	case "sha3-256", "sha3":
		return Sha3_256, nil
	case "blake3":
		return Blake3, nil
	default:
		return 0, xerrors.Errorf("unknown hash algorithm '%s'", name)
	}
}

// hashFactory is a hash factory for the supported algorithms. Every algorithm
// produces a 32 bytes digest.
//
// - implements crypto.HashFactory
type hashFactory struct {
	algo HashAlgorithm
}

// NewSha256Factory returns a new instance of the SHA-256 factory.
func NewSha256Factory() HashFactory {
	return hashFactory{algo: Sha256}
}

// NewHashFactory returns a new instance of the factory.
func NewHashFactory(a HashAlgorithm) HashFactory {
	return hashFactory{algo: a}
}

// New implements crypto.HashFactory. It returns a new Hash instance.
func (f hashFactory) New() hash.Hash {
	switch f.algo {
	case Sha3_256:
		return sha3.New256()
	case Blake3:
		return blake3.New()
	default:
		return sha256.New()
	}
}
