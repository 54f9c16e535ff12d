// Package common implements the negotiation of the signature schemes between
// a requester and a notary, and the resolution of keys and signatures
// transported as raw bytes next to their algorithm name.
//
// The default registry supports the following algorithms:
//   - CURVE-ED25519
//   - CURVE-BN256
package common

import (
	"sort"
	"sync"

	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/bls"
	"go.dedis.ch/notary/crypto/ed25519"
	"golang.org/x/xerrors"
)

var (
	// ErrUnsupportedAlgorithm is returned when no scheme is registered for an
	// algorithm.
	ErrUnsupportedAlgorithm = xerrors.New("unsupported algorithm")

	// ErrInvalidPublicKey is returned when the key material is structurally
	// invalid for its algorithm.
	ErrInvalidPublicKey = xerrors.New("invalid public key")

	// ErrMalformedSignature is returned when the signature bytes cannot be a
	// signature of the algorithm.
	ErrMalformedSignature = xerrors.New("malformed signature")

	// ErrNoCommonAlgorithm is returned by the negotiation when the two lists
	// do not intersect.
	ErrNoCommonAlgorithm = xerrors.New("no common algorithm")
)

// Scheme is the association of an algorithm with the factories of its keys
// and signatures.
type Scheme struct {
	Algorithm  string
	PublicKeys crypto.PublicKeyFactory
	Signatures crypto.SignatureFactory
}

// Registry is a set of signature schemes indexed by algorithm name. It is
// safe for concurrent use.
type Registry struct {
	sync.RWMutex
	schemes map[string]Scheme
}

// NewRegistry returns a registry populated with the schemes of the module.
func NewRegistry() *Registry {
	reg := NewEmptyRegistry()

	reg.Register(Scheme{
		Algorithm:  ed25519.Algorithm,
		PublicKeys: ed25519.NewPublicKeyFactory(),
		Signatures: ed25519.NewSignatureFactory(),
	})

	reg.Register(Scheme{
		Algorithm:  bls.Algorithm,
		PublicKeys: bls.NewPublicKeyFactory(),
		Signatures: bls.NewSignatureFactory(),
	})

	return reg
}

// NewEmptyRegistry returns a registry without any scheme.
func NewEmptyRegistry() *Registry {
	return &Registry{
		schemes: make(map[string]Scheme),
	}
}

// Register adds or replaces the scheme of the algorithm.
func (r *Registry) Register(s Scheme) {
	r.Lock()
	r.schemes[s.Algorithm] = s
	r.Unlock()
}

// Algorithms returns the sorted list of supported algorithms.
func (r *Registry) Algorithms() []string {
	r.RLock()
	defer r.RUnlock()

	algos := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		algos = append(algos, name)
	}

	sort.Strings(algos)

	return algos
}

// PublicKeyOf returns the public key of the algorithm for the data. The error
// wraps ErrUnsupportedAlgorithm or ErrInvalidPublicKey.
func (r *Registry) PublicKeyOf(algorithm string, data []byte) (crypto.PublicKey, error) {
	scheme, err := r.get(algorithm)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, xerrors.Errorf("empty key: %w", ErrInvalidPublicKey)
	}

	pubkey, err := scheme.PublicKeys.FromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidPublicKey)
	}

	return pubkey, nil
}

// SignatureOf returns the signature of the algorithm for the data. The error
// wraps ErrUnsupportedAlgorithm or ErrMalformedSignature.
func (r *Registry) SignatureOf(algorithm string, data []byte) (crypto.Signature, error) {
	scheme, err := r.get(algorithm)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, xerrors.Errorf("empty signature: %w", ErrMalformedSignature)
	}

	sig, err := scheme.Signatures.FromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrMalformedSignature)
	}

	return sig, nil
}

func (r *Registry) get(algorithm string) (Scheme, error) {
	r.RLock()
	defer r.RUnlock()

	scheme, found := r.schemes[algorithm]
	if !found {
		return Scheme{}, xerrors.Errorf("algorithm '%s': %w", algorithm, ErrUnsupportedAlgorithm)
	}

	return scheme, nil
}

// Negotiate returns the first algorithm of the preferred list which is also
// offered by the peer. An empty offer means the peer accepts anything.
func Negotiate(preferred, offered []string) (string, error) {
	if len(preferred) == 0 {
		return "", xerrors.Errorf("nothing preferred: %w", ErrNoCommonAlgorithm)
	}

	if len(offered) == 0 {
		return preferred[0], nil
	}

	accepted := make(map[string]struct{}, len(offered))
	for _, algo := range offered {
		accepted[algo] = struct{}{}
	}

	for _, algo := range preferred {
		_, found := accepted[algo]
		if found {
			return algo, nil
		}
	}

	return "", xerrors.Errorf("%v and %v: %w", preferred, offered, ErrNoCommonAlgorithm)
}
