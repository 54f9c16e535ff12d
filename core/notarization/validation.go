package notarization

import (
	"sync"

	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/notarization/types"
	"go.dedis.ch/notary/crypto"
	"golang.org/x/xerrors"
)

// ErrInvalidTransaction is returned by a validator when the transaction does
// not match the request.
var ErrInvalidTransaction = xerrors.New("invalid transaction")

// AllowAll is an authorizer that accepts every party.
//
// - implements notarization.Authorizer
type AllowAll struct{}

// Authorize implements notarization.Authorizer. It always returns nil.
func (AllowAll) Authorize(string) error {
	return nil
}

// Directory is an authorizer that only accepts the parties it knows. It is
// safe for concurrent use.
//
// - implements notarization.Authorizer
type Directory struct {
	sync.RWMutex
	parties map[string]struct{}
}

// NewDirectory returns a directory of the parties.
func NewDirectory(parties ...string) *Directory {
	d := &Directory{
		parties: make(map[string]struct{}),
	}

	for _, party := range parties {
		d.parties[party] = struct{}{}
	}

	return d
}

// Add adds the party to the directory.
func (d *Directory) Add(party string) {
	d.Lock()
	d.parties[party] = struct{}{}
	d.Unlock()
}

// Remove removes the party from the directory.
func (d *Directory) Remove(party string) {
	d.Lock()
	delete(d.parties, party)
	d.Unlock()
}

// Authorize implements notarization.Authorizer. It returns ErrUnauthorized if
// the party is unknown.
func (d *Directory) Authorize(party string) error {
	d.RLock()
	defer d.RUnlock()

	_, found := d.parties[party]
	if !found {
		return ErrUnauthorized
	}

	return nil
}

// NoopValidator is the validator of a non-validating member. It accepts every
// transaction.
//
// - implements notarization.Validator
type NoopValidator struct{}

// Validate implements notarization.Validator. It always returns nil.
func (NoopValidator) Validate(types.Request) error {
	return nil
}

// DigestValidator checks that the identifier of the transaction is the digest
// of its payload.
//
// - implements notarization.Validator
type DigestValidator struct {
	hashFactory crypto.HashFactory
}

// NewDigestValidator returns a validator using the hash factory.
func NewDigestValidator(f crypto.HashFactory) DigestValidator {
	return DigestValidator{hashFactory: f}
}

// Validate implements notarization.Validator. It returns an error if the
// payload is missing or if its digest differs from the transaction identifier.
func (v DigestValidator) Validate(req types.Request) error {
	if len(req.Payload) == 0 {
		return xerrors.Errorf("missing payload: %w", ErrInvalidTransaction)
	}

	digest, err := commitment.NewDigest(v.hashFactory, req.Payload)
	if err != nil {
		return xerrors.Errorf("couldn't hash payload: %v", err)
	}

	if digest != req.TransactionID {
		return xerrors.Errorf("digest %v mismatch: %w", digest, ErrInvalidTransaction)
	}

	return nil
}
