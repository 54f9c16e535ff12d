// Package client implements the requestor of a notarization. It sends the
// request to the members of a notary cluster, follows the redirections to the
// leader, and validates the signature it receives.
//
// The requests that failed because of the consensus are retried with a bounded
// exponential backoff, on the other members when the one contacted does not
// answer. A retry is always safe because a transaction claiming the inputs it
// already consumed is notarized again.
package client

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/notarization"
	"go.dedis.ch/notary/core/notarization/types"
	"go.dedis.ch/notary/core/uniqueness"
	uniquenessTypes "go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/common"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

const (
	defaultAttempts       = 10
	defaultAttemptTimeout = 15 * time.Second
	defaultBackoff        = 50 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
)

// ErrInvalidSignature is returned when the signature of a member does not
// prove the notarization of the request.
var ErrInvalidSignature = xerrors.New("invalid signature")

// RejectedError is returned when a member refuses the request. The request
// must not be retried as it is.
type RejectedError struct {
	Status types.Status
	Reason string
}

// Error implements error. It returns the message of the error.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected with status '%s': %s", e.Status, e.Reason)
}

type options struct {
	registry   *common.Registry
	schemes    []string
	trusted    []crypto.PublicKey
	attempts   int
	timeout    time.Duration
	backoff    time.Duration
	maxBackoff time.Duration
}

// Option is the type of options to create a requestor.
type Option func(*options)

// WithRegistry sets the registry of the signature schemes used to verify the
// signatures.
func WithRegistry(r *common.Registry) Option {
	return func(opts *options) {
		opts.registry = r
	}
}

// WithSchemes sets the signature algorithms offered to the members in the
// order of preference. By default, every algorithm of the registry is offered.
func WithSchemes(algorithms ...string) Option {
	return func(opts *options) {
		opts.schemes = algorithms
	}
}

// WithTrustedKeys restricts the accepted signatures to the ones produced by the
// keys, usually the keys of the members of the cluster.
func WithTrustedKeys(keys ...crypto.PublicKey) Option {
	return func(opts *options) {
		opts.trusted = keys
	}
}

// WithAttempts sets the maximum number of requests sent for a notarization.
func WithAttempts(n int) Option {
	return func(opts *options) {
		opts.attempts = n
	}
}

// WithAttemptTimeout sets the maximum duration of a single request.
func WithAttemptTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.timeout = d
	}
}

// WithBackoff sets the initial and the maximum duration to wait between two
// attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(opts *options) {
		opts.backoff = initial
		opts.maxBackoff = max
	}
}

// Requestor sends notarization requests to a notary cluster. It is safe for
// concurrent use.
type Requestor struct {
	sync.Mutex

	rpc         mino.RPC
	members     []mino.Address
	addrFactory mino.AddressFactory
	opts        options
	logger      zerolog.Logger

	// leader is the last member known to be the leader, and next is the
	// position of the member to try when the leader is unknown.
	leader mino.Address
	next   int
}

// NewRequestor creates a requestor of the cluster made of the members.
func NewRequestor(m mino.Mino, members mino.Players, opts ...Option) (*Requestor, error) {
	tmpl := options{
		registry:   common.NewRegistry(),
		attempts:   defaultAttempts,
		timeout:    defaultAttemptTimeout,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	if len(tmpl.schemes) == 0 {
		tmpl.schemes = tmpl.registry.Algorithms()
	}

	if members.Len() == 0 {
		return nil, xerrors.New("no member")
	}

	rpc, err := m.CreateRPC(notarization.RPCName, handler{}, types.MessageFactory{})
	if err != nil {
		return nil, xerrors.Errorf("couldn't create rpc: %v", err)
	}

	r := &Requestor{
		rpc:         rpc,
		addrFactory: m.GetAddressFactory(),
		opts:        tmpl,
		logger:      notary.Logger.With().Str("addr", m.GetAddress().String()).Logger(),
	}

	iter := members.AddressIterator()
	for iter.HasNext() {
		r.members = append(r.members, iter.GetNext())
	}

	return r, nil
}

// Notarize requests the notarization of the transaction and returns the
// validated signature of a member. It returns a ConflictError when an input is
// consumed by another transaction, a RejectedError when the request is refused,
// and an error wrapping ErrConsensusUnavailable when no member could notarize
// the request in time.
func (r *Requestor) Notarize(ctx context.Context, req types.Request) (commitment.CommitmentSignature, error) {
	var sig commitment.CommitmentSignature

	if len(req.Schemes) == 0 {
		req.Schemes = r.opts.schemes
	}

	backoff := r.opts.backoff

	var lastErr error

	for attempt := 0; attempt < r.opts.attempts; attempt++ {
		if attempt > 0 && lastErr != nil {
			err := r.wait(ctx, &backoff)
			if err != nil {
				return sig, xerrors.Errorf("%v (last error: %v): %w",
					err, lastErr, uniqueness.ErrConsensusUnavailable)
			}
		}

		target := r.target()

		resp, err := r.send(ctx, target, req)
		if err != nil {
			r.logger.Debug().Err(err).Str("to", target.String()).Msg("request failed")

			lastErr = xerrors.Errorf("member %v: %v", target, err)
			r.forget(target)

			continue
		}

		switch resp.Status {
		case types.StatusSigned:
			if resp.Signature == nil {
				return sig, xerrors.Errorf("member %v: missing signature: %w",
					target, ErrInvalidSignature)
			}

			err = r.validate(req, *resp.Signature)
			if err != nil {
				return sig, xerrors.Errorf("member %v: %w", target, err)
			}

			r.setLeader(target)

			return *resp.Signature, nil
		case types.StatusConflict:
			conflicts := make(map[uniquenessTypes.InputReference]commitment.Digest)
			for _, conflict := range resp.Conflicts {
				conflicts[conflict.Input] = conflict.CommittedBy
			}

			return sig, &uniqueness.ConflictError{Conflicts: conflicts}
		case types.StatusTimeWindowInvalid, types.StatusRejected:
			return sig, &RejectedError{Status: resp.Status, Reason: resp.Reason}
		case types.StatusNotLeader:
			if resp.RedirectTo != "" {
				leader := r.addrFactory.FromText([]byte(resp.RedirectTo))
				r.setLeader(leader)

				// The redirection is followed immediately.
				lastErr = nil

				continue
			}

			r.forget(target)
		default:
			r.forget(target)
		}

		lastErr = xerrors.Errorf("member %v: %s: %s", target, resp.Status, resp.Reason)
	}

	if lastErr == nil {
		lastErr = xerrors.New("too many redirections")
	}

	return sig, xerrors.Errorf("%v: %w", lastErr, uniqueness.ErrConsensusUnavailable)
}

func (r *Requestor) send(ctx context.Context, to mino.Address, req types.Request) (types.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	resps, err := r.rpc.Call(ctx, req, mino.NewAddresses(to))
	if err != nil {
		return types.Response{}, xerrors.Errorf("call failed: %v", err)
	}

	select {
	case resp, more := <-resps:
		if !more {
			return types.Response{}, xerrors.New("no reply")
		}

		msg, err := resp.GetMessageOrError()
		if err != nil {
			return types.Response{}, err
		}

		reply, ok := msg.(types.Response)
		if !ok {
			return types.Response{}, xerrors.Errorf("unexpected reply '%T'", msg)
		}

		return reply, nil
	case <-ctx.Done():
		return types.Response{}, ctx.Err()
	}
}

// validate checks that the signature is produced by an accepted key over the
// transaction of the request.
func (r *Requestor) validate(req types.Request, sig commitment.CommitmentSignature) error {
	if sig.Subject.MerkleRoot != req.TransactionID {
		return xerrors.Errorf("subject %v is not the transaction: %w",
			sig.Subject.MerkleRoot, ErrInvalidSignature)
	}

	algo := sig.Subject.Metadata.Algorithm
	if !contains(req.Schemes, algo) {
		return xerrors.Errorf("algorithm '%s' was not offered: %w", algo, ErrInvalidSignature)
	}

	if len(r.opts.trusted) > 0 && !r.isTrusted(sig.Subject.Metadata) {
		return xerrors.Errorf("untrusted signer: %w", ErrInvalidSignature)
	}

	valid, err := sig.Verify(r.opts.registry)
	if err != nil {
		return xerrors.Errorf("%v: %w", err, ErrInvalidSignature)
	}

	if !valid {
		return xerrors.Errorf("verification failed: %w", ErrInvalidSignature)
	}

	return nil
}

func (r *Requestor) isTrusted(metadata commitment.TransactionMetadata) bool {
	for _, key := range r.opts.trusted {
		if key.GetAlgorithm() != metadata.Algorithm {
			continue
		}

		data, err := key.MarshalBinary()
		if err == nil && bytes.Equal(data, metadata.PublicKey) {
			return true
		}
	}

	return false
}

// target returns the member to contact: the leader if it is known, otherwise
// the members in turn.
func (r *Requestor) target() mino.Address {
	r.Lock()
	defer r.Unlock()

	if r.leader != nil {
		return r.leader
	}

	addr := r.members[r.next%len(r.members)]
	r.next++

	return addr
}

func (r *Requestor) setLeader(addr mino.Address) {
	r.Lock()
	r.leader = addr
	r.Unlock()
}

func (r *Requestor) forget(addr mino.Address) {
	r.Lock()
	if r.leader != nil && r.leader.Equal(addr) {
		r.leader = nil
	}
	r.Unlock()
}

// wait waits for a random duration between half and all the backoff, which is
// then doubled up to the maximum.
func (r *Requestor) wait(ctx context.Context, backoff *time.Duration) error {
	delay := *backoff/2 + time.Duration(rand.Int63n(int64(*backoff/2)+1))

	*backoff *= 2
	if *backoff > r.opts.maxBackoff {
		*backoff = r.opts.maxBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contains(list []string, value string) bool {
	for _, elem := range list {
		if elem == value {
			return true
		}
	}

	return false
}

// handler refuses every request as a requestor is not a member of the cluster.
//
// - implements mino.Handler
type handler struct{}

// Process implements mino.Handler. It always returns an error.
func (handler) Process(mino.Request) (serde.Message, error) {
	return nil, xerrors.New("requestor does not accept requests")
}
