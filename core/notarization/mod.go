// Package notarization implements the notarization service of a member of a
// notary cluster.
//
// A request is checked before it reaches consensus: the party must be
// authorized, the transaction must be received inside its time window, and the
// transaction is validated when the member is configured to do so. The inputs
// are then committed by the uniqueness provider, and the member signs the
// identifier of the transaction along with its own metadata.
package notarization

import (
	"context"
	"fmt"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/commitment"
	_ "go.dedis.ch/notary/core/notarization/json"
	"go.dedis.ch/notary/core/notarization/types"
	"go.dedis.ch/notary/core/uniqueness"
	uniquenessTypes "go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/crypto"
	"go.dedis.ch/notary/crypto/common"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

// RPCName is the name of the RPC of the notarization protocol.
const RPCName = "notary"

const (
	defaultTolerance      = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

var (
	// ErrEmptyInputs is returned when a request does not claim any input.
	ErrEmptyInputs = uniqueness.ErrEmptyInputs

	// ErrUnauthorized is returned when the requesting party is not allowed to
	// notarize transactions.
	ErrUnauthorized = xerrors.New("unauthorized")
)

// TimeWindowInvalidError is returned when a request is received outside of its
// time window.
type TimeWindowInvalidError struct {
	Window    types.TimeWindow
	Time      time.Time
	Tolerance time.Duration
}

// Error implements error. It returns the message of the error.
func (e *TimeWindowInvalidError) Error() string {
	return fmt.Sprintf("time %s is outside of the window [%s, %s] with a tolerance of %v",
		formatTime(e.Time), formatTime(e.Window.From), formatTime(e.Window.Until), e.Tolerance)
}

var promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notary_notarization_requests_total",
	Help: "number of notarization requests, by status",
}, []string{"status"})

var promDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "notary_notarization_duration_seconds",
	Help:    "duration of the notarization requests",
	Buckets: prometheus.DefBuckets,
})

func init() {
	notary.PromCollectors = append(notary.PromCollectors, promRequests, promDuration)
}

// Committer is the interface of the uniqueness provider used by the service.
type Committer interface {
	Commit(ctx context.Context, txID commitment.Digest,
		inputs []uniquenessTypes.InputReference, party string) error
}

// Authorizer decides if a party is allowed to notarize transactions.
type Authorizer interface {
	// Authorize returns nil if the party is allowed.
	Authorize(party string) error
}

// Validator validates the content of a transaction before it is committed.
type Validator interface {
	// Validate returns nil if the transaction of the request is valid.
	Validate(req types.Request) error
}

type options struct {
	version    uint32
	tolerance  time.Duration
	timeout    time.Duration
	authorizer Authorizer
	validator  Validator
	clock      func() time.Time
	tracer     opentracing.Tracer
}

// Option is the type of options to create a service.
type Option func(*options)

// WithPlatformVersion sets the platform version written in the metadata of the
// signatures.
func WithPlatformVersion(version uint32) Option {
	return func(opts *options) {
		opts.version = version
	}
}

// WithTolerance sets the tolerance applied on both bounds of time windows.
func WithTolerance(d time.Duration) Option {
	return func(opts *options) {
		opts.tolerance = d
	}
}

// WithRequestTimeout sets the maximum duration of a request received from the
// network.
func WithRequestTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.timeout = d
	}
}

// WithAuthorizer sets the authorizer of the requesting parties.
func WithAuthorizer(a Authorizer) Option {
	return func(opts *options) {
		opts.authorizer = a
	}
}

// WithValidator sets the validator of the transactions.
func WithValidator(v Validator) Option {
	return func(opts *options) {
		opts.validator = v
	}
}

// WithClock sets the source of the current time.
func WithClock(clock func() time.Time) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

// WithTracer sets the tracer of the requests.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(opts *options) {
		opts.tracer = tracer
	}
}

// Service is the notarization service of a member.
type Service struct {
	committer Committer
	signers   map[string]crypto.Signer
	preferred []string
	opts      options
	logger    zerolog.Logger
}

// NewService creates a service that commits through the committer and signs
// with one of the signers. The signers are listed in the order of preference
// of the member, and each must use a different algorithm.
func NewService(committer Committer, signers []crypto.Signer, opts ...Option) (*Service, error) {
	if len(signers) == 0 {
		return nil, xerrors.New("no signer")
	}

	tmpl := options{
		tolerance:  defaultTolerance,
		timeout:    defaultRequestTimeout,
		authorizer: AllowAll{},
		validator:  NoopValidator{},
		clock:      time.Now,
		tracer:     opentracing.NoopTracer{},
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	s := &Service{
		committer: committer,
		signers:   make(map[string]crypto.Signer),
		opts:      tmpl,
		logger:    notary.Logger.With().Str("component", "notarization").Logger(),
	}

	for _, signer := range signers {
		algo := signer.GetPublicKey().GetAlgorithm()

		_, found := s.signers[algo]
		if found {
			return nil, xerrors.Errorf("duplicate signer for '%s'", algo)
		}

		s.signers[algo] = signer
		s.preferred = append(s.preferred, algo)
	}

	return s, nil
}

// Algorithms returns the signature algorithms of the member in its order of
// preference.
func (s *Service) Algorithms() []string {
	return append([]string{}, s.preferred...)
}

// Notarize commits the inputs of the transaction and returns the signature of
// the member. The request is checked in order: inputs, party, time window and
// transaction, so that a request that cannot succeed never reaches consensus.
func (s *Service) Notarize(ctx context.Context, req types.Request) (commitment.CommitmentSignature, error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, s.opts.tracer, "notarize")
	defer span.Finish()

	span.SetTag("tx", req.TransactionID.String())
	span.SetTag("inputs", len(req.Inputs))

	sig, err := s.notarize(ctx, req)
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("reason", err.Error())

		return sig, err
	}

	return sig, nil
}

func (s *Service) notarize(ctx context.Context, req types.Request) (commitment.CommitmentSignature, error) {
	var sig commitment.CommitmentSignature

	if len(req.Inputs) == 0 {
		return sig, ErrEmptyInputs
	}

	err := s.opts.authorizer.Authorize(req.Party)
	if err != nil {
		return sig, xerrors.Errorf("party '%s': %w", req.Party, err)
	}

	now := s.opts.clock()
	if !req.TimeWindow.Contains(now, s.opts.tolerance) {
		return sig, &TimeWindowInvalidError{
			Window:    req.TimeWindow,
			Time:      now,
			Tolerance: s.opts.tolerance,
		}
	}

	err = s.opts.validator.Validate(req)
	if err != nil {
		return sig, xerrors.Errorf("invalid transaction: %w", err)
	}

	algo, err := common.Negotiate(s.preferred, req.Schemes)
	if err != nil {
		return sig, xerrors.Errorf("couldn't negotiate scheme: %w", err)
	}

	signer := s.signers[algo]

	err = s.committer.Commit(ctx, req.TransactionID, req.Inputs, req.Party)
	if err != nil {
		return sig, xerrors.Errorf("couldn't commit: %w", err)
	}

	metadata, err := commitment.NewTransactionMetadata(s.opts.version, signer.GetPublicKey())
	if err != nil {
		return sig, xerrors.Errorf("couldn't create metadata: %v", err)
	}

	subject := commitment.RootWithMetadata{
		MerkleRoot: req.TransactionID,
		Metadata:   metadata,
	}

	sig, err = commitment.NewCommitmentSignature(signer, subject)
	if err != nil {
		return sig, xerrors.Errorf("couldn't sign: %v", err)
	}

	s.logger.Debug().
		Str("tx", req.TransactionID.String()).
		Str("algorithm", algo).
		Msg("transaction notarized")

	return sig, nil
}

// Listen creates the RPC of the notarization protocol on the network.
func (s *Service) Listen(m mino.Mino) (mino.RPC, error) {
	rpc, err := m.CreateRPC(RPCName, handler{service: s}, types.MessageFactory{})
	if err != nil {
		return nil, xerrors.Errorf("couldn't create rpc: %v", err)
	}

	return rpc, nil
}

// handler processes the requests received from the network.
//
// - implements mino.Handler
type handler struct {
	service *Service
}

// Process implements mino.Handler. It notarizes the request and returns the
// response that describes the outcome.
func (h handler) Process(req mino.Request) (serde.Message, error) {
	msg, ok := req.Message.(types.Request)
	if !ok {
		return nil, xerrors.Errorf("unexpected message '%T'", req.Message)
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), h.service.opts.timeout)
	defer cancel()

	sig, err := h.service.Notarize(ctx, msg)
	resp := NewResponse(sig, err)

	promRequests.WithLabelValues(string(resp.Status)).Inc()
	promDuration.Observe(time.Since(start).Seconds())

	if resp.Status != types.StatusSigned {
		h.service.logger.Debug().
			Str("from", req.Address.String()).
			Str("tx", msg.TransactionID.String()).
			Str("status", string(resp.Status)).
			Msg(resp.Reason)
	}

	return resp, nil
}

// NewResponse returns the response of the outcome of a notarization.
func NewResponse(sig commitment.CommitmentSignature, err error) types.Response {
	if err == nil {
		return types.Response{Status: types.StatusSigned, Signature: &sig}
	}

	resp := types.Response{Reason: err.Error()}

	var conflict *uniqueness.ConflictError
	var window *TimeWindowInvalidError
	var notLeader *uniqueness.NotLeaderError

	switch {
	case xerrors.As(err, &conflict):
		resp.Status = types.StatusConflict
		resp.Conflicts = conflict.List()
	case xerrors.As(err, &window):
		resp.Status = types.StatusTimeWindowInvalid
	case xerrors.As(err, &notLeader):
		resp.Status = types.StatusNotLeader

		if notLeader.Leader != nil {
			text, err := notLeader.Leader.MarshalText()
			if err == nil {
				resp.RedirectTo = string(text)
			}
		}
	case xerrors.Is(err, uniqueness.ErrOutcomeUnknown):
		resp.Status = types.StatusUnknown
	case xerrors.Is(err, uniqueness.ErrConsensusUnavailable):
		resp.Status = types.StatusUnavailable
	default:
		resp.Status = types.StatusRejected
	}

	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.UTC().Format(time.RFC3339Nano)
}
