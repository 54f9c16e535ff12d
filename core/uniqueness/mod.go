// Package uniqueness implements the uniqueness provider of a notary cluster. It
// records which transaction consumed an input, and rejects any other
// transaction trying to consume the same input.
//
// The decisions are ordered by a Raft replicated log. A commit proposes a
// command with the full set of inputs of a transaction, and every member
// applies it identically once it is committed: the inputs are recorded when
// none of them is consumed by another transaction, otherwise the command fails
// as a whole. A transaction claiming inputs it already consumed succeeds again
// so that a request can be safely retried.
package uniqueness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/commitment"
	"go.dedis.ch/notary/core/ordering/raft"
	"go.dedis.ch/notary/core/store/kv"
	_ "go.dedis.ch/notary/core/uniqueness/json"
	"go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/json"
	"golang.org/x/xerrors"
)

const defaultCommitTimeout = 10 * time.Second

var (
	// ErrEmptyInputs is returned when a commit does not claim any input.
	ErrEmptyInputs = xerrors.New("empty inputs")

	// ErrConsensusUnavailable is returned when no leader is known or the
	// member is stopped. The request can be retried later.
	ErrConsensusUnavailable = xerrors.New("consensus unavailable")

	// ErrOutcomeUnknown is returned when the commit has been proposed but the
	// result is not known. It might still be committed, and a retry with the
	// same transaction is safe.
	ErrOutcomeUnknown = raft.ErrOutcomeUnknown

	// ErrRejected is returned when the command could not be applied.
	ErrRejected = xerrors.New("command rejected")
)

// NotLeaderError is returned when the member is not the leader of the cluster.
// The request should be sent to the leader instead.
type NotLeaderError = raft.NotLeaderError

// ConflictError is returned when some of the inputs are already consumed by
// another transaction. Only those inputs are listed.
type ConflictError struct {
	Conflicts map[types.InputReference]commitment.Digest
}

// Error implements error. It returns the message of the error.
func (e *ConflictError) Error() string {
	list := e.List()

	parts := make([]string, len(list))
	for i, conflict := range list {
		parts[i] = fmt.Sprintf("%v consumed by %v", conflict.Input, conflict.CommittedBy)
	}

	return fmt.Sprintf("conflict: %s", strings.Join(parts, ", "))
}

// List returns the conflicts sorted by the canonical key of the inputs.
func (e *ConflictError) List() []types.Conflict {
	res := make([]types.Conflict, 0, len(e.Conflicts))
	for ref, txID := range e.Conflicts {
		res = append(res, types.Conflict{Input: ref, CommittedBy: txID})
	}

	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].Input.Key(), res[j].Input.Key()) < 0
	})

	return res
}

var promCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notary_uniqueness_commits_total",
	Help: "number of commit requests handled by the member, by result",
}, []string{"result"})

func init() {
	notary.PromCollectors = append(notary.PromCollectors, promCommits)
}

type options struct {
	timeout time.Duration
	raft    []raft.Option
}

// Option is the type of options to create a provider.
type Option func(*options)

// WithCommitTimeout sets the maximum duration a commit waits for the command
// to be applied.
func WithCommitTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.timeout = d
	}
}

// WithRaftOptions sets the options of the Raft member.
func WithRaftOptions(raftOpts ...raft.Option) Option {
	return func(opts *options) {
		opts.raft = append(opts.raft, raftOpts...)
	}
}

// Provider is the uniqueness provider of a member of the notary cluster.
type Provider struct {
	index   *Index
	node    *raft.Node
	context serde.Context
	factory types.MessageFactory
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProvider creates the provider of a member of the cluster made of the
// players. The index and the replicated log are stored in the database.
func NewProvider(m mino.Mino, players mino.Players, db kv.DB, opts ...Option) (*Provider, error) {
	tmpl := options{
		timeout: defaultCommitTimeout,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	ctx := json.NewContext()

	index, err := NewIndex(db, ctx)
	if err != nil {
		return nil, xerrors.Errorf("couldn't open index: %v", err)
	}

	node, err := raft.NewNode(m, players, db, index, tmpl.raft...)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create raft node: %v", err)
	}

	p := &Provider{
		index:   index,
		node:    node,
		context: ctx,
		timeout: tmpl.timeout,
		logger:  notary.Logger.With().Str("addr", m.GetAddress().String()).Logger(),
	}

	return p, nil
}

// Start starts the replication of the log.
func (p *Provider) Start() {
	p.node.Start()
}

// Stop stops the replication of the log.
func (p *Provider) Stop() error {
	err := p.node.Stop()
	if err != nil {
		return xerrors.Errorf("couldn't stop raft node: %v", err)
	}

	return nil
}

// Status returns the status of the Raft member.
func (p *Provider) Status() raft.Status {
	return p.node.Status()
}

// Commit claims the inputs for the transaction. It returns nil when the inputs
// are recorded for the transaction, including when it was already the case.
// It returns a ConflictError when any input is consumed by another
// transaction, in which case nothing is recorded.
func (p *Provider) Commit(ctx context.Context, txID commitment.Digest,
	inputs []types.InputReference, party string) error {

	if len(inputs) == 0 {
		promCommits.WithLabelValues("empty").Inc()
		return ErrEmptyInputs
	}

	cmd := types.CommitCommand{
		TxID:   txID,
		Inputs: types.UniqueInputs(inputs),
		Party:  party,
	}

	data, err := cmd.Serialize(p.context)
	if err != nil {
		return xerrors.Errorf("couldn't serialize command: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.node.Propose(ctx, data)
	if err != nil {
		err = p.translate(err)
		promCommits.WithLabelValues(resultOf(err)).Inc()

		return err
	}

	msg, err := p.factory.Deserialize(p.context, res)
	if err != nil {
		return xerrors.Errorf("couldn't deserialize outcome: %v", err)
	}

	outcome, ok := msg.(types.CommitOutcome)
	if !ok {
		return xerrors.Errorf("invalid outcome '%T'", msg)
	}

	if outcome.Reason != "" {
		promCommits.WithLabelValues(resultRejected).Inc()
		return xerrors.Errorf("%s: %w", outcome.Reason, ErrRejected)
	}

	if len(outcome.Conflicts) > 0 {
		conflicts := make(map[types.InputReference]commitment.Digest, len(outcome.Conflicts))
		for _, conflict := range outcome.Conflicts {
			conflicts[conflict.Input] = conflict.CommittedBy
		}

		p.logger.Debug().
			Str("tx", txID.String()).
			Int("conflicts", len(conflicts)).
			Msg("commit conflict")

		promCommits.WithLabelValues(resultConflict).Inc()

		return &ConflictError{Conflicts: conflicts}
	}

	promCommits.WithLabelValues(resultCommitted).Inc()

	return nil
}

// Lookup returns the record of the input if it is consumed. The answer is as
// fresh as the last entry applied by this member and might be stale when the
// member lags behind the leader.
func (p *Provider) Lookup(ref types.InputReference) (types.CommitLogEntry, bool, error) {
	return p.index.Lookup(ref)
}

// translate converts the errors of the Raft member into the errors of the
// provider.
func (p *Provider) translate(err error) error {
	var notLeader *raft.NotLeaderError
	if xerrors.As(err, &notLeader) {
		if notLeader.Leader == nil {
			return xerrors.Errorf("no leader known: %w", ErrConsensusUnavailable)
		}

		return notLeader
	}

	if xerrors.Is(err, raft.ErrOutcomeUnknown) {
		return xerrors.Errorf("couldn't wait for commit: %w", err)
	}

	if xerrors.Is(err, raft.ErrStopped) {
		return xerrors.Errorf("%v: %w", err, ErrConsensusUnavailable)
	}

	if xerrors.Is(err, context.DeadlineExceeded) || xerrors.Is(err, context.Canceled) {
		// The proposal never reached the member.
		return xerrors.Errorf("%v: %w", err, ErrConsensusUnavailable)
	}

	return xerrors.Errorf("couldn't propose: %v", err)
}

func resultOf(err error) string {
	var notLeader *raft.NotLeaderError

	switch {
	case xerrors.As(err, &notLeader):
		return "notLeader"
	case xerrors.Is(err, ErrOutcomeUnknown):
		return "unknown"
	case xerrors.Is(err, ErrConsensusUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
