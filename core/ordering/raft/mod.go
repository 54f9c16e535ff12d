// Package raft implements a crash fault tolerant replicated log using the Raft
// consensus algorithm.
//
// A member is an explicit state machine (follower, candidate or leader) driven
// by a single event loop. Inbound messages, proposals and the replies of the
// other members are delivered to the loop over channels, so that the state of
// the member is never shared between goroutines.
//
// The committed entries are applied in the order of the log to a state machine
// provided by the caller. The state machine persists the index of the last
// applied entry along with its state, which allows a restarted member to
// resume without replaying the log, and the log to be compacted.
//
// Related Papers:
//
// In Search of an Understandable Consensus Algorithm (2014)
// https://raft.github.io/raft.pdf
package raft

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/mino"
	"golang.org/x/xerrors"
)

// State is the role of a member in the cluster.
type State int

const (
	// Follower is the state of a member that replicates the log of a leader.
	Follower State = iota

	// Candidate is the state of a member that is gathering votes to become
	// the leader.
	Candidate

	// Leader is the state of the member accepting proposals.
	Leader

	// Shutdown is the state of a stopped member.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var (
	// ErrStopped is returned when the member is stopped.
	ErrStopped = xerrors.New("node stopped")

	// ErrOutcomeUnknown is returned when a proposal has been appended to the
	// log but the caller stopped waiting for it, or the member lost its
	// leadership. The entry might still be committed.
	ErrOutcomeUnknown = xerrors.New("outcome unknown")
)

// NotLeaderError is returned by a member which is not the leader. The leader
// is nil when the member does not know any.
type NotLeaderError struct {
	Leader mino.Address
}

// Error implements error. It returns the message of the error.
func (e *NotLeaderError) Error() string {
	if e.Leader == nil {
		return "not leader, no leader known"
	}

	return fmt.Sprintf("not leader, leader is %v", e.Leader)
}

// Snapshot is the state of the state machine up to an index of the log.
type Snapshot struct {
	Index uint64
	Term  uint64
	Data  []byte
}

// StateMachine is the interface to implement for the state replicated by the
// log. The entries are applied by a single goroutine, in the order of the log.
type StateMachine interface {
	// Apply applies the entry and returns the result for the proposer. The
	// index and the term of the entry must be persisted atomically with the
	// state so that an entry is applied at most once. An error is considered
	// transient and the entry is applied again later.
	Apply(entry types.Entry) ([]byte, error)

	// Applied returns the index and the term of the last applied entry.
	Applied() (index uint64, term uint64, err error)

	// Snapshot returns the current state.
	Snapshot() (Snapshot, error)

	// Restore replaces the state with the snapshot.
	Restore(snap Snapshot) error
}

// Status is a summary of the state of a member.
type Status struct {
	State        State
	Term         uint64
	Leader       mino.Address
	CommitIndex  uint64
	AppliedIndex uint64
	LastIndex    uint64
}

const (
	defaultElectionTimeout   = time.Second
	defaultHeartbeat         = 100 * time.Millisecond
	defaultSnapshotThreshold = 1024
	defaultMaxBatch          = 64
)

type options struct {
	electionTimeout   time.Duration
	heartbeat         time.Duration
	snapshotThreshold uint64
	maxBatch          int
}

// Option is the type of options to create a member.
type Option func(*options)

// WithElectionTimeout sets the minimum election timeout. The actual timeout is
// randomized between the value and twice the value.
func WithElectionTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.electionTimeout = d
	}
}

// WithHeartbeat sets the interval between two heartbeats of the leader. It
// should be an order of magnitude smaller than the election timeout.
func WithHeartbeat(d time.Duration) Option {
	return func(opts *options) {
		opts.heartbeat = d
	}
}

// WithSnapshotThreshold sets the number of applied entries after which the
// log is compacted.
func WithSnapshotThreshold(n uint64) Option {
	return func(opts *options) {
		opts.snapshotThreshold = n
	}
}

// WithMaxBatch sets the maximum number of entries sent in a single message.
func WithMaxBatch(n int) Option {
	return func(opts *options) {
		opts.maxBatch = n
	}
}

// defines prometheus metrics
var (
	promTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notary_raft_term",
		Help: "current term of the member",
	})

	promState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notary_raft_state",
		Help: "state of the member: 0 follower, 1 candidate, 2 leader, 3 shutdown",
	})

	promLeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notary_raft_leader_changes_total",
		Help: "number of times a leader has been observed",
	})

	promCommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notary_raft_commit_index",
		Help: "index of the last committed entry",
	})
)

func init() {
	notary.PromCollectors = append(notary.PromCollectors, promTerm, promState,
		promLeaderChanges, promCommitIndex)
}
