package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	_ "go.dedis.ch/notary/core/ordering/raft/json"
	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/serde"
	"go.dedis.ch/notary/serde/json"
	"golang.org/x/xerrors"
)

const rpcName = "raft"

// Node is a member of a Raft cluster.
type Node struct {
	sync.Mutex

	me      mino.Address
	id      string
	members map[string]mino.Address
	peers   []string
	rpc     mino.RPC
	sm      StateMachine
	log     *logStore
	opts    options
	logger  zerolog.Logger

	rpcCh     chan rpcEvent
	proposeCh chan proposal
	replyCh   chan peerReply
	closing   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// status is the last published status, protected by the mutex.
	status Status

	// The following fields are owned by the event loop.
	state       State
	leader      string
	commitIndex uint64
	lastApplied uint64
	votes       map[string]struct{}
	nextIndex   map[string]uint64
	matchIndex  map[string]uint64
	inflight    map[string]bool
	lastContact map[string]time.Time
	pending     map[string]proposal
	resetTimer  bool
}

// NewNode creates a new member of the cluster made of the players, which must
// include the address of the local instance. The log is stored in the
// database, and the entries are applied to the state machine.
func NewNode(m mino.Mino, players mino.Players, db kv.DB, sm StateMachine,
	opts ...Option) (*Node, error) {

	tmpl := options{
		electionTimeout:   defaultElectionTimeout,
		heartbeat:         defaultHeartbeat,
		snapshotThreshold: defaultSnapshotThreshold,
		maxBatch:          defaultMaxBatch,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	me := m.GetAddress()

	n := &Node{
		me:          me,
		id:          me.String(),
		members:     make(map[string]mino.Address),
		sm:          sm,
		opts:        tmpl,
		logger:      notary.Logger.With().Str("addr", me.String()).Logger(),
		rpcCh:       make(chan rpcEvent),
		proposeCh:   make(chan proposal),
		replyCh:     make(chan peerReply, players.Len()),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		state:       Follower,
		nextIndex:   make(map[string]uint64),
		matchIndex:  make(map[string]uint64),
		inflight:    make(map[string]bool),
		lastContact: make(map[string]time.Time),
		pending:     make(map[string]proposal),
	}

	iter := players.AddressIterator()
	for iter.HasNext() {
		addr := iter.GetNext()
		n.members[addr.String()] = addr

		if !addr.Equal(me) {
			n.peers = append(n.peers, addr.String())
		}
	}

	if _, found := n.members[n.id]; !found {
		return nil, xerrors.Errorf("%v is not a member of the cluster", me)
	}

	ctx := json.NewContext()

	store, err := newLogStore(db, ctx)
	if err != nil {
		return nil, xerrors.Errorf("couldn't open log: %v", err)
	}

	n.log = store

	applied, appliedTerm, err := sm.Applied()
	if err != nil {
		return nil, xerrors.Errorf("couldn't read state machine: %v", err)
	}

	if applied < store.snapshotIndex {
		return nil, xerrors.Errorf("state machine index %d is behind the snapshot %d",
			applied, store.snapshotIndex)
	}

	// A snapshot restored to the state machine but not yet recorded by the log
	// moves the log to the state machine.
	if applied > store.snapshotIndex && !store.matches(applied, appliedTerm) {
		err = store.resetTo(applied, appliedTerm, false)
		if err != nil {
			return nil, xerrors.Errorf("couldn't reset log: %v", err)
		}

		if appliedTerm > store.term {
			err = store.setHardState(appliedTerm, "")
			if err != nil {
				return nil, xerrors.Errorf("couldn't reset term: %v", err)
			}
		}

		n.logger.Info().
			Uint64("index", applied).
			Uint64("term", appliedTerm).
			Msg("log moved to the state machine snapshot")
	}

	n.lastApplied = applied
	n.commitIndex = applied

	rpc, err := m.CreateRPC(rpcName, handler{node: n}, types.NewMessageFactory())
	if err != nil {
		return nil, xerrors.Errorf("couldn't create rpc: %v", err)
	}

	n.rpc = rpc

	n.publishStatus()

	return n, nil
}

// Start starts the event loop of the member.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.logger.Info().
			Uint64("term", n.log.term).
			Uint64("applied", n.lastApplied).
			Uint64("last", n.log.lastIndex()).
			Msg("node has started")

		go n.run()
	})
}

// Stop stops the event loop and waits for it to return. The pending proposals
// fail with an unknown outcome.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		close(n.closing)
	})

	// A member that was never started has no loop to wait for.
	n.startOnce.Do(func() {
		close(n.done)
	})

	<-n.done

	n.Lock()
	n.status.State = Shutdown
	n.Unlock()

	promState.Set(float64(Shutdown))

	return nil
}

// Status returns the last known status of the member.
func (n *Node) Status() Status {
	n.Lock()
	defer n.Unlock()

	return n.status
}

// GetAddress returns the address of the member.
func (n *Node) GetAddress() mino.Address {
	return n.me
}

// Propose appends the data to the log and waits until the entry is applied by
// the local state machine. It returns the result of the application. Only the
// leader accepts proposals, other members return a NotLeaderError. When the
// context is done after the entry is appended, the outcome is unknown.
func (n *Node) Propose(ctx context.Context, data []byte) ([]byte, error) {
	p := proposal{
		data:   data,
		result: make(chan proposalResult, 1),
	}

	select {
	case n.proposeCh <- p:
	case <-ctx.Done():
		return nil, xerrors.Errorf("couldn't propose: %w", ctx.Err())
	case <-n.closing:
		return nil, ErrStopped
	}

	select {
	case res := <-p.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, xerrors.Errorf("%v: %w", ctx.Err(), ErrOutcomeUnknown)
	}
}

type proposal struct {
	data   []byte
	result chan proposalResult
}

type proposalResult struct {
	value []byte
	err   error
}

type rpcEvent struct {
	from  mino.Address
	msg   serde.Message
	reply chan rpcReply
}

type rpcReply struct {
	msg serde.Message
	err error
}

type peerReply struct {
	peer string
	vote bool
	// term is the term of the request.
	term uint64
	// prevIndex is the index preceding the entries of an append request, or
	// the index of a snapshot.
	prevIndex uint64
	msg       serde.Message
	err       error
}

// handler forwards the messages of the other members to the event loop.
//
// - implements mino.Handler
type handler struct {
	node *Node
}

// Process implements mino.Handler. It delivers the message to the event loop
// and waits for the reply.
func (h handler) Process(req mino.Request) (serde.Message, error) {
	ev := rpcEvent{
		from:  req.Address,
		msg:   req.Message,
		reply: make(chan rpcReply, 1),
	}

	select {
	case h.node.rpcCh <- ev:
	case <-h.node.closing:
		return nil, ErrStopped
	}

	select {
	case res := <-ev.reply:
		return res.msg, res.err
	case <-h.node.closing:
		return nil, ErrStopped
	}
}

func (n *Node) run() {
	defer close(n.done)

	electionTimer := time.NewTimer(n.randomTimeout())
	defer electionTimer.Stop()

	heartbeat := time.NewTicker(n.opts.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-n.closing:
			n.failPending(xerrors.Errorf("%v: %w", ErrStopped, ErrOutcomeUnknown))
			n.logger.Info().Msg("node has stopped")
			return
		case ev := <-n.rpcCh:
			msg, err := n.handleMessage(ev.from, ev.msg)
			ev.reply <- rpcReply{msg: msg, err: err}
		case p := <-n.proposeCh:
			n.handlePropose(p)
		case reply := <-n.replyCh:
			n.handleReply(reply)
		case <-electionTimer.C:
			if n.state != Leader {
				n.startElection()
			}

			n.resetTimer = true
		case <-heartbeat.C:
			if n.state == Leader {
				n.checkQuorum()
			}

			if n.state == Leader {
				n.broadcast()
			}
		}

		if n.resetTimer {
			n.resetTimer = false

			if !electionTimer.Stop() {
				select {
				case <-electionTimer.C:
				default:
				}
			}

			electionTimer.Reset(n.randomTimeout())
		}

		n.publishStatus()
	}
}

func (n *Node) handleMessage(from mino.Address, msg serde.Message) (serde.Message, error) {
	switch in := msg.(type) {
	case types.RequestVote:
		return n.handleRequestVote(in)
	case types.AppendEntries:
		return n.handleAppendEntries(in)
	case types.InstallSnapshot:
		return n.handleInstallSnapshot(in)
	default:
		return nil, xerrors.Errorf("unexpected message '%T' from %v", msg, from)
	}
}

func (n *Node) handleRequestVote(req types.RequestVote) (serde.Message, error) {
	if req.Term > n.log.term {
		err := n.becomeFollower(req.Term, "")
		if err != nil {
			return nil, err
		}
	}

	granted := false

	upToDate := req.LastLogTerm > n.log.lastTerm() ||
		(req.LastLogTerm == n.log.lastTerm() && req.LastLogIndex >= n.log.lastIndex())

	canVote := n.log.votedFor == "" || n.log.votedFor == req.Candidate

	if req.Term == n.log.term && canVote && upToDate {
		err := n.log.setHardState(n.log.term, req.Candidate)
		if err != nil {
			return nil, xerrors.Errorf("couldn't vote: %v", err)
		}

		granted = true
		n.resetTimer = true

		n.logger.Debug().
			Uint64("term", req.Term).
			Str("candidate", req.Candidate).
			Msg("vote granted")
	}

	return types.VoteReply{Term: n.log.term, Granted: granted}, nil
}

func (n *Node) handleAppendEntries(req types.AppendEntries) (serde.Message, error) {
	if req.Term < n.log.term {
		return types.AppendReply{Term: n.log.term}, nil
	}

	if req.Term > n.log.term || n.state != Follower || n.leader != req.Leader {
		err := n.becomeFollower(req.Term, req.Leader)
		if err != nil {
			return nil, err
		}
	}

	n.resetTimer = true

	prevIndex := req.PrevLogIndex
	prevTerm := req.PrevLogTerm
	entries := req.Entries

	// Entries already compacted are committed, and therefore identical.
	if prevIndex < n.log.snapshotIndex {
		skip := n.log.snapshotIndex - prevIndex
		if skip >= uint64(len(entries)) {
			entries = nil
		} else {
			entries = entries[skip:]
		}

		prevIndex = n.log.snapshotIndex
		prevTerm = n.log.snapshotTerm
	}

	if prevIndex > n.log.lastIndex() {
		return types.AppendReply{Term: n.log.term, Index: n.log.lastIndex() + 1}, nil
	}

	term, _ := n.log.termAt(prevIndex)
	if term != prevTerm {
		hint := n.log.firstIndexOfTerm(prevIndex)

		return types.AppendReply{Term: n.log.term, Index: hint}, nil
	}

	for i, entry := range entries {
		term, found := n.log.termAt(entry.Index)
		if found && term == entry.Term {
			continue
		}

		err := n.log.append(entries[i:]...)
		if err != nil {
			return nil, xerrors.Errorf("couldn't append: %v", err)
		}

		break
	}

	lastNew := prevIndex + uint64(len(entries))

	if req.LeaderCommit > n.commitIndex {
		commit := req.LeaderCommit
		if commit > lastNew {
			commit = lastNew
		}

		if commit > n.commitIndex {
			n.commitIndex = commit
			n.apply()
		}
	}

	return types.AppendReply{Term: n.log.term, Success: true, Index: lastNew}, nil
}

func (n *Node) handleInstallSnapshot(req types.InstallSnapshot) (serde.Message, error) {
	if req.Term < n.log.term {
		return types.SnapshotReply{Term: n.log.term}, nil
	}

	if req.Term > n.log.term || n.state != Follower || n.leader != req.Leader {
		err := n.becomeFollower(req.Term, req.Leader)
		if err != nil {
			return nil, err
		}
	}

	n.resetTimer = true

	if req.LastIndex <= n.commitIndex {
		return types.SnapshotReply{Term: n.log.term, Success: true}, nil
	}

	data, err := decompressSnapshot(req.Data, req.Checksum)
	if err != nil {
		return nil, xerrors.Errorf("invalid snapshot: %v", err)
	}

	err = n.sm.Restore(Snapshot{Index: req.LastIndex, Term: req.LastTerm, Data: data})
	if err != nil {
		return nil, xerrors.Errorf("couldn't restore: %v", err)
	}

	err = n.log.resetTo(req.LastIndex, req.LastTerm, true)
	if err != nil {
		return nil, xerrors.Errorf("couldn't reset log: %v", err)
	}

	n.commitIndex = req.LastIndex
	n.lastApplied = req.LastIndex

	n.logger.Info().
		Uint64("index", req.LastIndex).
		Uint64("term", req.LastTerm).
		Msg("snapshot installed")

	return types.SnapshotReply{Term: n.log.term, Success: true}, nil
}

func (n *Node) handlePropose(p proposal) {
	if n.state != Leader {
		p.result <- proposalResult{err: &NotLeaderError{Leader: n.members[n.leader]}}
		return
	}

	entry := types.Entry{
		Index: n.log.lastIndex() + 1,
		Term:  n.log.term,
		Type:  types.EntryCommand,
		ID:    xid.New().String(),
		Data:  p.data,
	}

	err := n.log.append(entry)
	if err != nil {
		p.result <- proposalResult{err: xerrors.Errorf("couldn't append: %v", err)}
		return
	}

	n.pending[entry.ID] = p
	n.matchIndex[n.id] = entry.Index

	n.advanceCommit()
	n.broadcast()
}

func (n *Node) handleReply(reply peerReply) {
	if !reply.vote {
		n.inflight[reply.peer] = false
	}

	if reply.err != nil {
		n.logger.Trace().Err(reply.err).Str("peer", reply.peer).Msg("call failed")
		return
	}

	switch msg := reply.msg.(type) {
	case types.VoteReply:
		n.handleVoteReply(reply, msg)
	case types.AppendReply:
		n.handleAppendReply(reply, msg)
	case types.SnapshotReply:
		n.handleSnapshotReply(reply, msg)
	default:
		n.logger.Warn().Str("peer", reply.peer).Msgf("unexpected reply '%T'", msg)
	}
}

func (n *Node) handleVoteReply(reply peerReply, msg types.VoteReply) {
	if msg.Term > n.log.term {
		n.stepDown(msg.Term)
		return
	}

	if n.state != Candidate || reply.term != n.log.term || !msg.Granted {
		return
	}

	n.votes[reply.peer] = struct{}{}

	if len(n.votes) >= n.quorum() {
		n.becomeLeader()
	}
}

func (n *Node) handleAppendReply(reply peerReply, msg types.AppendReply) {
	if msg.Term > n.log.term {
		n.stepDown(msg.Term)
		return
	}

	if n.state != Leader || reply.term != n.log.term {
		return
	}

	n.lastContact[reply.peer] = time.Now()

	if msg.Success {
		if msg.Index > n.matchIndex[reply.peer] {
			n.matchIndex[reply.peer] = msg.Index
		}

		n.nextIndex[reply.peer] = n.matchIndex[reply.peer] + 1

		n.advanceCommit()
	} else {
		next := msg.Index
		if next > reply.prevIndex {
			next = reply.prevIndex
		}

		if next < 1 {
			next = 1
		}

		n.nextIndex[reply.peer] = next
	}

	if n.nextIndex[reply.peer] <= n.log.lastIndex() {
		n.replicate(reply.peer)
	}
}

func (n *Node) handleSnapshotReply(reply peerReply, msg types.SnapshotReply) {
	if msg.Term > n.log.term {
		n.stepDown(msg.Term)
		return
	}

	if n.state != Leader || reply.term != n.log.term {
		return
	}

	n.lastContact[reply.peer] = time.Now()

	if !msg.Success {
		return
	}

	if reply.prevIndex > n.matchIndex[reply.peer] {
		n.matchIndex[reply.peer] = reply.prevIndex
	}

	n.nextIndex[reply.peer] = n.matchIndex[reply.peer] + 1

	if n.nextIndex[reply.peer] <= n.log.lastIndex() {
		n.replicate(reply.peer)
	}
}

func (n *Node) startElection() {
	err := n.log.setHardState(n.log.term+1, n.id)
	if err != nil {
		n.logger.Err(err).Msg("couldn't start election")
		return
	}

	n.state = Candidate
	n.leader = ""
	n.votes = map[string]struct{}{n.id: {}}

	n.logger.Debug().Uint64("term", n.log.term).Msg("election started")

	if len(n.votes) >= n.quorum() {
		n.becomeLeader()
		return
	}

	req := types.RequestVote{
		Term:         n.log.term,
		Candidate:    n.id,
		LastLogIndex: n.log.lastIndex(),
		LastLogTerm:  n.log.lastTerm(),
	}

	for _, peer := range n.peers {
		n.send(peer, req, 0)
	}
}

func (n *Node) becomeLeader() {
	n.state = Leader
	n.leader = n.id
	n.votes = nil

	promLeaderChanges.Inc()

	now := time.Now()

	for _, peer := range n.peers {
		n.nextIndex[peer] = n.log.lastIndex() + 1
		n.matchIndex[peer] = 0
		n.inflight[peer] = false
		n.lastContact[peer] = now
	}

	noop := types.Entry{
		Index: n.log.lastIndex() + 1,
		Term:  n.log.term,
		Type:  types.EntryNoOp,
	}

	err := n.log.append(noop)
	if err != nil {
		n.logger.Err(err).Msg("couldn't append no-op entry")
		n.stepDown(n.log.term)
		return
	}

	n.matchIndex[n.id] = noop.Index

	n.logger.Info().Uint64("term", n.log.term).Msg("elected as leader")

	n.advanceCommit()
	n.broadcast()
}

func (n *Node) becomeFollower(term uint64, leader string) error {
	votedFor := n.log.votedFor
	if term > n.log.term {
		votedFor = ""
	}

	err := n.log.setHardState(term, votedFor)
	if err != nil {
		return xerrors.Errorf("couldn't update term: %v", err)
	}

	if n.state == Leader {
		n.failPending(xerrors.Errorf("leadership lost: %w", ErrOutcomeUnknown))
	}

	if leader != "" && leader != n.leader {
		promLeaderChanges.Inc()

		n.logger.Debug().Uint64("term", term).Str("leader", leader).Msg("new leader")
	}

	n.state = Follower
	n.leader = leader
	n.votes = nil

	return nil
}

func (n *Node) stepDown(term uint64) {
	err := n.becomeFollower(term, "")
	if err != nil {
		n.logger.Err(err).Msg("couldn't step down")
	}
}

// checkQuorum makes the leader step down when it cannot reach a majority of
// the members within an election timeout, so that the requests are redirected
// instead of timing out.
func (n *Node) checkQuorum() {
	threshold := time.Now().Add(-n.opts.electionTimeout)

	count := 1
	for _, peer := range n.peers {
		if n.lastContact[peer].After(threshold) {
			count++
		}
	}

	if count < n.quorum() {
		n.logger.Warn().Uint64("term", n.log.term).Msg("quorum lost, stepping down")
		n.stepDown(n.log.term)
	}
}

func (n *Node) broadcast() {
	for _, peer := range n.peers {
		n.replicate(peer)
	}
}

// replicate sends the next entries to the peer, or the snapshot of the state
// when the entries are already compacted. Only one request is in flight per
// peer.
func (n *Node) replicate(peer string) {
	if n.inflight[peer] {
		return
	}

	next := n.nextIndex[peer]

	if next <= n.log.snapshotIndex {
		n.sendSnapshot(peer)
		return
	}

	prevIndex := next - 1
	prevTerm, _ := n.log.termAt(prevIndex)

	req := types.AppendEntries{
		Term:         n.log.term,
		Leader:       n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      n.log.slice(next, n.opts.maxBatch),
		LeaderCommit: n.commitIndex,
	}

	n.inflight[peer] = true
	n.send(peer, req, prevIndex)
}

func (n *Node) sendSnapshot(peer string) {
	snap, err := n.sm.Snapshot()
	if err != nil {
		n.logger.Err(err).Msg("couldn't take snapshot")
		return
	}

	data, checksum, err := compressSnapshot(snap.Data)
	if err != nil {
		n.logger.Err(err).Msg("couldn't compress snapshot")
		return
	}

	req := types.InstallSnapshot{
		Term:      n.log.term,
		Leader:    n.id,
		LastIndex: snap.Index,
		LastTerm:  snap.Term,
		Data:      data,
		Checksum:  checksum,
	}

	n.logger.Debug().Str("peer", peer).Uint64("index", snap.Index).Msg("sending snapshot")

	n.inflight[peer] = true
	n.send(peer, req, snap.Index)
}

// send sends the message to the peer in the background. The reply is delivered
// to the event loop.
func (n *Node) send(peer string, msg serde.Message, prevIndex uint64) {
	addr := n.members[peer]
	term := n.log.term

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.opts.electionTimeout)
		defer cancel()

		_, vote := msg.(types.RequestVote)

		reply := peerReply{
			peer:      peer,
			vote:      vote,
			term:      term,
			prevIndex: prevIndex,
		}

		reply.msg, reply.err = n.call(ctx, addr, msg)

		select {
		case n.replyCh <- reply:
		case <-n.closing:
		}
	}()
}

func (n *Node) call(ctx context.Context, to mino.Address, msg serde.Message) (serde.Message, error) {
	resps, err := n.rpc.Call(ctx, msg, mino.NewAddresses(to))
	if err != nil {
		return nil, xerrors.Errorf("call failed: %v", err)
	}

	select {
	case resp, more := <-resps:
		if !more {
			return nil, xerrors.New("no reply")
		}

		return resp.GetMessageOrError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// advanceCommit moves the commit index to the highest entry of the current
// term that is stored by a majority of the members.
func (n *Node) advanceCommit() {
	for index := n.log.lastIndex(); index > n.commitIndex; index-- {
		term, found := n.log.termAt(index)
		if !found || term < n.log.term {
			return
		}

		if term != n.log.term {
			continue
		}

		count := 0
		for _, match := range n.matchIndex {
			if match >= index {
				count++
			}
		}

		if count >= n.quorum() {
			n.commitIndex = index
			promCommitIndex.Set(float64(index))

			n.apply()

			return
		}
	}
}

// apply applies the committed entries to the state machine and resolves the
// proposals waiting for them.
func (n *Node) apply() {
	for n.lastApplied < n.commitIndex {
		entry, found := n.log.get(n.lastApplied + 1)
		if !found {
			n.logger.Error().Uint64("index", n.lastApplied+1).Msg("missing entry")
			return
		}

		value, err := n.sm.Apply(entry)
		if err != nil {
			n.logger.Err(err).Uint64("index", entry.Index).Msg("couldn't apply entry")
			return
		}

		n.lastApplied = entry.Index

		p, found := n.pending[entry.ID]
		if found && entry.ID != "" {
			delete(n.pending, entry.ID)
			p.result <- proposalResult{value: value}
		}
	}

	n.compact()
}

func (n *Node) compact() {
	if n.opts.snapshotThreshold == 0 || n.lastApplied-n.log.snapshotIndex < n.opts.snapshotThreshold {
		return
	}

	term, found := n.log.termAt(n.lastApplied)
	if !found {
		return
	}

	err := n.log.compact(n.lastApplied, term)
	if err != nil {
		n.logger.Err(err).Msg("couldn't compact log")
		return
	}

	n.logger.Debug().Uint64("index", n.lastApplied).Msg("log compacted")
}

func (n *Node) failPending(err error) {
	for id, p := range n.pending {
		p.result <- proposalResult{err: err}
		delete(n.pending, id)
	}
}

func (n *Node) quorum() int {
	return len(n.members)/2 + 1
}

func (n *Node) randomTimeout() time.Duration {
	min := n.opts.electionTimeout

	return min + time.Duration(rand.Int63n(int64(min)))
}

func (n *Node) publishStatus() {
	promTerm.Set(float64(n.log.term))
	promState.Set(float64(n.state))

	n.Lock()
	defer n.Unlock()

	n.status = Status{
		State:        n.state,
		Term:         n.log.term,
		Leader:       n.members[n.leader],
		CommitIndex:  n.commitIndex,
		AppliedIndex: n.lastApplied,
		LastIndex:    n.log.lastIndex(),
	}
}
