package raft

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/internal/testing/fake"
	"go.dedis.ch/notary/mino"
	"go.dedis.ch/notary/mino/minoch"
	"go.dedis.ch/notary/serde/json"
	"golang.org/x/xerrors"
)

const testTimeout = 10 * time.Second

func TestState_String(t *testing.T) {
	require.Equal(t, "follower", Follower.String())
	require.Equal(t, "candidate", Candidate.String())
	require.Equal(t, "leader", Leader.String())
	require.Equal(t, "shutdown", Shutdown.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestNotLeaderError_Error(t *testing.T) {
	err := &NotLeaderError{}
	require.EqualError(t, err, "not leader, no leader known")

	err = &NotLeaderError{Leader: fake.NewAddress(2)}
	require.EqualError(t, err, "not leader, leader is fake.Address[2]")
}

func TestNode_New(t *testing.T) {
	manager := minoch.NewManager()
	m := minoch.MustCreate(manager, "A")

	others := mino.NewAddresses(minoch.MustCreate(manager, "B").GetAddress())

	_, err := NewNode(m, others, makeDB(t), newTestStateMachine(t, makeDB(t)))
	require.EqualError(t, err, "A is not a member of the cluster")

	players := mino.NewAddresses(m.GetAddress())

	sm := newTestStateMachine(t, makeDB(t))
	sm.appliedErr = fake.GetError()

	_, err = NewNode(m, players, makeDB(t), sm)
	require.EqualError(t, err, fake.Err("couldn't read state machine"))

	node, err := NewNode(m, players, makeDB(t), newTestStateMachine(t, makeDB(t)))
	require.NoError(t, err)
	require.Equal(t, Follower, node.Status().State)
	require.Equal(t, m.GetAddress(), node.GetAddress())

	_, err = NewNode(m, players, makeDB(t), newTestStateMachine(t, makeDB(t)))
	require.EqualError(t, err, "couldn't create rpc: rpc 'raft' already exists")

	// A member that never started can be stopped.
	require.NoError(t, node.Stop())
	require.Equal(t, Shutdown, node.Status().State)

	_, err = node.Propose(context.Background(), []byte("A"))
	require.Equal(t, ErrStopped, err)
}

func TestNode_New_SnapshotNotInLog(t *testing.T) {
	manager := minoch.NewManager()
	m := minoch.MustCreate(manager, "A")
	players := mino.NewAddresses(m.GetAddress())

	sm := newTestStateMachine(t, makeDB(t))
	require.NoError(t, sm.Restore(Snapshot{Index: 20, Term: 3}))

	db := makeDB(t)

	node, err := NewNode(m, players, db, sm)
	require.NoError(t, err)

	status := node.Status()
	require.Equal(t, uint64(20), status.LastIndex)
	require.Equal(t, uint64(20), status.CommitIndex)
	require.Equal(t, uint64(20), status.AppliedIndex)
	require.Equal(t, uint64(3), status.Term)

	store, err := newLogStore(db, node.log.context)
	require.NoError(t, err)
	require.Equal(t, uint64(20), store.snapshotIndex)
	require.Equal(t, uint64(3), store.snapshotTerm)
	require.Equal(t, uint64(20), store.lastIndex())
	require.NoError(t, node.Stop())
}

func TestNode_New_LogAheadOfSnapshot(t *testing.T) {
	manager := minoch.NewManager()
	m := minoch.MustCreate(manager, "A")
	players := mino.NewAddresses(m.GetAddress())

	db := makeDB(t)

	store, err := newLogStore(db, json.NewContext())
	require.NoError(t, err)
	require.NoError(t, store.compact(10, 2))

	sm := newTestStateMachine(t, makeDB(t))
	sm.index = 5

	_, err = NewNode(m, players, db, sm)
	require.EqualError(t, err, "state machine index 5 is behind the snapshot 10")
}

func TestNode_SingleMember(t *testing.T) {
	cluster := makeCluster(t, 1)
	cluster.start()

	leader := cluster.waitLeader(t)

	value, err := leader.Propose(context.Background(), []byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte("applied:A"), value)

	// The no-op entry of the election comes first.
	require.Eventually(t, func() bool {
		status := leader.Status()
		return status.CommitIndex == 2 && status.AppliedIndex == 2 && status.LastIndex == 2
	}, testTimeout, 10*time.Millisecond)

	status := leader.Status()
	require.Equal(t, Leader, status.State)
	require.True(t, status.Leader.Equal(leader.GetAddress()))

	require.Equal(t, []string{"A"}, cluster.sms[0].values())
}

func TestNode_Replication(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	for i := 0; i < 10; i++ {
		_, err := leader.Propose(context.Background(), []byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, err)
	}

	expected := cluster.sms[cluster.indexOf(leader)].values()
	require.Len(t, expected, 10)

	cluster.waitConverged(t, expected)

	for _, node := range cluster.nodes {
		require.Eventually(t, func() bool {
			status := node.Status()
			return status.Term == leader.Status().Term &&
				status.Leader != nil && status.Leader.Equal(leader.GetAddress())
		}, testTimeout, 10*time.Millisecond)
	}
}

func TestNode_ProposeOnFollower(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	// Wait for the followers to learn about the leader.
	_, err := leader.Propose(context.Background(), []byte("A"))
	require.NoError(t, err)

	for _, node := range cluster.nodes {
		if node == leader {
			continue
		}

		require.Eventually(t, func() bool {
			leaderAddr := node.Status().Leader
			return leaderAddr != nil && leaderAddr.Equal(leader.GetAddress())
		}, testTimeout, 10*time.Millisecond)

		_, err := node.Propose(context.Background(), []byte("B"))

		var notLeader *NotLeaderError
		require.True(t, xerrors.As(err, &notLeader))
		require.True(t, notLeader.Leader.Equal(leader.GetAddress()))
	}
}

func TestNode_ConcurrentProposals(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	wg := sync.WaitGroup{}
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := leader.Propose(context.Background(), []byte(fmt.Sprintf("value-%d", i)))
			errs <- err
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	expected := cluster.sms[cluster.indexOf(leader)].values()
	require.Len(t, expected, 20)

	cluster.waitConverged(t, expected)
}

func TestNode_Failover(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	_, err := leader.Propose(context.Background(), []byte("A"))
	require.NoError(t, err)

	require.NoError(t, leader.Stop())

	next := cluster.waitLeader(t)
	require.NotEqual(t, leader, next)
	require.Greater(t, next.Status().Term, leader.Status().Term)

	_, err = next.Propose(context.Background(), []byte("B"))
	require.NoError(t, err)

	// The committed entry survives the change of leader.
	require.Equal(t, []string{"A", "B"}, cluster.sms[cluster.indexOf(next)].values())
}

func TestNode_Partition(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	_, err := leader.Propose(context.Background(), []byte("A"))
	require.NoError(t, err)

	cluster.isolate(leader)

	// The isolated leader steps down as it cannot reach a majority.
	require.Eventually(t, func() bool {
		return leader.Status().State != Leader
	}, testTimeout, 10*time.Millisecond)

	_, err = leader.Propose(context.Background(), []byte("lost"))
	var notLeader *NotLeaderError
	require.True(t, xerrors.As(err, &notLeader))

	next := cluster.waitLeader(t)
	require.NotEqual(t, leader, next)

	_, err = next.Propose(context.Background(), []byte("B"))
	require.NoError(t, err)

	cluster.heal()

	cluster.waitConverged(t, []string{"A", "B"})
}

func TestNode_ProposeTimeout(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)
	cluster.isolate(leader)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := leader.Propose(ctx, []byte("A"))
	require.Error(t, err)

	// The leader might have stepped down before receiving the proposal.
	var notLeader *NotLeaderError
	if !xerrors.As(err, &notLeader) {
		require.True(t, xerrors.Is(err, ErrOutcomeUnknown), err.Error())
	}
}

func TestNode_StopWithPending(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)
	cluster.isolate(leader)

	errs := make(chan error, 1)
	go func() {
		_, err := leader.Propose(context.Background(), []byte("A"))
		errs <- err
	}()

	select {
	case err := <-errs:
		// The leader stepped down before receiving the proposal.
		var notLeader *NotLeaderError
		require.True(t, xerrors.As(err, &notLeader))
	case <-time.After(20 * time.Millisecond):
		require.NoError(t, leader.Stop())

		err := <-errs
		require.Error(t, err)
		require.True(t, xerrors.Is(err, ErrOutcomeUnknown) || err == ErrStopped, err.Error())
	}
}

func TestNode_Restart(t *testing.T) {
	cluster := makeCluster(t, 3)
	cluster.start()

	leader := cluster.waitLeader(t)

	for i := 0; i < 5; i++ {
		_, err := leader.Propose(context.Background(), []byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, err)
	}

	expected := cluster.sms[cluster.indexOf(leader)].values()
	cluster.waitConverged(t, expected)

	cluster.stop(t)

	restarted := cluster.restart(t)
	restarted.start()

	for i, node := range restarted.nodes {
		require.GreaterOrEqual(t, node.Status().Term, cluster.nodes[i].Status().Term)
	}

	leader = restarted.waitLeader(t)

	_, err := leader.Propose(context.Background(), []byte("after"))
	require.NoError(t, err)

	restarted.waitConverged(t, append(expected, "after"))
}

func TestNode_SnapshotInstall(t *testing.T) {
	cluster := makeCluster(t, 3, WithSnapshotThreshold(5), WithMaxBatch(2))
	cluster.start()

	leader := cluster.waitLeader(t)

	lagging := cluster.nodes[(cluster.indexOf(leader)+1)%3]
	cluster.isolate(lagging)

	for i := 0; i < 20; i++ {
		_, err := leader.Propose(context.Background(), []byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, err)
	}

	expected := cluster.sms[cluster.indexOf(leader)].values()
	require.Len(t, expected, 20)

	cluster.heal()

	cluster.waitConverged(t, expected)
	require.Greater(t, cluster.sms[cluster.indexOf(lagging)].restores(), 0)

	// The member might have disrupted the leader when it joined again.
	leader = cluster.waitLeader(t)

	_, err := leader.Propose(context.Background(), []byte("after"))
	require.NoError(t, err)

	cluster.waitConverged(t, append(expected, "after"))
}

// -----------------------------------------------------------------------------
// Utility functions

type testCluster struct {
	manager *minoch.Manager
	opts    []Option
	minos   []*minoch.Minoch
	nodes   []*Node
	dbs     []kv.DB
	smDBs   []kv.DB
	sms     []*testStateMachine
}

func makeCluster(t *testing.T, n int, opts ...Option) *testCluster {
	opts = append([]Option{
		WithElectionTimeout(100 * time.Millisecond),
		WithHeartbeat(20 * time.Millisecond),
	}, opts...)

	cluster := &testCluster{opts: opts}

	for i := 0; i < n; i++ {
		cluster.dbs = append(cluster.dbs, makeDB(t))
		cluster.smDBs = append(cluster.smDBs, makeDB(t))
	}

	cluster.build(t)

	return cluster
}

func (c *testCluster) build(t *testing.T) {
	c.manager = minoch.NewManager()

	addrs := make([]mino.Address, len(c.dbs))
	for i := range c.dbs {
		m := minoch.MustCreate(c.manager, string(rune('A'+i)))

		c.minos = append(c.minos, m)
		addrs[i] = m.GetAddress()
	}

	players := mino.NewAddresses(addrs...)

	for i, m := range c.minos {
		sm := newTestStateMachine(t, c.smDBs[i])

		node, err := NewNode(m, players, c.dbs[i], sm, c.opts...)
		require.NoError(t, err)

		c.sms = append(c.sms, sm)
		c.nodes = append(c.nodes, node)

		t.Cleanup(func() { node.Stop() })
	}
}

// restart creates a new cluster using the same databases.
func (c *testCluster) restart(t *testing.T) *testCluster {
	next := &testCluster{
		opts:  c.opts,
		dbs:   c.dbs,
		smDBs: c.smDBs,
	}

	next.build(t)

	return next
}

func (c *testCluster) start() {
	for _, node := range c.nodes {
		node.Start()
	}
}

func (c *testCluster) stop(t *testing.T) {
	for _, node := range c.nodes {
		require.NoError(t, node.Stop())
	}
}

func (c *testCluster) indexOf(node *Node) int {
	for i, n := range c.nodes {
		if n == node {
			return i
		}
	}

	return -1
}

// waitLeader waits for a running member to be a leader, and returns the one
// with the highest term.
func (c *testCluster) waitLeader(t *testing.T) *Node {
	var leader *Node

	require.Eventually(t, func() bool {
		leader = nil

		var term uint64
		for _, node := range c.nodes {
			status := node.Status()
			if status.State == Leader && status.Term > term {
				term = status.Term
				leader = node
			}
		}

		return leader != nil
	}, testTimeout, 10*time.Millisecond)

	return leader
}

// waitConverged waits for the running members to apply the values.
func (c *testCluster) waitConverged(t *testing.T, expected []string) {
	for i, node := range c.nodes {
		if node.Status().State == Shutdown {
			continue
		}

		sm := c.sms[i]

		require.Eventually(t, func() bool {
			return equalValues(sm.values(), expected)
		}, testTimeout, 10*time.Millisecond, "member %d: %v", i, sm.values())
	}
}

// isolate drops every message to and from the member.
func (c *testCluster) isolate(node *Node) {
	for _, m := range c.minos {
		if m.GetAddress().Equal(node.GetAddress()) {
			m.AddFilter(func(mino.Request) bool { return false })
			continue
		}

		m.AddFilter(func(req mino.Request) bool {
			return !req.Address.Equal(node.GetAddress())
		})
	}
}

func (c *testCluster) heal() {
	for _, m := range c.minos {
		m.ClearFilters()
	}
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

var (
	smBucket   = []byte("sm")
	keyApplied = []byte("applied")
)

// testStateMachine stores the data of the commands in the order of the log.
type testStateMachine struct {
	sync.Mutex

	db         kv.DB
	index      uint64
	term       uint64
	appliedErr error
	restored   int
}

func newTestStateMachine(t *testing.T, db kv.DB) *testStateMachine {
	sm := &testStateMachine{db: db}

	err := db.View(func(txn kv.ReadableTx) error {
		bucket := txn.GetBucket(smBucket)
		if bucket != nil {
			sm.index, sm.term = decodeApplied(bucket.Get(keyApplied))
		}

		return nil
	})
	require.NoError(t, err)

	return sm
}

func (sm *testStateMachine) Apply(entry types.Entry) ([]byte, error) {
	err := sm.db.Update(func(txn kv.WritableTx) error {
		bucket, err := txn.GetBucketOrCreate(smBucket)
		if err != nil {
			return err
		}

		if entry.Type == types.EntryCommand {
			err = bucket.Set(writeUint64(entry.Index), entry.Data)
			if err != nil {
				return err
			}
		}

		return bucket.Set(keyApplied, encodeApplied(entry.Index, entry.Term))
	})

	if err != nil {
		return nil, err
	}

	sm.Lock()
	sm.index = entry.Index
	sm.term = entry.Term
	sm.Unlock()

	return append([]byte("applied:"), entry.Data...), nil
}

func (sm *testStateMachine) Applied() (uint64, uint64, error) {
	sm.Lock()
	defer sm.Unlock()

	return sm.index, sm.term, sm.appliedErr
}

func (sm *testStateMachine) Snapshot() (Snapshot, error) {
	sm.Lock()
	snap := Snapshot{Index: sm.index, Term: sm.term}
	sm.Unlock()

	err := sm.db.View(func(txn kv.ReadableTx) error {
		bucket := txn.GetBucket(smBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return nil
			}

			snap.Data = append(snap.Data, encodeRecord(k, v)...)

			return nil
		})
	})

	return snap, err
}

func (sm *testStateMachine) Restore(snap Snapshot) error {
	err := sm.db.Update(func(txn kv.WritableTx) error {
		bucket, err := txn.GetBucketOrCreate(smBucket)
		if err != nil {
			return err
		}

		var keys [][]byte
		bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		})

		for _, key := range keys {
			err = bucket.Delete(key)
			if err != nil {
				return err
			}
		}

		data := snap.Data
		for len(data) > 0 {
			var k, v []byte
			k, v, data = decodeRecord(data)

			err = bucket.Set(k, v)
			if err != nil {
				return err
			}
		}

		return bucket.Set(keyApplied, encodeApplied(snap.Index, snap.Term))
	})

	if err != nil {
		return err
	}

	sm.Lock()
	sm.index = snap.Index
	sm.term = snap.Term
	sm.restored++
	sm.Unlock()

	return nil
}

func (sm *testStateMachine) values() []string {
	var values []string

	sm.db.View(func(txn kv.ReadableTx) error {
		bucket := txn.GetBucket(smBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			if len(k) == 8 {
				values = append(values, string(v))
			}

			return nil
		})
	})

	return values
}

func (sm *testStateMachine) restores() int {
	sm.Lock()
	defer sm.Unlock()

	return sm.restored
}

func encodeApplied(index, term uint64) []byte {
	return append(writeUint64(index), writeUint64(term)...)
}

func decodeApplied(data []byte) (uint64, uint64) {
	if len(data) != 16 {
		return 0, 0
	}

	return readUint64(data[:8]), readUint64(data[8:])
}

func encodeRecord(k, v []byte) []byte {
	buffer := make([]byte, 4, 4+len(k)+len(v)+4)
	binary.BigEndian.PutUint32(buffer, uint32(len(v)))
	buffer = append(buffer, k...)

	return append(buffer, v...)
}

func decodeRecord(data []byte) ([]byte, []byte, []byte) {
	size := binary.BigEndian.Uint32(data[:4])
	k := data[4:12]
	v := data[12 : 12+size]

	return k, v, data[12+size:]
}
