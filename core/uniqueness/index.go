package uniqueness

import (
	"encoding/binary"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/notary"
	"go.dedis.ch/notary/core/ordering/raft"
	raftTypes "go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/core/uniqueness/types"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

var (
	indexBucket   = []byte("uniqueness-index")
	appliedBucket = []byte("uniqueness-applied")
	keyApplied    = []byte("applied")
)

const (
	resultCommitted  = "committed"
	resultIdempotent = "idempotent"
	resultConflict   = "conflict"
	resultRejected   = "rejected"
)

var promApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notary_uniqueness_commands_total",
	Help: "number of commit commands applied to the index, by result",
}, []string{"result"})

var promInputs = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "notary_uniqueness_consumed_inputs_total",
	Help: "number of inputs recorded as consumed",
})

func init() {
	notary.PromCollectors = append(notary.PromCollectors, promApplied, promInputs)
}

// Index is the index of the consumed inputs. It is the state machine of the
// replicated log: the commit commands are applied in the order of the log, and
// the index of the last applied entry is stored in the same transaction as the
// records.
//
// - implements raft.StateMachine
type Index struct {
	sync.Mutex

	db      kv.DB
	context serde.Context
	factory types.MessageFactory
	logger  zerolog.Logger

	index uint64
	term  uint64
}

// NewIndex returns the index stored in the database.
func NewIndex(db kv.DB, ctx serde.Context) (*Index, error) {
	idx := &Index{
		db:      db,
		context: ctx,
		logger:  notary.Logger.With().Str("component", "uniqueness").Logger(),
	}

	err := db.View(func(txn kv.ReadableTx) error {
		bucket := txn.GetBucket(appliedBucket)
		if bucket != nil {
			idx.index, idx.term = decodeApplied(bucket.Get(keyApplied))
		}

		return nil
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't read index: %v", err)
	}

	return idx, nil
}

// Apply implements raft.StateMachine. It records the inputs of a commit
// command if none of them is consumed by another transaction. The batch is
// either recorded entirely or not at all.
func (idx *Index) Apply(entry raftTypes.Entry) ([]byte, error) {
	var outcome types.CommitOutcome
	result := ""

	err := idx.db.Update(func(txn kv.WritableTx) error {
		if entry.Type == raftTypes.EntryCommand {
			var err error

			outcome, result, err = idx.applyCommand(txn, entry)
			if err != nil {
				return err
			}
		}

		bucket, err := txn.GetBucketOrCreate(appliedBucket)
		if err != nil {
			return err
		}

		return bucket.Set(keyApplied, encodeApplied(entry.Index, entry.Term))
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't apply entry %d: %v", entry.Index, err)
	}

	idx.Lock()
	idx.index = entry.Index
	idx.term = entry.Term
	idx.Unlock()

	if entry.Type != raftTypes.EntryCommand {
		return nil, nil
	}

	promApplied.WithLabelValues(result).Inc()

	data, err := outcome.Serialize(idx.context)
	if err != nil {
		return nil, xerrors.Errorf("couldn't serialize outcome: %v", err)
	}

	return data, nil
}

func (idx *Index) applyCommand(txn kv.WritableTx,
	entry raftTypes.Entry) (types.CommitOutcome, string, error) {

	msg, err := idx.factory.Deserialize(idx.context, entry.Data)
	if err != nil {
		idx.logger.Warn().Err(err).Uint64("index", entry.Index).Msg("malformed command")

		return types.CommitOutcome{Reason: "malformed command"}, resultRejected, nil
	}

	cmd, ok := msg.(types.CommitCommand)
	if !ok || len(cmd.Inputs) == 0 {
		idx.logger.Warn().Uint64("index", entry.Index).Msgf("invalid command '%T'", msg)

		return types.CommitOutcome{Reason: "invalid command"}, resultRejected, nil
	}

	bucket, err := txn.GetBucketOrCreate(indexBucket)
	if err != nil {
		return types.CommitOutcome{}, "", err
	}

	var outcome types.CommitOutcome
	var fresh []types.InputReference

	for _, input := range cmd.Inputs {
		record, found, err := idx.read(bucket, input)
		if err != nil {
			return outcome, "", err
		}

		if !found {
			fresh = append(fresh, input)
			continue
		}

		if record.CommittedBy != cmd.TxID {
			outcome.Conflicts = append(outcome.Conflicts, types.Conflict{
				Input:       input,
				CommittedBy: record.CommittedBy,
			})
		}
	}

	if len(outcome.Conflicts) > 0 {
		return outcome, resultConflict, nil
	}

	if len(fresh) == 0 {
		return outcome, resultIdempotent, nil
	}

	for _, input := range fresh {
		record := types.CommitLogEntry{
			Input:       input,
			CommittedBy: cmd.TxID,
			LogIndex:    entry.Index,
			LogTerm:     entry.Term,
			Party:       cmd.Party,
		}

		data, err := record.Serialize(idx.context)
		if err != nil {
			return outcome, "", err
		}

		err = bucket.Set(input.Key(), data)
		if err != nil {
			return outcome, "", err
		}
	}

	txn.OnCommit(func() {
		promInputs.Add(float64(len(fresh)))
	})

	return outcome, resultCommitted, nil
}

// Applied implements raft.StateMachine. It returns the index and the term of
// the last applied entry.
func (idx *Index) Applied() (uint64, uint64, error) {
	idx.Lock()
	defer idx.Unlock()

	return idx.index, idx.term, nil
}

// Snapshot implements raft.StateMachine. It returns every record of the index.
func (idx *Index) Snapshot() (raft.Snapshot, error) {
	snap := raft.Snapshot{}
	content := types.IndexSnapshot{}

	err := idx.db.View(func(txn kv.ReadableTx) error {
		applied := txn.GetBucket(appliedBucket)
		if applied != nil {
			snap.Index, snap.Term = decodeApplied(applied.Get(keyApplied))
		}

		bucket := txn.GetBucket(indexBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			record, err := idx.decode(v)
			if err != nil {
				return err
			}

			content.Entries = append(content.Entries, record)

			return nil
		})
	})

	if err != nil {
		return snap, xerrors.Errorf("couldn't read index: %v", err)
	}

	snap.Data, err = content.Serialize(idx.context)
	if err != nil {
		return snap, xerrors.Errorf("couldn't serialize snapshot: %v", err)
	}

	return snap, nil
}

// Restore implements raft.StateMachine. It replaces the records with the ones
// of the snapshot.
func (idx *Index) Restore(snap raft.Snapshot) error {
	msg, err := idx.factory.Deserialize(idx.context, snap.Data)
	if err != nil {
		return xerrors.Errorf("couldn't deserialize snapshot: %v", err)
	}

	content, ok := msg.(types.IndexSnapshot)
	if !ok {
		return xerrors.Errorf("invalid snapshot '%T'", msg)
	}

	err = idx.db.Update(func(txn kv.WritableTx) error {
		bucket, err := txn.GetBucketOrCreate(indexBucket)
		if err != nil {
			return err
		}

		var keys [][]byte
		err = bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			err = bucket.Delete(key)
			if err != nil {
				return err
			}
		}

		for _, record := range content.Entries {
			data, err := record.Serialize(idx.context)
			if err != nil {
				return err
			}

			err = bucket.Set(record.Input.Key(), data)
			if err != nil {
				return err
			}
		}

		applied, err := txn.GetBucketOrCreate(appliedBucket)
		if err != nil {
			return err
		}

		return applied.Set(keyApplied, encodeApplied(snap.Index, snap.Term))
	})

	if err != nil {
		return xerrors.Errorf("couldn't restore index: %v", err)
	}

	idx.Lock()
	idx.index = snap.Index
	idx.term = snap.Term
	idx.Unlock()

	idx.logger.Info().
		Uint64("index", snap.Index).
		Int("records", len(content.Entries)).
		Msg("index restored")

	return nil
}

// Lookup returns the record of the input if it has been consumed. The state is
// as fresh as the last entry applied by this member, which might be behind the
// leader.
func (idx *Index) Lookup(ref types.InputReference) (types.CommitLogEntry, bool, error) {
	var record types.CommitLogEntry
	var found bool

	err := idx.db.View(func(txn kv.ReadableTx) error {
		bucket := txn.GetBucket(indexBucket)
		if bucket == nil {
			return nil
		}

		var err error
		record, found, err = idx.read(bucket, ref)

		return err
	})

	if err != nil {
		return record, false, xerrors.Errorf("couldn't read index: %v", err)
	}

	return record, found, nil
}

func (idx *Index) read(bucket kv.Bucket, ref types.InputReference) (types.CommitLogEntry, bool, error) {
	data := bucket.Get(ref.Key())
	if data == nil {
		return types.CommitLogEntry{}, false, nil
	}

	record, err := idx.decode(data)
	if err != nil {
		return record, false, err
	}

	return record, true, nil
}

func (idx *Index) decode(data []byte) (types.CommitLogEntry, error) {
	msg, err := idx.factory.Deserialize(idx.context, data)
	if err != nil {
		return types.CommitLogEntry{}, xerrors.Errorf("couldn't deserialize record: %v", err)
	}

	record, ok := msg.(types.CommitLogEntry)
	if !ok {
		return types.CommitLogEntry{}, xerrors.Errorf("invalid record '%T'", msg)
	}

	return record, nil
}

func encodeApplied(index, term uint64) []byte {
	buffer := make([]byte, 16)
	binary.BigEndian.PutUint64(buffer, index)
	binary.BigEndian.PutUint64(buffer[8:], term)

	return buffer
}

func decodeApplied(data []byte) (uint64, uint64) {
	if len(data) != 16 {
		return 0, 0
	}

	return binary.BigEndian.Uint64(data), binary.BigEndian.Uint64(data[8:])
}
