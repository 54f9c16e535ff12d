package raft

import (
	"encoding/binary"

	"go.dedis.ch/notary/core/ordering/raft/types"
	"go.dedis.ch/notary/core/store/kv"
	"go.dedis.ch/notary/serde"
	"golang.org/x/xerrors"
)

var (
	stateBucket = []byte("raft-state")
	logBucket   = []byte("raft-log")

	keyTerm          = []byte("term")
	keyVote          = []byte("vote")
	keySnapshotIndex = []byte("snapshot-index")
	keySnapshotTerm  = []byte("snapshot-term")
)

// logStore is the durable log of a member. The entries are kept in memory and
// every change is written to the database before it returns. It is not safe
// for concurrent use and it is owned by the event loop.
type logStore struct {
	db      kv.DB
	context serde.Context
	factory types.EntryFactory

	term     uint64
	votedFor string

	// snapshotIndex and snapshotTerm describe the last entry that was
	// compacted. The entries start right after it.
	snapshotIndex uint64
	snapshotTerm  uint64
	entries       []types.Entry
}

func newLogStore(db kv.DB, ctx serde.Context) (*logStore, error) {
	s := &logStore{
		db:      db,
		context: ctx,
	}

	err := db.View(func(txn kv.ReadableTx) error {
		state := txn.GetBucket(stateBucket)
		if state != nil {
			s.term = readUint64(state.Get(keyTerm))
			s.votedFor = string(state.Get(keyVote))
			s.snapshotIndex = readUint64(state.Get(keySnapshotIndex))
			s.snapshotTerm = readUint64(state.Get(keySnapshotTerm))
		}

		bucket := txn.GetBucket(logBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			entry, err := s.factory.EntryOf(s.context, v)
			if err != nil {
				return xerrors.Errorf("couldn't read entry %d: %v", readUint64(k), err)
			}

			s.entries = append(s.entries, entry)

			return nil
		})
	})

	if err != nil {
		return nil, xerrors.Errorf("couldn't load log: %v", err)
	}

	for i, entry := range s.entries {
		if entry.Index != s.snapshotIndex+uint64(i)+1 {
			return nil, xerrors.Errorf("log is not contiguous at %d", entry.Index)
		}
	}

	return s, nil
}

func (s *logStore) lastIndex() uint64 {
	return s.snapshotIndex + uint64(len(s.entries))
}

func (s *logStore) lastTerm() uint64 {
	if len(s.entries) == 0 {
		return s.snapshotTerm
	}

	return s.entries[len(s.entries)-1].Term
}

// termAt returns the term of the entry at the index, and false if the entry is
// unknown or compacted.
func (s *logStore) termAt(index uint64) (uint64, bool) {
	if index == s.snapshotIndex {
		return s.snapshotTerm, true
	}

	entry, found := s.get(index)
	if !found {
		return 0, false
	}

	return entry.Term, true
}

// matches returns true when the log holds an entry at the index with the
// term.
func (s *logStore) matches(index, term uint64) bool {
	localTerm, found := s.termAt(index)

	return found && localTerm == term
}

func (s *logStore) get(index uint64) (types.Entry, bool) {
	if index <= s.snapshotIndex || index > s.lastIndex() {
		return types.Entry{}, false
	}

	return s.entries[index-s.snapshotIndex-1], true
}

// slice returns at most max entries starting from the index.
func (s *logStore) slice(from uint64, max int) []types.Entry {
	if from <= s.snapshotIndex || from > s.lastIndex() {
		return nil
	}

	start := from - s.snapshotIndex - 1
	end := start + uint64(max)
	if end > uint64(len(s.entries)) {
		end = uint64(len(s.entries))
	}

	res := make([]types.Entry, end-start)
	copy(res, s.entries[start:end])

	return res
}

// firstIndexOfTerm returns the first index of the log which has the same term
// as the entry at the index.
func (s *logStore) firstIndexOfTerm(index uint64) uint64 {
	term, found := s.termAt(index)
	if !found {
		return index
	}

	for index > s.snapshotIndex+1 {
		prev, _ := s.termAt(index - 1)
		if prev != term {
			break
		}

		index--
	}

	return index
}

func (s *logStore) setHardState(term uint64, votedFor string) error {
	if term == s.term && votedFor == s.votedFor {
		return nil
	}

	err := s.db.Update(func(txn kv.WritableTx) error {
		bucket, err := txn.GetBucketOrCreate(stateBucket)
		if err != nil {
			return err
		}

		err = bucket.Set(keyTerm, writeUint64(term))
		if err != nil {
			return err
		}

		return bucket.Set(keyVote, []byte(votedFor))
	})

	if err != nil {
		return xerrors.Errorf("couldn't persist state: %v", err)
	}

	s.term = term
	s.votedFor = votedFor

	return nil
}

// append writes the entries at the end of the log. Conflicting entries after
// the index of the first new entry are removed beforehand.
func (s *logStore) append(entries ...types.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	first := entries[0].Index
	if first <= s.snapshotIndex || first > s.lastIndex()+1 {
		return xerrors.Errorf("entry %d does not follow the log", first)
	}

	last := s.lastIndex()

	err := s.db.Update(func(txn kv.WritableTx) error {
		bucket, err := txn.GetBucketOrCreate(logBucket)
		if err != nil {
			return err
		}

		for i := first; i <= last; i++ {
			err = bucket.Delete(writeUint64(i))
			if err != nil {
				return err
			}
		}

		for _, entry := range entries {
			data, err := entry.Serialize(s.context)
			if err != nil {
				return err
			}

			err = bucket.Set(writeUint64(entry.Index), data)
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return xerrors.Errorf("couldn't persist entries: %v", err)
	}

	s.entries = append(s.entries[:first-s.snapshotIndex-1], entries...)

	return nil
}

// compact removes the entries up to the index included. The entries must have
// been applied to the state machine beforehand.
func (s *logStore) compact(index, term uint64) error {
	if index <= s.snapshotIndex {
		return nil
	}

	return s.resetTo(index, term, index <= s.lastIndex())
}

// resetTo moves the compaction point to the index. When keep is false, or the
// log does not match the index, the whole log is discarded.
func (s *logStore) resetTo(index, term uint64, keep bool) error {
	var remaining []types.Entry

	if keep {
		localTerm, found := s.termAt(index)
		if found && localTerm == term {
			remaining = s.slice(index+1, len(s.entries))
		}
	}

	last := s.lastIndex()

	err := s.db.Update(func(txn kv.WritableTx) error {
		state, err := txn.GetBucketOrCreate(stateBucket)
		if err != nil {
			return err
		}

		err = state.Set(keySnapshotIndex, writeUint64(index))
		if err != nil {
			return err
		}

		err = state.Set(keySnapshotTerm, writeUint64(term))
		if err != nil {
			return err
		}

		bucket, err := txn.GetBucketOrCreate(logBucket)
		if err != nil {
			return err
		}

		upper := index
		if len(remaining) == 0 && last > upper {
			upper = last
		}

		for i := s.snapshotIndex + 1; i <= upper; i++ {
			err = bucket.Delete(writeUint64(i))
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return xerrors.Errorf("couldn't persist compaction: %v", err)
	}

	s.snapshotIndex = index
	s.snapshotTerm = term
	s.entries = remaining

	return nil
}

func readUint64(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(data)
}

func writeUint64(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	return buffer
}
