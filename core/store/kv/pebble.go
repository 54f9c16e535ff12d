package kv

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/pebble"
	"golang.org/x/xerrors"
)

const (
	// prefixData is the namespace of the keys stored in a bucket.
	prefixData = byte('d')
	// prefixBucket is the namespace of the markers of existing buckets.
	prefixBucket = byte('b')
)

// pebbleDB is an adapter of the KV store using pebble. Pebble has no notion of
// buckets, so the keys of a bucket are prefixed with the length and the name
// of the bucket, and a marker key records the existence of a bucket.
//
// - implements kv.DB
type pebbleDB struct {
	db *pebble.DB
}

// NewPebble opens a new pebble database in the given directory.
func NewPebble(path string) (DB, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return pebbleDB{db: db}, nil
}

// View implements kv.DB. It executes the read-only function on a snapshot of
// the database.
func (db pebbleDB) View(fn func(ReadableTx) error) error {
	snap := db.db.NewSnapshot()
	defer snap.Close()

	return fn(&pebbleTx{reader: snap})
}

// Update implements kv.DB. It executes the writable function on an indexed
// batch which is committed synchronously when the function succeeds.
func (db pebbleDB) Update(fn func(WritableTx) error) error {
	batch := db.db.NewIndexedBatch()
	defer batch.Close()

	tx := &pebbleTx{reader: batch, batch: batch}

	err := fn(tx)
	if err != nil {
		return err
	}

	err = batch.Commit(pebble.Sync)
	if err != nil {
		return xerrors.Errorf("failed to commit: %v", err)
	}

	for _, cb := range tx.callbacks {
		cb()
	}

	return nil
}

// Close implements kv.DB. It closes the database.
func (db pebbleDB) Close() error {
	return db.db.Close()
}

// pebbleReader is the common interface of a snapshot and an indexed batch.
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// pebbleTx is a transaction over a pebble reader, and optionally a batch for
// the writes.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type pebbleTx struct {
	reader    pebbleReader
	batch     *pebble.Batch
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. It returns the bucket with the given name
// or nil if it does not exist.
func (tx *pebbleTx) GetBucket(name []byte) Bucket {
	if get(tx.reader, bucketMarker(name)) == nil {
		return nil
	}

	return pebbleBucket{tx: tx, prefix: bucketPrefix(name)}
}

// GetBucketOrCreate implements kv.WritableTx. It creates the bucket if it does
// not exist and then return it.
func (tx *pebbleTx) GetBucketOrCreate(name []byte) (Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("create bucket failed: bucket name required")
	}

	if len(name) > math.MaxUint16 {
		return nil, xerrors.New("create bucket failed: bucket name too long")
	}

	if tx.batch == nil {
		return nil, xerrors.New("create bucket failed: read-only transaction")
	}

	marker := bucketMarker(name)

	if get(tx.reader, marker) == nil {
		err := tx.batch.Set(marker, []byte{1}, nil)
		if err != nil {
			return nil, xerrors.Errorf("create bucket failed: %v", err)
		}
	}

	return pebbleBucket{tx: tx, prefix: bucketPrefix(name)}, nil
}

// OnCommit implements store.Transaction. It registers a callback that is
// called after the batch is committed.
func (tx *pebbleTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

// pebbleBucket is a view of the keys of a transaction with the prefix of a
// bucket.
//
// - implements kv.Bucket
type pebbleBucket struct {
	tx     *pebbleTx
	prefix []byte
}

// Get implements kv.Bucket. It returns a copy of the value associated to the
// key, or nil.
func (b pebbleBucket) Get(key []byte) []byte {
	return get(b.tx.reader, b.key(key))
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (b pebbleBucket) Set(key, value []byte) error {
	if b.tx.batch == nil {
		return xerrors.New("read-only transaction")
	}

	if len(key) == 0 {
		return xerrors.New("key required")
	}

	return b.tx.batch.Set(b.key(key), value, nil)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (b pebbleBucket) Delete(key []byte) error {
	if b.tx.batch == nil {
		return xerrors.New("read-only transaction")
	}

	return b.tx.batch.Delete(b.key(key), nil)
}

// ForEach implements kv.Bucket. It iterates over the whole bucket.
func (b pebbleBucket) ForEach(fn func(k, v []byte) error) error {
	return b.iterate(nil, fn)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix.
func (b pebbleBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	err := b.iterate(prefix, fn)
	if err != nil {
		return xerrors.Errorf("callback failed: %v", err)
	}

	return nil
}

func (b pebbleBucket) iterate(prefix []byte, fn func(k, v []byte) error) error {
	lower := b.key(prefix)

	iter, err := b.tx.reader.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound(lower),
	})
	if err != nil {
		return xerrors.Errorf("iterator failed: %v", err)
	}

	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return xerrors.Errorf("couldn't read value: %v", err)
		}

		err = fn(iter.Key()[len(b.prefix):], value)
		if err != nil {
			return err
		}
	}

	return iter.Error()
}

func (b pebbleBucket) key(key []byte) []byte {
	buffer := make([]byte, len(b.prefix)+len(key))
	copy(buffer, b.prefix)
	copy(buffer[len(b.prefix):], key)

	return buffer
}

func get(reader pebbleReader, key []byte) []byte {
	value, closer, err := reader.Get(key)
	if err != nil {
		return nil
	}

	defer closer.Close()

	res := make([]byte, len(value))
	copy(res, value)

	return res
}

func bucketPrefix(name []byte) []byte {
	prefix := make([]byte, 3+len(name))
	prefix[0] = prefixData
	binary.BigEndian.PutUint16(prefix[1:], uint16(len(name)))
	copy(prefix[3:], name)

	return prefix
}

func bucketMarker(name []byte) []byte {
	return append([]byte{prefixBucket}, name...)
}

// upperBound returns the smallest key greater than every key with the prefix,
// or nil when there is none.
func upperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}
