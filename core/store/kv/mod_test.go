package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestParseEngine(t *testing.T) {
	engine, err := ParseEngine("")
	require.NoError(t, err)
	require.Equal(t, EngineBolt, engine)

	engine, err = ParseEngine("Pebble")
	require.NoError(t, err)
	require.Equal(t, EnginePebble, engine)

	_, err = ParseEngine("leveldb")
	require.EqualError(t, err, "unknown engine 'leveldb'")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(EngineBolt, filepath.Join(dir, "bolt.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(EnginePebble, filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(Engine("abc"), dir)
	require.EqualError(t, err, "unknown engine 'abc'")
}

func TestDB_UpdateAndView(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		ch := make(chan struct{})

		err := db.Update(func(txn WritableTx) error {
			txn.OnCommit(func() { close(ch) })

			bucket, err := txn.GetBucketOrCreate([]byte("bucket"))
			require.NoError(t, err)

			return bucket.Set([]byte("ping"), []byte("pong"))
		})
		require.NoError(t, err)
		<-ch

		err = db.View(func(txn ReadableTx) error {
			bucket := txn.GetBucket([]byte("bucket"))
			require.NotNil(t, bucket)
			require.Equal(t, []byte("pong"), bucket.Get([]byte("ping")))

			require.Nil(t, txn.GetBucket([]byte("unknown")))

			return nil
		})
		require.NoError(t, err)

		err = db.Update(func(txn WritableTx) error {
			_, err := txn.GetBucketOrCreate(nil)
			return err
		})
		require.EqualError(t, err, "create bucket failed: bucket name required")
	})
}

func TestDB_Rollback(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		err := db.Update(func(txn WritableTx) error {
			txn.OnCommit(func() { t.Fatal("unexpected commit") })

			bucket, err := txn.GetBucketOrCreate([]byte("bucket"))
			require.NoError(t, err)

			require.NoError(t, bucket.Set([]byte("ping"), []byte("pong")))

			return xerrors.New("oops")
		})
		require.EqualError(t, err, "oops")

		err = db.View(func(txn ReadableTx) error {
			require.Nil(t, txn.GetBucket([]byte("bucket")))
			return nil
		})
		require.NoError(t, err)
	})
}

func TestBucket_Get_Set_Delete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		err := db.Update(func(txn WritableTx) error {
			b, err := txn.GetBucketOrCreate([]byte("bucket"))
			require.NoError(t, err)

			require.NoError(t, b.Set([]byte("ping"), []byte("pong")))
			require.Equal(t, []byte("pong"), b.Get([]byte("ping")))
			require.Nil(t, b.Get([]byte("pong")))

			require.NoError(t, b.Delete([]byte("ping")))
			require.Nil(t, b.Get([]byte("ping")))

			require.Error(t, b.Set(nil, []byte("pong")))

			return nil
		})
		require.NoError(t, err)
	})
}

func TestBucket_Isolation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		err := db.Update(func(txn WritableTx) error {
			a, err := txn.GetBucketOrCreate([]byte("a"))
			require.NoError(t, err)

			ab, err := txn.GetBucketOrCreate([]byte("ab"))
			require.NoError(t, err)

			require.NoError(t, a.Set([]byte("bc"), []byte{1}))
			require.NoError(t, ab.Set([]byte("c"), []byte{2}))

			return nil
		})
		require.NoError(t, err)

		err = db.View(func(txn ReadableTx) error {
			count := 0
			err := txn.GetBucket([]byte("a")).ForEach(func(k, v []byte) error {
				require.Equal(t, []byte("bc"), k)
				require.Equal(t, []byte{1}, v)
				count++
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 1, count)

			return nil
		})
		require.NoError(t, err)
	})
}

func TestBucket_ForEach(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		err := db.Update(func(txn WritableTx) error {
			b, err := txn.GetBucketOrCreate([]byte("bucket"))
			require.NoError(t, err)

			require.NoError(t, b.Set([]byte{2}, []byte{2}))
			require.NoError(t, b.Set([]byte{1}, []byte{1}))
			require.NoError(t, b.Set([]byte{3}, []byte{3}))

			var keys [][]byte
			err = b.ForEach(func(k, v []byte) error {
				require.Equal(t, k, v)
				keys = append(keys, append([]byte{}, k...))
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, [][]byte{{1}, {2}, {3}}, keys)

			err = b.ForEach(func(k, v []byte) error {
				return xerrors.New("oops")
			})
			require.EqualError(t, err, "oops")

			return nil
		})
		require.NoError(t, err)
	})
}

func TestBucket_Scan(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db DB) {
		err := db.Update(func(txn WritableTx) error {
			b, err := txn.GetBucketOrCreate([]byte("bucket"))
			require.NoError(t, err)

			require.NoError(t, b.Set([]byte("a1"), []byte{1}))
			require.NoError(t, b.Set([]byte("a2"), []byte{2}))
			require.NoError(t, b.Set([]byte("b1"), []byte{3}))

			return nil
		})
		require.NoError(t, err)

		err = db.View(func(txn ReadableTx) error {
			b := txn.GetBucket([]byte("bucket"))

			var values []byte
			err := b.Scan([]byte("a"), func(k, v []byte) error {
				values = append(values, v...)
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, []byte{1, 2}, values)

			count := 0
			err = b.Scan(nil, func(k, v []byte) error {
				count++
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 3, count)

			err = b.Scan([]byte("b"), func(k, v []byte) error {
				return xerrors.New("oops")
			})
			require.EqualError(t, err, "callback failed: oops")

			return nil
		})
		require.NoError(t, err)
	})
}

func TestPebble_ReadOnly(t *testing.T) {
	db, err := NewPebble(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(txn WritableTx) error {
		_, err := txn.GetBucketOrCreate([]byte("bucket"))
		return err
	})
	require.NoError(t, err)

	err = db.View(func(txn ReadableTx) error {
		b := txn.GetBucket([]byte("bucket"))
		require.EqualError(t, b.Set([]byte("a"), nil), "read-only transaction")
		require.EqualError(t, b.Delete([]byte("a")), "read-only transaction")

		return nil
	})
	require.NoError(t, err)
}

func TestUpperBound(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x03}, upperBound([]byte{0x01, 0x02}))
	require.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	require.Nil(t, upperBound([]byte{0xff, 0xff}))
	require.Nil(t, upperBound(nil))
}

// -----------------------------------------------------------------------------
// Utility functions

func forEachEngine(t *testing.T, fn func(t *testing.T, db DB)) {
	for _, engine := range []Engine{EngineBolt, EnginePebble} {
		t.Run(string(engine), func(t *testing.T) {
			db, err := Open(engine, filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)

			defer db.Close()

			fn(t, db)
		})
	}
}
