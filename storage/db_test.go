package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	boltDB, err := NewBoltDB(filepath.Join(dir, "ledger.bolt"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = level.Close()
		_ = boltDB.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    boltDB,
	}
}

func TestDatabaseContract(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("w:b"), []byte("2")))
			require.NoError(t, db.Put([]byte("w:a"), []byte("1")))
			require.NoError(t, db.Put([]byte("x:z"), []byte("9")))

			value, err := db.Get([]byte("w:a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), value)

			var keys []string
			require.NoError(t, db.Iterate([]byte("w:"), func(key, value []byte) error {
				keys = append(keys, string(key))
				return nil
			}))
			require.Equal(t, []string{"w:a", "w:b"}, keys)

			require.NoError(t, db.Delete([]byte("w:a")))
			_, err = db.Get([]byte("w:a"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestWriteBatch(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			batcher, ok := db.(Batcher)
			require.True(t, ok, "%s must support batches", name)

			require.NoError(t, db.Put([]byte("old"), []byte("x")))
			require.NoError(t, batcher.WriteBatch(map[string][]byte{"new": []byte("y")}, [][]byte{[]byte("old")}))

			_, err := db.Get([]byte("old"))
			require.ErrorIs(t, err, ErrNotFound)
			value, err := db.Get([]byte("new"))
			require.NoError(t, err)
			require.Equal(t, []byte("y"), value)
		})
	}
}

// unbatched hides the Batcher implementation of the wrapped database.
type unbatched struct{ Database }

func TestWriteBatchFallsBackToSingleWrites(t *testing.T) {
	db := unbatched{NewMemDB()}
	require.NoError(t, db.Put([]byte("old"), []byte("x")))
	require.NoError(t, WriteBatch(db, map[string][]byte{"new": []byte("y")}, [][]byte{[]byte("old")}))

	_, err := db.Get([]byte("old"))
	require.ErrorIs(t, err, ErrNotFound)
	value, err := db.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("y"), value)
}
