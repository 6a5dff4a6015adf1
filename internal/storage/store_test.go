package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("balance", "addr1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Put("balance", "addr1", []byte("100")))
	v, err := s.Get("balance", "addr1")
	assert.NoError(t, err)
	assert.Equal(t, []byte("100"), v)

	assert.NoError(t, s.Delete("balance", "addr1"))
	_, err = s.Get("balance", "addr1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchPutIsAtomicShape(t *testing.T) {
	s := openTestStore(t)

	err := s.BatchPut([]WriteOp{
		{Keyspace: "tx_hash", Key: "h1", Value: []byte("id1")},
		{Keyspace: "tx", Key: "id1", Value: []byte("envelope")},
		{Keyspace: "mempool", Key: "ts:id1", Value: []byte("admitted")},
	})
	assert.NoError(t, err)

	v, err := s.Get("tx_hash", "h1")
	assert.NoError(t, err)
	assert.Equal(t, []byte("id1"), v)
}

func TestIteratePrefixBounded(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 10; i++ {
		assert.NoError(t, s.Put("mempool", "tx:"+string(rune('a'+i)), []byte("v")))
	}

	seen := 0
	err := s.IteratePrefix("mempool", "tx:", 3, func(key string, value []byte) error {
		seen++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, seen)

	err = s.IteratePrefix("mempool", "tx:", 0, func(string, []byte) error { return nil })
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Counter("ouro", "total_burned")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = s.IncrCounter("ouro", "total_burned", 100)
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	v, err = s.IncrCounter("ouro", "total_burned", 50)
	assert.NoError(t, err)
	assert.Equal(t, uint64(150), v)
}
