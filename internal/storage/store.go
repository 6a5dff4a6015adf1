// Package storage provides the single-process embedded key/value store
// described in spec.md §4.2: point get/put/delete, atomic multi-key
// batches, bounded prefix iteration, and structured keyspaces. No
// teacher file wires an embedded KV engine directly, but
// github.com/boltdb/bolt is the only one present anywhere in the
// retrieved example pack, so it is adopted here (see DESIGN.md).
package storage

import (
	"errors"
	"fmt"

	"github.com/boltdb/bolt"
)

// ErrNotFound distinguishes a missing key from a storage error, as
// spec.md §4.2 requires every read path to do.
var ErrNotFound = errors.New("storage: key not found")

// Keyspaces are the structured prefixes named in spec.md §4.2/§6. Each
// becomes its own bolt bucket rather than a string-prefixed scan within
// one bucket, since bolt buckets already give us the bounded,
// crash-consistent namespace spec.md asks for.
var Keyspaces = []string{
	"tx_hash", "tx", "block", "balance", "nonce", "ouro",
	"proof", "mempool", "alert", "key_rotation", "anchor", "challenge",
	"validator", "peer", "contract_meta", "contract_code", "contract_storage",
}

// Store wraps a bolt.DB, pre-creating every keyspace bucket at open
// time so writers never need to check-and-create on the hot path.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bolt database at path and ensures
// every keyspace bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, ks := range Keyspaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ks)); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", ks, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get reads a single value from a keyspace. Returns ErrNotFound if
// absent, distinguishing that case from a storage error per spec.md §4.2.
func (s *Store) Get(keyspace, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("storage: unknown keyspace %q", keyspace)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Put writes a single value.
func (s *Store) Put(keyspace, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("storage: unknown keyspace %q", keyspace)
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *Store) Delete(keyspace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("storage: unknown keyspace %q", keyspace)
		}
		return b.Delete([]byte(key))
	})
}

// WriteOp is one write in an atomic BatchPut; Value == nil means delete.
type WriteOp struct {
	Keyspace string
	Key      string
	Value    []byte
}

// BatchPut applies every op in a single atomic transaction: either all
// writes land or none do. This is the durability boundary the batch
// writer (internal/mempool) and block-finalization path rely on.
func (s *Store) BatchPut(ops []WriteOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Keyspace))
			if b == nil {
				return fmt.Errorf("storage: unknown keyspace %q", op.Keyspace)
			}
			if op.Value == nil {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// IteratePrefix scans at most limit key/value pairs in keyspace whose
// key begins with prefix, in lexicographic order. Range queries must
// always be bounded (spec.md §4.2) to avoid unbounded scans under
// adversarial key growth; limit <= 0 is rejected rather than treated as
// unbounded.
func (s *Store) IteratePrefix(keyspace, prefix string, limit int, fn func(key string, value []byte) error) error {
	if limit <= 0 {
		return fmt.Errorf("storage: IteratePrefix requires a positive limit, got %d", limit)
	}
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("storage: unknown keyspace %q", keyspace)
		}
		c := b.Cursor()
		p := []byte(prefix)
		count := 0
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
			count++
			if count >= limit {
				break
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Counter reads an 8-byte big-endian counter, returning 0 if absent.
func (s *Store) Counter(keyspace, key string) (uint64, error) {
	v, err := s.Get(keyspace, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(v), nil
}

// IncrCounter atomically adds delta to a counter and returns the new value.
func (s *Store) IncrCounter(keyspace, key string, delta uint64) (uint64, error) {
	var result uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("storage: unknown keyspace %q", keyspace)
		}
		cur := decodeUint64(b.Get([]byte(key)))
		result = cur + delta
		return b.Put([]byte(key), encodeUint64(result))
	})
	return result, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
