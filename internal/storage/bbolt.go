package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/developingchet/http-sink/internal/metrics"
	"github.com/developingchet/http-sink/internal/sink"
)

// Compile-time proof that BoltSpool satisfies the Spool interface.
var _ Spool = (*BoltSpool)(nil)

var bucketSpool = []byte("spool")

// BoltSpool is an ACID bbolt-backed implementation of Spool. Keys are the
// bucket sequence encoded big-endian, so cursor order is insertion order.
type BoltSpool struct {
	db *bolt.DB
}

// Open opens (or creates) a bbolt database at path and initialises the
// spool bucket.
func Open(path string) (*BoltSpool, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSpool)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &BoltSpool{db: db}, nil
}

func (s *BoltSpool) Append(records []sink.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		for _, rec := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltSpool) Drain(max int) ([]sink.Record, int, error) {
	out := []sink.Record{}
	if max <= 0 {
		return out, 0, nil
	}
	var keys [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(keys) < max; k, v = c.Next() {
			keys = append(keys, append([]byte{}, k...))
			var rec sink.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Warn().
					Err(err).
					Uint64("seq", binary.BigEndian.Uint64(k)).
					Int("bytes", len(v)).
					Msg("dropping corrupt spool entry")
				metrics.SpoolCorruptDropped.Inc()
				continue
			}
			out = append(out, rec)
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, len(keys), nil
}

func (s *BoltSpool) Len() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSpool).Stats().KeyN
		return nil
	})
	return n
}

// DBPath returns the filesystem path of the database file.
func (s *BoltSpool) DBPath() string { return s.db.Path() }

// Close cleanly closes the underlying bbolt database.
func (s *BoltSpool) Close() error { return s.db.Close() }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
