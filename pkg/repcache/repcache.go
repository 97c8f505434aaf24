// Package repcache implements the rep-sharing index (spec §4.8): a
// persistent, content-addressed map from a representation's SHA-1 digest
// to the first committed representation that produced it, so later
// writers with identical content can reuse that representation instead
// of storing their own copy.
package repcache

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/hollowmark/fsfs/pkg/ids"
)

// Key prefix for the persistent SHA-1 -> representation index.
const prefixSHA1 = byte(0x01)

func shaKey(sha1 [20]byte) []byte {
	key := make([]byte, 0, 21)
	key = append(key, prefixSHA1)
	return append(key, sha1[:]...)
}

// WarnFunc receives a formatted diagnostic when Find declines a
// rep-sharing candidate instead of erroring out (spec §4.8's
// warning-callback downgrade policy: corruption or drift in the shared
// index must cost a commit its dedup, never the commit itself).
type WarnFunc func(format string, args ...any)

// Store is the persistent rep-sharing index for one repository,
// badger-backed the same way the teacher's storage engine is (see
// pkg/storage/badger.go): a single small-value keyspace under one
// prefix byte, opened with a quiet logger.
type Store struct {
	mu   sync.Mutex // serializes the read-modify-write in FindOrRecord
	db   *badger.DB
	warn WarnFunc
}

// Open opens (creating if necessary) the persistent rep-sharing index
// at dir.
func Open(dir string, warn WarnFunc) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repcache: open: %w", err)
	}
	return &Store{db: db, warn: warn}, nil
}

// OpenInMemory opens an in-memory index, for tests and for repositories
// that opt out of persistent rep-sharing.
func OpenInMemory(warn WarnFunc) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repcache: open in-memory: %w", err)
	}
	return &Store{db: db, warn: warn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) warnf(format string, args ...any) {
	if s.warn != nil {
		s.warn(format, args...)
	}
}

// Find looks up a previously-recorded representation sharing content
// with the given SHA-1 digest. It is the "check_rep validation hook":
// a candidate is only returned if its recorded expanded size matches
// expectedSize; any mismatch is treated as index corruption or drift
// and downgrades to "no match" (after a warning) rather than
// propagating an error, so a damaged rep-sharing entry never blocks a
// commit — it only costs that commit its deduplication.
//
// On a hit, Find returns a fresh Representation value copied out of the
// cached entry (changeset, item index, sizes, MD5, SHA-1), never a
// reference into the cache's own state, so the caller's node-rev owns
// an independent descriptor pointing at the shared bytes.
func (s *Store) Find(sha1 [20]byte, expectedSize int64) (ids.Representation, bool, error) {
	rep, found, err := s.lookup(sha1)
	if err != nil {
		return ids.Representation{}, false, err
	}
	if !found {
		return ids.Representation{}, false, nil
	}
	if rep.ExpandedSize != expectedSize {
		s.warnf("repcache: sha1 %x size mismatch (cached %d, candidate %d); declining share", sha1, rep.ExpandedSize, expectedSize)
		return ids.Representation{}, false, nil
	}
	shared := ids.Representation{
		ChangeSet:    rep.ChangeSet,
		ItemIndex:    rep.ItemIndex,
		Size:         rep.Size,
		ExpandedSize: rep.ExpandedSize,
		MD5:          rep.MD5,
		HasSHA1:      rep.HasSHA1,
		SHA1:         rep.SHA1,
	}
	return shared, true, nil
}

func (s *Store) lookup(sha1 [20]byte) (*ids.Representation, bool, error) {
	var rep *ids.Representation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shaKey(sha1))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, derr := ids.DecodeRepresentation(string(val))
			if derr != nil {
				return derr
			}
			rep = r
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("repcache: lookup: %w", err)
	}
	return rep, rep != nil, nil
}

// Record stores rep as the canonical representation for sha1. Only
// immutable (committed) representations should ever be recorded — a
// mutable one would let a later reader share bytes that can still
// change underneath it.
func (s *Store) Record(sha1 [20]byte, rep ids.Representation) error {
	if rep.Mutable() {
		return fmt.Errorf("repcache: refusing to record a mutable representation for sha1 %x", sha1)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shaKey(sha1), []byte(ids.EncodeRepresentation(rep)))
	})
	if err != nil {
		return fmt.Errorf("repcache: record: %w", err)
	}
	return nil
}

// FindOrRecord atomically checks for an existing share and, if none
// exists (or the existing one fails validation), records fresh as the
// new canonical entry for sha1. It returns the representation callers
// should reference (either the existing shared one or fresh) and
// whether that representation was already shared before this call.
func (s *Store) FindOrRecord(sha1 [20]byte, fresh ids.Representation) (ids.Representation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.Find(sha1, fresh.ExpandedSize)
	if err != nil {
		return ids.Representation{}, false, err
	}
	if found {
		return existing, true, nil
	}
	if err := s.Record(sha1, fresh); err != nil {
		return ids.Representation{}, false, err
	}
	return fresh, false, nil
}
