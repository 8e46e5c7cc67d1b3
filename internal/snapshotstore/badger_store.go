// Package snapshotstore persists a generation-keyed history of Snapshots for
// every (window, category) board so a restarted process can seed its read
// API before the first refresh completes and recover prior generations,
// grounded on core.Store's open-on-start, write-through, load-index-on-boot
// shape, replaced with an embedded dgraph-io/badger/v4 KV store keyed by
// (board, generation) since badger's sorted key iteration gives cheap
// latest-lookup and retention pruning over an append-only history.
package snapshotstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/nrgchamp/trending/internal/model"
)

// defaultRetention bounds history depth when Open is called with a
// non-positive retention.
const defaultRetention = 20

// Store persists a generation-keyed history of Snapshots per (window,
// category) board, pruning older generations beyond the configured
// retention.
type Store struct {
	db        *badger.DB
	retention int
}

// Open opens (creating if absent) a badger database rooted at dir.
// retention bounds how many of the most recent generations are kept per
// board; a non-positive value falls back to defaultRetention.
func Open(dir string, retention int) (*Store, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: open: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// boardPrefix is the common prefix of every generation key for (window,
// category), chosen so badger's lexicographic key order matches generation
// order (generation is zero-padded to a fixed width).
func boardPrefix(window string, category model.Category) []byte {
	return []byte(window + "|" + string(category) + "|")
}

func generationKey(window string, category model.Category, generation uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", boardPrefix(window, category), generation))
}

// Save persists snap keyed by (window, category, generation) and prunes any
// generations for that board beyond the configured retention. The caller
// (the engine's publish hook) should treat a Save failure as non-fatal: the
// in-memory snapshot remains authoritative for serving reads, persistence
// only improves cold-start behavior and history recovery.
func (s *Store) Save(snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshotstore: marshal: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(generationKey(snap.Window, snap.Category, snap.Generation), payload); err != nil {
			return err
		}
		return pruneLocked(txn, snap.Window, snap.Category, s.retention)
	})
}

// pruneLocked deletes every generation for (window, category) beyond the
// most recent retention entries. Must run inside the same transaction as
// the Set it follows so the new generation counts toward retention.
func pruneLocked(txn *badger.Txn, window string, category model.Category, retention int) error {
	prefix := boardPrefix(window, category)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	if len(keys) <= retention {
		return nil
	}
	// keys are in ascending (oldest-first) order; drop everything before
	// the last `retention` entries.
	for _, key := range keys[:len(keys)-retention] {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the most recent persisted snapshot for (window, category),
// or false if none was ever saved.
func (s *Store) Load(window string, category model.Category) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := boardPrefix(window, category)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		// Reverse iteration over a prefix must seed from a key that sorts
		// after every key sharing the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			found = true
			return it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
		}
		return nil
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("snapshotstore: load: %w", err)
	}
	return snap, found, nil
}

// LoadGeneration returns the persisted snapshot for (window, category) at
// exactly generation, or false if that generation was never saved or has
// since been pruned.
func (s *Store) LoadGeneration(window string, category model.Category, generation uint64) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(generationKey(window, category, generation))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("snapshotstore: load generation: %w", err)
	}
	return snap, found, nil
}
