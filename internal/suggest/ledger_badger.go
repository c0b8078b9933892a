package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// keySep separates key segments; note and owner ids never contain it.
const keySep = "\x00"

const decisionPrefix = "decision" + keySep

// BadgerLedger persists decisions in a Badger key-value store so they
// survive restarts. Keys are decision\x00owner\x00source\x00target.
type BadgerLedger struct {
	db *badger.DB
}

var _ Ledger = (*BadgerLedger)(nil)

// OpenBadgerLedger opens (or creates) a ledger at path. An empty path opens
// an in-memory store.
func OpenBadgerLedger(path string) (*BadgerLedger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("suggest: create ledger dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("suggest: open ledger: %w", err)
	}
	return &BadgerLedger{db: db}, nil
}

func decisionKey(ownerID, sourceID, targetID string) []byte {
	return []byte(decisionPrefix + ownerID + keySep + sourceID + keySep + targetID)
}

func (l *BadgerLedger) Get(_ context.Context, ownerID, sourceID, targetID string) (Decision, bool, error) {
	var d Decision
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(decisionKey(ownerID, sourceID, targetID))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &d)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("suggest: ledger get: %w", err)
	}
	return d, true, nil
}

func (l *BadgerLedger) Put(_ context.Context, ownerID, sourceID, targetID string, d Decision) error {
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("suggest: ledger encode: %w", err)
	}
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(decisionKey(ownerID, sourceID, targetID), val)
	}); err != nil {
		return fmt.Errorf("suggest: ledger put: %w", err)
	}
	return nil
}

func (l *BadgerLedger) ForSource(_ context.Context, ownerID, sourceID string) (map[string]Decision, error) {
	prefix := []byte(decisionPrefix + ownerID + keySep + sourceID + keySep)
	out := make(map[string]Decision)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			target := string(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var d Decision
			if err := json.Unmarshal(val, &d); err != nil {
				return err
			}
			out[target] = d
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: ledger scan: %w", err)
	}
	return out, nil
}

func (l *BadgerLedger) Forget(_ context.Context, ownerID, noteID string) error {
	prefix := []byte(decisionPrefix + ownerID + keySep)
	var doomed [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			parts := strings.SplitN(string(key[len(prefix):]), keySep, 2)
			if len(parts) == 2 && (parts[0] == noteID || parts[1] == noteID) {
				doomed = append(doomed, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("suggest: ledger forget: %w", err)
	}
	if len(doomed) == 0 {
		return nil
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("suggest: ledger forget: %w", err)
	}
	return nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}
