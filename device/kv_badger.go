package device

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerKV backs the device's out-of-band key/value area with an embedded
// BadgerDB instance, for hosts that want the "first_block" cursor (and any
// other small firmware keys) to survive across process restarts without
// reserving a hand-rolled region of the flash image for it.
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV opens (creating if necessary) a BadgerDB at dir for use as a
// device KV area.
func NewBadgerKV(dir string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("device: open badger kv at %s: %w", dir, err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("device: badger kv get %q: %w", key, err)
	}
	return value, true, nil
}

func (b *BadgerKV) Put(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("device: badger kv put %q: %w", key, err)
	}
	return nil
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

var _ KV = (*BadgerKV)(nil)
