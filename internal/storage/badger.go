// ABOUTME: Local BadgerDB key/value backend.
// ABOUTME: Offline alternative to the charm backend with the same key layout.
package storage

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
)

// BadgerKV adapts a badger database to KV.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens or creates a badger database in dir.
func OpenBadger(dir string) (*BadgerKV, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(key []byte) ([]byte, error) {
	var result []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

func (b *BadgerKV) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerKV) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *BadgerKV) Keys() ([][]byte, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// Reset drops every key.
func (b *BadgerKV) Reset() error {
	return b.db.DropAll()
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// OpenBadgerStore opens a KVStore backed by badger in dir.
func OpenBadgerStore(dir string) (*KVStore, error) {
	kv, err := OpenBadger(dir)
	if err != nil {
		return nil, err
	}
	return NewKVStore(kv), nil
}
