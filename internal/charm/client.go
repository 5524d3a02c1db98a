// ABOUTME: Charm KV client wrapper used as the cloud-synced KPI storage backend.
// ABOUTME: Satisfies storage.KV with read-only detection and sync after every write.
package charm

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
	"github.com/harperreed/kpi/internal/storage"
)

const (
	// DefaultDBName is the charm KV database holding KPI data.
	DefaultDBName = "kpi"
	// DefaultHost is the charm server used unless CHARM_HOST is already set.
	DefaultHost = "charm.2389.dev"
)

// Store is the subset of charm's kv.KV the client relies on.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Keys() ([][]byte, error)
	Sync() error
	Reset() error
	IsReadOnly() bool
	Close() error
}

// Client adapts a charm KV database to storage.KV.
type Client struct {
	kv       Store
	autoSync bool
	mu       sync.RWMutex
}

// Open opens the named charm KV database, pulling remote data unless another
// process holds the lock.
func Open(dbName string) (*Client, error) {
	if os.Getenv("CHARM_HOST") == "" {
		if err := os.Setenv("CHARM_HOST", DefaultHost); err != nil {
			return nil, err
		}
	}

	db, err := kv.OpenWithDefaultsFallback(dbName)
	if err != nil {
		return nil, fmt.Errorf("open charm kv: %w", err)
	}

	c := New(db)
	if !db.IsReadOnly() {
		_ = db.Sync()
	}
	return c, nil
}

// New wraps an already open store with auto sync enabled.
func New(store Store) *Client {
	return &Client{kv: store, autoSync: true}
}

// OpenStore opens the named database as a storage repository.
func OpenStore(dbName string) (*storage.KVStore, error) {
	c, err := Open(dbName)
	if err != nil {
		return nil, err
	}
	return storage.NewKVStore(c), nil
}

// Close closes the KV database connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv != nil {
		return c.kv.Close()
	}
	return nil
}

// IsReadOnly returns true if the database is open in read-only mode.
// This happens when another process (like an MCP server) holds the lock.
func (c *Client) IsReadOnly() bool {
	return c.kv.IsReadOnly()
}

// Sync synchronizes local state with Charm Cloud.
func (c *Client) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.kv.IsReadOnly() {
		return nil
	}
	return c.kv.Sync()
}

// SetAutoSync enables or disables automatic sync after writes.
func (c *Client) SetAutoSync(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoSync = enabled
}

// ID returns the Charm user ID for the current account.
func (c *Client) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("create charm client: %w", err)
	}
	return cc.ID()
}

// Reset wipes local data and rebuilds from Charm Cloud.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Reset()
}

func (c *Client) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.Get(key)
}

func (c *Client) Keys() ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.Keys()
}

func (c *Client) Set(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv.IsReadOnly() {
		return storage.ErrReadOnly
	}
	if err := c.kv.Set(key, value); err != nil {
		return err
	}
	c.syncIfEnabled()
	return nil
}

func (c *Client) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv.IsReadOnly() {
		return storage.ErrReadOnly
	}
	if err := c.kv.Delete(key); err != nil {
		return err
	}
	c.syncIfEnabled()
	return nil
}

// syncIfEnabled calls Sync if autoSync is enabled. Callers hold the lock.
func (c *Client) syncIfEnabled() {
	if c.autoSync && !c.kv.IsReadOnly() {
		_ = c.kv.Sync()
	}
}
