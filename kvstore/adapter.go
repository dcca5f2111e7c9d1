// Package kvstore backs Rensa's two persistent stores — finalized account
// state and append-only block/transaction/vote history — with cometbft-db,
// following the teacher's pkg/kvdb adapter pattern of wrapping dbm.DB behind
// a narrow interface rather than leaking its type through the rest of the
// codebase.
package kvstore

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// DBAdapter wraps a cometbft-db dbm.DB and implements state.KV, so
// state.Base can be backed by persistent storage without depending on
// cometbft-db directly.
type DBAdapter struct {
	db dbm.DB
}

// NewDBAdapter wraps db as a state.KV-compatible adapter.
func NewDBAdapter(db dbm.DB) *DBAdapter {
	return &DBAdapter{db: db}
}

// Get implements state.KV.Get. A missing key returns (nil, nil), matching
// the teacher's KVAdapter convention that nil means "not present" rather
// than an error.
func (a *DBAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kvstore: get: %w", err)
	}
	return v, nil
}

// Set implements state.KV.Set, using SetSync for durability across restart
// (the teacher's KVAdapter.Set does the same at commit time).
func (a *DBAdapter) Set(key, value []byte) error {
	if err := a.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kvstore: set: %w", err)
	}
	return nil
}

// Delete implements state.KV.Delete.
func (a *DBAdapter) Delete(key []byte) error {
	if err := a.db.DeleteSync(key); err != nil {
		return fmt.Errorf("kvstore: delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (a *DBAdapter) Close() error {
	return a.db.Close()
}
