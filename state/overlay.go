package state

import (
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// Reader is implemented by anything an Overlay can be layered on top of:
// the finalized Base store, or another Overlay (spec §4.2: "Reads walk the
// chain of overlays from a leaf to the base on miss").
type Reader interface {
	Get(addr crypto.Pubkey) (*types.Account, error)
}

// Overlay is a differential state view layered on top of a parent Reader
// (spec §3 GLOSSARY). A nil entry present in the overlay's map means the
// address was deleted relative to the parent (a negative entry, per spec
// §4.2); an address absent from the map falls through to the parent.
type Overlay struct {
	mu      sync.RWMutex
	parent  Reader
	entries map[crypto.Pubkey]*types.Account
}

// NewOverlay creates an empty overlay layered on top of parent.
func NewOverlay(parent Reader) *Overlay {
	return &Overlay{
		parent:  parent,
		entries: make(map[crypto.Pubkey]*types.Account),
	}
}

// Get implements Reader: it checks this overlay's own entries before
// falling through to the parent.
func (o *Overlay) Get(addr crypto.Pubkey) (*types.Account, error) {
	o.mu.RLock()
	acc, ok := o.entries[addr]
	o.mu.RUnlock()
	if ok {
		return acc.Clone(), nil
	}
	return o.parent.Get(addr)
}

// Set stores acc at addr directly in this overlay.
func (o *Overlay) Set(addr crypto.Pubkey, acc *types.Account) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[addr] = acc.Clone()
}

// Delete records a tombstone for addr in this overlay.
func (o *Overlay) Delete(addr crypto.Pubkey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[addr] = nil
}

// Entries returns a shallow snapshot of this overlay's own entries (not
// including anything inherited from the parent), used when folding a
// child's diff into its parent (spec §4.2 promote) or into the Merkle
// state-root computation (commitment package).
func (o *Overlay) Entries() map[crypto.Pubkey]*types.Account {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[crypto.Pubkey]*types.Account, len(o.entries))
	for k, v := range o.entries {
		out[k] = v.Clone()
	}
	return out
}

// Merge folds src's entries into this overlay, overwriting any conflicting
// keys. Used to commit a TxScope into its block overlay.
func (o *Overlay) Merge(src map[crypto.Pubkey]*types.Account) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range src {
		o.entries[k] = v.Clone()
	}
}

// TxScope is a transient overlay opened for the duration of one executing
// transaction (spec §4.2). Writes are only permitted for addresses owned by
// the currently executing contract; Commit folds the scope's writes into
// the parent branch overlay, Abort discards them. Exactly one of Commit or
// Abort must be called, and calling either more than once is a no-op,
// guaranteeing cleanup on every exit path regardless of which branch the
// caller takes.
type TxScope struct {
	mu       sync.Mutex
	parent   *Overlay
	contract crypto.Pubkey
	overlay  *Overlay
	done     bool
}

// BeginTx opens a transient overlay on branch, scoped to writes made on
// behalf of contract (spec §4.2: "only permitted for addresses owned by the
// currently executing contract").
func BeginTx(branch *Overlay, contract crypto.Pubkey) *TxScope {
	return &TxScope{
		parent:   branch,
		contract: contract,
		overlay:  NewOverlay(branch),
	}
}

// Get reads through the transient overlay to the branch and base below it.
func (s *TxScope) Get(addr crypto.Pubkey) (*types.Account, error) {
	return s.overlay.Get(addr)
}

// Set writes acc at addr within the transient overlay. The caller (the
// executor) is responsible for having already checked ownership per spec
// §4.4 step 5 before calling this.
func (s *TxScope) Set(addr crypto.Pubkey, acc *types.Account) {
	s.overlay.Set(addr, acc)
}

// Delete records a tombstone for addr within the transient overlay.
func (s *TxScope) Delete(addr crypto.Pubkey) {
	s.overlay.Delete(addr)
}

// Contract returns the contract this scope's writes are attributed to.
func (s *TxScope) Contract() crypto.Pubkey { return s.contract }

// Entries returns a snapshot of the addresses this scope itself wrote or
// deleted (not including anything inherited from branch), so a caller can
// inspect the invocation's own writes after Commit.
func (s *TxScope) Entries() map[crypto.Pubkey]*types.Account {
	return s.overlay.Entries()
}

// Commit folds the scope's writes into the parent branch overlay. Safe to
// call at most meaningfully once; subsequent calls are no-ops.
func (s *TxScope) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.parent.Merge(s.overlay.Entries())
	s.done = true
}

// Abort discards the scope's writes without touching the parent overlay.
// Per spec §4.3/§4.4, aborting a failed contract invocation still leaves the
// payer's nonce bump intact — that bump is applied by the executor directly
// against the parent overlay, outside this scope, specifically so it
// survives an Abort.
func (s *TxScope) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}
