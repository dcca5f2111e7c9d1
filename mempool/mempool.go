// Package mempool holds not-yet-included transactions awaiting block
// assembly (spec §4.8): bounded size, deduplicated by hash, admitted on
// structural validity and signature alone, and evicted once a payer's nonce
// advances past them on-chain.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// ErrFull means the pool is already at its capacity bound.
var ErrFull = errors.New("mempool: at capacity")

// ErrDuplicate means a transaction with the same hash is already pending.
var ErrDuplicate = errors.New("mempool: transaction already pending")

// Limits mirrors the structural bounds execution.Limits enforces, so the
// mempool rejects malformed transactions before they ever reach assembly.
type Limits struct {
	MaxParamsSize int
	MaxAccounts   int
}

// Pool is a bounded, thread-safe transaction pool.
type Pool struct {
	mu sync.Mutex

	capacity int
	limits   Limits

	byHash map[crypto.Hash]*types.Transaction
	// order preserves admission order for deterministic Drain iteration.
	order []crypto.Hash
	// byPayer maps a payer to its pending nonces, for gap eviction.
	byPayer map[crypto.Pubkey]map[uint64]crypto.Hash
}

// New creates an empty Pool bounded to capacity pending transactions.
func New(capacity int, limits Limits) *Pool {
	return &Pool{
		capacity: capacity,
		limits:   limits,
		byHash:   make(map[crypto.Hash]*types.Transaction),
		byPayer:  make(map[crypto.Pubkey]map[uint64]crypto.Hash),
	}
}

// Admit validates tx structurally and checks every required signature, then
// adds it to the pool if there is room and no duplicate (spec §4.8:
// "admission requires structural validity and a valid signature but not full
// execution" — nonce and account-ownership checks are the executor's job).
func (p *Pool) Admit(tx *types.Transaction) error {
	if err := tx.Validate(p.limits.MaxParamsSize, p.limits.MaxAccounts); err != nil {
		return fmt.Errorf("mempool: %w", err)
	}
	signers := tx.SignerPubkeys()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("mempool: expected %d signatures, got %d", len(signers), len(tx.Signatures))
	}
	hash := tx.Hash()
	for i, pk := range signers {
		if !crypto.Verify(pk, hash[:], tx.Signatures[i]) {
			return fmt.Errorf("mempool: signature %d invalid for %s", i, pk)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHash[hash]; exists {
		return ErrDuplicate
	}
	if len(p.byHash) >= p.capacity {
		return ErrFull
	}

	p.byHash[hash] = tx
	p.order = append(p.order, hash)
	payerNonces, ok := p.byPayer[tx.Payer]
	if !ok {
		payerNonces = make(map[uint64]crypto.Hash)
		p.byPayer[tx.Payer] = payerNonces
	}
	payerNonces[tx.Nonce] = hash
	return nil
}

// EvictStale drops every pending transaction for payer whose nonce is at or
// below currentNonce — it has either already executed or has been
// superseded by a conflicting transaction at the same nonce that did (spec
// §4.8: "eviction by payer-nonce gap (stale nonces drop)").
func (p *Pool) EvictStale(payer crypto.Pubkey, currentNonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payerNonces, ok := p.byPayer[payer]
	if !ok {
		return
	}
	for nonce, hash := range payerNonces {
		if nonce <= currentNonce {
			delete(payerNonces, nonce)
			p.remove(hash)
		}
	}
	if len(payerNonces) == 0 {
		delete(p.byPayer, payer)
	}
}

// remove deletes hash from byHash and order. Callers must hold mu.
func (p *Pool) remove(hash crypto.Hash) {
	if _, ok := p.byHash[hash]; !ok {
		return
	}
	delete(p.byHash, hash)
	for i, h := range p.order {
		if h == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Len reports how many transactions are currently pending.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// Has reports whether a transaction with the given hash is pending.
func (p *Pool) Has(hash crypto.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[hash]
	return ok
}

// Drain removes up to max pending transactions, taking the earliest-admitted
// first, and returns them sorted by payer (base58 text order) with ascending
// nonce within each payer so a block assembler never executes a payer's
// transactions out of sequence.
func (p *Pool) Drain(max int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max > len(p.order) || max < 0 {
		max = len(p.order)
	}
	selected := make([]*types.Transaction, 0, max)
	taken := make([]crypto.Hash, 0, max)
	for _, hash := range p.order {
		if len(selected) >= max {
			break
		}
		selected = append(selected, p.byHash[hash])
		taken = append(taken, hash)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if a.Payer != b.Payer {
			return a.Payer.String() < b.Payer.String()
		}
		return a.Nonce < b.Nonce
	})

	for _, hash := range taken {
		tx := p.byHash[hash]
		p.remove(hash)
		if payerNonces, ok := p.byPayer[tx.Payer]; ok {
			delete(payerNonces, tx.Nonce)
			if len(payerNonces) == 0 {
				delete(p.byPayer, tx.Payer)
			}
		}
	}
	return selected
}

// Requeue returns transactions to the pool unchanged, for a slot that
// expired mid-assembly (spec §5: "Cancelled transactions ... are returned to
// the mempool unchanged"). It skips anything that would now be a duplicate
// or push the pool over capacity.
func (p *Pool) Requeue(txs []*types.Transaction) {
	for _, tx := range txs {
		_ = p.Admit(tx)
	}
}
