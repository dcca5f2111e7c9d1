package state

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

const addressKeyPrefix = "acct:"

func addressKey(addr crypto.Pubkey) []byte {
	return append([]byte(addressKeyPrefix), addr.Bytes()...)
}

// Base holds the last finalized account state (spec §4.2: "A base store
// holds the last finalized state"). It is safe for concurrent reads; writes
// only ever happen at commitment transitions (see commitment.Engine),
// serialized by the forest's single-writer discipline (spec §5).
type Base struct {
	kv KV
}

// NewBase wraps kv as a finalized account Base store.
func NewBase(kv KV) *Base {
	return &Base{kv: kv}
}

// Get returns the finalized account at addr, or nil if it does not exist.
func (b *Base) Get(addr crypto.Pubkey) (*types.Account, error) {
	raw, err := b.kv.Get(addressKey(addr))
	if err != nil {
		return nil, fmt.Errorf("state: base get %s: %w", addr, err)
	}
	if raw == nil {
		return nil, nil
	}
	acc, err := types.DecodeAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("state: base decode %s: %w", addr, err)
	}
	return acc, nil
}

// Set stores acc at addr, or deletes the entry if acc is nil.
func (b *Base) Set(addr crypto.Pubkey, acc *types.Account) error {
	if acc == nil {
		return b.kv.Delete(addressKey(addr))
	}
	return b.kv.Set(addressKey(addr), acc.Encode())
}

// Apply merges a promoted overlay's diff into the base in one pass, used by
// commitment.Engine when a block finalizes (spec §4.6: "its overlay is
// merged into the base store").
func (b *Base) Apply(diff map[crypto.Pubkey]*types.Account) error {
	for addr, acc := range diff {
		if err := b.Set(addr, acc); err != nil {
			return fmt.Errorf("state: apply diff for %s: %w", addr, err)
		}
	}
	return nil
}
