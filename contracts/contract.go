// Package contracts defines the Contract dispatch surface shared by native,
// compiled-in programs (Currency) and WASM contracts (package wasmvm), per
// spec §9's "dynamic dispatch over contracts" design note.
package contracts

import (
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Invocation bundles the inputs a Contract needs to process one transaction:
// the raw params, the account metas in the order declared by the
// transaction, and the set of pubkeys that actually signed (so contracts can
// check "must be a signer" conditions without re-deriving signatures).
type Invocation struct {
	Params   []byte
	Accounts []types.AccountMeta
	Signers  map[crypto.Pubkey]bool
	TxHash   crypto.Hash
	Payer    crypto.Pubkey
}

// Signed reports whether addr is among the transaction's verified signers.
func (inv *Invocation) Signed(addr crypto.Pubkey) bool {
	return inv.Signers != nil && inv.Signers[addr]
}

// Contract is implemented by both contracts.Currency (native) and
// wasmvm.Contract (WASM), per spec §4.3/§4.4: given a transient TxScope over
// account state and an invocation, run to completion or return a trapping
// error. The executor in package execution gets the implementation for a
// target address from its Resolver (consensus.Registry checks native
// contracts first, then executable finalized accounts) and calls it through
// this interface without a type switch.
type Contract interface {
	// Address returns the fixed account address this contract is invoked
	// through.
	Address() crypto.Pubkey

	// Invoke executes one transaction's logic against scope, returning
	// opaque output bytes on success or an error describing the trap.
	// Implementations must only write to accounts they own, per spec
	// §4.4 step 5 (ownership is enforced by the executor before calling
	// Invoke, but well-behaved contracts double-check their own
	// invariants too).
	Invoke(scope *state.TxScope, inv *Invocation) ([]byte, error)
}
