package execution

import (
	"errors"
	"fmt"

	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/wasmvm"
)

// Resolver looks up the Contract a target account's address resolves to,
// matching spec §9's tagged-union dispatch: the native contracts.Currency and
// any number of wasmvm.Contract instances loaded from executable account data
// all satisfy contracts.Contract identically from the executor's point of
// view.
type Resolver interface {
	Resolve(addr crypto.Pubkey) (contracts.Contract, bool)
}

// Limits bounds the structural checks spec §4.4 step 1 names "Malformed",
// sourced from genesis protocol constants.
type Limits struct {
	MaxParamsSize int
	MaxAccounts   int
}

// Executor implements spec §4.4's execute(tx, branch) -> TxOutcome.
type Executor struct {
	resolver Resolver
	limits   Limits
}

// NewExecutor builds an Executor dispatching through resolver, enforcing
// limits on every transaction it processes.
func NewExecutor(resolver Resolver, limits Limits) *Executor {
	return &Executor{resolver: resolver, limits: limits}
}

// Execute runs the five pre-execution checks (spec §4.4) against branch, then
// — only if they all pass — invokes the target contract and commits or
// aborts the resulting TxScope. A non-nil *TxError return of kind Malformed,
// BadNonce, BadSignature, Unresolvable, or Unauthorized means the
// transaction was never admitted: the branch overlay is untouched and the
// caller (block assembly, or a validating peer) must exclude it from the
// block. Once admission succeeds, Execute always returns a *types.TxRecord
// (success or ContractTrap/FuelExhausted failure) and a nil error — per spec
// §7, those failures are still part of the chain: included with the nonce
// bump applied, diff discarded.
func (ex *Executor) Execute(tx *types.Transaction, branch *state.Overlay) (*types.TxRecord, *TxError) {
	contract, ok := ex.resolver.Resolve(tx.Contract)
	if !ok {
		return nil, newTxError(Malformed, fmt.Errorf("unknown contract %s", tx.Contract))
	}
	if err := tx.Validate(ex.limits.MaxParamsSize, ex.limits.MaxAccounts); err != nil {
		return nil, newTxError(Malformed, err)
	}

	payerAcc, err := branch.Get(tx.Payer)
	if err != nil {
		return nil, newTxError(Malformed, fmt.Errorf("load payer: %w", err))
	}
	var storedNonce uint64
	if payerAcc != nil {
		storedNonce = payerAcc.Nonce
	}
	if tx.Nonce != storedNonce+1 {
		return nil, newTxError(BadNonce, fmt.Errorf("expected nonce %d, got %d", storedNonce+1, tx.Nonce))
	}

	signers := tx.SignerPubkeys()
	if len(tx.Signatures) != len(signers) {
		return nil, newTxError(BadSignature, fmt.Errorf("expected %d signatures, got %d", len(signers), len(tx.Signatures)))
	}
	hash := tx.Hash()
	signerSet := make(map[crypto.Pubkey]bool, len(signers))
	for i, pk := range signers {
		if !crypto.Verify(pk, hash[:], tx.Signatures[i]) {
			return nil, newTxError(BadSignature, fmt.Errorf("signature %d invalid for %s", i, pk))
		}
		signerSet[pk] = true
	}

	resolved := make(map[crypto.Pubkey]*types.Account, len(tx.Accounts))
	newlyCreated := make(map[crypto.Pubkey]bool, len(tx.Accounts))
	for _, meta := range tx.Accounts {
		acc, err := branch.Get(meta.Address)
		if err != nil {
			return nil, newTxError(Unresolvable, fmt.Errorf("load %s: %w", meta.Address, err))
		}
		if acc == nil {
			if !meta.Writable {
				return nil, newTxError(Unresolvable, fmt.Errorf("account %s does not exist", meta.Address))
			}
			acc = &types.Account{Owner: tx.Contract}
			newlyCreated[meta.Address] = true
		}
		resolved[meta.Address] = acc
	}

	for _, meta := range tx.Accounts {
		if !meta.Writable {
			continue
		}
		acc := resolved[meta.Address]
		if acc.Owner != tx.Contract && !newlyCreated[meta.Address] {
			return nil, newTxError(Unauthorized, fmt.Errorf("account %s owned by %s, not %s", meta.Address, acc.Owner, tx.Contract))
		}
	}

	scope := state.BeginTx(branch, tx.Contract)
	for addr, acc := range resolved {
		if newlyCreated[addr] {
			scope.Set(addr, acc)
		}
	}

	inv := &contracts.Invocation{
		Params:   tx.Params,
		Accounts: tx.Accounts,
		Signers:  signerSet,
		TxHash:   hash,
		Payer:    tx.Payer,
	}

	output, invokeErr := contract.Invoke(scope, inv)

	record := &types.TxRecord{Transaction: *tx}
	if invokeErr != nil {
		scope.Abort()
		bumpNonce(branch, tx.Payer, storedNonce+1)
		record.Success = false
		record.Error = classify(invokeErr).Error()
		return record, nil
	}

	scope.Commit()
	bumpNonce(branch, tx.Payer, storedNonce+1)
	reclaimDust(branch, scope, tx.Contract)
	record.Success = true
	record.Output = output
	return record, nil
}

// reclaimDust deletes every account this invocation wrote that now
// qualifies for dust reclamation (spec §4.2: empty data, owned by the
// executing contract), generalizing the rule to every contract rather than
// leaving it to each contract's own ad hoc bookkeeping.
func reclaimDust(branch *state.Overlay, scope *state.TxScope, contract crypto.Pubkey) {
	for addr, acc := range scope.Entries() {
		if acc.IsDust(contract) {
			branch.Delete(addr)
		}
	}
}

// bumpNonce applies the payer's nonce advancement directly to branch,
// bypassing the TxScope entirely, so the bump survives an Abort (see
// state.TxScope.Abort's doc comment: this is the load-bearing reason the
// nonce write is not routed through the scope).
func bumpNonce(branch *state.Overlay, payer crypto.Pubkey, newNonce uint64) {
	acc, err := branch.Get(payer)
	if err != nil || acc == nil {
		acc = &types.Account{Owner: payer}
	}
	acc.Nonce = newNonce
	branch.Set(payer, acc)
}

// classify turns a raw Contract.Invoke error into a TxError of kind
// FuelExhausted or ContractTrap, per spec §7's distinction between the two.
func classify(err error) *TxError {
	if errors.Is(err, wasmvm.ErrFuelExhausted) {
		return newTxError(FuelExhausted, err)
	}
	return newTxError(ContractTrap, err)
}
