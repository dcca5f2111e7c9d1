// Package execution implements Rensa's transaction executor (spec §4.4): the
// five-step pre-execution check pipeline, contract dispatch, and the
// commit/abort TxScope discipline that keeps nonce advancement independent of
// contract success.
package execution

import "fmt"

// ErrorKind enumerates the tx-level failure categories spec §7 requires the
// core to distinguish without string-matching.
type ErrorKind int

const (
	// Malformed covers structural validation failures: missing required
	// fields, an unknown target contract, or sizes outside configured
	// bounds (spec §4.4 step 1).
	Malformed ErrorKind = iota
	// BadNonce means tx.Nonce didn't equal the payer's stored nonce + 1
	// (spec §4.4 step 2).
	BadNonce
	// BadSignature means the signature count or a signature itself failed
	// to verify (spec §4.4 step 3).
	BadSignature
	// Unresolvable means a non-writable declared account does not exist
	// (spec §4.4 step 4).
	Unresolvable
	// Unauthorized means a writable account is owned by someone other
	// than the target contract and was not newly created by this tx
	// (spec §4.4 step 5).
	Unauthorized
	// ContractTrap means the contract invocation itself failed (a guest
	// trap, an explicit Err return, or a native contract error) — the
	// nonce still advances (spec §4.4, §7).
	ContractTrap
	// FuelExhausted means the contract ran out of its fuel budget before
	// completing (spec §4.3 step 5, §7) — the nonce still advances.
	FuelExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "Malformed"
	case BadNonce:
		return "BadNonce"
	case BadSignature:
		return "BadSignature"
	case Unresolvable:
		return "Unresolvable"
	case Unauthorized:
		return "Unauthorized"
	case ContractTrap:
		return "ContractTrap"
	case FuelExhausted:
		return "FuelExhausted"
	default:
		return "Unknown"
	}
}

// TxError is the structured error the executor returns, carrying both the
// classified kind and the underlying cause.
type TxError struct {
	Kind ErrorKind
	Err  error
}

func (e *TxError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

func newTxError(kind ErrorKind, err error) *TxError {
	return &TxError{Kind: kind, Err: err}
}
