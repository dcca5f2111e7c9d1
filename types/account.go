// Package types holds Rensa's wire-level data model: accounts,
// transactions, blocks and votes, as specified in spec.md §3.
package types

import (
	"encoding/json"

	"github.com/rensa-labs/rensa/crypto"
)

// Account is the unit of chain state: an addressable tuple of (owner, data,
// executable, nonce). See spec §3.
type Account struct {
	Owner      crypto.Pubkey  `json:"owner"`
	Data       crypto.Bytes58 `json:"data"`
	Executable bool           `json:"executable"`
	Nonce      uint64         `json:"nonce"`
}

// Clone returns a deep copy, so callers can hand out Accounts from an
// overlay without risking aliased mutation of stored data.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{
		Owner:      a.Owner,
		Executable: a.Executable,
		Nonce:      a.Nonce,
	}
	if a.Data != nil {
		out.Data = make([]byte, len(a.Data))
		copy(out.Data, a.Data)
	}
	return out
}

// Encode returns a canonical byte encoding of the account, used both for
// on-disk persistence and as a Merkle leaf input (see commitment package).
func (a *Account) Encode() []byte {
	b, err := json.Marshal(a)
	if err != nil {
		// Account fields are all plain-old-data; Marshal cannot fail.
		panic(err)
	}
	return b
}

// DecodeAccount parses the canonical encoding produced by Encode.
func DecodeAccount(b []byte) (*Account, error) {
	var a Account
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// IsDust reports whether the account qualifies for dust reclamation after a
// successful transaction (spec §4.2): empty data and owned by the executing
// contract.
func (a *Account) IsDust(executingContract crypto.Pubkey) bool {
	return a != nil && len(a.Data) == 0 && a.Owner == executingContract
}
