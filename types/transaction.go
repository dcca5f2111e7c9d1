package types

import (
	"encoding/json"
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
)

// AccountMeta declares how a transaction intends to use one account: its
// address, and whether it must be a signer and/or is writable (spec §3).
type AccountMeta struct {
	Address  crypto.Pubkey `json:"address"`
	Signer   bool          `json:"signer"`
	Writable bool          `json:"writable"`
}

// Transaction is the wire/consensus representation of a client request
// (spec §3): it names a target contract, the payer (fee/nonce authority),
// the accounts it touches, opaque params handed to the contract, and the
// signatures authorizing all of it.
type Transaction struct {
	Contract   crypto.Pubkey      `json:"contract"`
	Nonce      uint64             `json:"nonce"`
	Payer      crypto.Pubkey      `json:"payer"`
	Accounts   []AccountMeta      `json:"accounts"`
	Params     crypto.Bytes58     `json:"params"`
	Signatures []crypto.Signature `json:"signatures"`
}

// Hash computes the canonical transaction hash pinned by spec §3:
//
//	SHA3-256(contract ‖ nonce_le_u64 ‖ payer ‖
//	          for each account: (address ‖ writable_byte ‖ signer_byte) ‖
//	          params)
//
// Signatures are not part of the hash: they sign it.
func (tx *Transaction) Hash() crypto.Hash {
	var buf []byte
	buf = append(buf, tx.Contract.Bytes()...)
	buf = crypto.PutUint64LE(buf, tx.Nonce)
	buf = append(buf, tx.Payer.Bytes()...)
	for _, acc := range tx.Accounts {
		buf = append(buf, acc.Address.Bytes()...)
		buf = append(buf, boolByte(acc.Writable))
		buf = append(buf, boolByte(acc.Signer))
	}
	buf = append(buf, tx.Params...)
	return crypto.Sum256(buf)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// RequiredSignerCount returns 1 (the payer) plus the number of accounts
// declared as signers, the count spec §4.4's signature check requires.
func (tx *Transaction) RequiredSignerCount() int {
	n := 1
	for _, acc := range tx.Accounts {
		if acc.Signer {
			n++
		}
	}
	return n
}

// SignerPubkeys returns, in order, the payer followed by every account
// declared as a signer — the exact order spec §3 requires signatures[] to
// cover.
func (tx *Transaction) SignerPubkeys() []crypto.Pubkey {
	out := make([]crypto.Pubkey, 0, tx.RequiredSignerCount())
	out = append(out, tx.Payer)
	for _, acc := range tx.Accounts {
		if acc.Signer {
			out = append(out, acc.Address)
		}
	}
	return out
}

// Validate performs the structural checks spec §4.4 names "Malformed":
// non-empty required lists and sane sizes. It does not check signatures,
// nonces, or account ownership — that is the executor's job.
func (tx *Transaction) Validate(maxParamsSize, maxAccounts int) error {
	if tx.Contract.IsZero() {
		return fmt.Errorf("transaction: contract address is required")
	}
	if tx.Payer.IsZero() {
		return fmt.Errorf("transaction: payer is required")
	}
	if len(tx.Accounts) > maxAccounts {
		return fmt.Errorf("transaction: %d accounts exceeds limit of %d", len(tx.Accounts), maxAccounts)
	}
	if len(tx.Params) > maxParamsSize {
		return fmt.Errorf("transaction: %d-byte params exceeds limit of %d", len(tx.Params), maxParamsSize)
	}
	if len(tx.Signatures) != tx.RequiredSignerCount() {
		return fmt.Errorf("transaction: expected %d signatures, got %d",
			tx.RequiredSignerCount(), len(tx.Signatures))
	}
	seen := make(map[crypto.Pubkey]bool, len(tx.Accounts))
	for _, acc := range tx.Accounts {
		if seen[acc.Address] {
			return fmt.Errorf("transaction: account %s declared more than once", acc.Address)
		}
		seen[acc.Address] = true
	}
	return nil
}

// Encode returns the canonical JSON wire encoding (spec §6).
func (tx *Transaction) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTransaction parses the wire JSON encoding produced by Encode.
func DecodeTransaction(b []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(b, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
