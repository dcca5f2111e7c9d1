package types

import (
	"encoding/json"
	"time"

	"github.com/rensa-labs/rensa/crypto"
)

// Block is a proposed or committed unit of the chain (spec §3).
type Block struct {
	Height            uint64           `json:"height"`
	ParentHash        crypto.Hash      `json:"parent_hash"`
	Producer          crypto.Pubkey    `json:"producer"`
	StateRoot         crypto.Hash      `json:"state_root"`
	Timestamp         time.Time        `json:"timestamp"`
	Transactions      []TxRecord       `json:"transactions"`
	ProducerSignature crypto.Signature `json:"producer_signature"`
}

// TxRecord pairs a transaction with its final execution status, as it
// appears once included in a block (spec §4.4: "The transaction is appended
// to the block with its final status").
type TxRecord struct {
	Transaction Transaction    `json:"transaction"`
	Success     bool           `json:"success"`
	Output      crypto.Bytes58 `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// canonicalEncoding returns the byte encoding hashed to produce the block's
// identity hash; it deliberately excludes ProducerSignature, which signs
// this value rather than being part of it.
func (b *Block) canonicalEncoding() []byte {
	type canonical struct {
		Height       uint64        `json:"height"`
		ParentHash   crypto.Hash   `json:"parent_hash"`
		Producer     crypto.Pubkey `json:"producer"`
		StateRoot    crypto.Hash   `json:"state_root"`
		Timestamp    int64         `json:"timestamp"`
		Transactions []TxRecord    `json:"transactions"`
	}
	out, err := json.Marshal(canonical{
		Height:       b.Height,
		ParentHash:   b.ParentHash,
		Producer:     b.Producer,
		StateRoot:    b.StateRoot,
		Timestamp:    b.Timestamp.UnixNano(),
		Transactions: b.Transactions,
	})
	if err != nil {
		panic(err)
	}
	return out
}

// Hash computes the block's identity hash, used as both its own node id in
// the forest and as the next block's parent_hash (spec §3:
// "parent_hash = SHA3-256(parent block's canonical encoding)").
func (b *Block) Hash() crypto.Hash {
	return crypto.Sum256(b.canonicalEncoding())
}

// SigningBytes returns the bytes the producer signs: the block hash.
func (b *Block) SigningBytes() []byte {
	h := b.Hash()
	return h[:]
}

// Encode returns the canonical JSON wire encoding.
func (b *Block) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBlock parses the wire JSON encoding produced by Encode.
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
