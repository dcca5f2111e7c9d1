package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// ErrNotFound means the requested height, hash, or meta key has no entry.
var ErrNotFound = errors.New("kvstore: not found")

// Key layout, directly grounded on the teacher's pkg/ledger/store.go
// convention: a fixed ASCII prefix plus a big-endian integer or raw-byte
// suffix, JSON-encoded values.
var (
	keyLatestHeight = []byte("history:meta:latest_height")
	keyBlockPrefix  = []byte("history:block:")
	keyTxIndexPrefix = []byte("history:tx:")
	keyVotePrefix   = []byte("history:vote:")
)

func blockKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append(append([]byte{}, keyBlockPrefix...), buf[:]...)
}

func txIndexKey(hash crypto.Hash) []byte {
	return append(append([]byte{}, keyTxIndexPrefix...), hash[:]...)
}

func voteKey(target crypto.Hash, validator crypto.Pubkey) []byte {
	key := append([]byte{}, keyVotePrefix...)
	key = append(key, target[:]...)
	return append(key, validator[:]...)
}

// txLocation records where a transaction landed, so GetTransaction can find
// it without scanning every stored block.
type txLocation struct {
	Height uint64 `json:"height"`
	Index  int    `json:"index"`
}

// HistoryStore is the append-only record of every finalized block,
// transaction, and vote, keyed for direct lookup by height or hash (spec
// §6's "Persistence layout").
type HistoryStore struct {
	db dbm.DB
}

// NewHistoryStore wraps db as a HistoryStore.
func NewHistoryStore(db dbm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// PutBlock appends block to history, indexing each of its transactions by
// hash, and advances the latest-height marker.
func (h *HistoryStore) PutBlock(block *types.Block) error {
	encoded, err := block.Encode()
	if err != nil {
		return fmt.Errorf("kvstore: encode block %d: %w", block.Height, err)
	}
	if err := h.db.SetSync(blockKey(block.Height), encoded); err != nil {
		return fmt.Errorf("kvstore: put block %d: %w", block.Height, err)
	}

	for i, record := range block.Transactions {
		loc := txLocation{Height: block.Height, Index: i}
		locBytes, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("kvstore: encode tx location: %w", err)
		}
		hash := record.Transaction.Hash()
		if err := h.db.SetSync(txIndexKey(hash), locBytes); err != nil {
			return fmt.Errorf("kvstore: index tx %s: %w", hash, err)
		}
	}

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], block.Height)
	if err := h.db.SetSync(keyLatestHeight, heightBuf[:]); err != nil {
		return fmt.Errorf("kvstore: update latest height: %w", err)
	}
	return nil
}

// GetBlock returns the finalized block at height.
func (h *HistoryStore) GetBlock(height uint64) (*types.Block, error) {
	raw, err := h.db.Get(blockKey(height))
	if err != nil {
		return nil, fmt.Errorf("kvstore: get block %d: %w", height, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	block, err := types.DecodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("kvstore: decode block %d: %w", height, err)
	}
	return block, nil
}

// GetTransaction returns the TxRecord for hash, found via the height/index
// it was indexed under at PutBlock time.
func (h *HistoryStore) GetTransaction(hash crypto.Hash) (*types.TxRecord, error) {
	raw, err := h.db.Get(txIndexKey(hash))
	if err != nil {
		return nil, fmt.Errorf("kvstore: get tx index %s: %w", hash, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var loc txLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("kvstore: decode tx location for %s: %w", hash, err)
	}
	block, err := h.GetBlock(loc.Height)
	if err != nil {
		return nil, fmt.Errorf("kvstore: load block %d for tx %s: %w", loc.Height, hash, err)
	}
	if loc.Index < 0 || loc.Index >= len(block.Transactions) {
		return nil, fmt.Errorf("kvstore: tx index %d out of range for block %d", loc.Index, loc.Height)
	}
	return &block.Transactions[loc.Index], nil
}

// GetTransactionHeight returns the height of the block hash was recorded in,
// without loading the full block.
func (h *HistoryStore) GetTransactionHeight(hash crypto.Hash) (uint64, error) {
	raw, err := h.db.Get(txIndexKey(hash))
	if err != nil {
		return 0, fmt.Errorf("kvstore: get tx index %s: %w", hash, err)
	}
	if raw == nil {
		return 0, ErrNotFound
	}
	var loc txLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return 0, fmt.Errorf("kvstore: decode tx location for %s: %w", hash, err)
	}
	return loc.Height, nil
}

// PutVote records a finalized vote for audit/history purposes.
func (h *HistoryStore) PutVote(vote *types.Vote) error {
	encoded, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("kvstore: encode vote: %w", err)
	}
	if err := h.db.SetSync(voteKey(vote.TargetHash, vote.Validator), encoded); err != nil {
		return fmt.Errorf("kvstore: put vote: %w", err)
	}
	return nil
}

// GetVote returns the vote validator cast for target, or ErrNotFound if none
// was ever recorded.
func (h *HistoryStore) GetVote(target crypto.Hash, validator crypto.Pubkey) (*types.Vote, error) {
	raw, err := h.db.Get(voteKey(target, validator))
	if err != nil {
		return nil, fmt.Errorf("kvstore: get vote: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var vote types.Vote
	if err := json.Unmarshal(raw, &vote); err != nil {
		return nil, fmt.Errorf("kvstore: decode vote: %w", err)
	}
	return &vote, nil
}

// LatestHeight returns the height of the most recently stored block.
func (h *HistoryStore) LatestHeight() (uint64, error) {
	raw, err := h.db.Get(keyLatestHeight)
	if err != nil {
		return 0, fmt.Errorf("kvstore: get latest height: %w", err)
	}
	if raw == nil {
		return 0, ErrNotFound
	}
	return binary.BigEndian.Uint64(raw), nil
}
