// Package genesis loads and validates the genesis.json file every Rensa
// node is bootstrapped from (spec §6): protocol constants, the initial
// validator set, the initial account set, and the chain_id peers use to
// detect a mismatched network.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/schedule"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// ValidatorEntry is one genesis validator set member (spec §6: "initial
// validator set [{pubkey, stake}]").
type ValidatorEntry struct {
	Pubkey crypto.Pubkey `json:"pubkey"`
	Stake  uint64        `json:"stake"`
}

// AccountEntry is one genesis account (spec §6: "initial accounts
// [{address, owner, data (base58), executable}]").
type AccountEntry struct {
	Address    crypto.Pubkey  `json:"address"`
	Owner      crypto.Pubkey  `json:"owner"`
	Data       crypto.Bytes58 `json:"data"`
	Executable bool           `json:"executable"`
}

// Genesis is the parsed genesis.json document.
type Genesis struct {
	ChainID             string           `json:"chain_id"`
	GenesisTime         time.Time        `json:"genesis_time"`
	SlotDurationSeconds uint64           `json:"slot_duration_seconds"`
	MaxBlockSize        int              `json:"max_block_size"`
	EpochLength         uint64           `json:"epoch_length"`
	MaxReorgDepth       uint64           `json:"max_reorg_depth"`
	Validators          []ValidatorEntry `json:"validators"`
	Accounts            []AccountEntry   `json:"accounts"`
}

// Load reads and parses the genesis file at path, rejecting it if it fails
// structural validation.
func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the structural invariants a genesis file must satisfy,
// and fills in protocol-constant defaults left unset (spec §4.7's 1-second
// slot default).
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return errors.New("genesis: chain_id is required")
	}
	if len(g.Validators) == 0 {
		return errors.New("genesis: validator set is empty")
	}
	seen := make(map[crypto.Pubkey]bool, len(g.Validators))
	var total uint64
	for _, v := range g.Validators {
		if seen[v.Pubkey] {
			return fmt.Errorf("genesis: validator %s listed more than once", v.Pubkey)
		}
		seen[v.Pubkey] = true
		total += v.Stake
	}
	if total == 0 {
		return errors.New("genesis: total validator stake is zero")
	}
	if g.SlotDurationSeconds == 0 {
		g.SlotDurationSeconds = schedule.DefaultSlotDuration
	}
	if g.EpochLength == 0 {
		return errors.New("genesis: epoch_length must be positive")
	}
	return nil
}

// TotalStake sums every validator's genesis stake.
func (g *Genesis) TotalStake() uint64 {
	var total uint64
	for _, v := range g.Validators {
		total += v.Stake
	}
	return total
}

// Schedule builds the C7 leader schedule from the genesis validator set.
func (g *Genesis) Schedule() (*schedule.Schedule, error) {
	validators := make([]schedule.Validator, len(g.Validators))
	for i, v := range g.Validators {
		validators[i] = schedule.Validator{Pubkey: v.Pubkey, Stake: v.Stake}
	}
	return schedule.New(g.ChainID, g.EpochLength, validators)
}

// Block builds the deterministic genesis block every peer computes
// identically from the same genesis file: height 0, unsigned (there is no
// producer to attest to it — agreement comes from all peers loading the
// same file), with a state_root committing to the initial account set.
func (g *Genesis) Block() *types.Block {
	scratch := state.NewOverlay(state.NewBase(state.NewMemoryKV()))
	for _, entry := range g.Accounts {
		scratch.Set(entry.Address, &types.Account{
			Owner:      entry.Owner,
			Data:       entry.Data,
			Executable: entry.Executable,
		})
	}
	return &types.Block{
		Height:    0,
		Timestamp: g.GenesisTime,
		StateRoot: commitment.ComputeStateRoot(scratch),
	}
}

// Seed writes the genesis account set directly into base, the starting
// point for a node with no finalized history yet.
func (g *Genesis) Seed(base *state.Base) error {
	for _, entry := range g.Accounts {
		acc := &types.Account{
			Owner:      entry.Owner,
			Data:       entry.Data,
			Executable: entry.Executable,
		}
		if err := base.Set(entry.Address, acc); err != nil {
			return fmt.Errorf("genesis: seed account %s: %w", entry.Address, err)
		}
	}
	return nil
}
