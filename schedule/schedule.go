// Package schedule maps slot numbers to leader validators and vote-power
// weights from the genesis validator set (spec §4.7). The mapping is a
// deterministic, stake-weighted permutation reseeded once per epoch, so any
// peer holding genesis can compute the leader for any slot without
// consulting a third party.
package schedule

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/rensa-labs/rensa/crypto"
)

// DefaultSlotDuration is the protocol constant spec §4.7 suggests as a
// default and spec §9's Open Question pins as the canonical choice.
const DefaultSlotDuration = 1 // seconds

// ErrEmptyValidatorSet means a Schedule was constructed with no validators.
var ErrEmptyValidatorSet = errors.New("schedule: validator set is empty")

// ErrZeroTotalStake means every validator in the set has zero stake, making
// stake-weighted selection undefined.
var ErrZeroTotalStake = errors.New("schedule: total stake is zero")

// Validator is one entry of the genesis validator set: an identity and the
// stake backing it.
type Validator struct {
	Pubkey crypto.Pubkey
	Stake  uint64
}

// Schedule computes slot leaders and vote-power weights for a fixed genesis
// validator set. It is safe for concurrent use; per-epoch permutations are
// computed once and cached.
type Schedule struct {
	chainID     string
	epochLength uint64
	totalStake  uint64
	validators  []Validator
	stakeOf     map[crypto.Pubkey]uint64

	mu      sync.Mutex
	shuffle map[uint64][]crypto.Pubkey
}

// New builds a Schedule from the genesis validator set. The set is sorted by
// pubkey internally so that the shuffle is independent of the order
// genesis.json happens to list validators in.
func New(chainID string, epochLength uint64, validators []Validator) (*Schedule, error) {
	if len(validators) == 0 {
		return nil, ErrEmptyValidatorSet
	}
	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return bytesLess(sorted[i].Pubkey.Bytes(), sorted[j].Pubkey.Bytes())
	})

	stakeOf := make(map[crypto.Pubkey]uint64, len(sorted))
	var total uint64
	for _, v := range sorted {
		stakeOf[v.Pubkey] = v.Stake
		total += v.Stake
	}
	if total == 0 {
		return nil, ErrZeroTotalStake
	}
	if epochLength == 0 {
		epochLength = 1
	}

	return &Schedule{
		chainID:     chainID,
		epochLength: epochLength,
		totalStake:  total,
		validators:  sorted,
		stakeOf:     stakeOf,
		shuffle:     make(map[uint64][]crypto.Pubkey),
	}, nil
}

// TotalStake returns the sum of every validator's genesis stake.
func (s *Schedule) TotalStake() uint64 { return s.totalStake }

// StakeOf returns pk's genesis stake, or ok=false if pk is not a validator.
func (s *Schedule) StakeOf(pk crypto.Pubkey) (uint64, bool) {
	stake, ok := s.stakeOf[pk]
	return stake, ok
}

// LeaderAt returns the validator assigned to propose at slot.
func (s *Schedule) LeaderAt(slot uint64) crypto.Pubkey {
	order := s.permutationFor(slot / s.epochLength)
	return order[(slot%s.epochLength)%uint64(len(order))]
}

// permutationFor returns the stake-weighted shuffle of the validator set for
// epoch, computing and caching it on first use.
func (s *Schedule) permutationFor(epoch uint64) []crypto.Pubkey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.shuffle[epoch]; ok {
		return cached
	}

	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], epoch)
	seed := crypto.Sum256([]byte(s.chainID), epochBuf[:])

	remaining := make([]Validator, len(s.validators))
	copy(remaining, s.validators)
	order := make([]crypto.Pubkey, 0, len(remaining))

	var draw uint64
	for len(remaining) > 0 {
		var total uint64
		for _, v := range remaining {
			total += v.Stake
		}
		point := drawUint64(seed, draw) % total
		draw++

		var cumulative uint64
		chosen := len(remaining) - 1
		for i, v := range remaining {
			cumulative += v.Stake
			if point < cumulative {
				chosen = i
				break
			}
		}
		order = append(order, remaining[chosen].Pubkey)
		remaining = append(remaining[:chosen], remaining[chosen+1:]...)
	}

	s.shuffle[epoch] = order
	return order
}

// drawUint64 derives the counter-th pseudorandom value from seed by hashing
// seed together with a big-endian counter, giving every peer an identical,
// infinitely-extendable stream without needing a stateful PRNG.
func drawUint64(seed crypto.Hash, counter uint64) uint64 {
	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], counter)
	digest := crypto.Sum256(seed[:], counterBuf[:])
	return binary.BigEndian.Uint64(digest[:8])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
