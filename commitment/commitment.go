// Package commitment computes block state roots and drives the two-phase
// Confirmed/Finalized rule over a block tree (spec §4.6), adapted from the
// teacher's canonical-hashing commitment.go retargeted to SHA3-256 and to a
// real binary Merkle tree over account diffs rather than JSON-canonicalized
// governance leaves.
package commitment

import (
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/merkle"
	"github.com/rensa-labs/rensa/state"
)

// ComputeStateRoot hashes branch's own entries (its diff relative to its
// parent) into the block state_root digest: a binary Merkle tree over the
// sorted set of (address, account-encoding) pairs the block touched (spec
// §3/§9's "implementers should choose a canonical Merkleization", pinned
// here as the canonical choice — see SPEC_FULL.md Open Questions).
func ComputeStateRoot(branch *state.Overlay) crypto.Hash {
	entries := branch.Entries()
	addrs := make([]crypto.Pubkey, 0, len(entries))
	for addr := range entries {
		addrs = append(addrs, addr)
	}
	sorted := merkle.SortPubkeys(addrs)

	leaves := make([]crypto.Hash, len(sorted))
	for i, addr := range sorted {
		acc := entries[addr]
		var encoding []byte
		if acc != nil {
			encoding = acc.Encode()
		}
		leaves[i] = merkle.Leaf(addr, encoding)
	}
	return merkle.Root(leaves)
}
