// Package merkle builds binary Merkle trees over Rensa account diffs,
// retargeted from the teacher's SHA-256 governance-root tree to the
// SHA3-256 digest pinned by spec §3.
package merkle

import (
	"errors"
	"sort"

	"github.com/rensa-labs/rensa/crypto"
)

// ErrEmptyLeaves reports an empty leaf set. Root does not return it: Root
// yields the zero hash for zero leaves.
var ErrEmptyLeaves = errors.New("merkle: cannot build root from zero leaves")

// Root computes the binary Merkle root of leaves, combining pairs as
// SHA3-256(left || right) level by level. An odd node at any level is
// promoted by duplicating it against itself, the standard Merkle tree
// convention the teacher's tree.go also follows. Returns the zero hash for
// zero leaves.
func Root(leaves []crypto.Hash) crypto.Hash {
	if len(leaves) == 0 {
		return crypto.Hash{}
	}
	level := make([]crypto.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right crypto.Hash) crypto.Hash {
	return crypto.Sum256(left[:], right[:])
}

// Leaf hashes a single (address, account-encoding) pair into the digest
// committed to the tree, per commitment.ComputeStateRoot's sorted diff walk.
func Leaf(addr crypto.Pubkey, encoding []byte) crypto.Hash {
	return crypto.Sum256(addr[:], encoding)
}

// SortPubkeys returns a copy of addrs sorted by byte value, giving a
// deterministic leaf order any peer recomputing the tree will agree on.
func SortPubkeys(addrs []crypto.Pubkey) []crypto.Pubkey {
	out := make([]crypto.Pubkey, len(addrs))
	copy(out, addrs)
	sort.Slice(out, func(i, j int) bool {
		return lessPubkey(out[i], out[j])
	})
	return out
}

func lessPubkey(a, b crypto.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
