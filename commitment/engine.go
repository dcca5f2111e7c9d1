package commitment

import (
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Tree is the subset of forest.Forest the Engine needs to drive the
// two-phase rule. It is expressed as an interface, rather than a concrete
// dependency on package forest, so forest can in turn depend on this
// package for ComputeStateRoot without an import cycle.
type Tree interface {
	// Root returns the current forest root (the last finalized block).
	Root() crypto.Hash
	// NodeHeight reports a node's block height, or ok=false if hash is not
	// currently in the tree.
	NodeHeight(hash crypto.Hash) (height uint64, ok bool)
	// Descendants returns every strict descendant of hash.
	Descendants(hash crypto.Hash) []crypto.Hash
	// Ancestors returns the hashes from hash's parent up to the current
	// root, closest ancestor first.
	Ancestors(hash crypto.Hash) []crypto.Hash
	// SubtreeStake sums the directly-credited vote stake of hash and all
	// of its descendants.
	SubtreeStake(hash crypto.Hash) uint64
	// Overlay returns a node's own diff-overlay (not including inherited
	// parent entries).
	Overlay(hash crypto.Hash) (*state.Overlay, bool)
	// RebaseOverlay replaces a node's overlay, used once its diff has been
	// folded into the base store so later descendants build on a shallow
	// overlay instead of the full historical chain.
	RebaseOverlay(hash crypto.Hash, overlay *state.Overlay)
	// Promote makes newRoot the tree's root, pruning every node outside
	// its subtree.
	Promote(newRoot crypto.Hash)
}

// Engine drives spec §4.6's Confirmed/Finalized state machine over a Tree,
// folding finalized diffs into base and pruning the losing branches.
type Engine struct {
	mu         sync.Mutex
	totalStake uint64
	confirmed  map[crypto.Hash]bool
	finalized  crypto.Hash
	base       *state.Base
}

// NewEngine creates an Engine tracking confirmation against totalStake (the
// sum of genesis validator stakes), with finalized initialized to the
// forest's genesis block hash.
func NewEngine(base *state.Base, totalStake uint64, genesisHash crypto.Hash) *Engine {
	return &Engine{
		totalStake: totalStake,
		confirmed:  make(map[crypto.Hash]bool),
		finalized:  genesisHash,
		base:       base,
	}
}

// IsConfirmed reports whether hash has crossed the ⅔ subtree-stake
// threshold.
func (e *Engine) IsConfirmed(hash crypto.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed[hash]
}

// Finalized returns the hash of the most recently finalized block.
func (e *Engine) Finalized() crypto.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// Advance re-evaluates confirmation over every block reachable from tree's
// current root, then finalizes as many blocks as the result allows,
// cascading until no further block qualifies. It returns the hashes that
// newly finalized, in finalization order (spec §4.6).
func (e *Engine) Advance(tree Tree) []crypto.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()

	root := tree.Root()
	candidates := append([]crypto.Hash{root}, tree.Descendants(root)...)
	for _, hash := range candidates {
		if e.confirmed[hash] {
			continue
		}
		if stake := tree.SubtreeStake(hash); stake*3 > e.totalStake*2 {
			e.confirmed[hash] = true
		}
	}

	var newlyFinalized []crypto.Hash
	for {
		next, ok := e.nextFinalizable(tree)
		if !ok {
			break
		}
		e.finalize(tree, next)
		newlyFinalized = append(newlyFinalized, next)
	}
	return newlyFinalized
}

// nextFinalizable finds the confirmed block closest to the current root
// that also has a confirmed, strictly-later-height descendant — spec
// §4.6's "B is Confirmed and a strictly later descendant is also Confirmed
// ... one supermajority link crossing B". Finalizing closest-first lets a
// single Advance call cascade through a run of already-qualifying blocks.
func (e *Engine) nextFinalizable(tree Tree) (crypto.Hash, bool) {
	root := tree.Root()

	var best crypto.Hash
	var bestHeight uint64
	found := false
	for _, hash := range tree.Descendants(root) {
		if !e.confirmed[hash] {
			continue
		}
		height, ok := tree.NodeHeight(hash)
		if !ok || !e.hasLaterConfirmedDescendant(tree, hash, height) {
			continue
		}
		if !found || height < bestHeight {
			best, bestHeight, found = hash, height, true
		}
	}
	return best, found
}

func (e *Engine) hasLaterConfirmedDescendant(tree Tree, hash crypto.Hash, height uint64) bool {
	for _, d := range tree.Descendants(hash) {
		if !e.confirmed[d] {
			continue
		}
		if dh, ok := tree.NodeHeight(d); ok && dh > height {
			return true
		}
	}
	return false
}

// finalize folds every diff from the tree's current root down through
// target into the base store, in root-to-target order so a later block's
// write wins over an earlier one touching the same address, then promotes
// target to be the new tree root (spec §4.6: "its overlay is merged into
// the base store ... every sibling branch of the path root → B is
// deleted, and the forest root becomes B").
func (e *Engine) finalize(tree Tree, target crypto.Hash) {
	chain := rootwardChain(tree, target)

	merged := make(map[crypto.Pubkey]*types.Account)
	for _, hash := range chain {
		overlay, ok := tree.Overlay(hash)
		if !ok {
			continue
		}
		for addr, acc := range overlay.Entries() {
			merged[addr] = acc
		}
	}
	e.base.Apply(merged)

	tree.RebaseOverlay(target, state.NewOverlay(e.base))
	tree.Promote(target)
	e.finalized = target
}

// rootwardChain returns the path from tree's current root down to (and
// including) target, in that root-to-target order, by reversing
// Ancestors(target) (which comes back closest-ancestor-first) and dropping
// the root itself, since the root's diff is already folded into base from
// a prior finalization.
func rootwardChain(tree Tree, target crypto.Hash) []crypto.Hash {
	ancestors := tree.Ancestors(target)
	root := tree.Root()
	if len(ancestors) > 0 && ancestors[len(ancestors)-1] == root {
		ancestors = ancestors[:len(ancestors)-1]
	}
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return append(ancestors, target)
}
