// Package forest maintains Rensa's in-memory block tree: the set of blocks
// descended from the last finalized root, their derived account overlays,
// and the accumulated vote weight backing each of them (spec §4.5).
package forest

import (
	"errors"
	"fmt"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/execution"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

var (
	// ErrUnknownParent means a block's declared parent has no node in the
	// forest (spec §4.5: "validates parent exists").
	ErrUnknownParent = errors.New("forest: unknown parent block")
	// ErrReorgTooDeep means the block's parent sits beyond the configured
	// maximum reorganization depth from the finalized root.
	ErrReorgTooDeep = errors.New("forest: parent beyond maximum reorg depth")
	// ErrStateRootMismatch means re-execution produced a different
	// state_root than the block declares.
	ErrStateRootMismatch = errors.New("forest: recomputed state root does not match block")
	// ErrUnknownTarget means a vote's target block has no node in the forest.
	ErrUnknownTarget = errors.New("forest: unknown vote target")
	// ErrBadVoteSignature means the vote's own signature failed to verify.
	ErrBadVoteSignature = errors.New("forest: invalid vote signature")
)

// Node is one block in the forest, along with the state it produced and the
// vote weight it has directly accumulated (spec §4.5: "(block, parent_id,
// overlay, votes, cumulative_stake)").
type Node struct {
	Block      *types.Block
	Hash       crypto.Hash
	ParentHash crypto.Hash
	Overlay    *state.Overlay
	Children   []crypto.Hash

	// voters maps each validator who has voted for this exact node to the
	// stake weight credited, so a repeat vote from the same validator never
	// double-counts (spec §4.5 insert_vote).
	voters map[crypto.Pubkey]uint64

	// votes holds the actual accepted vote from each validator in voters,
	// kept alongside the stake tally so a finalized node's votes can be
	// persisted to history (spec.md:173) without re-deriving them.
	votes map[crypto.Pubkey]*types.Vote
}

// Votes returns every vote currently credited to this node, in no
// particular order.
func (n *Node) Votes() []*types.Vote {
	out := make([]*types.Vote, 0, len(n.votes))
	for _, v := range n.votes {
		out = append(out, v)
	}
	return out
}

// VoteStake returns the sum of distinct validator stake directly credited
// to this node by InsertVote.
func (n *Node) VoteStake() uint64 {
	var total uint64
	for _, stake := range n.voters {
		total += stake
	}
	return total
}

// votedAt records the height and target of a validator's most recently
// accepted vote, used to detect equivocation (spec §4.5).
type votedAt struct {
	height uint64
	target crypto.Hash
}

// Forest is the arena-backed block tree rooted at the last finalized block.
// Nodes reference each other only by block hash, never by pointer, so
// finalization can drop whole subtrees by deleting map entries without
// worrying about dangling owning references (spec §9 design note).
type Forest struct {
	nodes map[crypto.Hash]*Node
	root  crypto.Hash

	maxReorgDepth uint64
	lastVote      map[crypto.Pubkey]votedAt
}

// NewForest creates a forest rooted at genesis, whose overlay sits directly
// on top of base (the finalized account store, with no pending diff yet).
func NewForest(genesis *types.Block, base state.Reader, maxReorgDepth uint64) *Forest {
	rootHash := genesis.Hash()
	root := &Node{
		Block:      genesis,
		Hash:       rootHash,
		ParentHash: genesis.ParentHash,
		Overlay:    state.NewOverlay(base),
		voters:     make(map[crypto.Pubkey]uint64),
		votes:      make(map[crypto.Pubkey]*types.Vote),
	}
	return &Forest{
		nodes:         map[crypto.Hash]*Node{rootHash: root},
		root:          rootHash,
		maxReorgDepth: maxReorgDepth,
		lastVote:      make(map[crypto.Pubkey]votedAt),
	}
}

// Root returns the hash of the current forest root (the last finalized
// block, or genesis if nothing has finalized yet).
func (f *Forest) Root() crypto.Hash { return f.root }

// Get returns the node for hash, or nil if it is not (or no longer) in the
// forest.
func (f *Forest) Get(hash crypto.Hash) *Node { return f.nodes[hash] }

// Len reports how many nodes the forest currently holds.
func (f *Forest) Len() int { return len(f.nodes) }

// NodeHeight reports hash's block height, satisfying commitment.Tree.
func (f *Forest) NodeHeight(hash crypto.Hash) (uint64, bool) {
	node, ok := f.nodes[hash]
	if !ok {
		return 0, false
	}
	return node.Block.Height, true
}

// Overlay returns hash's own diff-overlay, satisfying commitment.Tree.
func (f *Forest) Overlay(hash crypto.Hash) (*state.Overlay, bool) {
	node, ok := f.nodes[hash]
	if !ok {
		return nil, false
	}
	return node.Overlay, true
}

// RebaseOverlay replaces hash's overlay, satisfying commitment.Tree. Used
// once a finalized block's diff has been folded into the base store, so
// subsequent children are built on a shallow overlay rather than the full
// historical chain.
func (f *Forest) RebaseOverlay(hash crypto.Hash, overlay *state.Overlay) {
	if node, ok := f.nodes[hash]; ok {
		node.Overlay = overlay
	}
}

// InsertBlock validates block's parent, re-executes its transactions against
// the parent's overlay, and rejects it if the recomputed state_root
// disagrees with the block's declared one (spec §4.5). On success the new
// node is linked into the tree and returned.
func (f *Forest) InsertBlock(block *types.Block, exec *execution.Executor) (*Node, error) {
	parent, ok := f.nodes[block.ParentHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, block.ParentHash)
	}
	rootNode := f.nodes[f.root]
	if block.Height > rootNode.Block.Height && block.Height-rootNode.Block.Height > f.maxReorgDepth {
		return nil, fmt.Errorf("%w: height %d is %d blocks past finalized root %d",
			ErrReorgTooDeep, block.Height, block.Height-rootNode.Block.Height, rootNode.Block.Height)
	}

	branch := state.NewOverlay(parent.Overlay)
	for i := range block.Transactions {
		tx := block.Transactions[i].Transaction
		record, txErr := exec.Execute(&tx, branch)
		if txErr != nil {
			return nil, fmt.Errorf("forest: re-execute tx %s: %w", tx.Hash(), txErr)
		}
		block.Transactions[i] = *record
	}

	recomputed := commitment.ComputeStateRoot(branch)
	if recomputed != block.StateRoot {
		return nil, fmt.Errorf("%w: recomputed %s, block declares %s", ErrStateRootMismatch, recomputed, block.StateRoot)
	}

	hash := block.Hash()
	node := &Node{
		Block:      block,
		Hash:       hash,
		ParentHash: block.ParentHash,
		Overlay:    branch,
		voters:     make(map[crypto.Pubkey]uint64),
		votes:      make(map[crypto.Pubkey]*types.Vote),
	}
	f.nodes[hash] = node
	parent.Children = append(parent.Children, hash)
	return node, nil
}

// InsertVote validates vote's signature and credits stake to its target node
// (spec §4.5). A second vote at a height the validator already voted at, for
// a different target, is equivocation: the credit of the validator's earlier
// vote at that height is removed and the new vote is credited in its place.
// A vote at a lower height than the validator's last credited vote is
// ignored. Equivocation is not slashed.
func (f *Forest) InsertVote(vote *types.Vote, stake uint64) error {
	if !vote.VerifySignature() {
		return ErrBadVoteSignature
	}
	target, ok := f.nodes[vote.TargetHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, vote.TargetHash)
	}

	if prior, seen := f.lastVote[vote.Validator]; seen {
		if prior.height == target.Block.Height && prior.target != vote.TargetHash {
			if existing := f.nodes[prior.target]; existing != nil {
				delete(existing.voters, vote.Validator)
				delete(existing.votes, vote.Validator)
			}
		} else if prior.height > target.Block.Height {
			return nil
		}
	}

	target.voters[vote.Validator] = stake
	target.votes[vote.Validator] = vote
	f.lastVote[vote.Validator] = votedAt{height: target.Block.Height, target: vote.TargetHash}
	return nil
}

// SubtreeStake sums the directly-credited vote stake of hash and every one
// of its descendants — the quantity spec §4.6 calls "cumulative stake
// weight of votes whose target is a descendant of B (or B itself)".
func (f *Forest) SubtreeStake(hash crypto.Hash) uint64 {
	node, ok := f.nodes[hash]
	if !ok {
		return 0
	}
	total := node.VoteStake()
	for _, child := range node.Children {
		total += f.SubtreeStake(child)
	}
	return total
}

// PathStake sums the directly-credited vote stake of every node on the path
// from hash up to (and including) the forest root — the quantity spec
// §4.5's tip() calls "accumulated stake weight on the path to root".
func (f *Forest) PathStake(hash crypto.Hash) uint64 {
	var total uint64
	for {
		node, ok := f.nodes[hash]
		if !ok {
			return total
		}
		total += node.VoteStake()
		if hash == f.root {
			return total
		}
		hash = node.ParentHash
	}
}

// Leaves returns the hashes of every node with no children.
func (f *Forest) Leaves() []crypto.Hash {
	hasChild := make(map[crypto.Hash]bool, len(f.nodes))
	for _, n := range f.nodes {
		hasChild[n.ParentHash] = true
	}
	var leaves []crypto.Hash
	for hash := range f.nodes {
		if !hasChild[hash] {
			leaves = append(leaves, hash)
		}
	}
	return leaves
}

// Tip returns the preferred leaf per spec §4.5's fork-choice rule: the
// non-finalized leaf with the greatest accumulated stake weight on its path
// to root, ties broken by greater height then lexicographically smaller
// block hash.
func (f *Forest) Tip() crypto.Hash {
	best := f.root
	bestStake := f.PathStake(f.root)
	bestNode := f.nodes[f.root]

	for _, leaf := range f.Leaves() {
		if leaf == f.root {
			continue
		}
		stake := f.PathStake(leaf)
		node := f.nodes[leaf]
		switch {
		case stake > bestStake:
			best, bestStake, bestNode = leaf, stake, node
		case stake == bestStake:
			if node.Block.Height > bestNode.Block.Height {
				best, bestStake, bestNode = leaf, stake, node
			} else if node.Block.Height == bestNode.Block.Height && leaf.LessThan(best) {
				best, bestStake, bestNode = leaf, stake, node
			}
		}
	}
	return best
}

// Descendants returns the hashes of every strict descendant of hash, in no
// particular order.
func (f *Forest) Descendants(hash crypto.Hash) []crypto.Hash {
	node, ok := f.nodes[hash]
	if !ok {
		return nil
	}
	var out []crypto.Hash
	for _, child := range node.Children {
		out = append(out, child)
		out = append(out, f.Descendants(child)...)
	}
	return out
}

// Ancestors returns the hashes from hash's parent up to the current root,
// closest ancestor first.
func (f *Forest) Ancestors(hash crypto.Hash) []crypto.Hash {
	var out []crypto.Hash
	node, ok := f.nodes[hash]
	if !ok {
		return nil
	}
	for node.Hash != f.root {
		out = append(out, node.ParentHash)
		node = f.nodes[node.ParentHash]
		if node == nil {
			break
		}
	}
	return out
}

// Promote makes newRoot the forest's root, merging every node on the
// discarded side of the tree out of existence: siblings of the path from
// the old root to newRoot are pruned (spec §4.6: "every sibling branch of
// the path root → B is deleted"), and the nodes strictly between the old
// root and newRoot are dropped from the arena — the caller
// (commitment.Engine) has already applied their diffs to the base store and
// rebased newRoot onto an empty overlay over it.
func (f *Forest) Promote(newRoot crypto.Hash) {
	node, ok := f.nodes[newRoot]
	if !ok {
		return
	}

	keep := map[crypto.Hash]bool{newRoot: true}
	for _, d := range f.Descendants(newRoot) {
		keep[d] = true
	}
	for hash := range f.nodes {
		if !keep[hash] {
			delete(f.nodes, hash)
		}
	}

	node.ParentHash = crypto.Hash{}
	f.root = newRoot
}
