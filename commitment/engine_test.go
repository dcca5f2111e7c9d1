package commitment

import (
	"testing"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// fakeTree is a minimal in-memory implementation of Tree, independent of
// package forest, so the Engine's confirmation/finalization logic can be
// exercised without re-executing transactions or re-deriving state roots.
type fakeTree struct {
	root     crypto.Hash
	parent   map[crypto.Hash]crypto.Hash
	children map[crypto.Hash][]crypto.Hash
	height   map[crypto.Hash]uint64
	stake    map[crypto.Hash]uint64
	overlay  map[crypto.Hash]*state.Overlay
	base     *state.Base
}

func newFakeTree(base *state.Base, root crypto.Hash) *fakeTree {
	return &fakeTree{
		root:     root,
		parent:   map[crypto.Hash]crypto.Hash{},
		children: map[crypto.Hash][]crypto.Hash{},
		height:   map[crypto.Hash]uint64{root: 0},
		stake:    map[crypto.Hash]uint64{},
		overlay:  map[crypto.Hash]*state.Overlay{root: state.NewOverlay(base)},
		base:     base,
	}
}

func (f *fakeTree) addChild(hash, parent crypto.Hash, height uint64, stake uint64) {
	f.parent[hash] = parent
	f.children[parent] = append(f.children[parent], hash)
	f.height[hash] = height
	f.stake[hash] = stake
	f.overlay[hash] = state.NewOverlay(f.overlay[parent])
}

func (f *fakeTree) Root() crypto.Hash { return f.root }

func (f *fakeTree) NodeHeight(hash crypto.Hash) (uint64, bool) {
	h, ok := f.height[hash]
	return h, ok
}

func (f *fakeTree) Descendants(hash crypto.Hash) []crypto.Hash {
	var out []crypto.Hash
	for _, c := range f.children[hash] {
		out = append(out, c)
		out = append(out, f.Descendants(c)...)
	}
	return out
}

func (f *fakeTree) Ancestors(hash crypto.Hash) []crypto.Hash {
	var out []crypto.Hash
	for hash != f.root {
		p, ok := f.parent[hash]
		if !ok {
			break
		}
		out = append(out, p)
		hash = p
	}
	return out
}

func (f *fakeTree) SubtreeStake(hash crypto.Hash) uint64 {
	total := f.stake[hash]
	for _, c := range f.children[hash] {
		total += f.SubtreeStake(c)
	}
	return total
}

func (f *fakeTree) Overlay(hash crypto.Hash) (*state.Overlay, bool) {
	o, ok := f.overlay[hash]
	return o, ok
}

func (f *fakeTree) RebaseOverlay(hash crypto.Hash, overlay *state.Overlay) {
	f.overlay[hash] = overlay
}

func (f *fakeTree) Promote(newRoot crypto.Hash) {
	keep := map[crypto.Hash]bool{newRoot: true}
	for _, d := range f.Descendants(newRoot) {
		keep[d] = true
	}
	for hash := range f.height {
		if !keep[hash] {
			delete(f.height, hash)
			delete(f.stake, hash)
			delete(f.overlay, hash)
			delete(f.children, hash)
			delete(f.parent, hash)
		}
	}
	delete(f.parent, newRoot)
	f.root = newRoot
}

func hashN(b byte) crypto.Hash {
	var h crypto.Hash
	h[0] = b
	return h
}

func TestAdvanceConfirmsAboveTwoThirds(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	root := hashN(0)
	tree := newFakeTree(base, root)
	a := hashN(1)
	tree.addChild(a, root, 1, 70)

	e := NewEngine(base, 100, root)
	e.Advance(tree)

	if !e.IsConfirmed(a) {
		t.Fatal("expected block with 70/100 stake to be confirmed")
	}
}

func TestAdvanceDoesNotConfirmBelowTwoThirds(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	root := hashN(0)
	tree := newFakeTree(base, root)
	a := hashN(1)
	tree.addChild(a, root, 1, 60)

	e := NewEngine(base, 100, root)
	e.Advance(tree)

	if e.IsConfirmed(a) {
		t.Fatal("expected block with 60/100 stake to not be confirmed")
	}
}

func TestAdvanceFinalizesOnSupermajorityLink(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	root := hashN(0)
	tree := newFakeTree(base, root)
	a := hashN(1)
	b := hashN(2)
	tree.addChild(a, root, 1, 70)
	tree.addChild(b, a, 2, 70)

	acc := crypto.Pubkey{5}
	tree.overlay[a].Set(acc, &types.Account{Nonce: 1})

	e := NewEngine(base, 100, root)
	finalized := e.Advance(tree)

	if len(finalized) != 1 || finalized[0] != a {
		t.Fatalf("expected a to finalize, got %v", finalized)
	}
	if e.Finalized() != a {
		t.Fatalf("expected Finalized() == a, got %s", e.Finalized())
	}
	if tree.Root() != a {
		t.Fatalf("expected tree root promoted to a, got %s", tree.Root())
	}

	stored, err := base.Get(acc)
	if err != nil {
		t.Fatalf("base.Get: %v", err)
	}
	if stored == nil || stored.Nonce != 1 {
		t.Fatalf("expected a's diff folded into base, got %+v", stored)
	}
}

func TestAdvanceCascadesThroughMultipleFinalizations(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	root := hashN(0)
	tree := newFakeTree(base, root)
	a := hashN(1)
	b := hashN(2)
	c := hashN(3)
	tree.addChild(a, root, 1, 100)
	tree.addChild(b, a, 2, 100)
	tree.addChild(c, b, 3, 100)

	e := NewEngine(base, 100, root)
	finalized := e.Advance(tree)

	if len(finalized) != 2 || finalized[0] != a || finalized[1] != b {
		t.Fatalf("expected [a, b] to finalize in order, got %v", finalized)
	}
	if tree.Root() != b {
		t.Fatalf("expected root promoted to b, got %s", tree.Root())
	}
}

func TestAdvanceDoesNotFinalizeWithoutLaterConfirmedDescendant(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	root := hashN(0)
	tree := newFakeTree(base, root)
	a := hashN(1)
	tree.addChild(a, root, 1, 100)

	e := NewEngine(base, 100, root)
	finalized := e.Advance(tree)

	if len(finalized) != 0 {
		t.Fatalf("expected no finalization with only one confirmed block, got %v", finalized)
	}
	if e.Finalized() != root {
		t.Fatalf("expected Finalized() to remain root, got %s", e.Finalized())
	}
}

func TestComputeStateRootIsOrderIndependentButContentSensitive(t *testing.T) {
	base := state.NewBase(state.NewMemoryKV())
	branch1 := state.NewOverlay(base)
	addr1 := crypto.Pubkey{1}
	addr2 := crypto.Pubkey{2}
	branch1.Set(addr1, &types.Account{Nonce: 1})
	branch1.Set(addr2, &types.Account{Nonce: 2})

	branch2 := state.NewOverlay(base)
	branch2.Set(addr2, &types.Account{Nonce: 2})
	branch2.Set(addr1, &types.Account{Nonce: 1})

	if ComputeStateRoot(branch1) != ComputeStateRoot(branch2) {
		t.Fatal("expected state root to be independent of Set call order")
	}

	branch3 := state.NewOverlay(base)
	branch3.Set(addr1, &types.Account{Nonce: 99})
	branch3.Set(addr2, &types.Account{Nonce: 2})

	if ComputeStateRoot(branch1) == ComputeStateRoot(branch3) {
		t.Fatal("expected different account content to produce a different root")
	}
}
