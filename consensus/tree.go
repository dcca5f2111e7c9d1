package consensus

import (
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/forest"
)

// observedTree wraps *forest.Forest to give the driver a chance to capture a
// block's data the moment it becomes the new finalized root, before a later
// cascade step in the same commitment.Engine.Advance call prunes it out of
// the forest entirely. Every other commitment.Tree method is the forest's
// own, promoted by embedding.
type observedTree struct {
	*forest.Forest
	onPromote func(node *forest.Node)
}

func newObservedTree(f *forest.Forest, onPromote func(node *forest.Node)) *observedTree {
	return &observedTree{Forest: f, onPromote: onPromote}
}

// Promote captures the outgoing node for newRoot before delegating to the
// underlying forest, which may delete it as part of the same call.
func (t *observedTree) Promote(newRoot crypto.Hash) {
	if node := t.Forest.Get(newRoot); node != nil && t.onPromote != nil {
		t.onPromote(node)
	}
	t.Forest.Promote(newRoot)
}
