package forest

import (
	"testing"
	"time"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/execution"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

func newTestExecutor() *execution.Executor {
	currency := contracts.NewCurrency()
	resolver := mapResolver{currency.Address(): currency}
	return execution.NewExecutor(resolver, execution.Limits{MaxParamsSize: 1024, MaxAccounts: 16})
}

type mapResolver map[crypto.Pubkey]contracts.Contract

func (m mapResolver) Resolve(addr crypto.Pubkey) (contracts.Contract, bool) {
	c, ok := m[addr]
	return c, ok
}

// buildBlock assembles a block the way a proposer would: run each
// transaction against a scratch overlay to learn the correct state_root,
// then stamp that root onto the block header before signing.
func buildBlock(t *testing.T, parent *types.Block, parentOverlay *state.Overlay, producer *crypto.PrivateKey, txs []*types.Transaction) *types.Block {
	t.Helper()
	exec := newTestExecutor()
	scratch := state.NewOverlay(parentOverlay)
	records := make([]types.TxRecord, len(txs))
	for i, tx := range txs {
		record, txErr := exec.Execute(tx, scratch)
		if txErr != nil {
			t.Fatalf("assemble: execute tx %d: %v", i, txErr)
		}
		records[i] = *record
	}
	root := commitment.ComputeStateRoot(scratch)

	block := &types.Block{
		Height:       parent.Height + 1,
		ParentHash:   parent.Hash(),
		Producer:     producer.Pubkey(),
		StateRoot:    root,
		Timestamp:    time.Unix(int64(parent.Height+1)*1000, 0).UTC(),
		Transactions: records,
	}
	block.ProducerSignature = producer.Sign(block.SigningBytes())
	return block
}

func genesisBlock(producer crypto.Pubkey) *types.Block {
	return &types.Block{
		Height:    0,
		Producer:  producer,
		Timestamp: time.Unix(0, 0).UTC(),
	}
}

func newTestForest(t *testing.T) (*Forest, *crypto.PrivateKey) {
	t.Helper()
	producer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := genesisBlock(producer.Pubkey())
	base := state.NewBase(state.NewMemoryKV())
	return NewForest(genesis, base, 1000), producer
}

func signVote(t *testing.T, validator *crypto.PrivateKey, targetHash, justificationHash crypto.Hash) *types.Vote {
	t.Helper()
	v := &types.Vote{
		TargetHash:        targetHash,
		JustificationHash: justificationHash,
		Validator:         validator.Pubkey(),
	}
	v.Signature = validator.Sign(v.SigningBytes())
	return v
}

func TestInsertBlockRejectsUnknownParent(t *testing.T) {
	f, producer := newTestForest(t)
	bogusParent := crypto.Hash{9, 9, 9}
	block := &types.Block{Height: 1, ParentHash: bogusParent, Producer: producer.Pubkey()}

	_, err := f.InsertBlock(block, newTestExecutor())
	if err == nil {
		t.Fatal("expected an error for an unknown parent")
	}
}

func TestInsertBlockAcceptsCorrectStateRoot(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())

	block := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	node, err := f.InsertBlock(block, newTestExecutor())
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if node.ParentHash != genesisNode.Hash {
		t.Fatalf("expected node's parent to be genesis, got %s", node.ParentHash)
	}
	if f.Len() != 2 {
		t.Fatalf("expected 2 nodes in forest, got %d", f.Len())
	}
}

func TestInsertBlockRejectsWrongStateRoot(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())

	block := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	block.StateRoot = crypto.Hash{1, 2, 3}

	_, err := f.InsertBlock(block, newTestExecutor())
	if err == nil {
		t.Fatal("expected a state root mismatch error")
	}
}

func TestInsertVoteCreditsStakeToTarget(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())
	block := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	node, err := f.InsertBlock(block, newTestExecutor())
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	validator, _ := crypto.GenerateKey()
	vote := signVote(t, validator, node.Hash, genesisNode.Hash)
	if err := f.InsertVote(vote, 50); err != nil {
		t.Fatalf("InsertVote: %v", err)
	}

	if stake := f.SubtreeStake(node.Hash); stake != 50 {
		t.Fatalf("expected subtree stake 50, got %d", stake)
	}
}

func TestInsertVoteRejectsBadSignature(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())
	block := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	node, _ := f.InsertBlock(block, newTestExecutor())

	validator, _ := crypto.GenerateKey()
	vote := signVote(t, validator, node.Hash, genesisNode.Hash)
	vote.Signature = crypto.Signature{}

	if err := f.InsertVote(vote, 50); err != ErrBadVoteSignature {
		t.Fatalf("expected ErrBadVoteSignature, got %v", err)
	}
}

func TestEquivocatingVoteDropsPriorCredit(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())

	blockA := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	nodeA, err := f.InsertBlock(blockA, newTestExecutor())
	if err != nil {
		t.Fatalf("insert A: %v", err)
	}

	// A second, conflicting block at the same parent needs different
	// contents (here a later timestamp) to hash differently, since the
	// block hash excludes the producer signature.
	blockB := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	blockB.Timestamp = blockA.Timestamp.Add(time.Second)
	blockB.ProducerSignature = producer.Sign(blockB.SigningBytes())
	nodeB, err := f.InsertBlock(blockB, newTestExecutor())
	if err != nil {
		t.Fatalf("insert B: %v", err)
	}
	if nodeA.Hash == nodeB.Hash {
		t.Fatal("expected conflicting blocks to hash differently")
	}

	validator, _ := crypto.GenerateKey()
	voteA := signVote(t, validator, nodeA.Hash, genesisNode.Hash)
	if err := f.InsertVote(voteA, 100); err != nil {
		t.Fatalf("insert voteA: %v", err)
	}
	if stake := f.SubtreeStake(nodeA.Hash); stake != 100 {
		t.Fatalf("expected nodeA stake 100, got %d", stake)
	}

	voteB := signVote(t, validator, nodeB.Hash, genesisNode.Hash)
	if err := f.InsertVote(voteB, 100); err != nil {
		t.Fatalf("insert voteB: %v", err)
	}

	if stake := f.SubtreeStake(nodeA.Hash); stake != 0 {
		t.Fatalf("expected nodeA stake to have been dropped by equivocation, got %d", stake)
	}
	if stake := f.SubtreeStake(nodeB.Hash); stake != 100 {
		t.Fatalf("expected nodeB stake 100, got %d", stake)
	}
}

func TestTipPrefersGreaterPathStake(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())

	blockA := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	nodeA, _ := f.InsertBlock(blockA, newTestExecutor())

	blockB := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	blockB.Timestamp = blockA.Timestamp.Add(time.Second)
	blockB.ProducerSignature = producer.Sign(blockB.SigningBytes())
	nodeB, _ := f.InsertBlock(blockB, newTestExecutor())

	validator, _ := crypto.GenerateKey()
	vote := signVote(t, validator, nodeB.Hash, genesisNode.Hash)
	if err := f.InsertVote(vote, 10); err != nil {
		t.Fatalf("InsertVote: %v", err)
	}

	if tip := f.Tip(); tip != nodeB.Hash {
		t.Fatalf("expected tip %s (more path stake), got %s (nodeA %s)", nodeB.Hash, tip, nodeA.Hash)
	}
}

func TestPromotePrunesSiblingsAndDescendantsSurvive(t *testing.T) {
	f, producer := newTestForest(t)
	genesisNode := f.Get(f.Root())

	blockA := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	nodeA, _ := f.InsertBlock(blockA, newTestExecutor())

	blockB := buildBlock(t, genesisNode.Block, genesisNode.Overlay, producer, nil)
	blockB.Timestamp = blockA.Timestamp.Add(time.Second)
	blockB.ProducerSignature = producer.Sign(blockB.SigningBytes())
	_, _ = f.InsertBlock(blockB, newTestExecutor())

	blockA2 := buildBlock(t, nodeA.Block, nodeA.Overlay, producer, nil)
	nodeA2, _ := f.InsertBlock(blockA2, newTestExecutor())

	if f.Len() != 4 {
		t.Fatalf("expected 4 nodes before promote, got %d", f.Len())
	}

	f.Promote(nodeA.Hash)

	if f.Root() != nodeA.Hash {
		t.Fatalf("expected root to be nodeA, got %s", f.Root())
	}
	if f.Len() != 2 {
		t.Fatalf("expected 2 nodes after promote (nodeA + nodeA2), got %d", f.Len())
	}
	if f.Get(nodeA2.Hash) == nil {
		t.Fatal("expected nodeA2 to survive promotion")
	}
}
