// Package consensus drives Rensa's block tree and two-phase commitment
// engine as a single-goroutine event loop (spec §4.8): drain gossip, propose
// or vote as the slot demands, and advance finalization, notifying history
// storage as finalized blocks leave the forest.
package consensus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/execution"
	"github.com/rensa-labs/rensa/forest"
	"github.com/rensa-labs/rensa/gossip"
	"github.com/rensa-labs/rensa/kvstore"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/schedule"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config bounds the driver's per-tick work.
type Config struct {
	SlotDuration         time.Duration
	MaxBlockTransactions int
	// Workers bounds the pool used to verify transaction signatures
	// concurrently (spec §5), independent of the sequential per-tx
	// execution that follows.
	Workers int
}

// DefaultConfig returns the genesis-pinned slot duration (spec §4.7) with
// conservative block-assembly and concurrency bounds.
func DefaultConfig() Config {
	return Config{
		SlotDuration:         schedule.DefaultSlotDuration * time.Second,
		MaxBlockTransactions: 500,
		Workers:              4,
	}
}

// Driver owns the forest, the commitment engine, and everything else a
// running validator touches once per slot.
type Driver struct {
	forest    *forest.Forest
	engine    *commitment.Engine
	schedule  *schedule.Schedule
	mempool   *mempool.Pool
	transport gossip.Transport
	exec      *execution.Executor
	priv      *crypto.PrivateKey
	history   *kvstore.HistoryStore
	base      *state.Base
	logger    Logger
	cfg       Config

	genesisTime time.Time

	mu          sync.Mutex
	onFinalized []func(*types.Block)
	onProduced  []func(*types.Block)
}

// NewDriver builds a Driver. history may be nil for a node that opts out of
// persistence (it still participates in consensus, it just cannot answer
// history queries after a restart).
func NewDriver(
	f *forest.Forest,
	engine *commitment.Engine,
	sched *schedule.Schedule,
	pool *mempool.Pool,
	transport gossip.Transport,
	exec *execution.Executor,
	priv *crypto.PrivateKey,
	history *kvstore.HistoryStore,
	base *state.Base,
	genesisTime time.Time,
	logger Logger,
	cfg Config,
) *Driver {
	if cfg.SlotDuration == 0 {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Driver{
		forest:      f,
		engine:      engine,
		schedule:    sched,
		mempool:     pool,
		transport:   transport,
		exec:        exec,
		priv:        priv,
		history:     history,
		base:        base,
		logger:      logger,
		cfg:         cfg,
		genesisTime: genesisTime,
	}
}

// Subscribe registers fn to be called, in tick order, with every block this
// node newly finalizes.
func (d *Driver) Subscribe(fn func(*types.Block)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFinalized = append(d.onFinalized, fn)
}

// SubscribeProduced registers fn to be called with every block this node
// produces as leader, immediately after it is broadcast.
func (d *Driver) SubscribeProduced(fn func(*types.Block)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onProduced = append(d.onProduced, fn)
}

// SubmitTransaction admits tx to the local mempool and gossips it onward,
// the entry point the RPC layer's POST /transactions handler calls.
func (d *Driver) SubmitTransaction(tx *types.Transaction) error {
	if err := d.mempool.Admit(tx); err != nil {
		return err
	}
	return d.transport.Broadcast(gossip.TransactionMessage(tx))
}

// TipBlock returns the block at the fork-choice tip.
func (d *Driver) TipBlock() *types.Block {
	node := d.forest.Get(d.forest.Tip())
	if node == nil {
		return nil
	}
	return node.Block
}

// Account returns addr's account as seen from the fork-choice tip's state,
// which may include unfinalized writes.
func (d *Driver) Account(addr crypto.Pubkey) (*types.Account, error) {
	node := d.forest.Get(d.forest.Tip())
	if node == nil {
		return nil, nil
	}
	return node.Overlay.Get(addr)
}

// FinalizedHeight returns the height of the most recently finalized block.
func (d *Driver) FinalizedHeight() uint64 {
	node := d.forest.Get(d.engine.Finalized())
	if node == nil {
		return 0
	}
	return node.Block.Height
}

// confirmedTip returns the highest node currently reachable from the forest
// root that has crossed the Confirmed threshold, falling back to the root
// itself (always trivially "confirmed", being finalized) if none has.
func (d *Driver) confirmedTip() *forest.Node {
	root := d.forest.Root()
	best := d.forest.Get(root)
	for _, hash := range d.forest.Descendants(root) {
		if !d.engine.IsConfirmed(hash) {
			continue
		}
		node := d.forest.Get(hash)
		if node == nil {
			continue
		}
		if best == nil || node.Block.Height > best.Block.Height {
			best = node
		}
	}
	return best
}

// ConfirmedHeight returns the height of the highest Confirmed block.
func (d *Driver) ConfirmedHeight() uint64 {
	node := d.confirmedTip()
	if node == nil {
		return d.FinalizedHeight()
	}
	return node.Block.Height
}

// AccountAt returns addr's account as seen under the requested commitment
// level: "finalized" reads directly from the base store, "confirmed" reads
// through the highest Confirmed branch's overlay (falling back to finalized
// if nothing has confirmed yet). Any other value is treated as "confirmed".
func (d *Driver) AccountAt(addr crypto.Pubkey, commitmentLevel string) (*types.Account, error) {
	if commitmentLevel == "finalized" {
		return d.base.Get(addr)
	}
	node := d.confirmedTip()
	if node == nil {
		return d.base.Get(addr)
	}
	return node.Overlay.Get(addr)
}

// BlockAt returns the block at height, first checking the in-memory forest
// (for not-yet-finalized or recently-finalized heights) and falling back to
// the history store for anything already pruned out of the forest.
func (d *Driver) BlockAt(height uint64) (*types.Block, bool) {
	root := d.forest.Root()
	candidates := append([]crypto.Hash{root}, d.forest.Descendants(root)...)
	for _, hash := range candidates {
		if node := d.forest.Get(hash); node != nil && node.Block.Height == height {
			return node.Block, true
		}
	}
	if d.history == nil {
		return nil, false
	}
	block, err := d.history.GetBlock(height)
	if err != nil {
		return nil, false
	}
	return block, true
}

// LookupTransaction finds hash among the in-memory forest's blocks (any
// commitment level) or, failing that, the history store (finalized only),
// returning the block height, a "finalized"/"confirmed"/"pending" label, and
// the matching record.
func (d *Driver) LookupTransaction(hash crypto.Hash) (height uint64, commitmentLevel string, record *types.TxRecord, found bool) {
	root := d.forest.Root()
	candidates := append([]crypto.Hash{root}, d.forest.Descendants(root)...)
	for _, nodeHash := range candidates {
		node := d.forest.Get(nodeHash)
		if node == nil {
			continue
		}
		for i := range node.Block.Transactions {
			if node.Block.Transactions[i].Transaction.Hash() != hash {
				continue
			}
			level := "pending"
			switch {
			case nodeHash == root:
				level = "finalized"
			case d.engine.IsConfirmed(nodeHash):
				level = "confirmed"
			}
			return node.Block.Height, level, &node.Block.Transactions[i], true
		}
	}

	if d.history == nil {
		return 0, "", nil, false
	}
	record, err := d.history.GetTransaction(hash)
	if err != nil {
		return 0, "", nil, false
	}
	txHeight, err := d.history.GetTransactionHeight(hash)
	if err != nil {
		return 0, "", nil, false
	}
	return txHeight, "finalized", record, true
}

// Run drives the tick loop until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SlotDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick implements spec §4.8's four steps: drain gossip, propose if leader,
// vote as blocks land, advance finalization.
func (d *Driver) tick() {
	d.drainGossip()

	slot := d.currentSlot()
	if d.schedule.LeaderAt(slot) == d.priv.Pubkey() {
		d.produceBlock(slot)
	}

	d.advanceFinalization()
}

func (d *Driver) currentSlot() uint64 {
	elapsed := time.Since(d.genesisTime)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / d.cfg.SlotDuration)
}

// drainGossip processes every message currently queued, without blocking
// for more to arrive — the rest of the tick must still run within the slot.
func (d *Driver) drainGossip() {
	for {
		select {
		case msg, ok := <-d.transport.Messages():
			if !ok {
				return
			}
			d.handleMessage(msg)
		default:
			return
		}
	}
}

func (d *Driver) handleMessage(msg gossip.Message) {
	if err := msg.Validate(); err != nil {
		d.logger.Printf("consensus: dropping malformed gossip message: %v", err)
		return
	}
	switch msg.Kind {
	case gossip.KindTransaction:
		if err := d.mempool.Admit(msg.Transaction); err != nil && !errors.Is(err, mempool.ErrDuplicate) {
			d.logger.Printf("consensus: reject gossiped transaction %s: %v", msg.Transaction.Hash(), err)
		}
	case gossip.KindBlock:
		d.insertBlock(msg.Block)
	case gossip.KindVote:
		stake, ok := d.schedule.StakeOf(msg.Vote.Validator)
		if !ok {
			return
		}
		if err := d.forest.InsertVote(msg.Vote, stake); err != nil {
			d.logger.Printf("consensus: reject gossiped vote for %s: %v", msg.Vote.TargetHash, err)
		}
	case gossip.KindPeerHello:
		// Ignored: there is no handshake and no chain-ID check; peer
		// discovery and reputation are out of scope (spec §1).
	}
}

// insertBlock validates and links a block received from a peer, voting for
// it immediately if it becomes the new fork-choice tip.
func (d *Driver) insertBlock(block *types.Block) {
	if !d.verifyBatch(transactionsOf(block)) {
		d.logger.Printf("consensus: rejecting block %s: a transaction signature failed verification", block.Hash())
		return
	}
	node, err := d.forest.InsertBlock(block, d.exec)
	if err != nil {
		d.logger.Printf("consensus: reject block %s: %v", block.Hash(), err)
		return
	}
	d.maybeVote(node)
}

// produceBlock assembles, executes, signs, and broadcasts a block for slot,
// then links it into this node's own forest exactly as a receiving peer
// would (spec §4.8 step 2).
func (d *Driver) produceBlock(slot uint64) {
	tip := d.forest.Tip()
	parent := d.forest.Get(tip)
	if parent == nil {
		return
	}

	pending := d.mempool.Drain(d.cfg.MaxBlockTransactions)

	branch := state.NewOverlay(parent.Overlay)
	included := make([]types.TxRecord, 0, len(pending))
	var requeue []*types.Transaction
	for _, tx := range pending {
		record, txErr := d.exec.Execute(tx, branch)
		if txErr != nil {
			// Only BadNonce is transient: a future block may carry the
			// nonce this tx is waiting on. Every other admission failure
			// (Malformed/BadSignature/Unresolvable/Unauthorized) is
			// permanent for this transaction and must be dropped, not
			// requeued, per spec §7's error table.
			var exErr *execution.TxError
			if errors.As(txErr, &exErr) && exErr.Kind == execution.BadNonce {
				requeue = append(requeue, tx)
			}
			continue
		}
		included = append(included, *record)
		d.mempool.EvictStale(tx.Payer, tx.Nonce)
	}
	d.mempool.Requeue(requeue)

	block := &types.Block{
		Height:       parent.Block.Height + 1,
		ParentHash:   tip,
		Producer:     d.priv.Pubkey(),
		StateRoot:    commitment.ComputeStateRoot(branch),
		Timestamp:    time.Now().UTC(),
		Transactions: included,
	}
	block.ProducerSignature = d.priv.Sign(block.SigningBytes())

	node, err := d.forest.InsertBlock(block, d.exec)
	if err != nil {
		d.logger.Printf("consensus: slot %d: assembled block rejected by own forest: %v", slot, err)
		for i := range included {
			d.mempool.Requeue([]*types.Transaction{&included[i].Transaction})
		}
		return
	}

	if err := d.transport.Broadcast(gossip.BlockMessage(block)); err != nil {
		d.logger.Printf("consensus: broadcast block %s: %v", node.Hash, err)
	}

	d.maybeVote(node)

	d.mu.Lock()
	subscribers := append([]func(*types.Block){}, d.onProduced...)
	d.mu.Unlock()
	for _, notify := range subscribers {
		notify(block)
	}
}

// maybeVote emits a vote for node if it currently sits at the fork-choice
// tip, and this validator has genesis stake to vote with (spec §4.8 step 3).
func (d *Driver) maybeVote(node *forest.Node) {
	if d.forest.Tip() != node.Hash {
		return
	}
	stake, ok := d.schedule.StakeOf(d.priv.Pubkey())
	if !ok {
		return
	}

	vote := &types.Vote{
		TargetHash:        node.Hash,
		JustificationHash: d.justificationFor(node.Hash),
		Validator:         d.priv.Pubkey(),
	}
	vote.Signature = d.priv.Sign(vote.SigningBytes())

	if err := d.forest.InsertVote(vote, stake); err != nil {
		d.logger.Printf("consensus: insert own vote for %s: %v", node.Hash, err)
		return
	}
	if err := d.transport.Broadcast(gossip.VoteMessage(vote)); err != nil {
		d.logger.Printf("consensus: broadcast vote for %s: %v", node.Hash, err)
	}
}

// justificationFor returns the closest ancestor of hash (hash's parent chain
// up to the forest root) that is either Confirmed or the root itself, the
// link a fresh vote for hash attests back to.
func (d *Driver) justificationFor(hash crypto.Hash) crypto.Hash {
	root := d.forest.Root()
	for _, anc := range d.forest.Ancestors(hash) {
		if anc == root || d.engine.IsConfirmed(anc) {
			return anc
		}
	}
	return root
}

// advanceFinalization invokes the commitment engine and persists + notifies
// for every block it newly finalizes (spec §4.8 step 4).
func (d *Driver) advanceFinalization() {
	tree := newObservedTree(d.forest, d.onFinalize)
	newly := d.engine.Advance(tree)
	if len(newly) > 0 {
		d.logger.Printf("consensus: finalized %d block(s), root now %s", len(newly), d.forest.Root())
	}
}

// onFinalize is the observedTree callback invoked with a node the instant it
// is promoted to forest root, before the engine's cascade can prune it.
func (d *Driver) onFinalize(node *forest.Node) {
	if d.history != nil {
		if err := d.history.PutBlock(node.Block); err != nil {
			d.logger.Printf("consensus: persist finalized block %d: %v", node.Block.Height, err)
		}
		for _, vote := range node.Votes() {
			if err := d.history.PutVote(vote); err != nil {
				d.logger.Printf("consensus: persist vote for %s by %s: %v", node.Hash, vote.Validator, err)
			}
		}
	}

	d.mu.Lock()
	subscribers := append([]func(*types.Block){}, d.onFinalized...)
	d.mu.Unlock()
	for _, notify := range subscribers {
		notify(node.Block)
	}
}

// verifyBatch checks every transaction's signatures concurrently across a
// bounded worker pool (spec §5), returning false if any fails. Every
// transaction is checked before the results are inspected.
// Ordering of the underlying execution is untouched: this only gates which
// blocks and candidate batches are worth the cost of sequential execution.
func (d *Driver) verifyBatch(txs []*types.Transaction) bool {
	if len(txs) == 0 {
		return true
	}

	results := make([]bool, len(txs))
	indices := make(chan int, len(txs))
	for i := range txs {
		indices <- i
	}
	close(indices)

	workers := d.cfg.Workers
	if workers > len(txs) {
		workers = len(txs)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = verifyTransactionSignatures(txs[i])
			}
		}()
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

func verifyTransactionSignatures(tx *types.Transaction) bool {
	signers := tx.SignerPubkeys()
	if len(tx.Signatures) != len(signers) {
		return false
	}
	hash := tx.Hash()
	for i, pk := range signers {
		if !crypto.Verify(pk, hash[:], tx.Signatures[i]) {
			return false
		}
	}
	return true
}

func transactionsOf(block *types.Block) []*types.Transaction {
	out := make([]*types.Transaction, len(block.Transactions))
	for i := range block.Transactions {
		out[i] = &block.Transactions[i].Transaction
	}
	return out
}
