package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/execution"
	"github.com/rensa-labs/rensa/forest"
	"github.com/rensa-labs/rensa/gossip"
	"github.com/rensa-labs/rensa/kvstore"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/schedule"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/wasmvm"

	dbm "github.com/cometbft/cometbft-db"
)

// fakeTransport is an in-process gossip.Transport that never delivers
// inbound messages; it just records what the driver broadcasts, so tests
// can assert on what a single-validator node would have gossiped.
type fakeTransport struct {
	mu  sync.Mutex
	out []gossip.Message
	in  chan gossip.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan gossip.Message, 16)}
}

func (f *fakeTransport) Messages() <-chan gossip.Message { return f.in }

func (f *fakeTransport) Broadcast(m gossip.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, m)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) broadcasts() []gossip.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gossip.Message, len(f.out))
	copy(out, f.out)
	return out
}

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(format string, args ...interface{}) { l.t.Logf(format, args...) }

// stubContract is a minimal contracts.Contract used to exercise transaction
// inclusion without needing the native currency program's param encoding.
type stubContract struct{ addr crypto.Pubkey }

func (s *stubContract) Address() crypto.Pubkey { return s.addr }

func (s *stubContract) Invoke(scope *state.TxScope, inv *contracts.Invocation) ([]byte, error) {
	return []byte("ok"), nil
}

// singleValidatorDriver builds a fully wired Driver backed by a single
// validator holding all genesis stake, so every block it produces and votes
// for crosses the two-thirds threshold on its own.
func singleValidatorDriver(t *testing.T) (*Driver, *crypto.PrivateKey, *fakeTransport, *kvstore.HistoryStore) {
	t.Helper()

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	sched, err := schedule.New("rensa-test", 100, []schedule.Validator{
		{Pubkey: priv.Pubkey(), Stake: 100},
	})
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}

	base := state.NewBase(state.NewMemoryKV())
	genesisBlock := &types.Block{Height: 0}
	f := forest.NewForest(genesisBlock, base, 1000)
	engine := commitment.NewEngine(base, sched.TotalStake(), genesisBlock.Hash())

	pool := mempool.New(64, mempool.Limits{MaxParamsSize: 256, MaxAccounts: 8})

	registry := NewRegistry(base, wasmvm.NewRuntime(), 0)
	registry.RegisterNative(contracts.NewCurrency())
	registry.RegisterNative(&stubContract{addr: crypto.Pubkey{42}})
	exec := execution.NewExecutor(registry, execution.Limits{MaxParamsSize: 256, MaxAccounts: 8})

	transport := newFakeTransport()
	history := kvstore.NewHistoryStore(dbm.NewMemDB())

	d := NewDriver(f, engine, sched, pool, transport, exec, priv, history, base,
		time.Now().Add(-time.Hour), testLogger{t}, Config{
			SlotDuration:         time.Second,
			MaxBlockTransactions: 16,
			Workers:              2,
		})
	return d, priv, transport, history
}

func TestTickProducesVotesAndEventuallyFinalizes(t *testing.T) {
	d, _, transport, history := singleValidatorDriver(t)

	for i := 0; i < 3; i++ {
		d.tick()
	}

	if got := d.FinalizedHeight(); got != 2 {
		t.Fatalf("expected finalized height 2 after 3 ticks, got %d", got)
	}

	if _, err := history.GetBlock(1); err != nil {
		t.Fatalf("expected block 1 persisted to history: %v", err)
	}
	if _, err := history.GetBlock(2); err != nil {
		t.Fatalf("expected block 2 persisted to history: %v", err)
	}

	var sawBlock, sawVote bool
	for _, msg := range transport.broadcasts() {
		switch msg.Kind {
		case gossip.KindBlock:
			sawBlock = true
		case gossip.KindVote:
			sawVote = true
		}
	}
	if !sawBlock || !sawVote {
		t.Fatalf("expected both block and vote broadcasts, got %+v", transport.broadcasts())
	}
}

func TestFinalizePersistsVotesAlongsideBlock(t *testing.T) {
	d, priv, _, history := singleValidatorDriver(t)

	for i := 0; i < 3; i++ {
		d.tick()
	}

	if got := d.FinalizedHeight(); got != 2 {
		t.Fatalf("expected finalized height 2 after 3 ticks, got %d", got)
	}

	block, err := history.GetBlock(1)
	if err != nil {
		t.Fatalf("expected block 1 persisted to history: %v", err)
	}

	vote, err := history.GetVote(block.Hash(), priv.Pubkey())
	if err != nil {
		t.Fatalf("expected the validator's vote for block 1 to be persisted: %v", err)
	}
	if vote.TargetHash != block.Hash() {
		t.Fatalf("expected persisted vote to target block 1's hash, got %+v", vote)
	}
}

func TestSubmitTransactionIsIncludedInTheNextBlock(t *testing.T) {
	d, priv, _, _ := singleValidatorDriver(t)

	tx := &types.Transaction{
		Contract: crypto.Pubkey{42},
		Nonce:    1,
		Payer:    priv.Pubkey(),
		Params:   []byte{0x01},
	}
	hash := tx.Hash()
	tx.Signatures = []crypto.Signature{priv.Sign(hash[:])}

	if err := d.SubmitTransaction(tx); err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	d.tick()

	block := d.TipBlock()
	if block == nil || len(block.Transactions) != 1 {
		t.Fatalf("expected the tip block to contain exactly 1 transaction, got %+v", block)
	}
	if !block.Transactions[0].Success {
		t.Fatalf("expected the transaction to succeed, got error %q", block.Transactions[0].Error)
	}

	acc, err := d.Account(priv.Pubkey())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acc == nil || acc.Nonce != 1 {
		t.Fatalf("expected payer nonce to advance to 1, got %+v", acc)
	}
}

func TestSubscribeIsNotifiedOnFinalization(t *testing.T) {
	d, _, _, _ := singleValidatorDriver(t)

	var mu sync.Mutex
	var finalized []uint64
	d.Subscribe(func(b *types.Block) {
		mu.Lock()
		defer mu.Unlock()
		finalized = append(finalized, b.Height)
	})

	for i := 0; i < 3; i++ {
		d.tick()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finalized) != 2 || finalized[0] != 1 || finalized[1] != 2 {
		t.Fatalf("expected finalization notifications for heights [1 2], got %v", finalized)
	}
}
