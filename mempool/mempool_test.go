package mempool

import (
	"testing"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

func testLimits() Limits {
	return Limits{MaxParamsSize: 1024, MaxAccounts: 16}
}

func signedTx(t *testing.T, payer *crypto.PrivateKey, nonce uint64) *types.Transaction {
	t.Helper()
	contract, _ := crypto.GenerateKey()
	tx := &types.Transaction{
		Contract: contract.Pubkey(),
		Nonce:    nonce,
		Payer:    payer.Pubkey(),
		Params:   crypto.Bytes58{1, 2, 3},
	}
	hash := tx.Hash()
	tx.Signatures = []crypto.Signature{payer.Sign(hash[:])}
	return tx
}

func TestAdmitAcceptsWellFormedTransaction(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx := signedTx(t, payer, 1)

	if err := p.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", p.Len())
	}
	if !p.Has(tx.Hash()) {
		t.Fatal("expected Has to report the admitted transaction")
	}
}

func TestAdmitRejectsBadSignature(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx := signedTx(t, payer, 1)
	tx.Signatures[0] = crypto.Signature{}

	if err := p.Admit(tx); err == nil {
		t.Fatal("expected an error for an invalid signature")
	}
	if p.Len() != 0 {
		t.Fatal("expected the pool to remain empty after a rejected admission")
	}
}

func TestAdmitRejectsDuplicateHash(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx := signedTx(t, payer, 1)

	if err := p.Admit(tx); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	if err := p.Admit(tx); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAdmitRejectsWhenFull(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(1, testLimits())
	tx1 := signedTx(t, payer, 1)
	tx2 := signedTx(t, payer, 2)

	if err := p.Admit(tx1); err != nil {
		t.Fatalf("Admit tx1: %v", err)
	}
	if err := p.Admit(tx2); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestEvictStaleDropsNoncesAtOrBelowCurrent(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx1 := signedTx(t, payer, 1)
	tx2 := signedTx(t, payer, 2)
	tx3 := signedTx(t, payer, 3)
	for _, tx := range []*types.Transaction{tx1, tx2, tx3} {
		if err := p.Admit(tx); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	p.EvictStale(payer.Pubkey(), 2)

	if p.Has(tx1.Hash()) || p.Has(tx2.Hash()) {
		t.Fatal("expected nonces 1 and 2 to be evicted as stale")
	}
	if !p.Has(tx3.Hash()) {
		t.Fatal("expected nonce 3 to survive eviction")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining transaction, got %d", p.Len())
	}
}

func TestDrainOrdersByPayerThenAscendingNonce(t *testing.T) {
	payerA, _ := crypto.GenerateKey()
	payerB, _ := crypto.GenerateKey()
	p := New(10, testLimits())

	txA2 := signedTx(t, payerA, 2)
	txB1 := signedTx(t, payerB, 1)
	txA1 := signedTx(t, payerA, 1)
	for _, tx := range []*types.Transaction{txA2, txB1, txA1} {
		if err := p.Admit(tx); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	drained := p.Drain(10)
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained transactions, got %d", len(drained))
	}

	for i, tx := range drained {
		if i > 0 && tx.Payer == drained[i-1].Payer && tx.Nonce < drained[i-1].Nonce {
			t.Fatalf("expected ascending nonce within a payer, got %d before %d", drained[i-1].Nonce, tx.Nonce)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool to be empty after full drain, got %d remaining", p.Len())
	}
}

func TestDrainRespectsMaxAndLeavesRemainderPending(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx1 := signedTx(t, payer, 1)
	tx2 := signedTx(t, payer, 2)
	_ = p.Admit(tx1)
	_ = p.Admit(tx2)

	drained := p.Drain(1)
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained transaction, got %d", len(drained))
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 transaction left pending, got %d", p.Len())
	}
}

func TestRequeueRestoresDrainedTransactions(t *testing.T) {
	payer, _ := crypto.GenerateKey()
	p := New(10, testLimits())
	tx := signedTx(t, payer, 1)
	if err := p.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	drained := p.Drain(10)
	if p.Len() != 0 {
		t.Fatal("expected pool empty after drain")
	}

	p.Requeue(drained)
	if p.Len() != 1 {
		t.Fatalf("expected requeued transaction back in pool, got %d", p.Len())
	}
	if !p.Has(tx.Hash()) {
		t.Fatal("expected the requeued transaction's hash to still be present")
	}
}
