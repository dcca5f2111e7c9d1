package genesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
)

func writeGenesisFile(t *testing.T, g *Genesis) string {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write genesis file: %v", err)
	}
	return path
}

func sampleGenesis() *Genesis {
	return &Genesis{
		ChainID:     "rensa-devnet-merkle-v1",
		EpochLength: 100,
		Validators: []ValidatorEntry{
			{Pubkey: crypto.Pubkey{1}, Stake: 60},
			{Pubkey: crypto.Pubkey{2}, Stake: 40},
		},
		Accounts: []AccountEntry{
			{Address: crypto.Pubkey{9}, Owner: crypto.Pubkey{1}, Data: crypto.Bytes58{1, 2, 3}},
		},
	}
}

func TestLoadRoundTripsAWrittenGenesisFile(t *testing.T) {
	path := writeGenesisFile(t, sampleGenesis())

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.ChainID != "rensa-devnet-merkle-v1" {
		t.Fatalf("unexpected chain_id: %s", g.ChainID)
	}
	if len(g.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(g.Validators))
	}
	if g.SlotDurationSeconds == 0 {
		t.Fatal("expected SlotDurationSeconds to default to a nonzero value")
	}
}

func TestValidateRejectsMissingChainID(t *testing.T) {
	g := sampleGenesis()
	g.ChainID = ""
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for a missing chain_id")
	}
}

func TestValidateRejectsDuplicateValidator(t *testing.T) {
	g := sampleGenesis()
	g.Validators = append(g.Validators, ValidatorEntry{Pubkey: crypto.Pubkey{1}, Stake: 10})
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for a duplicate validator entry")
	}
}

func TestValidateRejectsZeroTotalStake(t *testing.T) {
	g := sampleGenesis()
	g.Validators = []ValidatorEntry{{Pubkey: crypto.Pubkey{1}, Stake: 0}}
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for zero total stake")
	}
}

func TestValidateRejectsZeroEpochLength(t *testing.T) {
	g := sampleGenesis()
	g.EpochLength = 0
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for a zero epoch_length")
	}
}

func TestScheduleBuildsFromValidatorSet(t *testing.T) {
	g := sampleGenesis()
	s, err := g.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.TotalStake() != 100 {
		t.Fatalf("expected total stake 100, got %d", s.TotalStake())
	}
}

func TestBlockIsDeterministicAcrossCalls(t *testing.T) {
	g := sampleGenesis()
	first := g.Block()
	second := g.Block()
	if first.Hash() != second.Hash() {
		t.Fatal("expected genesis block hash to be stable across calls")
	}
}

func TestSeedWritesAccountsIntoBase(t *testing.T) {
	g := sampleGenesis()
	base := state.NewBase(state.NewMemoryKV())
	if err := g.Seed(base); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	acc, err := base.Get(crypto.Pubkey{9})
	if err != nil {
		t.Fatalf("base.Get: %v", err)
	}
	if acc == nil || acc.Owner != (crypto.Pubkey{1}) {
		t.Fatalf("expected seeded account with owner {1}, got %+v", acc)
	}
}
