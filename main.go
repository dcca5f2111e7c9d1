// Command rensa runs a single validator node: it loads its keypair and the
// network's genesis document, wires the consensus driver and its external
// collaborators (gossip transport, persistence, HTTP RPC, metrics), and
// runs until SIGINT/SIGTERM, matching the teacher's own main.go shutdown
// pattern.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/config"
	"github.com/rensa-labs/rensa/consensus"
	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/execution"
	"github.com/rensa-labs/rensa/forest"
	"github.com/rensa-labs/rensa/genesis"
	"github.com/rensa-labs/rensa/gossip"
	"github.com/rensa-labs/rensa/kvstore"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/metrics"
	"github.com/rensa-labs/rensa/rpc"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/wasmvm"
)

func main() {
	logger := log.New(os.Stdout, "[rensa] ", log.LstdFlags)

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(cfg *config.Node, logger *log.Logger) error {
	priv, err := loadKeypair(cfg.KeypairPath)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	logger.Printf("validator pubkey: %s", priv.Pubkey())

	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	logger.Printf("chain_id: %s, %d validators, %d genesis accounts",
		gen.ChainID, len(gen.Validators), len(gen.Accounts))

	sched, err := gen.Schedule()
	if err != nil {
		return fmt.Errorf("build leader schedule: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	stateDB, err := dbm.NewGoLevelDB("state", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer stateDB.Close()
	historyDB, err := dbm.NewGoLevelDB("history", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer historyDB.Close()

	base := state.NewBase(kvstore.NewDBAdapter(stateDB))
	if err := gen.Seed(base); err != nil {
		return fmt.Errorf("seed genesis accounts: %w", err)
	}
	history := kvstore.NewHistoryStore(historyDB)

	genesisBlock := gen.Block()
	f := forest.NewForest(genesisBlock, base, cfg.MaxReorgDepth)
	engine := commitment.NewEngine(base, sched.TotalStake(), genesisBlock.Hash())

	pool := mempool.New(cfg.File.MempoolCapacity, mempool.Limits{
		MaxParamsSize: gen.MaxBlockSize,
		MaxAccounts:   16,
	})

	runtime := wasmvm.NewRuntime()
	contractRegistry := consensus.NewRegistry(base, runtime, wasmvm.DefaultFuelPerInvocation)
	contractRegistry.RegisterNative(contracts.NewCurrency())
	exec := execution.NewExecutor(contractRegistry, execution.Limits{
		MaxParamsSize: gen.MaxBlockSize,
		MaxAccounts:   16,
	})

	transport, err := gossip.NewTCPTransport(cfg.GossipListen, cfg.Peers)
	if err != nil {
		return fmt.Errorf("start gossip transport: %w", err)
	}
	defer transport.Close()

	driverCfg := consensus.DefaultConfig()
	driverCfg.SlotDuration = time.Duration(gen.SlotDurationSeconds) * time.Second

	driver := consensus.NewDriver(f, engine, sched, pool, transport, exec, priv,
		history, base, gen.GenesisTime, logger, driverCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collectors, promRegistry := metrics.New()
	driver.Subscribe(func(b *types.Block) {
		collectors.FinalizedHeight.Set(float64(b.Height))
		collectors.BlocksFinalized.Inc()
	})
	driver.SubscribeProduced(func(b *types.Block) {
		collectors.BlocksProduced.Inc()
	})
	go reportMetrics(ctx, driver, pool, collectors)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(promRegistry)}
	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	handlers := rpc.NewHandlers(driver, logger)
	rpcServer := rpc.NewServer(cfg.RPCAddr, handlers, logger)
	go func() {
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("rpc server error: %v", err)
		}
	}()

	go driver.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("rpc server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}
	return nil
}

// loadKeypair reads the base58-encoded Ed25519 private key from path.
func loadKeypair(path string) (*crypto.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("--keypair is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return crypto.PrivateKeyFromBase58(strings.TrimSpace(string(data)))
}

// reportMetrics periodically samples gauges the driver's own subscription
// hooks can't cover (confirmed height depends on the live forest, not just
// finalization events; mempool size changes on every admission/drain).
func reportMetrics(ctx context.Context, driver *consensus.Driver, pool *mempool.Pool, c *metrics.Collectors) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ConfirmedHeight.Set(float64(driver.ConfirmedHeight()))
			c.MempoolSize.Set(float64(pool.Len()))
		}
	}
}
