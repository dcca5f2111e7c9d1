// Package config parses the node's two configuration surfaces: CLI flags
// (spec §6) and an optional YAML file carrying operational settings that
// don't belong on the consensus-critical genesis document.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Node holds every flag the binary accepts, plus the operational settings
// loaded from an optional YAML file.
type Node struct {
	KeypairPath     string
	GenesisPath     string
	Peers           []string
	GossipListen    string
	RPCAddr         string
	DataDir         string
	BlocksHistory   uint64
	MaxReorgDepth   uint64
	MetricsAddr     string
	ConfigPath      string

	File FileConfig
}

// FileConfig is the shape of the optional --config YAML file: purely
// operational knobs not worth cluttering the CLI surface, kept separate
// from the genesis document's protocol-critical fields.
type FileConfig struct {
	LogLevel        string   `yaml:"log_level"`
	MempoolCapacity int      `yaml:"mempool_capacity"`
	CORSOrigins     []string `yaml:"cors_origins"`
	MetricsAddr     string   `yaml:"metrics_addr"`
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		LogLevel:        "info",
		MempoolCapacity: 5000,
		CORSOrigins:     []string{"*"},
		MetricsAddr:     "127.0.0.1:9090",
	}
}

// peerList implements flag.Value so --peer can be passed more than once.
type peerList []string

func (p *peerList) String() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%v", []string(*p))
}

func (p *peerList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// Parse parses args (normally os.Args[1:]) into a Node, loading the YAML
// file named by --config, if any.
func Parse(args []string) (*Node, error) {
	fs := flag.NewFlagSet("rensa", flag.ContinueOnError)

	n := &Node{}
	var peers peerList

	fs.StringVar(&n.KeypairPath, "keypair", "", "path to this validator's Ed25519 keypair file")
	fs.StringVar(&n.GenesisPath, "genesis", "genesis.json", "path to the genesis document")
	fs.Var(&peers, "peer", "address of a peer to dial (IP:PORT); repeatable")
	fs.StringVar(&n.GossipListen, "gossip-listen", "0.0.0.0:7070", "address the gossip transport listens on for inbound peer connections")
	fs.StringVar(&n.RPCAddr, "rpc", "127.0.0.1:8080", "address the HTTP RPC server listens on")
	fs.StringVar(&n.DataDir, "data-dir", "./data", "directory for persistent state")
	fs.Uint64Var(&n.BlocksHistory, "blocks-history", 0, "number of finalized blocks to retain (not applied: every finalized block is kept)")
	fs.Uint64Var(&n.MaxReorgDepth, "max-reorg-depth", 64, "maximum depth a competing fork may reorg past")
	fs.StringVar(&n.MetricsAddr, "metrics-addr", "", "address the Prometheus metrics endpoint listens on (overrides metrics_addr from --config; default 127.0.0.1:9090)")
	fs.StringVar(&n.ConfigPath, "config", "", "optional path to a YAML operational config file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	n.Peers = peers

	file := defaultFileConfig()
	if n.ConfigPath != "" {
		loaded, err := loadFileConfig(n.ConfigPath)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	n.File = file
	if n.MetricsAddr == "" {
		n.MetricsAddr = file.MetricsAddr
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func loadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	file := defaultFileConfig()
	if err := yaml.Unmarshal(data, &file); err != nil {
		return FileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return file, nil
}

// Validate checks the invariants Parse can't enforce through flag defaults
// alone.
func (n *Node) Validate() error {
	if n.GenesisPath == "" {
		return fmt.Errorf("config: --genesis is required")
	}
	if n.RPCAddr == "" {
		return fmt.Errorf("config: --rpc must not be empty")
	}
	if n.File.MempoolCapacity <= 0 {
		return fmt.Errorf("config: mempool_capacity must be positive, got %d", n.File.MempoolCapacity)
	}
	return nil
}
