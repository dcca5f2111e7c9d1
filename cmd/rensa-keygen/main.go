// Command rensa-keygen generates a new Ed25519 validator keypair and writes
// it to a file in the base58 form --keypair expects.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rensa-labs/rensa/crypto"
)

func main() {
	out := flag.String("out", "validator.key", "path to write the generated keypair to")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "rensa-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	if err := os.WriteFile(out, []byte(key.Base58()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("wrote keypair to %s\n", out)
	fmt.Printf("pubkey: %s\n", key.Pubkey())
	return nil
}
