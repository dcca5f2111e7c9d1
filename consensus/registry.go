package consensus

import (
	"sync"

	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/wasmvm"
)

// Registry implements execution.Resolver (spec §9's tagged-union contract
// dispatch): a fixed set of natively-compiled contracts, checked first, with
// any remaining address falling through to the WASM sandbox if the finalized
// account at that address is executable.
//
// WASM resolution reads through base, the finalized account store, rather
// than whatever branch overlay is currently executing: a contract must be
// deployed and finalized before any transaction can target it, so every
// branch sees an identical view of which addresses are executable.
type Registry struct {
	mu     sync.RWMutex
	native map[crypto.Pubkey]contracts.Contract

	base    state.Reader
	runtime *wasmvm.Runtime
	fuel    uint64
}

// NewRegistry creates a Registry resolving native contracts first, falling
// back to rt-backed WASM execution of base's executable accounts. A
// fuelPerInvocation of 0 uses wasmvm.DefaultFuelPerInvocation.
func NewRegistry(base state.Reader, rt *wasmvm.Runtime, fuelPerInvocation uint64) *Registry {
	return &Registry{
		native:  make(map[crypto.Pubkey]contracts.Contract),
		base:    base,
		runtime: rt,
		fuel:    fuelPerInvocation,
	}
}

// RegisterNative adds c to the fixed native contract set, keyed by its own
// address.
func (r *Registry) RegisterNative(c contracts.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[c.Address()] = c
}

// Resolve implements execution.Resolver.
func (r *Registry) Resolve(addr crypto.Pubkey) (contracts.Contract, bool) {
	r.mu.RLock()
	native, ok := r.native[addr]
	r.mu.RUnlock()
	if ok {
		return native, true
	}

	acc, err := r.base.Get(addr)
	if err != nil || acc == nil || !acc.Executable {
		return nil, false
	}
	return wasmvm.NewContract(r.runtime, addr, acc.Data, r.fuel), true
}
