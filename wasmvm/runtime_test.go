package wasmvm

import (
	"errors"
	"testing"

	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
)

// fixtureOK is a hand-assembled minimal WASM module (no WASI, no imports)
// exporting "memory", "allocate(size i32) -> i32" (always returns offset 0),
// and "main(ptr i32, len i32) -> i32" (always returns status 0). It never
// calls any host import, so it exercises the compile/instantiate/allocate/
// main call path without needing the full host ABI wired up. Built by hand
// from the WASM binary format (module header, type/function/memory/export/
// code sections) rather than compiled from a .wat file, per SPEC_FULL.md's
// "tiny hand-written WAT-compiled-to-WASM fixture" test-tooling note.
var fixtureOK = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, // \0asm, version 1
	// type section: (i32)->(i32), (i32,i32)->(i32)
	0x01, 0x0C, 0x02,
	0x60, 0x01, 0x7F, 0x01, 0x7F,
	0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	// function section: func0 uses type0, func1 uses type1
	0x03, 0x03, 0x02, 0x00, 0x01,
	// memory section: 1 memory, min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section: memory, allocate (func0), main (func1)
	0x07, 0x1C, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x08, 'a', 'l', 'l', 'o', 'c', 'a', 't', 'e', 0x00, 0x00,
	0x04, 'm', 'a', 'i', 'n', 0x00, 0x01,
	// code section: func0 { i32.const 0 }, func1 { i32.const 0 }
	0x0A, 0x0B, 0x02,
	0x04, 0x00, 0x41, 0x00, 0x0B,
	0x04, 0x00, 0x41, 0x00, 0x0B,
}

// fixtureTrap is identical to fixtureOK except main returns status 1 instead
// of 0, exercising the ContractTrap path (spec §7).
var fixtureTrap = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0C, 0x02,
	0x60, 0x01, 0x7F, 0x01, 0x7F,
	0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	0x03, 0x03, 0x02, 0x00, 0x01,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x1C, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x08, 'a', 'l', 'l', 'o', 'c', 'a', 't', 'e', 0x00, 0x00,
	0x04, 'm', 'a', 'i', 'n', 0x00, 0x01,
	0x0A, 0x0B, 0x02,
	0x04, 0x00, 0x41, 0x00, 0x0B,
	0x04, 0x00, 0x41, 0x01, 0x0B, // i32.const 1
}

func newTestScope(t *testing.T) (crypto.Pubkey, *state.TxScope) {
	t.Helper()
	base := state.NewBase(state.NewMemoryKV())
	branch := state.NewOverlay(base)
	var addr crypto.Pubkey
	for i := range addr {
		addr[i] = 7
	}
	return addr, state.BeginTx(branch, addr)
}

func TestInvokeMinimalModuleSucceeds(t *testing.T) {
	addr, scope := newTestScope(t)
	rt := NewRuntime()
	c := NewContract(rt, addr, fixtureOK, 0)

	out, err := c.Invoke(scope, &contracts.Invocation{Params: []byte("hello")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output (module never calls host_return), got %v", out)
	}
}

func TestInvokeNonZeroStatusIsContractTrap(t *testing.T) {
	addr, scope := newTestScope(t)
	rt := NewRuntime()
	c := NewContract(rt, addr, fixtureTrap, 0)

	_, err := c.Invoke(scope, &contracts.Invocation{Params: nil})
	if err == nil {
		t.Fatal("expected an error from a module returning non-zero status")
	}
	if !errors.Is(err, ErrContractTrap) {
		t.Fatalf("expected ErrContractTrap, got %v", err)
	}
}

func TestCompileCachesModuleByHash(t *testing.T) {
	addr, scope1 := newTestScope(t)
	rt := NewRuntime()
	c := NewContract(rt, addr, fixtureOK, 0)

	if _, err := c.Invoke(scope1, &contracts.Invocation{}); err != nil {
		t.Fatalf("first invoke: %v", err)
	}

	_, scope2 := newTestScope(t)
	if _, err := c.Invoke(scope2, &contracts.Invocation{}); err != nil {
		t.Fatalf("second invoke: %v", err)
	}

	if len(rt.cache) != 1 {
		t.Fatalf("expected exactly one cached compiled module, got %d", len(rt.cache))
	}
}

func TestCompileInvalidBytecodeErrors(t *testing.T) {
	rt := NewRuntime()
	if _, err := rt.compile([]byte("not a wasm module")); err == nil {
		t.Fatal("expected compile of garbage bytes to fail")
	}
}

func TestNewContractDefaultsZeroBudget(t *testing.T) {
	rt := NewRuntime()
	var addr crypto.Pubkey
	c := NewContract(rt, addr, fixtureOK, 0)
	if c.fuel != DefaultFuelPerInvocation {
		t.Fatalf("expected default fuel budget, got %d", c.fuel)
	}
}
