package wasmvm

import (
	"errors"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/rensa-labs/rensa/contracts"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// ErrContractTrap and ErrFuelExhausted are the errors Contract.Invoke wraps,
// letting the executor (package execution) distinguish a trap from an
// out-of-fuel condition without string-matching (spec §7's error-kind
// taxonomy). ErrAccountTooLarge is declared but no function in this package
// returns it.
var (
	ErrContractTrap    = errors.New("wasmvm: contract trap")
	ErrFuelExhausted   = errors.New("wasmvm: fuel exhausted")
	ErrAccountTooLarge = errors.New("wasmvm: account encoding exceeds guest buffer")
)

// hostContext is the "environment" half of the contract ABI: the set of host
// functions a guest module imports under the "env" namespace to read/write
// account state, read its invocation params, consume fuel, and return output.
// Adapted from the pack's hostCtx/registerHost pattern in virtual_machine.go,
// generalized from a raw key/value store to Rensa's typed Account model.
type hostContext struct {
	store *wasmer.Store
	mem   *wasmer.Memory

	scope    *state.TxScope
	inv      *contracts.Invocation
	contract crypto.Pubkey

	fuelRemaining uint64
	fuelExhausted bool

	output []byte
}

func newHostContext(store *wasmer.Store, scope *state.TxScope, inv *contracts.Invocation, contract crypto.Pubkey, fuelBudget uint64) *hostContext {
	return &hostContext{
		store:         store,
		scope:         scope,
		inv:           inv,
		contract:      contract,
		fuelRemaining: fuelBudget,
	}
}

func (h *hostContext) read(ptr, length int32) []byte {
	data := h.mem.Data()
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out
}

func (h *hostContext) write(ptr int32, data []byte) {
	copy(h.mem.Data()[ptr:], data)
}

// importObject registers every host function the contract ABI's
// "environment" half exposes under the "env" namespace:
//
//	host_consume_fuel(units) -> i32
//	host_get_account(addr_ptr, dst_ptr) -> i32 (encoded length, or -1)
//	host_set_account(addr_ptr, data_ptr, data_len) -> i32
//	host_delete_account(addr_ptr) -> i32
//	host_params(dst_ptr) -> i32 (params length)
//	host_params_len() -> i32
//	host_is_signer(addr_ptr) -> i32 (1/0)
//	host_payer(dst_ptr)
//	host_return(ptr, len)
func (h *hostContext) importObject() *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	hostConsumeFuel := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			units := uint64(args[0].I32())
			if units > h.fuelRemaining {
				h.fuelExhausted = true
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.fuelRemaining -= units
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostGetAccount := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr, dstPtr := args[0].I32(), args[1].I32()
			addrBytes := h.read(addrPtr, int32(crypto.PubkeySize))
			addr, err := crypto.PubkeyFromBytes(addrBytes)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			acc, err := h.scope.Get(addr)
			if err != nil || acc == nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			encoded := acc.Encode()
			h.write(dstPtr, encoded)
			return []wasmer.Value{wasmer.NewI32(int32(len(encoded)))}, nil
		},
	)

	hostSetAccount := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr, dataPtr, dataLen := args[0].I32(), args[1].I32(), args[2].I32()
			addrBytes := h.read(addrPtr, int32(crypto.PubkeySize))
			addr, err := crypto.PubkeyFromBytes(addrBytes)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			// Spec §4.4 step 5: contracts may only write accounts they
			// own. A guest attempting to write an account it doesn't
			// own gets rejected here rather than trusted to self-police.
			existing, err := h.scope.Get(addr)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if existing != nil && existing.Owner != h.contract {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			raw := h.read(dataPtr, dataLen)
			acc, err := types.DecodeAccount(raw)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if acc.Owner.IsZero() {
				acc.Owner = h.contract
			}
			if acc.Owner != h.contract {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.scope.Set(addr, acc)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostDeleteAccount := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr := args[0].I32()
			addrBytes := h.read(addrPtr, int32(crypto.PubkeySize))
			addr, err := crypto.PubkeyFromBytes(addrBytes)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			existing, err := h.scope.Get(addr)
			if err != nil || existing == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if existing.Owner != h.contract {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.scope.Delete(addr)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostParamsLen := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(int32(len(h.inv.Params)))}, nil
		},
	)

	hostParams := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dstPtr := args[0].I32()
			h.write(dstPtr, h.inv.Params)
			return []wasmer.Value{wasmer.NewI32(int32(len(h.inv.Params)))}, nil
		},
	)

	hostIsSigner := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr := args[0].I32()
			addrBytes := h.read(addrPtr, int32(crypto.PubkeySize))
			addr, err := crypto.PubkeyFromBytes(addrBytes)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if h.inv.Signed(addr) {
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostPayer := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dstPtr := args[0].I32()
			h.write(dstPtr, h.inv.Payer.Bytes())
			return []wasmer.Value{}, nil
		},
	)

	hostReturn := wasmer.NewFunction(
		h.store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			h.output = h.read(ptr, length)
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_fuel":   hostConsumeFuel,
		"host_get_account":    hostGetAccount,
		"host_set_account":    hostSetAccount,
		"host_delete_account": hostDeleteAccount,
		"host_params_len":     hostParamsLen,
		"host_params":         hostParams,
		"host_is_signer":      hostIsSigner,
		"host_payer":          hostPayer,
		"host_return":         hostReturn,
	})

	return imports
}

