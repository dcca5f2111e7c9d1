package contracts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Currency op codes, the first byte of every invocation's params (spec §8
// scenarios 1-4; see SPEC_FULL.md's "Native Currency contract" section for
// the full per-op layout this file implements).
const (
	OpCreateMint = byte(0)
	OpMint       = byte(1)
	OpTransfer   = byte(2)
	OpBurn       = byte(3)
)

// Sentinel errors a caller (the RPC layer, tests) can branch on, matching
// the teacher's pkg/merkle/pkg/ledger convention of package-level
// errors.New sentinels for conditions callers distinguish by identity.
var (
	ErrParamsTooShort     = errors.New("currency: params too short")
	ErrUnknownOp          = errors.New("currency: unknown op code")
	ErrMintNotFound       = errors.New("currency: mint account not found")
	ErrCoinNotFound       = errors.New("currency: coin account not found")
	ErrAuthorityNotSigner = errors.New("currency: mint authority did not sign")
	ErrOwnerNotSigner     = errors.New("currency: coin owner did not sign")
	ErrInsufficientFunds  = errors.New("currency: insufficient balance")
)

// mintData is the JSON encoding stored in a mint account's Data field.
type mintData struct {
	Authority crypto.Pubkey `json:"authority"`
	Decimals  uint8         `json:"decimals"`
	Name      string        `json:"name"`
	Symbol    string        `json:"symbol"`
	Supply    uint64        `json:"supply"`
}

// coinData is the JSON encoding stored in a holder's coin account's Data
// field: which mint it denominates in, the balance, and the holder pubkey
// authorized to move it. The account's own address is an off-curve derived
// address (spec §3) with no private key of its own, so Holder — not the
// account address itself — is what transfer/burn must check a signature
// against.
type coinData struct {
	Mint    crypto.Pubkey `json:"mint"`
	Balance uint64        `json:"balance"`
	Holder  crypto.Pubkey `json:"holder"`
}

// Currency is Rensa's native (non-WASM) token program, compiled directly
// into the node per spec §9's "native contracts compiled directly into the
// node" allowance. Its own address is a well-known derived constant so every
// peer can compute it from genesis alone.
type Currency struct {
	addr crypto.Pubkey
}

// currencyAddr is derived once at init time via crypto.MustDerive from the
// all-zero base pubkey, giving every node the same address without needing
// to hardcode 32 bytes by hand.
var currencyAddr = crypto.MustDerive(crypto.Zero, [][]byte{[]byte("rensa-native-currency")})

// NewCurrency returns the singleton native Currency contract.
func NewCurrency() *Currency {
	return &Currency{addr: currencyAddr}
}

// Address implements Contract.
func (c *Currency) Address() crypto.Pubkey { return c.addr }

// Invoke implements Contract, dispatching on the first params byte.
func (c *Currency) Invoke(scope *state.TxScope, inv *Invocation) ([]byte, error) {
	if len(inv.Params) < 1 {
		return nil, ErrParamsTooShort
	}
	switch inv.Params[0] {
	case OpCreateMint:
		return c.createMint(scope, inv)
	case OpMint:
		return c.mint(scope, inv)
	case OpTransfer:
		return c.transfer(scope, inv)
	case OpBurn:
		return c.burn(scope, inv)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, inv.Params[0])
	}
}

// createMint implements op=0: (seed []byte, authority Pubkey, decimals u8,
// name string, symbol string) -> derives a mint account at
// derive(currency_addr, [seed]) owned by the Currency contract.
func (c *Currency) createMint(scope *state.TxScope, inv *Invocation) ([]byte, error) {
	r := newParamReader(inv.Params[1:])
	seed, err := r.bytes()
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: seed: %w", err)
	}
	authority, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: authority: %w", err)
	}
	decimals, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: decimals: %w", err)
	}
	name, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: name: %w", err)
	}
	symbol, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: symbol: %w", err)
	}

	mintAddr, err := crypto.Derive(c.addr, [][]byte{seed})
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: derive mint address: %w", err)
	}

	data, err := json.Marshal(mintData{
		Authority: authority,
		Decimals:  decimals,
		Name:      name,
		Symbol:    symbol,
		Supply:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("currency: create-mint: encode: %w", err)
	}

	scope.Set(mintAddr, newAccount(c.addr, data))
	return mintAddr.Bytes(), nil
}

// mint implements op=1: (mint Pubkey, to Pubkey, amount u64), the mint's
// authority must be a signer. Credits derive(currency_addr, [mint, to]),
// creating it if absent.
func (c *Currency) mint(scope *state.TxScope, inv *Invocation) ([]byte, error) {
	r := newParamReader(inv.Params[1:])
	mintAddr, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: mint: mint: %w", err)
	}
	to, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: mint: to: %w", err)
	}
	amount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("currency: mint: amount: %w", err)
	}

	mintAcc, err := scope.Get(mintAddr)
	if err != nil {
		return nil, fmt.Errorf("currency: mint: load mint: %w", err)
	}
	if mintAcc == nil {
		return nil, ErrMintNotFound
	}
	var mi mintData
	if err := json.Unmarshal(mintAcc.Data, &mi); err != nil {
		return nil, fmt.Errorf("currency: mint: decode mint data: %w", err)
	}
	if !inv.Signed(mi.Authority) {
		return nil, ErrAuthorityNotSigner
	}

	mi.Supply += amount
	encodedMint, err := json.Marshal(mi)
	if err != nil {
		return nil, fmt.Errorf("currency: mint: encode mint data: %w", err)
	}
	mintAcc.Data = encodedMint
	scope.Set(mintAddr, mintAcc)

	coinAddr, err := crypto.Derive(c.addr, [][]byte{mintAddr.Bytes(), to.Bytes()})
	if err != nil {
		return nil, fmt.Errorf("currency: mint: derive coin address: %w", err)
	}
	coinAcc, err := scope.Get(coinAddr)
	if err != nil {
		return nil, fmt.Errorf("currency: mint: load coin: %w", err)
	}
	var ci coinData
	if coinAcc != nil {
		if err := json.Unmarshal(coinAcc.Data, &ci); err != nil {
			return nil, fmt.Errorf("currency: mint: decode coin data: %w", err)
		}
	} else {
		ci.Mint = mintAddr
	}
	ci.Holder = to
	ci.Balance += amount
	encodedCoin, err := json.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("currency: mint: encode coin data: %w", err)
	}
	scope.Set(coinAddr, newAccount(c.addr, encodedCoin))

	return coinAddr.Bytes(), nil
}

// transfer implements op=2: (fromCoin Pubkey, toCoin Pubkey, amount u64),
// the source coin account's owner must be a signer. to_coin is created if
// absent.
func (c *Currency) transfer(scope *state.TxScope, inv *Invocation) ([]byte, error) {
	r := newParamReader(inv.Params[1:])
	fromAddr, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: from: %w", err)
	}
	toAddr, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: to: %w", err)
	}
	amount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: amount: %w", err)
	}

	fromAcc, err := scope.Get(fromAddr)
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: load from: %w", err)
	}
	if fromAcc == nil {
		return nil, ErrCoinNotFound
	}
	var fromCoin coinData
	if err := json.Unmarshal(fromAcc.Data, &fromCoin); err != nil {
		return nil, fmt.Errorf("currency: transfer: decode from: %w", err)
	}

	// from_coin is an off-curve derived address (spec §3) with no private
	// key, so the signer requirement is against the recorded holder, not
	// the coin account's own address or the transaction's payer.
	if !inv.Signed(fromCoin.Holder) {
		return nil, ErrOwnerNotSigner
	}
	if fromCoin.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	toAcc, err := scope.Get(toAddr)
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: load to: %w", err)
	}
	var toCoin coinData
	if toAcc != nil {
		if err := json.Unmarshal(toAcc.Data, &toCoin); err != nil {
			return nil, fmt.Errorf("currency: transfer: decode to: %w", err)
		}
	} else {
		toCoin.Mint = fromCoin.Mint
	}

	fromCoin.Balance -= amount
	toCoin.Balance += amount

	if fromCoin.Balance == 0 {
		// Dust reclamation, spec §4.2: zero-balance coin accounts owned
		// by the executing contract with no remaining data are removed.
		scope.Delete(fromAddr)
	} else {
		encodedFrom, err := json.Marshal(fromCoin)
		if err != nil {
			return nil, fmt.Errorf("currency: transfer: encode from: %w", err)
		}
		fromAcc.Data = encodedFrom
		scope.Set(fromAddr, fromAcc)
	}

	encodedTo, err := json.Marshal(toCoin)
	if err != nil {
		return nil, fmt.Errorf("currency: transfer: encode to: %w", err)
	}
	scope.Set(toAddr, newAccount(c.addr, encodedTo))

	return nil, nil
}

// burn implements op=3: (coin Pubkey, amount u64) -> debits the coin
// account; a resulting zero balance deletes the account (dust reclamation,
// spec §4.2).
func (c *Currency) burn(scope *state.TxScope, inv *Invocation) ([]byte, error) {
	r := newParamReader(inv.Params[1:])
	coinAddr, err := r.pubkey()
	if err != nil {
		return nil, fmt.Errorf("currency: burn: coin: %w", err)
	}
	amount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("currency: burn: amount: %w", err)
	}

	coinAcc, err := scope.Get(coinAddr)
	if err != nil {
		return nil, fmt.Errorf("currency: burn: load coin: %w", err)
	}
	if coinAcc == nil {
		return nil, ErrCoinNotFound
	}

	var ci coinData
	if err := json.Unmarshal(coinAcc.Data, &ci); err != nil {
		return nil, fmt.Errorf("currency: burn: decode coin: %w", err)
	}
	// coinAddr is an off-curve derived address (spec §3) with no private
	// key, so the signer requirement is against the recorded holder.
	if !inv.Signed(ci.Holder) {
		return nil, ErrOwnerNotSigner
	}
	if ci.Balance < amount {
		return nil, ErrInsufficientFunds
	}
	ci.Balance -= amount

	if ci.Balance == 0 {
		scope.Delete(coinAddr)
		return nil, nil
	}
	encoded, err := json.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("currency: burn: encode coin: %w", err)
	}
	coinAcc.Data = encoded
	scope.Set(coinAddr, coinAcc)
	return nil, nil
}

func newAccount(owner crypto.Pubkey, data []byte) *types.Account {
	return &types.Account{Owner: owner, Data: data, Executable: false}
}

// paramReader sequentially decodes the fixed-layout binary params Currency
// invocations carry: length-prefixed byte strings, raw pubkeys, a single
// byte, and little-endian u64s, mirroring crypto.PutUint64LE's endianness
// choice for consistency across the codebase.
type paramReader struct {
	buf []byte
}

func newParamReader(b []byte) *paramReader { return &paramReader{buf: b} }

func (r *paramReader) need(n int) error {
	if len(r.buf) < n {
		return ErrParamsTooShort
	}
	return nil
}

func (r *paramReader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *paramReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

func (r *paramReader) pubkey() (crypto.Pubkey, error) {
	if err := r.need(crypto.PubkeySize); err != nil {
		return crypto.Pubkey{}, err
	}
	pk, err := crypto.PubkeyFromBytes(r.buf[:crypto.PubkeySize])
	if err != nil {
		return crypto.Pubkey{}, err
	}
	r.buf = r.buf[crypto.PubkeySize:]
	return pk, nil
}

// bytes reads a u16-length-prefixed byte string.
func (r *paramReader) bytes() ([]byte, error) {
	if err := r.need(2); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(r.buf[:2]))
	r.buf = r.buf[2:]
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *paramReader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
