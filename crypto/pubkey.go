// Package crypto provides Rensa's key, address and hashing primitives:
// Ed25519 signing keys, SHA3-256 hashing, base58 text encoding, and
// deterministic off-curve address derivation.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeySize is the length in bytes of a Pubkey.
const PubkeySize = ed25519.PublicKeySize

// Pubkey is a 32-byte account/validator identifier. It may or may not be a
// valid Ed25519 curve point; see IsOnCurve.
type Pubkey [PubkeySize]byte

// Zero is the all-zero pubkey, used as a sentinel for "no owner yet".
var Zero Pubkey

// PubkeyFromBytes copies b into a Pubkey, erroring if the length is wrong.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("pubkey: expected %d bytes, got %d", PubkeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 text encoding of the pubkey.
func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the underlying 32 bytes.
func (pk Pubkey) Bytes() []byte {
	out := make([]byte, PubkeySize)
	copy(out, pk[:])
	return out
}

// IsZero reports whether pk is the all-zero sentinel.
func (pk Pubkey) IsZero() bool {
	return pk == Zero
}

// PubkeyFromBase58 decodes a base58-encoded 32-byte pubkey.
func PubkeyFromBase58(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("pubkey: decode base58: %w", err)
	}
	return PubkeyFromBytes(b)
}

// MarshalJSON renders the pubkey as a base58 JSON string, matching the wire
// format pinned by spec §6.
func (pk Pubkey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON parses a base58 JSON string into the pubkey.
func (pk *Pubkey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := PubkeyFromBase58(s)
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// PrivateKey is an Ed25519 signing key together with its derived Pubkey.
type PrivateKey struct {
	key ed25519.PrivateKey
	pub Pubkey
}

// GenerateKey creates a new random Ed25519 key pair.
func GenerateKey() (*PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	pk, err := PubkeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: pk}, nil
}

// PrivateKeyFromSeed builds a PrivateKey from a 32-byte Ed25519 seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: expected %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := PubkeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: pub}, nil
}

// PrivateKeyFromBase58 decodes a base58-encoded private key, as accepted by
// the `--keypair` CLI flag (spec §6). Accepts either the 32-byte seed or the
// full 64-byte Ed25519 private key encoding.
func PrivateKeyFromBase58(s string) (*PrivateKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode keypair base58: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return PrivateKeyFromSeed(b)
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(b)
		pub, err := PubkeyFromBytes(priv.Public().(ed25519.PublicKey))
		if err != nil {
			return nil, err
		}
		return &PrivateKey{key: priv, pub: pub}, nil
	default:
		return nil, fmt.Errorf("crypto: keypair must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// Pubkey returns the key pair's public half.
func (k *PrivateKey) Pubkey() Pubkey { return k.pub }

// Sign signs msg (which callers pass as a transaction/vote hash) and returns
// a 64-byte Ed25519 signature.
func (k *PrivateKey) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.key, msg))
	return sig
}

// Base58 returns the base58 encoding of the full 64-byte private key, the
// form a generated key should be persisted in.
func (k *PrivateKey) Base58() string {
	return base58.Encode(k.key)
}

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Signature is a detached Ed25519 signature over a transaction or vote hash.
type Signature [SignatureSize]byte

// SignatureFromBytes copies b into a Signature, erroring if the length is wrong.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("signature: expected %d bytes, got %d", SignatureSize, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// String returns the base58 text encoding of the signature.
func (sig Signature) String() string {
	return base58.Encode(sig[:])
}

// MarshalJSON renders the signature as a base58 JSON string.
func (sig Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(sig.String())
}

// UnmarshalJSON parses a base58 JSON string into the signature.
func (sig *Signature) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("signature: decode base58: %w", err)
	}
	decoded, err := SignatureFromBytes(b)
	if err != nil {
		return err
	}
	*sig = decoded
	return nil
}

// Verify reports whether sig is a valid Ed25519 signature over msg under pk.
// Off-curve pubkeys (see IsOnCurve) never verify, since they have no
// corresponding private key.
func Verify(pk Pubkey, msg []byte, sig Signature) bool {
	if !IsOnCurve(pk) {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}
