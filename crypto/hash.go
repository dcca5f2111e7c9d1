package crypto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// HashSize is the length in bytes of a Rensa hash (SHA3-256, per spec §3).
const HashSize = 32

// Hash is a SHA3-256 digest, used for transaction hashes, block parent
// hashes, and Merkle tree nodes.
type Hash [HashSize]byte

// Sum256 returns the SHA3-256 digest of the concatenation of parts.
func Sum256(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// LessThan reports whether h sorts strictly before other under big-endian
// byte comparison. Used by the fork-choice tie-break rule (spec §4.5: "ties
// broken by ... lexicographically smaller block hash").
func (h Hash) LessThan(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// String returns the base58 text encoding of h, matching Pubkey's wire
// convention.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// MarshalJSON renders h as a base58 JSON string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a base58 JSON string into h.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := HashFromBase58(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// HashFromBase58 decodes a base58-encoded 32-byte hash.
func HashFromBase58(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash: decode base58: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash: expected %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// PutUint64LE appends n to dst in little-endian form, the encoding spec §3
// pins for the transaction hash's nonce field.
func PutUint64LE(dst []byte, n uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return append(dst, buf[:]...)
}
