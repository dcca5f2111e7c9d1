package crypto

import "fmt"

// maxBumpAttempts bounds the search for an off-curve bump seed. In
// practice a valid bump is found within the first handful of attempts
// (roughly 50% of 32-byte strings are off-curve), so this is generous
// headroom rather than an expected worst case.
const maxBumpAttempts = 256

// Derive computes a deterministic off-curve address from a base pubkey and a
// list of seeds (spec §3: "derived by hashing a base pubkey with seeds and a
// bump integer until the result is not a valid curve point"). Addresses
// derived this way never have a corresponding private key: IsOnCurve always
// reports false for them, so they can only be mutated by the contract that
// derived them (the owner, per spec §3's Account model), never signed for
// directly by a wallet.
func Derive(base Pubkey, seeds [][]byte) (Pubkey, error) {
	for bump := 0; bump < maxBumpAttempts; bump++ {
		parts := make([][]byte, 0, len(seeds)+3)
		parts = append(parts, base.Bytes())
		parts = append(parts, seeds...)
		parts = append(parts, []byte{byte(bump)})
		parts = append(parts, []byte("RensaDerivedAddress"))

		candidate := Pubkey(Sum256(parts...))
		if !IsOnCurve(candidate) {
			return candidate, nil
		}
	}
	return Pubkey{}, fmt.Errorf("crypto: derive: exhausted %d bump attempts", maxBumpAttempts)
}

// MustDerive panics if Derive fails; intended for deriving well-known
// protocol-constant addresses (e.g. the native Currency program address) at
// init time, where failure would indicate a programming error rather than a
// runtime condition.
func MustDerive(base Pubkey, seeds [][]byte) Pubkey {
	pk, err := Derive(base, seeds)
	if err != nil {
		panic(err)
	}
	return pk
}
