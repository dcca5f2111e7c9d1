package crypto

import "math/big"

// Edwards25519 field/curve constants (RFC 8032). These are used only to
// decide whether a 32-byte compressed point lies on the curve, never to do
// any actual elliptic-curve arithmetic (signing/verification is delegated
// to crypto/ed25519 throughout this package).
var (
	fieldPrime, _ = new(big.Int).SetString(
		"57896044618658097711785492504343953926634992332820282019728792003956564819949", 10) // 2^255 - 19
	curveD, _ = new(big.Int).SetString(
		"37095705934669439343138083508754565189542113879843219016388785533085940283555", 10)
	sqrtMinus1, _ = new(big.Int).SetString(
		"19681161376707505956807079304988542015446066515923890162744021073123829784752", 10)
)

// IsOnCurve reports whether pk, interpreted as a standard Edwards25519
// compressed point, decodes to a valid curve point. Addresses derived by
// Derive are constructed specifically to fail this check (spec §3): they
// never have a corresponding private key and so can only be "signed for" by
// the program that owns them, never by a wallet.
func IsOnCurve(pk Pubkey) bool {
	_, ok := decompress(pk)
	return ok
}

// decompress implements the standard Edwards25519 point decompression
// algorithm: recover x from y given x^2 = (y^2-1)/(d*y^2+1) mod p, taking
// the square root compatible with the stored sign bit.
func decompress(pk Pubkey) (x *big.Int, ok bool) {
	signBit := pk[31] >> 7

	buf := make([]byte, PubkeySize)
	copy(buf, pk[:])
	buf[31] &= 0x7f // clear sign bit before interpreting as little-endian y

	y := leBytesToBig(buf)
	if y.Cmp(fieldPrime) >= 0 {
		return nil, false // not a canonical field element
	}

	p := fieldPrime
	one := big.NewInt(1)

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, p)

	u := new(big.Int).Sub(y2, one)
	u.Mod(u, p)

	v := new(big.Int).Mul(curveD, y2)
	v.Add(v, one)
	v.Mod(v, p)

	if v.Sign() == 0 {
		return nil, false
	}

	vInv := new(big.Int).ModInverse(v, p)
	if vInv == nil {
		return nil, false
	}
	x2 := new(big.Int).Mul(u, vInv)
	x2.Mod(x2, p)

	if x2.Sign() == 0 {
		if signBit != 0 {
			return nil, false // only the +0 encoding is valid
		}
		return big.NewInt(0), true
	}

	candidate := sqrtCandidate(x2, p)
	if candidate == nil {
		return nil, false
	}

	check := new(big.Int).Mul(candidate, candidate)
	check.Mod(check, p)
	if check.Cmp(x2) != 0 {
		candidate.Mul(candidate, sqrtMinus1)
		candidate.Mod(candidate, p)
		check.Mul(candidate, candidate)
		check.Mod(check, p)
		if check.Cmp(x2) != 0 {
			return nil, false // x2 is not a quadratic residue: no point exists
		}
	}

	if candidate.Bit(0) != uint(signBit) {
		candidate.Sub(p, candidate)
	}

	return candidate, true
}

// sqrtCandidate computes a candidate square root of a mod p for the
// Edwards25519 prime, which satisfies p ≡ 5 (mod 8): candidate = a^((p+3)/8).
func sqrtCandidate(a, p *big.Int) *big.Int {
	exp := new(big.Int).Add(p, big.NewInt(3))
	exp.Rsh(exp, 3)
	return new(big.Int).Exp(a, exp, p)
}

func leBytesToBig(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	return new(big.Int).SetBytes(rev)
}
