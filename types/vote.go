package types

import (
	"encoding/json"

	"github.com/rensa-labs/rensa/crypto"
)

// Vote is a signed FFG-style attestation linking a target block back to an
// earlier justification (spec §3). Two votes from the same validator with
// the same target, or that cross contradictory links, constitute
// equivocation (spec §4.5).
type Vote struct {
	TargetHash        crypto.Hash      `json:"target_hash"`
	JustificationHash crypto.Hash      `json:"justification_hash"`
	Validator         crypto.Pubkey    `json:"validator"`
	Signature         crypto.Signature `json:"signature"`
}

// canonicalEncoding excludes Signature, which signs this value.
func (v *Vote) canonicalEncoding() []byte {
	type canonical struct {
		TargetHash        crypto.Hash   `json:"target_hash"`
		JustificationHash crypto.Hash   `json:"justification_hash"`
		Validator         crypto.Pubkey `json:"validator"`
	}
	out, err := json.Marshal(canonical{v.TargetHash, v.JustificationHash, v.Validator})
	if err != nil {
		panic(err)
	}
	return out
}

// Hash returns the digest the validator's signature covers.
func (v *Vote) Hash() crypto.Hash {
	return crypto.Sum256(v.canonicalEncoding())
}

// SigningBytes returns the bytes the validator signs.
func (v *Vote) SigningBytes() []byte {
	h := v.Hash()
	return h[:]
}

// VerifySignature reports whether the vote's signature is valid under its
// own declared validator pubkey.
func (v *Vote) VerifySignature() bool {
	return crypto.Verify(v.Validator, v.SigningBytes(), v.Signature)
}

// Encode returns the canonical JSON encoding.
func (v *Vote) Encode() ([]byte, error) {
	return json.Marshal(v)
}

// DecodeVote parses the JSON encoding produced by Encode.
func DecodeVote(data []byte) (*Vote, error) {
	var v Vote
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
