package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// Bytes58 is a byte slice that marshals to/from JSON as base58 text, the
// wire encoding spec §6 pins for transaction params and account data.
type Bytes58 []byte

// MarshalJSON renders b as a base58 JSON string. A nil/empty slice encodes
// as an empty string rather than null, so omitted fields round-trip.
func (b Bytes58) MarshalJSON() ([]byte, error) {
	return json.Marshal(base58.Encode(b))
}

// UnmarshalJSON decodes a base58 JSON string into b.
func (b *Bytes58) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = nil
		return nil
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("bytes58: decode base58: %w", err)
	}
	*b = decoded
	return nil
}
