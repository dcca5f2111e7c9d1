// Package state implements Rensa's account state store (spec §4.2): a
// versioned key-value map from Pubkey to Account, presented as a finalized
// Base store plus a chain of copy-on-write Overlays for pending branches.
package state

// KV is the minimal persistent key-value interface the Base store needs.
// kvstore.BaseStore implements this directly against cometbft-db; tests use
// an in-memory map. Grounded on the teacher's ledger.KV /
// kvdb.KVAdapter split between a narrow interface and a concrete
// dbm.DB-backed adapter.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}

// MemoryKV is a simple in-memory KV, used by tests and by standalone nodes
// that opt out of persistence.
type MemoryKV struct {
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryKV) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}
