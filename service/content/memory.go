package content

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// MemoryStore is an in-process Store. Objects are addressed by their CIDv1 raw sha2-256 identifier.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
	size    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[cid.Cid][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, ErrStoreUnavailable{Op: "put", Err: err}
	}

	c, err := ComputeCID(data)
	if err != nil {
		return cid.Undef, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[c]; ok {
		return c, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[c] = stored
	m.size += len(stored)

	return c, nil
}

func (m *MemoryStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrStoreUnavailable{Op: "get", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[c]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Size returns the number of stored bytes
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
