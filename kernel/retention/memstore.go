package retention

import (
	"sync"

	"github.com/cohkernel/gmk/kernel/khash"
)

// MemStore is the in-memory Store used by tests and single-process
// hosts. Writers must be serialized by the host; reads may be
// concurrent.
type MemStore struct {
	mu        sync.RWMutex
	slabs     map[uint64]*Slab
	disputes  map[uint64]khash.Digest
	finalized map[uint64]khash.Digest
	policies  map[khash.Digest]*Policy
}

// NewMemStore returns an empty in-memory registry set.
func NewMemStore() *MemStore {
	return &MemStore{
		slabs:     make(map[uint64]*Slab),
		disputes:  make(map[uint64]khash.Digest),
		finalized: make(map[uint64]khash.Digest),
		policies:  make(map[khash.Digest]*Policy),
	}
}

func (m *MemStore) PutSlab(slab *Slab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slabs[slab.Receipt.SlabID] = &Slab{Receipt: slab.Receipt, State: slab.State}
	return nil
}

func (m *MemStore) GetSlab(slabID uint64) (*Slab, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slab, ok := m.slabs[slabID]
	if !ok {
		return nil, false, nil
	}
	return &Slab{Receipt: slab.Receipt, State: slab.State}, true, nil
}

func (m *MemStore) RegisterDispute(slabID uint64, proofHash khash.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[slabID] = proofHash
	return nil
}

func (m *MemStore) IsDisputed(slabID uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.disputes[slabID]
	return ok, nil
}

func (m *MemStore) RegisterFinalized(slabID uint64, finalizeHash khash.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[slabID] = finalizeHash
	return nil
}

func (m *MemStore) IsFinalized(slabID uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.finalized[slabID]
	return ok, nil
}

func (m *MemStore) RegisterPolicy(policy *Policy) (khash.Digest, error) {
	if err := policy.Validate(); err != nil {
		return "", err
	}
	id, err := policy.ID()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[id] = policy
	return id, nil
}

func (m *MemStore) GetPolicy(policyID khash.Digest) (*Policy, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	policy, ok := m.policies[policyID]
	return policy, ok, nil
}
