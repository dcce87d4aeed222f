package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/SplitFi/go-oasis/service/persist"
)

// MemoryStore keeps listings in an arena indexed by ID with a secondary index from asset to its
// active listing. Records are never removed.
type MemoryStore struct {
	mu     sync.RWMutex
	arena  []persist.Listing
	active map[persist.AssetRef]persist.ListingID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{active: make(map[persist.AssetRef]persist.ListingID)}
}

func (m *MemoryStore) Insert(ctx context.Context, seller persist.Address, asset persist.AssetRef, price *big.Int) (persist.Listing, error) {
	asset = asset.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.active[asset]; ok {
		return persist.Listing{}, persist.ErrAssetAlreadyListed{Asset: asset, ActiveID: id}
	}

	now := time.Now()
	l := persist.Listing{
		ID:          persist.ListingID(len(m.arena) + 1),
		Seller:      seller.Normalize(),
		Asset:       asset,
		Price:       new(big.Int).Set(price),
		Status:      persist.ListingStatusActive,
		CreatedAt:   persist.CreationTime(now),
		LastUpdated: persist.LastUpdatedTime(now),
	}
	m.arena = append(m.arena, l)
	m.active[asset] = l.ID

	return snapshot(l), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id persist.ListingID) (persist.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.at(id)
	if !ok {
		return persist.Listing{}, persist.ErrListingNotFoundByID{ID: id}
	}
	return snapshot(*l), nil
}

func (m *MemoryStore) GetActiveByAsset(ctx context.Context, asset persist.AssetRef) (persist.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[asset.Normalize()]
	if !ok {
		return persist.Listing{}, persist.ErrListingNotFoundByAsset{Asset: asset}
	}
	l, _ := m.at(id)
	return snapshot(*l), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id persist.ListingID, t persist.ListingTransition) (persist.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.at(id)
	if !ok {
		return persist.Listing{}, persist.ErrListingNotFoundByID{ID: id}
	}
	if l.Status != t.From || !t.From.CanTransitionTo(t.To) {
		return persist.Listing{}, persist.ErrListingInvalidState{ID: id, Status: l.Status}
	}

	l.Status = t.To
	if !t.Buyer.IsZero() {
		l.Buyer = t.Buyer.Normalize()
	}
	l.LastUpdated = persist.LastUpdatedTime(time.Now())
	delete(m.active, l.Asset)

	return snapshot(*l), nil
}

func (m *MemoryStore) GetActive(ctx context.Context) ([]persist.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]persist.Listing, 0, len(m.active))
	for _, l := range m.arena {
		if l.IsActive() {
			result = append(result, snapshot(l))
		}
	}
	return result, nil
}

func (m *MemoryStore) GetRange(ctx context.Context, from, to persist.ListingID) ([]persist.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if from < 1 {
		from = 1
	}
	if last := persist.ListingID(len(m.arena)); to > last {
		to = last
	}

	result := make([]persist.Listing, 0)
	for id := from; id <= to; id++ {
		l, _ := m.at(id)
		result = append(result, snapshot(*l))
	}
	return result, nil
}

func (m *MemoryStore) at(id persist.ListingID) (*persist.Listing, bool) {
	if id < 1 || int(id) > len(m.arena) {
		return nil, false
	}
	return &m.arena[id-1], true
}

func snapshot(l persist.Listing) persist.Listing {
	if l.Price != nil {
		l.Price = new(big.Int).Set(l.Price)
	}
	return l
}
