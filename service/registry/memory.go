package registry

import (
	"context"
	"sync"

	"github.com/SplitFi/go-oasis/service/persist"
)

type memoryToken struct {
	owner    persist.Address
	uri      string
	approved persist.Address
}

// MemoryRegistry is an in-process registry with ERC-721 ownership rules. Token IDs start at 1.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tokens map[persist.TokenID]*memoryToken
	nextID uint64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tokens: make(map[persist.TokenID]*memoryToken), nextID: 1}
}

func (m *MemoryRegistry) Mint(ctx context.Context, to persist.Address, uri string) (persist.TokenID, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable{Op: "mint", Err: err}
	}
	if to.IsZero() {
		return "", ErrUnauthorized{Caller: to, Reason: "cannot mint to the zero identity"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := persist.NewTokenID(m.nextID)
	m.nextID++
	m.tokens[id] = &memoryToken{owner: to.Normalize(), uri: uri}
	return id, nil
}

// MintWithID creates a token with a caller chosen ID
func (m *MemoryRegistry) MintWithID(ctx context.Context, to persist.Address, tokenID persist.TokenID, uri string) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable{Op: "mint", Err: err}
	}
	if to.IsZero() {
		return ErrUnauthorized{Caller: to, TokenID: tokenID, Reason: "cannot mint to the zero identity"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := persist.TokenID(tokenID.String())
	if _, ok := m.tokens[key]; ok {
		return ErrUnauthorized{Caller: to, TokenID: tokenID, Reason: "token already minted"}
	}
	m.tokens[key] = &memoryToken{owner: to.Normalize(), uri: uri}
	if n := key.BigInt(); n.IsUint64() && n.Uint64() >= m.nextID {
		m.nextID = n.Uint64() + 1
	}
	return nil
}

func (m *MemoryRegistry) Approve(ctx context.Context, owner, spender persist.Address, tokenID persist.TokenID) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable{Op: "approve", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(tokenID)
	if err != nil {
		return err
	}
	if !t.owner.Equal(owner) {
		return ErrUnauthorized{Caller: owner, TokenID: tokenID, Reason: "only the owner may approve"}
	}
	t.approved = spender.Normalize()
	return nil
}

func (m *MemoryRegistry) OwnerOf(ctx context.Context, tokenID persist.TokenID) (persist.Address, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable{Op: "ownerOf", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(tokenID)
	if err != nil {
		return "", err
	}
	return t.owner, nil
}

func (m *MemoryRegistry) TokenURI(ctx context.Context, tokenID persist.TokenID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable{Op: "tokenURI", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(tokenID)
	if err != nil {
		return "", err
	}
	return t.uri, nil
}

func (m *MemoryRegistry) IsApproved(ctx context.Context, spender persist.Address, tokenID persist.TokenID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ErrUnavailable{Op: "getApproved", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(tokenID)
	if err != nil {
		return false, err
	}
	return !t.approved.IsZero() && t.approved.Equal(spender), nil
}

func (m *MemoryRegistry) Transfer(ctx context.Context, spender, from, to persist.Address, tokenID persist.TokenID) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable{Op: "transferFrom", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(tokenID)
	if err != nil {
		return err
	}
	if !t.owner.Equal(from) {
		return ErrUnauthorized{Caller: spender, TokenID: tokenID, Reason: "from is not the owner"}
	}
	if !spender.Equal(from) && (t.approved.IsZero() || !t.approved.Equal(spender)) {
		return ErrUnauthorized{Caller: spender, TokenID: tokenID, Reason: "caller is not owner nor approved"}
	}
	if to.IsZero() {
		return ErrUnauthorized{Caller: spender, TokenID: tokenID, Reason: "cannot transfer to the zero identity"}
	}

	t.owner = to.Normalize()
	t.approved = ""
	return nil
}

func (m *MemoryRegistry) get(tokenID persist.TokenID) (*memoryToken, error) {
	t, ok := m.tokens[persist.TokenID(tokenID.String())]
	if !ok {
		return nil, ErrTokenNotFound{TokenID: tokenID}
	}
	return t, nil
}
