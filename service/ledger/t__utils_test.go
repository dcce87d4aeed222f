package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-oasis/service/payment"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
)

const (
	testRegistry persist.Address = "NFT"
	testOperator persist.Address = "ledger"
	testSeller   persist.Address = "S"
	testBuyer    persist.Address = "B"
)

type testEnv struct {
	ledger    *Ledger
	registry  *registry.MemoryRegistry
	book      *payment.Book
	store     *MemoryStore
	publisher *recordingPublisher
}

func setupTest(t *testing.T) (*assert.Assertions, *testEnv) {
	reg := registry.NewMemoryRegistry()
	return assert.New(t), newTestEnv(reg, reg)
}

func newTestEnv(mem *registry.MemoryRegistry, reg registry.Registry) *testEnv {
	env := &testEnv{
		registry:  mem,
		book:      payment.NewBook(),
		store:     NewMemoryStore(),
		publisher: &recordingPublisher{},
	}
	env.ledger = New(env.store, registry.Lookup{}.Add(testRegistry, reg), env.book, testOperator, Opts.WithPublisher(env.publisher))
	return env
}

// listable mints the token to the seller and approves the ledger for it
func (e *testEnv) listable(t *testing.T, seller persist.Address, tokenID uint64) persist.AssetRef {
	t.Helper()
	ctx := context.Background()
	id := persist.NewTokenID(tokenID)
	require.NoError(t, e.registry.MintWithID(ctx, seller, id, "ipfs://bafkqaaa"))
	require.NoError(t, e.registry.Approve(ctx, seller, testOperator, id))
	return persist.NewAssetRef(testRegistry, id)
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []persist.Action
	err     error
}

func (r *recordingPublisher) Publish(ctx context.Context, evt persist.ListingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, evt.Action)
	return r.err
}

func (r *recordingPublisher) Actions() []persist.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persist.Action{}, r.actions...)
}

// failingTransferRegistry rejects every transfer
type failingTransferRegistry struct {
	*registry.MemoryRegistry
}

func (f failingTransferRegistry) Transfer(ctx context.Context, spender, from, to persist.Address, tokenID persist.TokenID) error {
	return registry.ErrUnavailable{Op: "transferFrom", Err: errors.New("execution reverted")}
}

// failingSettler records the sale it was asked to settle and rejects it
type failingSettler struct {
	err    error
	id     persist.ListingID
	holdID persist.DBID
	payee  persist.Address
}

func (f *failingSettler) SettleSale(ctx context.Context, id persist.ListingID, buyer persist.Address, holdID persist.DBID, payee persist.Address, price *big.Int) (persist.Listing, payment.Settlement, error) {
	f.id, f.holdID, f.payee = id, holdID, payee
	return persist.Listing{}, payment.Settlement{}, f.err
}
