package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
	"github.com/SplitFi/go-oasis/validate"
)

func TestLedgerScenarios_Success(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()
	l := env.ledger

	t.Run("create then cancel blocks purchase", func(t *testing.T) {
		asset := env.listable(t, testSeller, 42)

		id, err := l.CreateListing(ctx, testSeller, asset, big.NewInt(100))
		a.NoError(err)
		a.Equal(persist.ListingID(1), id)

		listing, err := l.Get(ctx, id)
		a.NoError(err)
		a.Equal(persist.ListingStatusActive, listing.Status)

		a.NoError(l.Cancel(ctx, testSeller, id))
		listing, err = l.Get(ctx, id)
		a.NoError(err)
		a.Equal(persist.ListingStatusCancelled, listing.Status)

		_, err = l.Purchase(ctx, testBuyer, id, big.NewInt(100))
		a.Equal(KindInvalidState, KindOf(err))
	})

	t.Run("purchase moves ownership and pays the seller", func(t *testing.T) {
		asset := env.listable(t, testSeller, 7)

		id, err := l.CreateListing(ctx, testSeller, asset, big.NewInt(250))
		a.NoError(err)
		a.Equal(persist.ListingID(2), id)

		_, err = l.Purchase(ctx, testBuyer, id, big.NewInt(250))
		a.NoError(err)

		owner, err := env.registry.OwnerOf(ctx, asset.TokenID)
		a.NoError(err)
		a.Equal(testBuyer, owner)

		listing, err := l.Get(ctx, id)
		a.NoError(err)
		a.Equal(persist.ListingStatusSold, listing.Status)
		a.Equal(testBuyer, listing.Buyer)

		balance, err := env.book.Balance(ctx, testSeller)
		a.NoError(err)
		a.Equal(0, balance.Cmp(big.NewInt(250)))
	})

	t.Run("events follow each committed transition", func(t *testing.T) {
		a.Equal([]persist.Action{
			persist.ActionListingCreated,
			persist.ActionListingCancelled,
			persist.ActionListingCreated,
			persist.ActionListingSold,
		}, env.publisher.Actions())
	})
}

func TestPurchase_Success(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	t.Run("overpayment is refunded to the buyer", func(t *testing.T) {
		asset := env.listable(t, testSeller, 1)
		id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(250))
		a.NoError(err)

		settlement, err := env.ledger.Purchase(ctx, testBuyer, id, big.NewInt(300))
		a.NoError(err)
		a.Equal(0, settlement.Price.Cmp(big.NewInt(250)))
		a.Equal(0, settlement.Refund.Cmp(big.NewInt(50)))

		balance, err := env.book.Balance(ctx, testSeller)
		a.NoError(err)
		a.Equal(0, balance.Cmp(big.NewInt(250)))
	})

	t.Run("an asset can be relisted after it sells", func(t *testing.T) {
		asset := env.listable(t, testSeller, 2)
		first, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(10))
		a.NoError(err)
		_, err = env.ledger.Purchase(ctx, testBuyer, first, big.NewInt(10))
		a.NoError(err)

		a.NoError(env.registry.Approve(ctx, testBuyer, testOperator, asset.TokenID))
		second, err := env.ledger.CreateListing(ctx, testBuyer, asset, big.NewInt(20))
		a.NoError(err)
		a.Greater(int64(second), int64(first))
	})
}

func TestNoDoubleSale_Success(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	asset := env.listable(t, testSeller, 9)
	id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(100))
	require.NoError(t, err)

	const buyers = 25
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.Purchase(ctx, persist.Address(fmt.Sprintf("buyer-%d", i)), id, big.NewInt(100))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		a.Equal(KindInvalidState, KindOf(err))
	}
	a.Equal(1, successes)

	balance, err := env.book.Balance(ctx, testSeller)
	a.NoError(err)
	a.Equal(0, balance.Cmp(big.NewInt(100)))
}

func TestAtMostOneActiveListing_Success(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	asset := env.listable(t, testSeller, 3)

	const sellers = 25
	var wg sync.WaitGroup
	errs := make([]error, sellers)
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(int64(100+i)))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		a.Equal(KindAlreadyListed, KindOf(err))
	}
	a.Equal(1, successes)

	active, err := env.ledger.ListActive(ctx)
	a.NoError(err)
	a.Len(active, 1)
}

func TestPurchaseAtomicity_Failure(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	mem := registry.NewMemoryRegistry()
	env := newTestEnv(mem, failingTransferRegistry{mem})
	asset := env.listable(t, testSeller, 5)

	id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(100))
	require.NoError(t, err)

	_, err = env.ledger.Purchase(ctx, testBuyer, id, big.NewInt(100))
	a.Equal(KindTransferFailed, KindOf(err))
	var transferFailed ErrTransferFailed
	a.True(errors.As(err, &transferFailed))
	a.True(registry.IsUnavailable(err))

	listing, err := env.ledger.Get(ctx, id)
	a.NoError(err)
	a.Equal(persist.ListingStatusActive, listing.Status)
	a.True(listing.Buyer.IsZero())

	balance, err := env.book.Balance(ctx, testSeller)
	a.NoError(err)
	a.Equal(0, balance.Sign())

	owner, err := mem.OwnerOf(ctx, asset.TokenID)
	a.NoError(err)
	a.Equal(testSeller, owner)
}

func TestPurchaseSettlement_Failure(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	reg := registry.NewMemoryRegistry()
	env := newTestEnv(reg, reg)
	settler := &failingSettler{err: errors.New("serialization failure")}
	env.ledger = New(env.store, registry.Lookup{}.Add(testRegistry, reg), env.book, testOperator,
		Opts.WithPublisher(env.publisher),
		Opts.WithSettler(settler),
	)

	asset := env.listable(t, testSeller, 21)
	id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(100))
	require.NoError(t, err)

	_, err = env.ledger.Purchase(ctx, testBuyer, id, big.NewInt(100))
	a.ErrorIs(err, settler.err)

	t.Run("the configured settler receives the sale", func(t *testing.T) {
		a.Equal(id, settler.id)
		a.NotEmpty(settler.holdID)
		a.Equal(testSeller, settler.payee)
	})

	t.Run("nothing is sold or paid when settlement fails", func(t *testing.T) {
		a.Equal([]persist.Action{persist.ActionListingCreated}, env.publisher.Actions())

		balance, err := env.book.Balance(ctx, testSeller)
		a.NoError(err)
		a.Equal(0, balance.Sign())

		listing, err := env.ledger.Get(ctx, id)
		a.NoError(err)
		a.True(listing.IsActive())
	})
}

func TestPurchase_Failure(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	asset := env.listable(t, testSeller, 11)
	id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(100))
	require.NoError(t, err)

	t.Run("underpayment is rejected", func(t *testing.T) {
		_, err := env.ledger.Purchase(ctx, testBuyer, id, big.NewInt(99))
		a.Equal(KindInsufficientPayment, KindOf(err))
	})

	t.Run("unknown listing is not found", func(t *testing.T) {
		_, err := env.ledger.Purchase(ctx, testBuyer, 999, big.NewInt(100))
		a.Equal(KindNotFound, KindOf(err))
	})

	t.Run("asset moved out of band fails the transfer and keeps the listing", func(t *testing.T) {
		a.NoError(env.registry.Transfer(ctx, testSeller, testSeller, "elsewhere", asset.TokenID))

		_, err := env.ledger.Purchase(ctx, testBuyer, id, big.NewInt(100))
		a.Equal(KindTransferFailed, KindOf(err))

		listing, err := env.ledger.Get(ctx, id)
		a.NoError(err)
		a.True(listing.IsActive())
	})

	t.Run("zero buyer is invalid", func(t *testing.T) {
		_, err := env.ledger.Purchase(ctx, "", id, big.NewInt(100))
		a.Equal(KindInvalidInput, KindOf(err))
	})
}

func TestCreateListing_Failure(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	t.Run("price must be positive", func(t *testing.T) {
		asset := env.listable(t, testSeller, 20)
		for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
			_, err := env.ledger.CreateListing(ctx, testSeller, asset, price)
			a.ErrorIs(err, ErrInvalidPrice)
		}
	})

	t.Run("seller must own the asset", func(t *testing.T) {
		asset := env.listable(t, testSeller, 21)
		_, err := env.ledger.CreateListing(ctx, testBuyer, asset, big.NewInt(1))
		a.Equal(KindUnauthorized, KindOf(err))
	})

	t.Run("ledger must be approved", func(t *testing.T) {
		id := persist.NewTokenID(22)
		require.NoError(t, env.registry.MintWithID(ctx, testSeller, id, "ipfs://x"))
		_, err := env.ledger.CreateListing(ctx, testSeller, persist.NewAssetRef(testRegistry, id), big.NewInt(1))
		var unauthorized ErrUnauthorized
		a.True(errors.As(err, &unauthorized))
	})

	t.Run("zero identities are invalid", func(t *testing.T) {
		asset := env.listable(t, testSeller, 23)
		_, err := env.ledger.CreateListing(ctx, "", asset, big.NewInt(1))
		var invalid validate.ErrInvalidInput
		a.True(errors.As(err, &invalid))

		_, err = env.ledger.CreateListing(ctx, testSeller, persist.NewAssetRef(testRegistry, persist.NewTokenID(0)), big.NewInt(1))
		a.True(errors.As(err, &invalid))
	})

	t.Run("unknown registry is invalid", func(t *testing.T) {
		_, err := env.ledger.CreateListing(ctx, testSeller, persist.NewAssetRef("OTHER", persist.NewTokenID(1)), big.NewInt(1))
		a.Equal(KindInvalidInput, KindOf(err))
	})

	t.Run("unknown token is not found", func(t *testing.T) {
		_, err := env.ledger.CreateListing(ctx, testSeller, persist.NewAssetRef(testRegistry, persist.NewTokenID(404)), big.NewInt(1))
		a.Equal(KindNotFound, KindOf(err))
	})

	t.Run("failed creates leave no listing behind", func(t *testing.T) {
		active, err := env.ledger.ListActive(ctx)
		a.NoError(err)
		a.Empty(active)
	})
}

func TestCancel_Failure(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	asset := env.listable(t, testSeller, 30)
	id, err := env.ledger.CreateListing(ctx, testSeller, asset, big.NewInt(5))
	require.NoError(t, err)

	t.Run("only the seller cancels", func(t *testing.T) {
		a.Equal(KindUnauthorized, KindOf(env.ledger.Cancel(ctx, testBuyer, id)))
	})

	t.Run("unknown listing is not found", func(t *testing.T) {
		a.Equal(KindNotFound, KindOf(env.ledger.Cancel(ctx, testSeller, 77)))
	})

	t.Run("settled listings cannot be cancelled", func(t *testing.T) {
		a.NoError(env.ledger.Cancel(ctx, testSeller, id))
		a.Equal(KindInvalidState, KindOf(env.ledger.Cancel(ctx, testSeller, id)))
	})
}

func TestListActive_Success(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()

	for i := uint64(1); i <= 4; i++ {
		_, err := env.ledger.CreateListing(ctx, testSeller, env.listable(t, testSeller, i), big.NewInt(int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, env.ledger.Cancel(ctx, testSeller, 2))

	t.Run("returns active listings in ascending id order", func(t *testing.T) {
		active, err := env.ledger.ListActive(ctx)
		a.NoError(err)
		ids := make([]persist.ListingID, 0, len(active))
		for _, l := range active {
			ids = append(ids, l.ID)
		}
		a.Equal([]persist.ListingID{1, 3, 4}, ids)
	})

	t.Run("ranges include every status", func(t *testing.T) {
		listings, err := env.ledger.List(ctx, 2, 10)
		a.NoError(err)
		a.Len(listings, 3)
		a.Equal(persist.ListingStatusCancelled, listings[0].Status)
	})

	t.Run("snapshots are not affected by callers", func(t *testing.T) {
		listing, err := env.ledger.Get(ctx, 1)
		a.NoError(err)
		listing.Price.SetInt64(1000)

		again, err := env.ledger.Get(ctx, 1)
		a.NoError(err)
		a.Equal(int64(1), again.Price.Int64())
	})

	t.Run("invalid ranges are rejected", func(t *testing.T) {
		_, err := env.ledger.List(ctx, 3, 1)
		a.Equal(KindInvalidInput, KindOf(err))
	})
}

func TestEventPublishing_Failure(t *testing.T) {
	a, env := setupTest(t)
	ctx := context.Background()
	env.publisher.err = errors.New("broker down")

	_, err := env.ledger.CreateListing(ctx, testSeller, env.listable(t, testSeller, 1), big.NewInt(1))
	a.NoError(err)
	a.Len(env.publisher.Actions(), 1)
}
