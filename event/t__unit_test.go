package event

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-oasis/service/persist"
)

func TestMultiPublisher_Success(t *testing.T) {
	a, evt := setupTest(t)
	ctx := context.Background()

	first, second := &countingPublisher{}, &countingPublisher{}
	a.NoError(MultiPublisher{first, LogPublisher{}, second}.Publish(ctx, evt))
	a.Equal(1, first.calls)
	a.Equal(1, second.calls)
}

func TestMultiPublisher_Failure(t *testing.T) {
	a, evt := setupTest(t)
	ctx := context.Background()

	errDown := errors.New("broker down")
	failing, after := &countingPublisher{err: errDown}, &countingPublisher{}

	t.Run("one failure does not stop the rest", func(t *testing.T) {
		err := MultiPublisher{failing, after}.Publish(ctx, evt)
		a.ErrorIs(err, errDown)
		a.Equal(1, after.calls)
	})

	t.Run("dispatch swallows publish errors", func(t *testing.T) {
		a.NotPanics(func() { Dispatch(ctx, failing, evt) })
		a.NotPanics(func() { Dispatch(ctx, nil, evt) })
		a.Equal(2, failing.calls)
	})
}

type countingPublisher struct {
	calls int
	err   error
}

func (c *countingPublisher) Publish(ctx context.Context, evt persist.ListingEvent) error {
	c.calls++
	return c.err
}

func setupTest(t *testing.T) (*assert.Assertions, persist.ListingEvent) {
	listing := persist.Listing{
		ID:     1,
		Seller: "S",
		Asset:  persist.NewAssetRef("NFT", persist.NewTokenID(1)),
		Price:  big.NewInt(250),
		Status: persist.ListingStatusActive,
	}
	return assert.New(t), persist.NewListingEvent(persist.ActionListingCreated, listing)
}
