package payment

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-oasis/service/persist"
)

func TestBook_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("capture credits the price and refunds the excess", func(t *testing.T) {
		b := NewBook()
		id, err := b.Hold(ctx, "B", big.NewInt(300))
		a.NoError(err)

		s, err := b.Capture(ctx, id, "S", big.NewInt(250))
		a.NoError(err)
		a.Equal(0, s.Refund.Cmp(big.NewInt(50)))

		bal, err := b.Balance(ctx, "S")
		a.NoError(err)
		a.Equal(0, bal.Cmp(big.NewInt(250)))

		status, err := b.Status(id)
		a.NoError(err)
		a.Equal(HoldStatusCaptured, status)
	})

	t.Run("release moves no funds", func(t *testing.T) {
		b := NewBook()
		id, err := b.Hold(ctx, "B", big.NewInt(100))
		a.NoError(err)
		a.NoError(b.Release(ctx, id))

		bal, err := b.Balance(ctx, "S")
		a.NoError(err)
		a.Equal(0, bal.Sign())
	})
}

func TestBook_Failure(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("settled holds cannot be settled again", func(t *testing.T) {
		b := NewBook()
		id, err := b.Hold(ctx, "B", big.NewInt(100))
		a.NoError(err)
		a.NoError(b.Release(ctx, id))

		_, err = b.Capture(ctx, id, "S", big.NewInt(100))
		var settled ErrHoldSettled
		a.True(errors.As(err, &settled))
	})

	t.Run("capture cannot exceed the hold", func(t *testing.T) {
		b := NewBook()
		id, err := b.Hold(ctx, "B", big.NewInt(10))
		a.NoError(err)

		_, err = b.Capture(ctx, id, "S", big.NewInt(11))
		var insufficient ErrInsufficientHold
		a.True(errors.As(err, &insufficient))
	})

	t.Run("unknown holds are not found", func(t *testing.T) {
		err := NewBook().Release(ctx, persist.GenerateID())
		var notFound ErrHoldNotFound
		a.True(errors.As(err, &notFound))
	})
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
