package content

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ipfs/go-cid"

	"github.com/SplitFi/go-oasis/service/logger"
)

// RetryStore retries writes that fail with ErrStoreUnavailable using exponential backoff. Reads
// are passed through since retrying them is left to the caller.
type RetryStore struct {
	Store
	NewBackOff func() backoff.BackOff
}

// NewRetryStore retries writes for up to maxElapsed
func NewRetryStore(s Store, maxElapsed time.Duration) RetryStore {
	return RetryStore{
		Store: s,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

func (r RetryStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	op := func() (cid.Cid, error) {
		c, err := r.Store.Put(ctx, data)
		if err != nil && !IsUnavailable(err) {
			return cid.Undef, backoff.Permanent(err)
		}
		return c, err
	}
	notify := func(err error, next time.Duration) {
		logger.For(ctx).WithError(err).Warnf("failed to put content, retrying in %s", next)
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(r.NewBackOff(), ctx), notify)
}
