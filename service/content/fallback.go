package content

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/SplitFi/go-oasis/service/logger"
)

// FallbackStore writes to its primary and reads from its fallback when the primary reports
// ErrStoreUnavailable. ErrNotFound from the primary is returned as is.
type FallbackStore struct {
	Primary  Store
	Fallback Getter
}

func (f FallbackStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	return f.Primary.Put(ctx, data)
}

func (f FallbackStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := f.Primary.Get(ctx, c)
	if err == nil || f.Fallback == nil || !IsUnavailable(err) {
		return data, err
	}
	logger.For(ctx).WithError(err).Warnf("failed to get content %s from primary store in failure fallback", c)
	return f.Fallback.Get(ctx, c)
}
