package content

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/singleflight"
)

// defaultFetchTimeout bounds a shared read once it no longer belongs to any single caller
const defaultFetchTimeout = 30 * time.Second

// CachedStore keeps recently read objects in memory. Content never changes under its identifier,
// so entries are never invalidated. Concurrent reads of the same identifier share one request.
type CachedStore struct {
	Store
	// FetchTimeout bounds each shared read of the backing store
	FetchTimeout time.Duration
	cache        *lru.Cache
	group        singleflight.Group
}

func NewCachedStore(s Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: s, FetchTimeout: defaultFetchTimeout, cache: cache}, nil
}

func (c *CachedStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := c.Store.Put(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	c.cache.Add(id, copyBytes(data))
	return id, nil
}

func (c *CachedStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if v, ok := c.cache.Get(id); ok {
		return copyBytes(v.([]byte)), nil
	}

	// the shared read must outlive whichever caller started it, each caller waits on its own context
	ch := c.group.DoChan(id.KeyString(), func() (interface{}, error) {
		timeout := c.FetchTimeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		data, err := c.Store.Get(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		c.cache.Add(id, copyBytes(data))
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyBytes(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ErrStoreUnavailable{Op: "get", Err: ctx.Err()}
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
