package resolver

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/metadata"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
)

const (
	testRegistry persist.Address = "NFT"
	testSeller   persist.Address = "S"
)

type testEnv struct {
	registry *registry.MemoryRegistry
	store    *content.MemoryStore
	lookup   registry.Lookup
}

func setupTest(t *testing.T) (*assert.Assertions, *testEnv) {
	reg := registry.NewMemoryRegistry()
	return assert.New(t), &testEnv{
		registry: reg,
		store:    content.NewMemoryStore(),
		lookup:   registry.Lookup{}.Add(testRegistry, reg),
	}
}

// mint registers a token with the given URI and returns an active listing for it
func (e *testEnv) mint(t *testing.T, id uint64, uri string) persist.Listing {
	t.Helper()
	tokenID := persist.NewTokenID(id)
	require.NoError(t, e.registry.MintWithID(context.Background(), testSeller, tokenID, uri))
	return persist.Listing{
		ID:     persist.ListingID(id),
		Seller: testSeller,
		Asset:  persist.NewAssetRef(testRegistry, tokenID),
		Price:  big.NewInt(1),
		Status: persist.ListingStatusActive,
	}
}

// pinDescriptor stores an image and its descriptor and returns the descriptor's URI
func (e *testEnv) pinDescriptor(t *testing.T, store content.Store, name string) string {
	t.Helper()
	c, err := metadata.NewAssembler(store).Assemble(context.Background(), name, name+" description", []byte(name+" image"))
	require.NoError(t, err)
	return content.FormatURI(c)
}

type staticLister []persist.Listing

func (s staticLister) ListActive(ctx context.Context) ([]persist.Listing, error) {
	return s, nil
}

type failingLister struct{}

func (failingLister) ListActive(ctx context.Context) ([]persist.Listing, error) {
	return nil, errors.New("store offline")
}

// unavailableStore fails every read as if the node were unreachable
type unavailableStore struct{}

func (unavailableStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	return cid.Undef, content.ErrStoreUnavailable{Op: "put", Err: errors.New("connection refused")}
}

func (unavailableStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	return nil, content.ErrStoreUnavailable{Op: "get", Err: errors.New("connection refused")}
}

// blockingStore waits for the context before failing
type blockingStore struct{}

func (blockingStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	<-ctx.Done()
	return nil, content.ErrStoreUnavailable{Op: "get", Err: ctx.Err()}
}

// newGateway serves the contents of store over /ipfs/<cid>
func newGateway(t *testing.T, store content.Getter) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := cid.Decode(strings.TrimPrefix(r.URL.Path, "/ipfs/"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, err := store.Get(r.Context(), c)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}
