package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/metadata"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
	"github.com/SplitFi/go-oasis/util"
)

const (
	DefaultGateway     = "https://gateway.pinata.cloud"
	defaultWorkers     = 10
	defaultItemTimeout = 20 * time.Second
)

// Reasons an enriched listing could not be resolved
const (
	ReasonTokenURIFailed = "token_uri_failed"
	ReasonInvalidURI     = "invalid_uri"
	ReasonNotFound       = "not_found"
	ReasonUnavailable    = "unavailable"
	ReasonMalformed      = "malformed"
)

// Unresolved explains why a listing's metadata is missing
type Unresolved struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// EnrichedListing is a listing joined with its token metadata. Exactly one of Metadata and
// Unresolved is set.
type EnrichedListing struct {
	persist.Listing
	TokenURI   string               `json:"token_uri,omitempty"`
	Metadata   *metadata.Descriptor `json:"metadata,omitempty"`
	Unresolved *Unresolved          `json:"unresolved,omitempty"`
	ImageURL   string               `json:"image_url,omitempty"`
}

// ActiveLister is the read side of the ledger the resolver enumerates
type ActiveLister interface {
	ListActive(ctx context.Context) ([]persist.Listing, error)
}

type Resolver struct {
	listings    ActiveLister
	registries  registry.Lookup
	store       content.Getter
	gateway     string
	workers     int
	itemTimeout time.Duration
}

type Option func(*Resolver)

type rOpts struct{}

var Opts rOpts

func (rOpts) WithGateway(gateway string) Option {
	return func(r *Resolver) {
		if gateway != "" {
			r.gateway = gateway
		}
	}
}

func (rOpts) WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

func (rOpts) WithItemTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.itemTimeout = d
		}
	}
}

func New(listings ActiveLister, registries registry.Lookup, store content.Getter, opts ...Option) *Resolver {
	r := &Resolver{
		listings:    listings,
		registries:  registries,
		store:       store,
		gateway:     DefaultGateway,
		workers:     defaultWorkers,
		itemTimeout: defaultItemTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnrichAll enriches every active listing
func (r *Resolver) EnrichAll(ctx context.Context) ([]EnrichedListing, error) {
	defer util.Track("EnrichAll", time.Now())

	listings, err := r.listings.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return r.EnrichListings(ctx, listings), nil
}

// EnrichListings enriches listings concurrently and returns them in input order. Records with a
// zero seller or token are skipped. A failure on one listing never affects the others.
func (r *Resolver) EnrichListings(ctx context.Context, listings []persist.Listing) []EnrichedListing {
	results := make([]EnrichedListing, len(listings))
	keep := make([]bool, len(listings))

	wp := workerpool.New(r.workers)
	for i, listing := range listings {
		if listing.IsTombstone() {
			continue
		}
		i, listing := i, listing
		keep[i] = true
		wp.Submit(func() {
			itemCtx, cancel := context.WithTimeout(ctx, r.itemTimeout)
			defer cancel()
			results[i] = r.Enrich(itemCtx, listing)
		})
	}
	wp.StopWait()

	enriched := make([]EnrichedListing, 0, len(listings))
	for i, ok := range keep {
		if ok {
			enriched = append(enriched, results[i])
		}
	}
	return enriched
}

// Enrich resolves the listing's token URI and the descriptor it references
func (r *Resolver) Enrich(ctx context.Context, listing persist.Listing) EnrichedListing {
	result := EnrichedListing{Listing: listing}
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"listingID": listing.ID, "asset": listing.Asset.String()})

	reg, err := r.registries.For(listing.Asset.Registry)
	if err != nil {
		return r.unresolved(ctx, result, ReasonTokenURIFailed, err)
	}

	uri, err := reg.TokenURI(ctx, listing.Asset.TokenID)
	if err != nil {
		return r.unresolved(ctx, result, ReasonTokenURIFailed, err)
	}
	result.TokenURI = uri

	c, err := content.ParseURI(uri)
	if err != nil {
		return r.unresolved(ctx, result, ReasonInvalidURI, err)
	}

	desc, err := metadata.Fetch(ctx, r.store, c)
	if err != nil {
		return r.unresolved(ctx, result, reasonFor(err), err)
	}

	result.Metadata = &desc
	if desc.Image != "" {
		result.ImageURL = content.GatewayURL(r.gateway, desc.Image)
	}
	return result
}

func (r *Resolver) unresolved(ctx context.Context, result EnrichedListing, reason string, err error) EnrichedListing {
	logger.For(ctx).WithError(err).WithField("reason", reason).Warn("could not resolve listing metadata")
	result.Unresolved = &Unresolved{Reason: reason, Message: err.Error()}
	return result
}

func reasonFor(err error) string {
	var invalidURI content.ErrInvalidURI
	switch {
	case errors.Is(err, metadata.ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, content.ErrNotFound):
		return ReasonNotFound
	case errors.As(err, &invalidURI):
		return ReasonInvalidURI
	default:
		// timeouts and transport failures alike are worth retrying later
		return ReasonUnavailable
	}
}
