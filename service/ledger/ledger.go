package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/event"
	"github.com/SplitFi/go-oasis/service/lock"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/payment"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
	sentryutil "github.com/SplitFi/go-oasis/service/sentry"
	"github.com/SplitFi/go-oasis/validate"
)

// Ledger runs the listing state machine. Mutations of the same asset are serialized through the
// locker and every transition is also conditional in the store, so concurrent callers observe
// exactly one winner. Operations on different assets run in parallel.
type Ledger struct {
	repo       persist.ListingRepository
	registries registry.Lookup
	escrow     payment.Escrow
	locker     lock.Locker
	publisher  event.Publisher
	settler    Settler
	// operator is the identity the ledger transfers assets as. Sellers approve it before listing.
	operator persist.Address
}

// Settler finishes a sale once the asset has moved: it marks the listing sold to buyer and
// captures the buyer's hold for payee.
type Settler interface {
	SettleSale(ctx context.Context, id persist.ListingID, buyer persist.Address, holdID persist.DBID, payee persist.Address, price *big.Int) (persist.Listing, payment.Settlement, error)
}

// escrowSettler settles a sale as two separate steps against the repository and the escrow
type escrowSettler struct {
	repo   persist.ListingRepository
	escrow payment.Escrow
}

func (s escrowSettler) SettleSale(ctx context.Context, id persist.ListingID, buyer persist.Address, holdID persist.DBID, payee persist.Address, price *big.Int) (persist.Listing, payment.Settlement, error) {
	sold, err := s.repo.Transition(ctx, id, persist.ListingTransition{From: persist.ListingStatusActive, To: persist.ListingStatusSold, Buyer: buyer})
	if err != nil {
		return persist.Listing{}, payment.Settlement{}, err
	}
	settlement, err := s.escrow.Capture(ctx, holdID, payee, price)
	if err != nil {
		// the listing stays sold, reconciliation needs the hold ID
		return persist.Listing{}, payment.Settlement{}, err
	}
	return sold, settlement, nil
}

type Option func(*Ledger)

type lOpts struct{}

var Opts lOpts

func (lOpts) WithLocker(l lock.Locker) Option {
	return func(ledger *Ledger) {
		ledger.locker = l
	}
}

func (lOpts) WithPublisher(p event.Publisher) Option {
	return func(ledger *Ledger) {
		ledger.publisher = p
	}
}

// WithSettler replaces the default settlement, which marks the listing sold and captures the
// hold in two steps. Stores that can do both atomically should provide one.
func (lOpts) WithSettler(s Settler) Option {
	return func(ledger *Ledger) {
		ledger.settler = s
	}
}

func New(repo persist.ListingRepository, registries registry.Lookup, escrow payment.Escrow, operator persist.Address, opts ...Option) *Ledger {
	l := &Ledger{
		repo:       repo,
		registries: registries,
		escrow:     escrow,
		locker:     lock.NewLocalLocker(),
		operator:   operator.Normalize(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.settler == nil {
		l.settler = escrowSettler{repo: repo, escrow: escrow}
	}
	return l
}

// Operator returns the identity sellers must approve before listing
func (l *Ledger) Operator() persist.Address {
	return l.operator
}

// CreateListing lists an asset the seller owns and has approved the ledger to transfer
func (l *Ledger) CreateListing(ctx context.Context, seller persist.Address, asset persist.AssetRef, price *big.Int) (persist.ListingID, error) {
	if price == nil || price.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	if err := validateParties(seller, asset); err != nil {
		return 0, err
	}
	asset = asset.Normalize()

	reg, err := l.registries.For(asset.Registry)
	if err != nil {
		return 0, validate.NewErrInvalidInput("asset", err.Error())
	}

	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"asset": asset.String(), "seller": seller.String()})

	unlock, err := l.locker.Lock(ctx, asset.String())
	if err != nil {
		return 0, err
	}
	defer unlock()

	if active, err := l.repo.GetActiveByAsset(ctx, asset); err == nil {
		return 0, persist.ErrAssetAlreadyListed{Asset: asset, ActiveID: active.ID}
	}

	owner, err := reg.OwnerOf(ctx, asset.TokenID)
	if err != nil {
		return 0, err
	}
	if !owner.Equal(seller) {
		return 0, ErrUnauthorized{Caller: seller, Reason: fmt.Sprintf("%s is owned by %s", asset, owner)}
	}

	approved, err := reg.IsApproved(ctx, l.operator, asset.TokenID)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, ErrUnauthorized{Caller: seller, Reason: fmt.Sprintf("ledger operator %s is not approved for %s", l.operator, asset)}
	}

	listing, err := l.repo.Insert(ctx, seller, asset, price)
	if err != nil {
		return 0, err
	}

	logger.For(ctx).WithField("listingID", listing.ID).Info("created listing")
	event.Dispatch(ctx, l.publisher, persist.NewListingEvent(persist.ActionListingCreated, listing))

	return listing.ID, nil
}

// Cancel withdraws an active listing. Only its seller may cancel it.
func (l *Ledger) Cancel(ctx context.Context, caller persist.Address, id persist.ListingID) error {
	listing, unlock, err := l.lockListing(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if !listing.IsActive() {
		return persist.ErrListingInvalidState{ID: id, Status: listing.Status}
	}
	if !listing.Seller.Equal(caller) {
		return ErrUnauthorized{Caller: caller, Reason: fmt.Sprintf("only the seller may cancel listing %d", id)}
	}

	cancelled, err := l.repo.Transition(ctx, id, persist.ListingTransition{From: persist.ListingStatusActive, To: persist.ListingStatusCancelled})
	if err != nil {
		return err
	}

	logger.For(ctx).WithField("listingID", id).Info("cancelled listing")
	event.Dispatch(ctx, l.publisher, persist.NewListingEvent(persist.ActionListingCancelled, cancelled))

	return nil
}

// Purchase exchanges paid for the listed asset. The payment is held while the registry moves the
// asset. If the transfer fails the hold is released and the listing stays active. Otherwise the
// listing is marked sold and the hold is captured, paying the seller the price and refunding any
// excess to the buyer.
func (l *Ledger) Purchase(ctx context.Context, buyer persist.Address, id persist.ListingID, paid *big.Int) (payment.Settlement, error) {
	if buyer.IsZero() {
		return payment.Settlement{}, validate.NewErrInvalidInput("buyer", "required")
	}
	if paid == nil || paid.Sign() < 0 {
		return payment.Settlement{}, validate.NewErrInvalidInput("paid", "must be a non-negative amount")
	}

	listing, unlock, err := l.lockListing(ctx, id)
	if err != nil {
		return payment.Settlement{}, err
	}
	defer unlock()

	if !listing.IsActive() {
		return payment.Settlement{}, persist.ErrListingInvalidState{ID: id, Status: listing.Status}
	}
	if paid.Cmp(listing.Price) < 0 {
		return payment.Settlement{}, ErrInsufficientPayment{ID: id, Price: listing.Price, Paid: paid}
	}

	reg, err := l.registries.For(listing.Asset.Registry)
	if err != nil {
		return payment.Settlement{}, ErrTransferFailed{ID: id, Err: err}
	}

	holdID, err := l.escrow.Hold(ctx, buyer, paid)
	if err != nil {
		return payment.Settlement{}, err
	}

	if err := reg.Transfer(ctx, l.operator, listing.Seller, buyer, listing.Asset.TokenID); err != nil {
		if rerr := l.escrow.Release(ctx, holdID); rerr != nil {
			logger.For(ctx).WithError(rerr).WithField("holdID", holdID).Error("failed to release payment hold after failed transfer")
			sentryutil.ReportError(ctx, rerr)
		}
		logger.For(ctx).WithError(err).Warn("purchase transfer failed")
		return payment.Settlement{}, ErrTransferFailed{ID: id, Err: err}
	}

	sold, settlement, err := l.settler.SettleSale(ctx, id, buyer, holdID, listing.Seller, listing.Price)
	if err != nil {
		// The asset already moved, so this needs manual reconciliation
		logger.For(ctx).WithError(err).WithField("holdID", holdID).Error("failed to settle sale after transfer")
		sentryutil.ReportError(ctx, err, sentryutil.WithTag("listingID", id.String()), sentryutil.WithTag("holdID", holdID.String()))
		return payment.Settlement{}, err
	}

	logger.For(ctx).WithFields(logrus.Fields{"listingID": id, "buyer": buyer.String(), "refund": settlement.Refund.String()}).Info("sold listing")
	event.Dispatch(ctx, l.publisher, persist.NewListingEvent(persist.ActionListingSold, sold))

	return settlement, nil
}

// Get returns the listing with the given ID
func (l *Ledger) Get(ctx context.Context, id persist.ListingID) (persist.Listing, error) {
	return l.repo.GetByID(ctx, id)
}

// ListActive returns a snapshot of the active listings in ascending ID order
func (l *Ledger) ListActive(ctx context.Context) ([]persist.Listing, error) {
	return l.repo.GetActive(ctx)
}

// List returns the listings with IDs in [from, to] regardless of status
func (l *Ledger) List(ctx context.Context, from, to persist.ListingID) ([]persist.Listing, error) {
	if from < 1 || to < from {
		return nil, validate.NewErrInvalidInput("range", fmt.Sprintf("invalid listing range [%d, %d]", from, to))
	}
	return l.repo.GetRange(ctx, from, to)
}

// lockListing locks the listing's asset and returns the listing as read under the lock
func (l *Ledger) lockListing(ctx context.Context, id persist.ListingID) (persist.Listing, func(), error) {
	listing, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return persist.Listing{}, nil, err
	}

	unlock, err := l.locker.Lock(ctx, listing.Asset.String())
	if err != nil {
		return persist.Listing{}, nil, err
	}

	listing, err = l.repo.GetByID(ctx, id)
	if err != nil {
		unlock()
		return persist.Listing{}, nil, err
	}
	return listing, unlock, nil
}

func validateParties(seller persist.Address, asset persist.AssetRef) error {
	switch {
	case seller.IsZero():
		return validate.NewErrInvalidInput("seller", "required")
	case asset.Registry.IsZero():
		return validate.NewErrInvalidInput("registry", "required")
	case asset.TokenID.IsZero():
		return validate.NewErrInvalidInput("tokenID", "must not be the zero token")
	}
	return nil
}
