package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/SplitFi/go-oasis/service/persist"
)

const listingColumns = `ID,SELLER,REGISTRY,TOKEN_ID,PRICE,STATUS,BUYER,CREATED_AT,LAST_UPDATED`

// ListingRepository stores listings in the listings table. A partial unique index keeps at most
// one active listing per asset.
type ListingRepository struct {
	db                   *sql.DB
	insertStmt           *sql.Stmt
	getByIDStmt          *sql.Stmt
	getActiveByAssetStmt *sql.Stmt
	transitionStmt       *sql.Stmt
	getStatusStmt        *sql.Stmt
	getActiveStmt        *sql.Stmt
	getRangeStmt         *sql.Stmt
}

// NewListingRepository creates a new postgres repository for interacting with listings
func NewListingRepository(db *sql.DB) *ListingRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	insertStmt, err := db.PrepareContext(ctx, `INSERT INTO listings (SELLER,REGISTRY,TOKEN_ID,PRICE,STATUS) VALUES ($1,$2,$3,$4,'active') RETURNING `+listingColumns+`;`)
	checkNoErr(err)

	getByIDStmt, err := db.PrepareContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE ID = $1;`)
	checkNoErr(err)

	getActiveByAssetStmt, err := db.PrepareContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE REGISTRY = $1 AND TOKEN_ID = $2 AND STATUS = 'active';`)
	checkNoErr(err)

	transitionStmt, err := db.PrepareContext(ctx, `UPDATE listings SET STATUS = $3, BUYER = CASE WHEN $4::varchar = '' THEN BUYER ELSE $4::varchar END, LAST_UPDATED = NOW() WHERE ID = $1 AND STATUS = $2 RETURNING `+listingColumns+`;`)
	checkNoErr(err)

	getStatusStmt, err := db.PrepareContext(ctx, `SELECT STATUS FROM listings WHERE ID = $1;`)
	checkNoErr(err)

	getActiveStmt, err := db.PrepareContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE STATUS = 'active' ORDER BY ID ASC;`)
	checkNoErr(err)

	getRangeStmt, err := db.PrepareContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE ID BETWEEN $1 AND $2 ORDER BY ID ASC;`)
	checkNoErr(err)

	return &ListingRepository{
		db:                   db,
		insertStmt:           insertStmt,
		getByIDStmt:          getByIDStmt,
		getActiveByAssetStmt: getActiveByAssetStmt,
		transitionStmt:       transitionStmt,
		getStatusStmt:        getStatusStmt,
		getActiveStmt:        getActiveStmt,
		getRangeStmt:         getRangeStmt,
	}
}

// Insert stores a new active listing for the asset
func (l *ListingRepository) Insert(ctx context.Context, seller persist.Address, asset persist.AssetRef, price *big.Int) (persist.Listing, error) {
	asset = asset.Normalize()

	listing, err := scanListing(l.insertStmt.QueryRowContext(ctx, seller.String(), asset.Registry.String(), asset.TokenID.String(), price.String()))
	if err != nil {
		if isUniqueViolation(err) {
			alreadyListed := persist.ErrAssetAlreadyListed{Asset: asset}
			if active, err := l.GetActiveByAsset(ctx, asset); err == nil {
				alreadyListed.ActiveID = active.ID
			}
			return persist.Listing{}, alreadyListed
		}
		return persist.Listing{}, err
	}
	return listing, nil
}

// GetByID returns the listing with the given ID
func (l *ListingRepository) GetByID(ctx context.Context, id persist.ListingID) (persist.Listing, error) {
	listing, err := scanListing(l.getByIDStmt.QueryRowContext(ctx, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return persist.Listing{}, persist.ErrListingNotFoundByID{ID: id}
	}
	return listing, err
}

// GetActiveByAsset returns the asset's active listing
func (l *ListingRepository) GetActiveByAsset(ctx context.Context, asset persist.AssetRef) (persist.Listing, error) {
	asset = asset.Normalize()
	listing, err := scanListing(l.getActiveByAssetStmt.QueryRowContext(ctx, asset.Registry.String(), asset.TokenID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return persist.Listing{}, persist.ErrListingNotFoundByAsset{Asset: asset}
	}
	return listing, err
}

// Transition updates the listing's status only if it is still t.From
func (l *ListingRepository) Transition(ctx context.Context, id persist.ListingID, t persist.ListingTransition) (persist.Listing, error) {
	if !t.From.CanTransitionTo(t.To) {
		return persist.Listing{}, persist.ErrListingInvalidState{ID: id, Status: t.From}
	}

	return l.transition(ctx, nil, id, t)
}

// transition applies t inside tx, or on its own when tx is nil
func (l *ListingRepository) transition(ctx context.Context, tx *sql.Tx, id persist.ListingID, t persist.ListingTransition) (persist.Listing, error) {
	listing, err := scanListing(stmtIn(ctx, tx, l.transitionStmt).QueryRowContext(ctx, int64(id), t.From, t.To, t.Buyer.String()))
	if err == nil {
		return listing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return persist.Listing{}, err
	}

	var current persist.ListingStatus
	if err := stmtIn(ctx, tx, l.getStatusStmt).QueryRowContext(ctx, int64(id)).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persist.Listing{}, persist.ErrListingNotFoundByID{ID: id}
		}
		return persist.Listing{}, err
	}
	return persist.Listing{}, persist.ErrListingInvalidState{ID: id, Status: current}
}

// GetActive returns the active listings ordered by ID
func (l *ListingRepository) GetActive(ctx context.Context) ([]persist.Listing, error) {
	rows, err := l.getActiveStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

// GetRange returns the listings with IDs in [from, to]
func (l *ListingRepository) GetRange(ctx context.Context, from, to persist.ListingID) ([]persist.Listing, error) {
	rows, err := l.getRangeStmt.QueryContext(ctx, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (persist.Listing, error) {
	var (
		listing  persist.Listing
		registry persist.Address
		tokenID  persist.TokenID
		price    string
	)
	err := row.Scan(&listing.ID, &listing.Seller, &registry, &tokenID, &price, &listing.Status, &listing.Buyer, &listing.CreatedAt, &listing.LastUpdated)
	if err != nil {
		return persist.Listing{}, err
	}

	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return persist.Listing{}, fmt.Errorf("invalid price for listing %d: %s", listing.ID, price)
	}
	listing.Price = p
	listing.Asset = persist.NewAssetRef(registry, tokenID)

	return listing, nil
}

func scanListings(rows *sql.Rows) ([]persist.Listing, error) {
	defer rows.Close()

	result := make([]persist.Listing, 0, 10)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, listing)
	}
	return result, rows.Err()
}
