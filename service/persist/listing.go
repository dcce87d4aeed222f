package persist

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
)

const (
	// ListingStatusActive is the status of a listing that can be bought or cancelled
	ListingStatusActive ListingStatus = "active"
	// ListingStatusSold is the status of a listing that was bought
	ListingStatusSold ListingStatus = "sold"
	// ListingStatusCancelled is the status of a listing that was withdrawn by its seller
	ListingStatusCancelled ListingStatus = "cancelled"
)

// ListingID is the sequential ID of a listing. IDs start at 1 and are never reused.
type ListingID int64

// ListingStatus represents where a listing is in its lifecycle
type ListingStatus string

// Listing is a sale offer binding an asset to a seller and a price
type Listing struct {
	ID          ListingID       `json:"id"`
	Seller      Address         `json:"seller"`
	Asset       AssetRef        `json:"asset"`
	Price       *big.Int        `json:"price"`
	Status      ListingStatus   `json:"status"`
	Buyer       Address         `json:"buyer,omitempty"`
	CreatedAt   CreationTime    `json:"created_at"`
	LastUpdated LastUpdatedTime `json:"last_updated"`
}

// ListingTransition describes a conditional status change of a listing
type ListingTransition struct {
	From  ListingStatus
	To    ListingStatus
	Buyer Address
}

// ListingRepository stores listings as an append-only arena keyed by ID with an index
// from asset to its current active listing
type ListingRepository interface {
	// Insert assigns the listing an ID and stores it as active. It fails with ErrAssetAlreadyListed
	// when the asset already has an active listing.
	Insert(ctx context.Context, seller Address, asset AssetRef, price *big.Int) (Listing, error)
	GetByID(ctx context.Context, id ListingID) (Listing, error)
	// GetActiveByAsset returns the asset's active listing or ErrListingNotFoundByAsset
	GetActiveByAsset(ctx context.Context, asset AssetRef) (Listing, error)
	// Transition moves the listing to a new status only if its current status matches. It fails with
	// ErrListingInvalidState otherwise.
	Transition(ctx context.Context, id ListingID, t ListingTransition) (Listing, error)
	// GetActive returns the active listings ordered by ascending ID
	GetActive(ctx context.Context) ([]Listing, error)
	// GetRange returns the listings with IDs in [from, to] ordered by ascending ID
	GetRange(ctx context.Context, from, to ListingID) ([]Listing, error)
}

// ErrListingNotFoundByID is returned when a listing does not exist
type ErrListingNotFoundByID struct {
	ID ListingID
}

// ErrListingNotFoundByAsset is returned when an asset has no active listing
type ErrListingNotFoundByAsset struct {
	Asset AssetRef
}

func (e ErrListingNotFoundByAsset) Error() string {
	return fmt.Sprintf("no active listing for asset %s", e.Asset)
}

// ErrAssetAlreadyListed is returned when an asset already has an active listing
type ErrAssetAlreadyListed struct {
	Asset    AssetRef
	ActiveID ListingID
}

// ErrListingInvalidState is returned when a listing is not in the status an operation requires
type ErrListingInvalidState struct {
	ID     ListingID
	Status ListingStatus
}

func (e ErrListingNotFoundByID) Error() string {
	return fmt.Sprintf("listing not found by ID: %d", e.ID)
}

func (e ErrAssetAlreadyListed) Error() string {
	return fmt.Sprintf("asset %s already has active listing %d", e.Asset, e.ActiveID)
}

func (e ErrListingInvalidState) Error() string {
	return fmt.Sprintf("listing %d is %s", e.ID, e.Status)
}

// ParseListingID parses a listing ID from its base 10 representation
func ParseListingID(s string) (ListingID, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil || i < 1 {
		return 0, fmt.Errorf("invalid listing ID: %s", s)
	}
	return ListingID(i), nil
}

func (l ListingID) String() string {
	return strconv.FormatInt(int64(l), 10)
}

// IsTerminal returns whether no transition is defined out of the status
func (s ListingStatus) IsTerminal() bool {
	return s == ListingStatusSold || s == ListingStatusCancelled
}

// IsValid returns whether the status is one of the known statuses
func (s ListingStatus) IsValid() bool {
	return s == ListingStatusActive || s.IsTerminal()
}

// CanTransitionTo returns whether the state machine allows moving from s to next
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	return s == ListingStatusActive && next.IsTerminal()
}

// Value implements the driver.Valuer interface for listing statuses
func (s ListingStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for listing statuses
func (s *ListingStatus) Scan(src interface{}) error {
	if src == nil {
		*s = ListingStatus("")
		return nil
	}
	var status ListingStatus
	switch v := src.(type) {
	case string:
		status = ListingStatus(v)
	case []byte:
		status = ListingStatus(string(v))
	default:
		return fmt.Errorf("invalid listing status: %v", src)
	}
	if !status.IsValid() {
		return fmt.Errorf("unknown listing status: %s", status)
	}
	*s = status
	return nil
}

// IsActive returns whether the listing can still be bought or cancelled
func (l Listing) IsActive() bool {
	return l.Status == ListingStatusActive
}

// IsTombstone returns whether the record is an empty slot rather than a real listing
func (l Listing) IsTombstone() bool {
	return l.Seller.IsZero() || l.Asset.TokenID.IsZero()
}
