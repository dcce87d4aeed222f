package persist

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionListingCreated   Action = "ListingCreated"
	ActionListingCancelled Action = "ListingCancelled"
	ActionListingSold      Action = "ListingSold"
)

// ListingEvent is emitted after a ledger mutation commits
type ListingEvent struct {
	ID        DBID      `json:"id"`
	Action    Action    `json:"action"`
	ListingID ListingID `json:"listing_id"`
	Seller    Address   `json:"seller"`
	Buyer     Address   `json:"buyer,omitempty"`
	Asset     AssetRef  `json:"asset"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrUnknownAction struct {
	Action Action
}

func (e ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Action)
}

// NewListingEvent builds an event for the listing's current state
func NewListingEvent(action Action, l Listing) ListingEvent {
	price := "0"
	if l.Price != nil {
		price = l.Price.String()
	}
	return ListingEvent{
		ID:        GenerateID(),
		Action:    action,
		ListingID: l.ID,
		Seller:    l.Seller,
		Buyer:     l.Buyer,
		Asset:     l.Asset,
		Price:     price,
		CreatedAt: time.Now(),
	}
}

// Subject returns the message subject the event is published on
func (e ListingEvent) Subject() (string, error) {
	switch e.Action {
	case ActionListingCreated:
		return "listings.created", nil
	case ActionListingCancelled:
		return "listings.cancelled", nil
	case ActionListingSold:
		return "listings.sold", nil
	default:
		return "", ErrUnknownAction{Action: e.Action}
	}
}
