package postgres

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/SplitFi/go-oasis/service/payment"
	"github.com/SplitFi/go-oasis/service/persist"
)

// SaleRepository settles sales across the listings and payment tables in one transaction
type SaleRepository struct {
	db       *sql.DB
	listings *ListingRepository
	payments *PaymentRepository
}

// NewSaleRepository creates a repository that settles sales using the statements of listings and payments
func NewSaleRepository(db *sql.DB, listings *ListingRepository, payments *PaymentRepository) *SaleRepository {
	return &SaleRepository{db: db, listings: listings, payments: payments}
}

// SettleSale marks the listing sold to buyer and captures holdID for payee. Either both changes
// commit or neither does.
func (s *SaleRepository) SettleSale(ctx context.Context, id persist.ListingID, buyer persist.Address, holdID persist.DBID, payee persist.Address, price *big.Int) (persist.Listing, payment.Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persist.Listing{}, payment.Settlement{}, err
	}
	defer tx.Rollback()

	sold, err := s.listings.transition(ctx, tx, id, persist.ListingTransition{From: persist.ListingStatusActive, To: persist.ListingStatusSold, Buyer: buyer})
	if err != nil {
		return persist.Listing{}, payment.Settlement{}, err
	}

	settlement, err := s.payments.capture(ctx, tx, holdID, payee, price)
	if err != nil {
		return persist.Listing{}, payment.Settlement{}, err
	}

	if err := tx.Commit(); err != nil {
		return persist.Listing{}, payment.Settlement{}, err
	}
	return sold, settlement, nil
}
