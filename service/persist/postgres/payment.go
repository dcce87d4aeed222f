package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/SplitFi/go-oasis/service/payment"
	"github.com/SplitFi/go-oasis/service/persist"
)

// PaymentRepository is an escrow backed by the payment_holds and payment_credits tables
type PaymentRepository struct {
	db              *sql.DB
	insertHoldStmt  *sql.Stmt
	releaseHoldStmt *sql.Stmt
	getHoldStmt     *sql.Stmt
	lockHoldStmt    *sql.Stmt
	captureHoldStmt *sql.Stmt
	creditStmt      *sql.Stmt
	getBalanceStmt  *sql.Stmt
}

// NewPaymentRepository creates a new postgres repository for holding and settling payments
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	insertHoldStmt, err := db.PrepareContext(ctx, `INSERT INTO payment_holds (ID,PAYER,AMOUNT,STATUS) VALUES ($1,$2,$3,'held');`)
	checkNoErr(err)

	releaseHoldStmt, err := db.PrepareContext(ctx, `UPDATE payment_holds SET STATUS = 'released', LAST_UPDATED = NOW() WHERE ID = $1 AND STATUS = 'held';`)
	checkNoErr(err)

	getHoldStmt, err := db.PrepareContext(ctx, `SELECT STATUS FROM payment_holds WHERE ID = $1;`)
	checkNoErr(err)

	lockHoldStmt, err := db.PrepareContext(ctx, `SELECT PAYER,AMOUNT,STATUS FROM payment_holds WHERE ID = $1 FOR UPDATE;`)
	checkNoErr(err)

	captureHoldStmt, err := db.PrepareContext(ctx, `UPDATE payment_holds SET STATUS = 'captured', PAYEE = $2, PRICE = $3, LAST_UPDATED = NOW() WHERE ID = $1;`)
	checkNoErr(err)

	creditStmt, err := db.PrepareContext(ctx, `INSERT INTO payment_credits (ADDRESS,BALANCE) VALUES ($1,$2) ON CONFLICT (ADDRESS) DO UPDATE SET BALANCE = payment_credits.BALANCE + EXCLUDED.BALANCE, LAST_UPDATED = NOW();`)
	checkNoErr(err)

	getBalanceStmt, err := db.PrepareContext(ctx, `SELECT BALANCE FROM payment_credits WHERE ADDRESS = $1;`)
	checkNoErr(err)

	return &PaymentRepository{
		db:              db,
		insertHoldStmt:  insertHoldStmt,
		releaseHoldStmt: releaseHoldStmt,
		getHoldStmt:     getHoldStmt,
		lockHoldStmt:    lockHoldStmt,
		captureHoldStmt: captureHoldStmt,
		creditStmt:      creditStmt,
		getBalanceStmt:  getBalanceStmt,
	}
}

// Hold records a payment held on behalf of payer
func (p *PaymentRepository) Hold(ctx context.Context, payer persist.Address, amount *big.Int) (persist.DBID, error) {
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("invalid hold amount: %v", amount)
	}
	id := persist.GenerateID()
	if _, err := p.insertHoldStmt.ExecContext(ctx, id, payer.String(), amount.String()); err != nil {
		return "", err
	}
	return id, nil
}

// Release returns a held payment without moving any funds
func (p *PaymentRepository) Release(ctx context.Context, holdID persist.DBID) error {
	res, err := p.releaseHoldStmt.ExecContext(ctx, holdID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var status payment.HoldStatus
	if err := p.getHoldStmt.QueryRowContext(ctx, holdID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.ErrHoldNotFound{ID: holdID}
		}
		return err
	}
	return payment.ErrHoldSettled{ID: holdID, Status: status}
}

// Capture settles a hold, crediting payee with price. The rest of the hold is refunded to the payer.
func (p *PaymentRepository) Capture(ctx context.Context, holdID persist.DBID, payee persist.Address, price *big.Int) (payment.Settlement, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Settlement{}, err
	}
	defer tx.Rollback()

	settlement, err := p.capture(ctx, tx, holdID, payee, price)
	if err != nil {
		return payment.Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Settlement{}, err
	}
	return settlement, nil
}

// capture settles a hold inside tx. The caller commits.
func (p *PaymentRepository) capture(ctx context.Context, tx *sql.Tx, holdID persist.DBID, payee persist.Address, price *big.Int) (payment.Settlement, error) {
	var (
		payer  persist.Address
		held   string
		status payment.HoldStatus
	)
	if err := tx.StmtContext(ctx, p.lockHoldStmt).QueryRowContext(ctx, holdID).Scan(&payer, &held, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Settlement{}, payment.ErrHoldNotFound{ID: holdID}
		}
		return payment.Settlement{}, err
	}
	if status != payment.HoldStatusHeld {
		return payment.Settlement{}, payment.ErrHoldSettled{ID: holdID, Status: status}
	}

	amount, ok := new(big.Int).SetString(held, 10)
	if !ok {
		return payment.Settlement{}, fmt.Errorf("invalid amount for hold %s: %s", holdID, held)
	}
	if amount.Cmp(price) < 0 {
		return payment.Settlement{}, payment.ErrInsufficientHold{ID: holdID, Held: amount, Price: price}
	}

	if _, err := tx.StmtContext(ctx, p.captureHoldStmt).ExecContext(ctx, holdID, payee.String(), price.String()); err != nil {
		return payment.Settlement{}, err
	}
	if _, err := tx.StmtContext(ctx, p.creditStmt).ExecContext(ctx, payee.String(), price.String()); err != nil {
		return payment.Settlement{}, err
	}

	return payment.Settlement{
		HoldID: holdID,
		Payer:  payer,
		Payee:  payee.Normalize(),
		Paid:   amount,
		Price:  new(big.Int).Set(price),
		Refund: new(big.Int).Sub(amount, price),
	}, nil
}

// Balance returns the proceeds credited to addr
func (p *PaymentRepository) Balance(ctx context.Context, addr persist.Address) (*big.Int, error) {
	var balance string
	if err := p.getBalanceStmt.QueryRowContext(ctx, addr.String()).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	b, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance for %s: %s", addr, balance)
	}
	return b, nil
}
