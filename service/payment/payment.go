package payment

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/SplitFi/go-oasis/service/persist"
)

const (
	HoldStatusHeld     HoldStatus = "held"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusCaptured HoldStatus = "captured"
)

type HoldStatus string

// Escrow holds a buyer's payment while ownership changes hands. A hold is either captured, paying
// the seller and refunding any excess to the payer, or released, returning everything.
type Escrow interface {
	Hold(ctx context.Context, payer persist.Address, amount *big.Int) (persist.DBID, error)
	Release(ctx context.Context, holdID persist.DBID) error
	Capture(ctx context.Context, holdID persist.DBID, payee persist.Address, price *big.Int) (Settlement, error)
	// Balance returns the proceeds credited to addr
	Balance(ctx context.Context, addr persist.Address) (*big.Int, error)
}

// Settlement describes how a captured hold was paid out
type Settlement struct {
	HoldID persist.DBID    `json:"hold_id"`
	Payer  persist.Address `json:"payer"`
	Payee  persist.Address `json:"payee"`
	Paid   *big.Int        `json:"paid"`
	Price  *big.Int        `json:"price"`
	Refund *big.Int        `json:"refund"`
}

// ErrHoldNotFound is returned for unknown holds
type ErrHoldNotFound struct {
	ID persist.DBID
}

// ErrHoldSettled is returned when a hold was already captured or released
type ErrHoldSettled struct {
	ID     persist.DBID
	Status HoldStatus
}

// ErrInsufficientHold is returned when capturing more than was held
type ErrInsufficientHold struct {
	ID    persist.DBID
	Held  *big.Int
	Price *big.Int
}

func (e ErrHoldNotFound) Error() string {
	return fmt.Sprintf("payment hold not found: %s", e.ID)
}

func (e ErrHoldSettled) Error() string {
	return fmt.Sprintf("payment hold %s already %s", e.ID, e.Status)
}

func (e ErrInsufficientHold) Error() string {
	return fmt.Sprintf("payment hold %s of %s cannot cover %s", e.ID, e.Held, e.Price)
}

type hold struct {
	payer  persist.Address
	amount *big.Int
	status HoldStatus
}

// Book is an in-process escrow that tracks proceeds per address
type Book struct {
	mu      sync.Mutex
	holds   map[persist.DBID]*hold
	credits map[persist.Address]*big.Int
}

func NewBook() *Book {
	return &Book{
		holds:   make(map[persist.DBID]*hold),
		credits: make(map[persist.Address]*big.Int),
	}
}

func (b *Book) Hold(ctx context.Context, payer persist.Address, amount *big.Int) (persist.DBID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("invalid hold amount: %v", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := persist.GenerateID()
	b.holds[id] = &hold{payer: payer.Normalize(), amount: new(big.Int).Set(amount), status: HoldStatusHeld}
	return id, nil
}

func (b *Book) Release(ctx context.Context, holdID persist.DBID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.open(holdID)
	if err != nil {
		return err
	}
	h.status = HoldStatusReleased
	return nil
}

func (b *Book) Capture(ctx context.Context, holdID persist.DBID, payee persist.Address, price *big.Int) (Settlement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.open(holdID)
	if err != nil {
		return Settlement{}, err
	}
	if h.amount.Cmp(price) < 0 {
		return Settlement{}, ErrInsufficientHold{ID: holdID, Held: h.amount, Price: price}
	}

	refund := new(big.Int).Sub(h.amount, price)
	b.credit(payee, price)
	h.status = HoldStatusCaptured

	return Settlement{
		HoldID: holdID,
		Payer:  h.payer,
		Payee:  payee.Normalize(),
		Paid:   new(big.Int).Set(h.amount),
		Price:  new(big.Int).Set(price),
		Refund: refund,
	}, nil
}

func (b *Book) Balance(ctx context.Context, addr persist.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.credits[addr.Normalize()]; ok {
		return new(big.Int).Set(c), nil
	}
	return big.NewInt(0), nil
}

// Status returns the status of a hold
func (b *Book) Status(holdID persist.DBID) (HoldStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.holds[holdID]
	if !ok {
		return "", ErrHoldNotFound{ID: holdID}
	}
	return h.status, nil
}

func (b *Book) open(holdID persist.DBID) (*hold, error) {
	h, ok := b.holds[holdID]
	if !ok {
		return nil, ErrHoldNotFound{ID: holdID}
	}
	if h.status != HoldStatusHeld {
		return nil, ErrHoldSettled{ID: holdID, Status: h.status}
	}
	return h, nil
}

func (b *Book) credit(addr persist.Address, amount *big.Int) {
	addr = addr.Normalize()
	c, ok := b.credits[addr]
	if !ok {
		c = big.NewInt(0)
		b.credits[addr] = c
	}
	c.Add(c, amount)
}
