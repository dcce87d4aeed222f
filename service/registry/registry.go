package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/SplitFi/go-oasis/service/persist"
)

// Registry is the source of truth for token ownership and transfer rights. Every call may block
// on the backing system and must honour the context.
type Registry interface {
	Minter
	Approver
	OwnerOf(ctx context.Context, tokenID persist.TokenID) (persist.Address, error)
	TokenURI(ctx context.Context, tokenID persist.TokenID) (string, error)
	// IsApproved reports whether spender may transfer the token on its owner's behalf
	IsApproved(ctx context.Context, spender persist.Address, tokenID persist.TokenID) (bool, error)
	// Transfer moves the token from its owner to a new owner. spender must be the owner or hold
	// an approval for the token. Any approval on the token is cleared.
	Transfer(ctx context.Context, spender, from, to persist.Address, tokenID persist.TokenID) error
}

type Minter interface {
	// Mint creates a new token owned by to and bound to uri
	Mint(ctx context.Context, to persist.Address, uri string) (persist.TokenID, error)
}

type Approver interface {
	// Approve grants spender the right to transfer the token. Only the owner may approve.
	Approve(ctx context.Context, owner, spender persist.Address, tokenID persist.TokenID) error
}

// Lookup maps registry addresses to the backend serving them
type Lookup map[persist.Address]Registry

// ErrUnauthorized is returned when the caller lacks rights over a token
type ErrUnauthorized struct {
	Caller  persist.Address
	TokenID persist.TokenID
	Reason  string
}

// ErrTokenNotFound is returned for tokens the registry doesn't know
type ErrTokenNotFound struct {
	TokenID persist.TokenID
}

// ErrUnavailable is returned when the backing system is unreachable or rejected the operation
// for reasons other than authorization. Safe to retry.
type ErrUnavailable struct {
	Op  string
	Err error
}

// ErrUnknownRegistry is returned when no backend serves a registry address
type ErrUnknownRegistry struct {
	Registry persist.Address
}

func (e ErrUnauthorized) Error() string {
	return fmt.Sprintf("%s is not authorized for token %s: %s", e.Caller, e.TokenID, e.Reason)
}

func (e ErrTokenNotFound) Error() string {
	return fmt.Sprintf("token not found: %s", e.TokenID)
}

func (e ErrUnavailable) Error() string {
	return fmt.Sprintf("registry unavailable during %s: %s", e.Op, e.Err)
}

func (e ErrUnavailable) Unwrap() error {
	return e.Err
}

func (e ErrUnknownRegistry) Error() string {
	return fmt.Sprintf("unknown registry: %s", e.Registry)
}

// IsUnauthorized returns whether err is an authorization failure
func IsUnauthorized(err error) bool {
	var u ErrUnauthorized
	return errors.As(err, &u)
}

// IsNotFound returns whether err reports an unknown token
func IsNotFound(err error) bool {
	var n ErrTokenNotFound
	return errors.As(err, &n)
}

// IsUnavailable returns whether err is a transient registry failure
func IsUnavailable(err error) bool {
	var u ErrUnavailable
	return errors.As(err, &u)
}

// For returns the registry serving addr
func (l Lookup) For(addr persist.Address) (Registry, error) {
	if r, ok := l[addr.Normalize()]; ok {
		return r, nil
	}
	return nil, ErrUnknownRegistry{Registry: addr}
}

// Add registers r under addr
func (l Lookup) Add(addr persist.Address, r Registry) Lookup {
	l[addr.Normalize()] = r
	return l
}
