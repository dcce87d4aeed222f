package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/registry"
	"github.com/SplitFi/go-oasis/validate"
)

// ErrInvalidPrice is returned when a listing is created without a positive price
var ErrInvalidPrice = errors.New("price must be greater than zero")

// ErrUnauthorized is returned when the caller may not perform an operation on a listing or asset
type ErrUnauthorized struct {
	Caller persist.Address
	Reason string
}

// ErrInsufficientPayment is returned when a purchase pays less than the listing's price
type ErrInsufficientPayment struct {
	ID    persist.ListingID
	Price *big.Int
	Paid  *big.Int
}

// ErrTransferFailed is returned when the registry could not move the asset to the buyer. The
// listing is left active and no funds move.
type ErrTransferFailed struct {
	ID  persist.ListingID
	Err error
}

func (e ErrUnauthorized) Error() string {
	return fmt.Sprintf("%s is not authorized: %s", e.Caller, e.Reason)
}

func (e ErrInsufficientPayment) Error() string {
	return fmt.Sprintf("listing %d costs %s but %s was paid", e.ID, e.Price, e.Paid)
}

func (e ErrTransferFailed) Error() string {
	return fmt.Sprintf("transfer for listing %d failed: %s", e.ID, e.Err)
}

func (e ErrTransferFailed) Unwrap() error {
	return e.Err
}

// ErrorKind classifies ledger and pipeline errors for callers deciding whether to retry
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindInvalidPrice        ErrorKind = "InvalidPrice"
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindAlreadyListed       ErrorKind = "AlreadyListed"
	KindInvalidState        ErrorKind = "InvalidState"
	KindInsufficientPayment ErrorKind = "InsufficientPayment"
	KindNotFound            ErrorKind = "NotFound"
	KindTransferFailed      ErrorKind = "TransferFailed"
	KindStoreUnavailable    ErrorKind = "StoreUnavailable"
	KindRegistryUnavailable ErrorKind = "RegistryUnavailable"
	KindUnknown             ErrorKind = "Unknown"
)

// KindOf returns the kind of err. Wrapping errors are classified by their outermost known kind,
// so a failed transfer caused by an unavailable registry is TransferFailed.
func KindOf(err error) ErrorKind {
	var (
		invalidInput   validate.ErrInvalidInput
		unauthorized   ErrUnauthorized
		regUnauth      registry.ErrUnauthorized
		alreadyListed  persist.ErrAssetAlreadyListed
		invalidState   persist.ErrListingInvalidState
		insufficient   ErrInsufficientPayment
		notFound       persist.ErrListingNotFoundByID
		tokenNotFound  registry.ErrTokenNotFound
		unknownReg     registry.ErrUnknownRegistry
		transferFailed ErrTransferFailed
		storeDown      content.ErrStoreUnavailable
		registryDown   registry.ErrUnavailable
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &transferFailed):
		return KindTransferFailed
	case errors.Is(err, ErrInvalidPrice):
		return KindInvalidPrice
	case errors.As(err, &invalidInput), errors.As(err, &unknownReg):
		return KindInvalidInput
	case errors.As(err, &unauthorized), errors.As(err, &regUnauth):
		return KindUnauthorized
	case errors.As(err, &alreadyListed):
		return KindAlreadyListed
	case errors.As(err, &invalidState):
		return KindInvalidState
	case errors.As(err, &insufficient):
		return KindInsufficientPayment
	case errors.As(err, &notFound), errors.As(err, &tokenNotFound), errors.Is(err, content.ErrNotFound):
		return KindNotFound
	case errors.As(err, &storeDown):
		return KindStoreUnavailable
	case errors.As(err, &registryDown):
		return KindRegistryUnavailable
	default:
		return KindUnknown
	}
}

// IsRetryable returns whether err is a transient infrastructure failure
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindStoreUnavailable, KindRegistryUnavailable:
		return true
	default:
		return false
	}
}
