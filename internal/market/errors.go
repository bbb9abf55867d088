package market

import (
	"fmt"

	"github.com/corbeau/nftmarket/internal/models"
)

// Operation failures are parameterized types so callers can branch with
// errors.As and recover the offending key.

type AlreadyListedError struct {
	Collection models.Address
	TokenID    uint64
}

func (e AlreadyListedError) Error() string {
	return fmt.Sprintf("marketplace: %s/%d is already listed", e.Collection, e.TokenID)
}

type NotListedError struct {
	Collection models.Address
	TokenID    uint64
}

func (e NotListedError) Error() string {
	return fmt.Sprintf("marketplace: %s/%d is not listed", e.Collection, e.TokenID)
}

type NotOwnerError struct {
	Caller     models.Address
	Collection models.Address
	TokenID    uint64
}

func (e NotOwnerError) Error() string {
	return fmt.Sprintf("marketplace: %s does not own %s/%d", e.Caller, e.Collection, e.TokenID)
}

type InvalidPriceError struct {
	Price uint64
}

func (e InvalidPriceError) Error() string {
	return fmt.Sprintf("marketplace: price must be above zero, got %d", e.Price)
}

type NotApprovedError struct {
	Collection models.Address
	TokenID    uint64
}

func (e NotApprovedError) Error() string {
	return fmt.Sprintf("marketplace: not approved to move %s/%d", e.Collection, e.TokenID)
}

type PriceNotMetError struct {
	Collection models.Address
	TokenID    uint64
	Price      uint64
	Payment    uint64
}

func (e PriceNotMetError) Error() string {
	return fmt.Sprintf("marketplace: price for %s/%d is %d, payment was %d", e.Collection, e.TokenID, e.Price, e.Payment)
}

type NoProceedsError struct {
	Seller models.Address
}

func (e NoProceedsError) Error() string {
	return fmt.Sprintf("marketplace: no proceeds for %s", e.Seller)
}
