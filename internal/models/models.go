package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Address identifies an account, a collection or a contract on the ledger.
type Address string

// ZeroAddress is the absent/unset address.
const ZeroAddress Address = ""

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) String() string {
	return string(a)
}

// NewAddress mints a fresh random address.
func NewAddress() Address {
	u := uuid.New()
	return Address("0x" + hex.EncodeToString(u[:]))
}

// Listing is one active offer to sell one token at a fixed price.
// At most one listing exists per (collection, token id) at any time.
type Listing struct {
	Collection Address `json:"collection"`
	TokenID    uint64  `json:"token_id"`
	Seller     Address `json:"seller"`
	Price      uint64  `json:"price"`
}

// Account is a registered user of the marketplace API.
type Account struct {
	ID           int
	Username     string
	PasswordHash string
	Address      Address
	CreatedAt    time.Time
}
