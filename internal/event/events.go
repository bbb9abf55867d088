package event

import "github.com/corbeau/nftmarket/internal/models"

type Type string

const (
	ItemListedEvent        Type = "ItemListed"
	ItemBoughtEvent        Type = "ItemBought"
	ItemCancelledEvent     Type = "ItemCancelled"
	ProceedsWithdrawnEvent Type = "ProceedsWithdrawn"
)

// ItemListed fires for both a fresh listing and a repricing; observers
// care about the current listing state, not whether it was new.
type ItemListed struct {
	Seller     models.Address `json:"seller"`
	Collection models.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Price      uint64         `json:"price"`
}

type ItemBought struct {
	Buyer      models.Address `json:"buyer"`
	Collection models.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Price      uint64         `json:"price"`
}

type ItemCancelled struct {
	Seller     models.Address `json:"seller"`
	Collection models.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
}

type ProceedsWithdrawn struct {
	Seller models.Address `json:"seller"`
	Amount uint64         `json:"amount"`
}
