// Package nft is the asset-ownership side of the system: an in-memory
// ERC-721-style registry per collection, and a directory that routes
// collection addresses to registries and implements the marketplace
// engine's OwnershipOracle. The marketplace consults this state but never
// owns it.
package nft

import (
	"context"
	"errors"
	"fmt"

	"github.com/corbeau/nftmarket/internal/models"
)

var (
	ErrUnknownToken      = errors.New("nft: token does not exist")
	ErrUnknownCollection = errors.New("nft: unknown collection")
	ErrNotAuthorized     = errors.New("nft: caller not owner or approved")
)

// Registry tracks ownership for one collection: who owns each token, the
// per-token approved operator, and blanket operator approvals. Approval is
// cleared on every transfer. Callers serialize access.
type Registry struct {
	address   models.Address
	name      string
	nextID    uint64
	owners    map[uint64]models.Address
	approved  map[uint64]models.Address
	operators map[models.Address]map[models.Address]bool
}

func NewRegistry(name string) *Registry {
	return &Registry{
		address:   models.NewAddress(),
		name:      name,
		owners:    make(map[uint64]models.Address),
		approved:  make(map[uint64]models.Address),
		operators: make(map[models.Address]map[models.Address]bool),
	}
}

func (r *Registry) Address() models.Address {
	return r.address
}

func (r *Registry) Name() string {
	return r.name
}

// Mint creates a new token owned by to and returns its id.
func (r *Registry) Mint(to models.Address) (uint64, error) {
	if to.IsZero() {
		return 0, fmt.Errorf("nft: mint to the zero address")
	}
	tokenID := r.nextID
	r.nextID++
	r.owners[tokenID] = to
	return tokenID, nil
}

func (r *Registry) OwnerOf(tokenID uint64) (models.Address, error) {
	owner, ok := r.owners[tokenID]
	if !ok {
		return models.ZeroAddress, fmt.Errorf("%w: token %d", ErrUnknownToken, tokenID)
	}
	return owner, nil
}

// Approve sets operator as the single approved mover of tokenID. Only the
// owner (or one of its blanket operators) may approve. A zero operator
// clears the approval.
func (r *Registry) Approve(caller, operator models.Address, tokenID uint64) error {
	owner, err := r.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if caller != owner && !r.operators[owner][caller] {
		return fmt.Errorf("%w: %s cannot approve token %d", ErrNotAuthorized, caller, tokenID)
	}
	if operator.IsZero() {
		delete(r.approved, tokenID)
		return nil
	}
	r.approved[tokenID] = operator
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every token the
// caller owns.
func (r *Registry) SetApprovalForAll(caller, operator models.Address, approved bool) {
	if r.operators[caller] == nil {
		r.operators[caller] = make(map[models.Address]bool)
	}
	r.operators[caller][operator] = approved
}

// IsApproved reports whether operator may move tokenID on behalf of owner.
func (r *Registry) IsApproved(owner, operator models.Address, tokenID uint64) (bool, error) {
	actual, err := r.OwnerOf(tokenID)
	if err != nil {
		return false, err
	}
	if actual != owner {
		return false, nil
	}
	return r.approved[tokenID] == operator || r.operators[owner][operator], nil
}

// Transfer moves tokenID from from to to on behalf of operator. Ownership
// and approval are re-validated at call time; a stale precondition fails
// loudly rather than moving the asset.
func (r *Registry) Transfer(operator, from, to models.Address, tokenID uint64) error {
	owner, err := r.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("nft: token %d is owned by %s, not %s", tokenID, owner, from)
	}
	if to.IsZero() {
		return fmt.Errorf("nft: transfer to the zero address")
	}
	if operator != from && r.approved[tokenID] != operator && !r.operators[from][operator] {
		return fmt.Errorf("%w: %s cannot move token %d", ErrNotAuthorized, operator, tokenID)
	}
	delete(r.approved, tokenID)
	r.owners[tokenID] = to
	return nil
}

// Directory is the marketplace's view of the ownership oracle: it routes
// collection addresses to registries and acts with the marketplace's own
// address as operator when transferring.
type Directory struct {
	marketplace models.Address
	registries  map[models.Address]*Registry
}

func NewDirectory(marketplace models.Address) *Directory {
	return &Directory{
		marketplace: marketplace,
		registries:  make(map[models.Address]*Registry),
	}
}

func (d *Directory) Add(r *Registry) {
	d.registries[r.Address()] = r
}

func (d *Directory) Collection(address models.Address) (*Registry, bool) {
	r, ok := d.registries[address]
	return r, ok
}

func (d *Directory) registry(collection models.Address) (*Registry, error) {
	r, ok := d.registries[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return r, nil
}

func (d *Directory) OwnerOf(ctx context.Context, collection models.Address, tokenID uint64) (models.Address, error) {
	r, err := d.registry(collection)
	if err != nil {
		return models.ZeroAddress, err
	}
	return r.OwnerOf(tokenID)
}

func (d *Directory) IsApproved(ctx context.Context, owner, operator models.Address, collection models.Address, tokenID uint64) (bool, error) {
	r, err := d.registry(collection)
	if err != nil {
		return false, err
	}
	return r.IsApproved(owner, operator, tokenID)
}

func (d *Directory) Transfer(ctx context.Context, from, to models.Address, collection models.Address, tokenID uint64) error {
	r, err := d.registry(collection)
	if err != nil {
		return err
	}
	return r.Transfer(d.marketplace, from, to, tokenID)
}
