// Package memstore is the in-memory ledger. Mutations inside a frame are
// applied to the live maps immediately, so a nested frame (a re-entrant
// call) observes them, and every mutation records an undo that Rollback
// replays in reverse. Committing a nested frame hands its undo log to the
// parent, which gives savepoint semantics without copying state.
package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/store"
	"github.com/corbeau/nftmarket/pkg/safe"
)

type listingKey struct {
	collection models.Address
	tokenID    uint64
}

// Store holds the marketplace state. Callers are expected to serialize
// access; the host runs operations one at a time.
type Store struct {
	listings map[listingKey]models.Listing
	proceeds map[models.Address]uint64
	accounts map[string]models.Account
	nextID   int
}

func New() *Store {
	return &Store{
		listings: make(map[listingKey]models.Listing),
		proceeds: make(map[models.Address]uint64),
		accounts: make(map[string]models.Account),
		nextID:   1,
	}
}

// Begin opens a top-level frame.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{s: s}, nil
}

type tx struct {
	s      *Store
	parent *tx
	undo   []func()
	done   bool
}

func (t *tx) GetListing(ctx context.Context, collection models.Address, tokenID uint64) (models.Listing, bool, error) {
	if t.done {
		return models.Listing{}, false, store.ErrTxDone
	}
	listing, ok := t.s.listings[listingKey{collection, tokenID}]
	return listing, ok, nil
}

func (t *tx) SetListing(ctx context.Context, listing models.Listing) error {
	if t.done {
		return store.ErrTxDone
	}
	k := listingKey{listing.Collection, listing.TokenID}
	prev, had := t.s.listings[k]
	t.undo = append(t.undo, func() {
		if had {
			t.s.listings[k] = prev
		} else {
			delete(t.s.listings, k)
		}
	})
	t.s.listings[k] = listing
	return nil
}

func (t *tx) ClearListing(ctx context.Context, collection models.Address, tokenID uint64) error {
	if t.done {
		return store.ErrTxDone
	}
	k := listingKey{collection, tokenID}
	prev, had := t.s.listings[k]
	if !had {
		return nil
	}
	t.undo = append(t.undo, func() {
		t.s.listings[k] = prev
	})
	delete(t.s.listings, k)
	return nil
}

func (t *tx) GetProceeds(ctx context.Context, seller models.Address) (uint64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	return t.s.proceeds[seller], nil
}

func (t *tx) CreditProceeds(ctx context.Context, seller models.Address, amount uint64) error {
	if t.done {
		return store.ErrTxDone
	}
	next, err := safe.Add(t.s.proceeds[seller], amount)
	if err != nil {
		return fmt.Errorf("credit proceeds for %s: %w", seller, err)
	}
	return t.setProceeds(seller, next)
}

func (t *tx) ZeroProceeds(ctx context.Context, seller models.Address) error {
	if t.done {
		return store.ErrTxDone
	}
	return t.setProceeds(seller, 0)
}

func (t *tx) setProceeds(seller models.Address, amount uint64) error {
	prev, had := t.s.proceeds[seller]
	t.undo = append(t.undo, func() {
		if had {
			t.s.proceeds[seller] = prev
		} else {
			delete(t.s.proceeds, seller)
		}
	})
	if amount == 0 {
		delete(t.s.proceeds, seller)
	} else {
		t.s.proceeds[seller] = amount
	}
	return nil
}

// Begin opens a savepoint on this frame.
func (t *tx) Begin(ctx context.Context) (store.Tx, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	return &tx{s: t.s, parent: t}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if t.parent != nil {
		// The parent now owns this frame's undos: if the parent rolls
		// back later, this frame's mutations go with it.
		t.parent.undo = append(t.parent.undo, t.undo...)
	}
	t.undo = nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

// CreateAccount registers a new account. Account state is not part of
// ledger frames.
func (s *Store) CreateAccount(ctx context.Context, username, passwordHash string, address models.Address) (*models.Account, error) {
	if _, exists := s.accounts[username]; exists {
		return nil, fmt.Errorf("account %q already exists", username)
	}
	account := models.Account{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Address:      address,
		CreatedAt:    time.Now(),
	}
	s.nextID++
	s.accounts[username] = account
	return &account, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	account, ok := s.accounts[username]
	if !ok {
		return nil, fmt.Errorf("account %q not found", username)
	}
	return &account, nil
}
