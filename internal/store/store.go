// Package store defines the transactional home of the marketplace state:
// the listing registry and the proceeds ledger. Two implementations exist,
// an in-memory journaled ledger (memstore) and a Postgres ledger (db).
package store

import (
	"context"
	"errors"

	"github.com/corbeau/nftmarket/internal/models"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("store: transaction has already been committed or rolled back")

// Ledger opens transactional frames over the marketplace state. Every
// engine operation runs inside exactly one frame and either commits fully
// or rolls back without trace.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one open frame. Begin opens a nested frame (a savepoint) on top of
// this one: the nested frame observes this frame's uncommitted mutations
// and can roll back without disturbing them.
type Tx interface {
	// Listing registry. GetListing reports ok=false when the key has no
	// active listing; the registry itself performs no validation.
	GetListing(ctx context.Context, collection models.Address, tokenID uint64) (models.Listing, bool, error)
	SetListing(ctx context.Context, listing models.Listing) error
	ClearListing(ctx context.Context, collection models.Address, tokenID uint64) error

	// Proceeds ledger. CreditProceeds is overflow-checked and fails the
	// frame rather than wrapping.
	GetProceeds(ctx context.Context, seller models.Address) (uint64, error)
	CreditProceeds(ctx context.Context, seller models.Address, amount uint64) error
	ZeroProceeds(ctx context.Context, seller models.Address) error

	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Accounts stores registered API accounts. Account writes are not part of
// engine frames.
type Accounts interface {
	CreateAccount(ctx context.Context, username, passwordHash string, address models.Address) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
}
