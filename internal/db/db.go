// Package db is the Postgres-backed ledger. Engine call frames map onto
// pgx transactions; nested frames map onto savepoints, which pgx creates
// when Begin is called on an open transaction.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/store"
	"github.com/corbeau/nftmarket/pkg/safe"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Begin opens a top-level frame.
func (db *DB) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &ledgerTx{tx: tx}, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) GetListing(ctx context.Context, collection models.Address, tokenID uint64) (models.Listing, bool, error) {
	listing := models.Listing{Collection: collection, TokenID: tokenID}
	err := t.tx.QueryRow(ctx,
		"SELECT seller, price FROM listings WHERE collection = $1 AND token_id = $2 FOR UPDATE",
		collection, int64(tokenID)).Scan(&listing.Seller, &listing.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Listing{}, false, nil
		}
		return models.Listing{}, false, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, true, nil
}

func (t *ledgerTx) SetListing(ctx context.Context, listing models.Listing) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO listings (collection, token_id, seller, price) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, token_id) DO UPDATE SET seller = $3, price = $4`,
		listing.Collection, int64(listing.TokenID), listing.Seller, int64(listing.Price))
	if err != nil {
		return fmt.Errorf("failed to set listing: %w", err)
	}
	return nil
}

func (t *ledgerTx) ClearListing(ctx context.Context, collection models.Address, tokenID uint64) error {
	_, err := t.tx.Exec(ctx,
		"DELETE FROM listings WHERE collection = $1 AND token_id = $2",
		collection, int64(tokenID))
	if err != nil {
		return fmt.Errorf("failed to clear listing: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetProceeds(ctx context.Context, seller models.Address) (uint64, error) {
	var amount int64
	err := t.tx.QueryRow(ctx,
		"SELECT amount FROM proceeds WHERE seller = $1 FOR UPDATE",
		seller).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get proceeds: %w", err)
	}
	return uint64(amount), nil
}

func (t *ledgerTx) CreditProceeds(ctx context.Context, seller models.Address, amount uint64) error {
	current, err := t.GetProceeds(ctx, seller)
	if err != nil {
		return err
	}
	next, err := safe.Add(current, amount)
	if err != nil {
		return fmt.Errorf("credit proceeds for %s: %w", seller, err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO proceeds (seller, amount) VALUES ($1, $2)
		 ON CONFLICT (seller) DO UPDATE SET amount = $2`,
		seller, int64(next))
	if err != nil {
		return fmt.Errorf("failed to credit proceeds: %w", err)
	}
	return nil
}

func (t *ledgerTx) ZeroProceeds(ctx context.Context, seller models.Address) error {
	_, err := t.tx.Exec(ctx, "DELETE FROM proceeds WHERE seller = $1", seller)
	if err != nil {
		return fmt.Errorf("failed to zero proceeds: %w", err)
	}
	return nil
}

// Begin opens a savepoint on this frame.
func (t *ledgerTx) Begin(ctx context.Context) (store.Tx, error) {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil, store.ErrTxDone
		}
		return nil, fmt.Errorf("failed to begin savepoint: %w", err)
	}
	return &ledgerTx{tx: nested}, nil
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return store.ErrTxDone
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *ledgerTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return store.ErrTxDone
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account.
func (db *DB) CreateAccount(ctx context.Context, username, passwordHash string, address models.Address) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, address) VALUES ($1, $2, $3)
		 RETURNING id, username, password_hash, address, created_at`,
		username, passwordHash, address).Scan(
		&account.ID, &account.Username, &account.PasswordHash, &account.Address, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccountByUsername retrieves an account by username.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, address, created_at FROM accounts WHERE username = $1",
		username).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Address, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}
