package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/store"
)

const (
	collection = models.Address("0xc01")
	seller     = models.Address("0xabc")
)

func TestListingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	_, ok, err := tx.GetListing(ctx, collection, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	listing := models.Listing{Collection: collection, TokenID: 1, Seller: seller, Price: 100}
	require.NoError(t, tx.SetListing(ctx, listing))

	got, ok, err := tx.GetListing(ctx, collection, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, listing, got)

	require.NoError(t, tx.ClearListing(ctx, collection, 1))
	_, ok, err = tx.GetListing(ctx, collection, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tx.Commit(ctx))
}

func TestRollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Committed baseline.
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetListing(ctx, models.Listing{Collection: collection, TokenID: 1, Seller: seller, Price: 100}))
	require.NoError(t, tx.CreditProceeds(ctx, seller, 50))
	require.NoError(t, tx.Commit(ctx))

	// A frame that mutates everything, then rolls back.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ClearListing(ctx, collection, 1))
	require.NoError(t, tx.SetListing(ctx, models.Listing{Collection: collection, TokenID: 2, Seller: seller, Price: 7}))
	require.NoError(t, tx.ZeroProceeds(ctx, seller))
	require.NoError(t, tx.CreditProceeds(ctx, "0xother", 10))
	require.NoError(t, tx.Rollback(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, ok, err := tx.GetListing(ctx, collection, 1)
	require.NoError(t, err)
	require.True(t, ok, "rolled back clear should restore the listing")
	assert.Equal(t, uint64(100), got.Price)

	_, ok, err = tx.GetListing(ctx, collection, 2)
	require.NoError(t, err)
	assert.False(t, ok, "rolled back set should vanish")

	amount, err := tx.GetProceeds(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), amount)

	amount, err = tx.GetProceeds(ctx, "0xother")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), amount)
}

func TestNestedFrames(t *testing.T) {
	ctx := context.Background()
	s := New()

	outer, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, outer.CreditProceeds(ctx, seller, 10))

	// Nested frame sees the outer frame's uncommitted credit.
	inner, err := outer.Begin(ctx)
	require.NoError(t, err)
	amount, err := inner.GetProceeds(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), amount)

	// Nested rollback leaves the outer frame untouched.
	require.NoError(t, inner.CreditProceeds(ctx, seller, 5))
	require.NoError(t, inner.Rollback(ctx))
	amount, err = outer.GetProceeds(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), amount)

	// A committed nested frame rides with the outer frame's rollback.
	inner, err = outer.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, inner.CreditProceeds(ctx, seller, 7))
	require.NoError(t, inner.Commit(ctx))
	require.NoError(t, outer.Rollback(ctx))

	check, err := s.Begin(ctx)
	require.NoError(t, err)
	defer check.Rollback(ctx)
	amount, err = check.GetProceeds(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), amount)
}

func TestCreditOverflow(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreditProceeds(ctx, seller, ^uint64(0)))
	err = tx.CreditProceeds(ctx, seller, 1)
	require.Error(t, err, "overflow must be rejected, never wrapped")
	require.NoError(t, tx.Rollback(ctx))
}

func TestFinishedTxRejected(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Commit(ctx), store.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(ctx), store.ErrTxDone)
	assert.ErrorIs(t, tx.SetListing(ctx, models.Listing{}), store.ErrTxDone)
	_, _, err = tx.GetListing(ctx, collection, 1)
	assert.ErrorIs(t, err, store.ErrTxDone)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.CreateAccount(ctx, "alice", "hash", "0xa11ce")
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)

	_, err = s.CreateAccount(ctx, "alice", "hash2", "0xdead")
	assert.Error(t, err, "duplicate username must be rejected")

	got, err := s.GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.Address, got.Address)

	_, err = s.GetAccountByUsername(ctx, "bob")
	assert.Error(t, err)
}
