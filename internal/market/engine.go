// Package market implements the marketplace engine: the only component
// that mutates the listing registry and the proceeds ledger. Every
// operation validates preconditions, mutates state, and only then touches
// external collaborators, so that a collaborator calling back into the
// engine mid-operation observes state that makes the re-entrant call a
// no-op or a clean rejection.
package market

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/corbeau/nftmarket/internal/event"
	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/store"
)

// OwnershipOracle answers who owns an asset and who may move it, and
// performs the actual ownership transfer on settlement. The engine calls
// it but does not own its state.
type OwnershipOracle interface {
	OwnerOf(ctx context.Context, collection models.Address, tokenID uint64) (models.Address, error)
	IsApproved(ctx context.Context, owner, operator models.Address, collection models.Address, tokenID uint64) (bool, error)
	// Transfer must fail loudly if ownership or approval no longer holds
	// at call time.
	Transfer(ctx context.Context, from, to models.Address, collection models.Address, tokenID uint64) error
}

// PaymentSink moves withdrawn value out of the engine to a seller.
type PaymentSink interface {
	Pay(ctx context.Context, to models.Address, amount uint64) error
}

type queuedEvent struct {
	eventType event.Type
	msg       interface{}
}

// Engine orchestrates list/buy/cancel/update/withdraw. The host
// serializes invocations: each operation, including its nested
// collaborator calls, runs to completion before the next begins. The
// engine therefore holds no lock of its own, since a synchronous
// re-entrant call from a collaborator runs on the same goroutine and must
// not deadlock. Serialization is enforced at the transport edge.
type Engine struct {
	address  models.Address
	ledger   store.Ledger
	oracle   OwnershipOracle
	payments PaymentSink
	events   *event.Manager

	// cur is the live frame while an operation executes; a re-entrant
	// operation opens a savepoint on it. pending holds events queued by
	// frames that have committed into a still-open parent.
	cur     store.Tx
	pending []queuedEvent
}

func NewEngine(address models.Address, ledger store.Ledger, oracle OwnershipOracle, payments PaymentSink, events *event.Manager) *Engine {
	return &Engine{
		address:  address,
		ledger:   ledger,
		oracle:   oracle,
		payments: payments,
		events:   events,
	}
}

// Address is the engine's own operator address, the one collections must
// approve before listing.
func (e *Engine) Address() models.Address {
	return e.address
}

// run executes op inside a call frame. A top-level frame is a ledger
// transaction; a frame opened while another is live is a savepoint on it.
// The frame commits only if op returns nil; otherwise every mutation it
// made is rolled back. Events queued by op are delivered once the
// outermost frame commits.
func (e *Engine) run(ctx context.Context, op func(tx store.Tx) error) error {
	var (
		tx  store.Tx
		err error
	)
	if e.cur != nil {
		tx, err = e.cur.Begin(ctx)
	} else {
		tx, err = e.ledger.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}

	prev := e.cur
	e.cur = tx
	mark := len(e.pending)
	defer func() { e.cur = prev }()

	if err := op(tx); err != nil {
		e.pending = e.pending[:mark]
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, store.ErrTxDone) {
			zap.L().With(zap.Error(rbErr)).Error("marketplace: frame rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		e.pending = e.pending[:mark]
		return fmt.Errorf("commit frame: %w", err)
	}

	if prev == nil {
		for _, queued := range e.pending {
			e.events.Emit(queued.eventType, queued.msg)
		}
		e.pending = e.pending[:0]
	}
	return nil
}

func (e *Engine) queue(eventType event.Type, msg interface{}) {
	e.pending = append(e.pending, queuedEvent{eventType: eventType, msg: msg})
}

// requireOwner re-derives ownership from the oracle on every call.
// Ownership can change out-of-band, so a cached owner would let a former
// owner manipulate a listing it no longer controls.
func (e *Engine) requireOwner(ctx context.Context, caller, collection models.Address, tokenID uint64) error {
	owner, err := e.oracle.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("ownership oracle: %w", err)
	}
	if owner != caller {
		return NotOwnerError{Caller: caller, Collection: collection, TokenID: tokenID}
	}
	return nil
}

// ListItem puts an asset up for sale at a fixed price. The caller must be
// the current owner, the key must not already be listed, the price must
// be above zero, and the engine must be approved to move the asset.
func (e *Engine) ListItem(ctx context.Context, caller, collection models.Address, tokenID, price uint64) error {
	return e.run(ctx, func(tx store.Tx) error {
		if _, listed, err := tx.GetListing(ctx, collection, tokenID); err != nil {
			return err
		} else if listed {
			return AlreadyListedError{Collection: collection, TokenID: tokenID}
		}
		if err := e.requireOwner(ctx, caller, collection, tokenID); err != nil {
			return err
		}
		if price == 0 {
			return InvalidPriceError{Price: price}
		}
		approved, err := e.oracle.IsApproved(ctx, caller, e.address, collection, tokenID)
		if err != nil {
			return fmt.Errorf("ownership oracle: %w", err)
		}
		if !approved {
			return NotApprovedError{Collection: collection, TokenID: tokenID}
		}

		listing := models.Listing{Collection: collection, TokenID: tokenID, Seller: caller, Price: price}
		if err := tx.SetListing(ctx, listing); err != nil {
			return err
		}

		zap.L().With(
			zap.String("seller", caller.String()),
			zap.String("collection", collection.String()),
			zap.Uint64("tokenId", tokenID),
			zap.Uint64("price", price),
		).Info("marketplace: item listed")
		e.queue(event.ItemListedEvent, event.ItemListed{Seller: caller, Collection: collection, TokenID: tokenID, Price: price})
		return nil
	})
}

// BuyItem settles a purchase. The listing is deleted and the proceeds
// credited before the external ownership transfer runs: if the transfer
// re-enters BuyItem for the same key, the listing is already gone and the
// re-entrant call fails with NotListed. Overpayment is accepted as-is;
// the seller is credited exactly the listing price.
func (e *Engine) BuyItem(ctx context.Context, buyer, collection models.Address, tokenID, payment uint64) error {
	return e.run(ctx, func(tx store.Tx) error {
		listing, listed, err := tx.GetListing(ctx, collection, tokenID)
		if err != nil {
			return err
		}
		if !listed {
			return NotListedError{Collection: collection, TokenID: tokenID}
		}
		if payment < listing.Price {
			return PriceNotMetError{Collection: collection, TokenID: tokenID, Price: listing.Price, Payment: payment}
		}

		if err := tx.ClearListing(ctx, collection, tokenID); err != nil {
			return err
		}
		if err := tx.CreditProceeds(ctx, listing.Seller, listing.Price); err != nil {
			return err
		}
		if err := e.oracle.Transfer(ctx, listing.Seller, buyer, collection, tokenID); err != nil {
			return fmt.Errorf("asset transfer: %w", err)
		}

		zap.L().With(
			zap.String("buyer", buyer.String()),
			zap.String("seller", listing.Seller.String()),
			zap.String("collection", collection.String()),
			zap.Uint64("tokenId", tokenID),
			zap.Uint64("price", listing.Price),
		).Info("marketplace: item bought")
		e.queue(event.ItemBoughtEvent, event.ItemBought{Buyer: buyer, Collection: collection, TokenID: tokenID, Price: listing.Price})
		return nil
	})
}

// CancelListing removes an active listing. Only the asset's current owner
// per the oracle may cancel.
func (e *Engine) CancelListing(ctx context.Context, caller, collection models.Address, tokenID uint64) error {
	return e.run(ctx, func(tx store.Tx) error {
		if _, listed, err := tx.GetListing(ctx, collection, tokenID); err != nil {
			return err
		} else if !listed {
			return NotListedError{Collection: collection, TokenID: tokenID}
		}
		if err := e.requireOwner(ctx, caller, collection, tokenID); err != nil {
			return err
		}
		if err := tx.ClearListing(ctx, collection, tokenID); err != nil {
			return err
		}

		zap.L().With(
			zap.String("seller", caller.String()),
			zap.String("collection", collection.String()),
			zap.Uint64("tokenId", tokenID),
		).Info("marketplace: listing cancelled")
		e.queue(event.ItemCancelledEvent, event.ItemCancelled{Seller: caller, Collection: collection, TokenID: tokenID})
		return nil
	})
}

// UpdateListing reprices an active listing. A zero price would alias the
// not-listed state and is rejected, never treated as a cancel. The seller
// on the listing is unchanged.
func (e *Engine) UpdateListing(ctx context.Context, caller, collection models.Address, tokenID, newPrice uint64) error {
	return e.run(ctx, func(tx store.Tx) error {
		listing, listed, err := tx.GetListing(ctx, collection, tokenID)
		if err != nil {
			return err
		}
		if !listed {
			return NotListedError{Collection: collection, TokenID: tokenID}
		}
		if err := e.requireOwner(ctx, caller, collection, tokenID); err != nil {
			return err
		}
		if newPrice == 0 {
			return InvalidPriceError{Price: newPrice}
		}

		listing.Price = newPrice
		if err := tx.SetListing(ctx, listing); err != nil {
			return err
		}

		zap.L().With(
			zap.String("seller", listing.Seller.String()),
			zap.String("collection", collection.String()),
			zap.Uint64("tokenId", tokenID),
			zap.Uint64("price", newPrice),
		).Info("marketplace: listing updated")
		e.queue(event.ItemListedEvent, event.ItemListed{Seller: listing.Seller, Collection: collection, TokenID: tokenID, Price: newPrice})
		return nil
	})
}

// WithdrawProceeds drains the caller's accumulated balance. The balance
// is zeroed before the payout runs, so a re-entrant withdrawal during the
// payment sees no proceeds; if the payout fails, the whole frame rolls
// back and the balance is restored.
func (e *Engine) WithdrawProceeds(ctx context.Context, caller models.Address) (uint64, error) {
	var amount uint64
	err := e.run(ctx, func(tx store.Tx) error {
		balance, err := tx.GetProceeds(ctx, caller)
		if err != nil {
			return err
		}
		if balance == 0 {
			return NoProceedsError{Seller: caller}
		}
		if err := tx.ZeroProceeds(ctx, caller); err != nil {
			return err
		}
		if err := e.payments.Pay(ctx, caller, balance); err != nil {
			return fmt.Errorf("payout: %w", err)
		}
		amount = balance

		zap.L().With(
			zap.String("seller", caller.String()),
			zap.Uint64("amount", balance),
		).Info("marketplace: proceeds withdrawn")
		e.queue(event.ProceedsWithdrawnEvent, event.ProceedsWithdrawn{Seller: caller, Amount: balance})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// GetListing reads the active listing for a key. ok is false when nothing
// is listed.
func (e *Engine) GetListing(ctx context.Context, collection models.Address, tokenID uint64) (models.Listing, bool, error) {
	var (
		listing models.Listing
		ok      bool
	)
	err := e.run(ctx, func(tx store.Tx) error {
		var err error
		listing, ok, err = tx.GetListing(ctx, collection, tokenID)
		return err
	})
	if err != nil {
		return models.Listing{}, false, err
	}
	return listing, ok, nil
}

// GetProceeds reads a seller's withdrawable balance.
func (e *Engine) GetProceeds(ctx context.Context, seller models.Address) (uint64, error) {
	var amount uint64
	err := e.run(ctx, func(tx store.Tx) error {
		var err error
		amount, err = tx.GetProceeds(ctx, seller)
		return err
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}
