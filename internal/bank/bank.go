// Package bank is the value-custody collaborator: it holds wallet
// balances, collects attached payments at the transport edge, and pays
// out withdrawals for the engine.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/pkg/safe"
)

var ErrInsufficientFunds = errors.New("bank: insufficient funds")

type Bank struct {
	mu       sync.Mutex
	balances map[models.Address]uint64
}

func New() *Bank {
	return &Bank{balances: make(map[models.Address]uint64)}
}

func (b *Bank) Balance(address models.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[address]
}

// Deposit credits a wallet, failing on overflow.
func (b *Bank) Deposit(address models.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := safe.Add(b.balances[address], amount)
	if err != nil {
		return fmt.Errorf("deposit to %s: %w", address, err)
	}
	b.balances[address] = next
	return nil
}

// Debit removes funds from a wallet, failing when the balance is short.
func (b *Bank) Debit(address models.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := safe.Sub(b.balances[address], amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, address, b.balances[address], amount)
	}
	b.balances[address] = next
	return nil
}

// Pay implements the engine's PaymentSink: withdrawals land in the
// recipient's wallet.
func (b *Bank) Pay(ctx context.Context, to models.Address, amount uint64) error {
	return b.Deposit(to, amount)
}
