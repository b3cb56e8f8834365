// Package ledger tracks account balances that fund property escrows.
//
// Flow:
//  1. Buyer funds an account (operator records the deposit)
//  2. Earnest money moves from available to escrowed (EscrowLock)
//  3. On finalize the escrowed funds move to the seller (ReleaseEscrow)
//  4. On cancel they return to the buyer's available balance (RefundEscrow)
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/propertyescrow/internal/amount"
)

var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInsufficientEscrow  = errors.New("insufficient escrowed balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
)

// Entry types
const (
	EntryDeposit       = "deposit"
	EntryEscrowLock    = "escrow_lock"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowReceive = "escrow_receive"
	EntryEscrowRefund  = "escrow_refund"
)

// Entry represents a ledger entry
type Entry struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	Reference    string    `json:"reference,omitempty"` // escrow reference, e.g. "escrow:42"
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balance represents an account's balance
type Balance struct {
	Address   string    `json:"address"`
	Available string    `json:"available"` // Can be locked into escrow
	Escrowed  string    `json:"escrowed"`  // Held as earnest money
	TotalIn   string    `json:"totalIn"`   // Deposits plus escrow proceeds received
	TotalOut  string    `json:"totalOut"`  // Escrow proceeds paid out
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data
type Store interface {
	GetBalance(ctx context.Context, addr string) (*Balance, error)
	Credit(ctx context.Context, addr, amount, txHash, description string) error
	EscrowLock(ctx context.Context, addr, amount, reference string) error
	ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error
	RefundEscrow(ctx context.Context, addr, amount, reference string) error
	GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)
}

// Ledger manages account balances
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns an account's current balance. Unknown accounts
// report zero balances.
func (l *Ledger) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(addr))
}

// Deposit credits an account. txHash makes deposits idempotent.
func (l *Ledger) Deposit(ctx context.Context, addr, amt, txHash string) error {
	norm, err := normalize(amt)
	if err != nil {
		return err
	}
	exists, err := l.store.HasDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}
	return l.store.Credit(ctx, strings.ToLower(addr), norm, txHash, "deposit")
}

// EscrowLock moves amt from addr's available balance into escrow.
func (l *Ledger) EscrowLock(ctx context.Context, addr, amt, reference string) error {
	norm, err := normalize(amt)
	if err != nil {
		return err
	}
	return l.store.EscrowLock(ctx, strings.ToLower(addr), norm, reference)
}

// ReleaseEscrow pays amt out of from's escrowed balance into to's
// available balance.
func (l *Ledger) ReleaseEscrow(ctx context.Context, from, to, amt, reference string) error {
	norm, err := normalize(amt)
	if err != nil {
		return err
	}
	return l.store.ReleaseEscrow(ctx, strings.ToLower(from), strings.ToLower(to), norm, reference)
}

// RefundEscrow returns amt from addr's escrowed balance to available.
func (l *Ledger) RefundEscrow(ctx context.Context, addr, amt, reference string) error {
	norm, err := normalize(amt)
	if err != nil {
		return err
	}
	return l.store.RefundEscrow(ctx, strings.ToLower(addr), norm, reference)
}

// GetHistory returns ledger entries for an account, newest first
func (l *Ledger) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return l.store.GetHistory(ctx, strings.ToLower(addr), limit)
}

func normalize(amt string) (string, error) {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return amount.Format(v), nil
}
