// Package escrow holds tokenized property under escrow until the sale
// conditions are met.
//
// Flow:
//  1. Seller lists the deed → custody moves seller → escrow identity
//  2. Buyer deposits earnest money → buyer available → escrowed
//  3. Inspector records the inspection result (may flip until finalize)
//  4. Buyer, seller and lender approve independently
//  5. Finalize → deed to buyer, escrowed earnest to seller
//  6. Cancel (buyer or seller) → earnest back to buyer, deed back to seller
//
// Deposit, inspection and approvals are independent progress fields; only
// Finalize gates on them jointly.
package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle marker of a record. Progress toward finalize is
// carried by the record's fields, not by the status.
type Status string

const (
	StatusListed    Status = "listed"
	StatusFinalized Status = "finalized"
	StatusCancelled Status = "cancelled"
)

// Escrow is the per-asset escrow record.
type Escrow struct {
	AssetID          string          `json:"assetId"`
	Status           Status          `json:"status"`
	PurchasePrice    string          `json:"purchasePrice"`
	EscrowAmount     string          `json:"escrowAmount"`
	Seller           string          `json:"seller"`
	Buyer            string          `json:"buyer"`
	Lender           string          `json:"lender"`
	InspectionPassed bool            `json:"inspectionPassed"`
	Approvals        map[string]bool `json:"approvals"`
	DepositedBalance string          `json:"depositedBalance"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
}

// IsListed reports whether the record is open for mutation.
func (e *Escrow) IsListed() bool {
	return e.Status == StatusListed
}

// IsTerminal returns true once the record is finalized or cancelled.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusFinalized || e.Status == StatusCancelled
}

// Approved reports whether who has signed off. Non-participants are false.
func (e *Escrow) Approved(who string) bool {
	return e.Approvals[strings.ToLower(who)]
}

// IsParticipant reports whether addr is the buyer, seller or lender.
func (e *Escrow) IsParticipant(addr string) bool {
	addr = strings.ToLower(addr)
	return addr == e.Buyer || addr == e.Seller || addr == e.Lender
}

// Clone returns a deep copy.
func (e *Escrow) Clone() *Escrow {
	cp := *e
	cp.Approvals = make(map[string]bool, len(e.Approvals))
	for k, v := range e.Approvals {
		cp.Approvals[k] = v
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Roles are the process-wide identities fixed at construction.
type Roles struct {
	Registry  string `json:"registry"`
	Escrow    string `json:"escrow"`
	Seller    string `json:"seller"`
	Inspector string `json:"inspector"`
	Lender    string `json:"lender"`
}

func (r Roles) normalized() Roles {
	return Roles{
		Registry:  strings.ToLower(r.Registry),
		Escrow:    strings.ToLower(r.Escrow),
		Seller:    strings.ToLower(r.Seller),
		Inspector: strings.ToLower(r.Inspector),
		Lender:    strings.ToLower(r.Lender),
	}
}

// Validate checks every role is a distinct address.
func (r Roles) Validate() error {
	n := r.normalized()
	named := []struct{ name, addr string }{
		{"registry", n.Registry},
		{"escrow", n.Escrow},
		{"seller", n.Seller},
		{"inspector", n.Inspector},
		{"lender", n.Lender},
	}
	seen := make(map[string]string, len(named))
	for _, role := range named {
		if !common.IsHexAddress(role.addr) || !strings.HasPrefix(role.addr, "0x") {
			return fmt.Errorf("escrow: %s role %q is not an address", role.name, role.addr)
		}
		if other, dup := seen[role.addr]; dup {
			return fmt.Errorf("escrow: %s and %s roles share address %s", other, role.name, role.addr)
		}
		seen[role.addr] = role.name
	}
	return nil
}

// has reports whether addr holds any fixed role.
func (r Roles) has(addr string) bool {
	return addr == r.Registry || addr == r.Escrow || addr == r.Seller || addr == r.Inspector || addr == r.Lender
}

// EventType names an entry in a record's audit trail.
type EventType string

const (
	EventListed            EventType = "listed"
	EventEarnestDeposited  EventType = "earnest_deposited"
	EventInspectionUpdated EventType = "inspection_updated"
	EventSaleApproved      EventType = "sale_approved"
	EventFinalized         EventType = "finalized"
	EventCancelled         EventType = "cancelled"
)

// Event is an append-only audit entry, written with the mutation it records.
type Event struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"assetId"`
	Type      EventType `json:"type"`
	Actor     string    `json:"actor"`
	Amount    string    `json:"amount,omitempty"`
	Passed    *bool     `json:"passed,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists escrow records and their events. Create and Update write
// the record and the event atomically. Update only applies to a record that
// is still listed and fails with ErrTerminal otherwise. Get returns a copy
// of the last committed record.
type Store interface {
	Create(ctx context.Context, e *Escrow, ev *Event) error
	Get(ctx context.Context, assetID string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow, ev *Event) error
	ListByParticipant(ctx context.Context, addr string, limit int) ([]*Escrow, error)
	Events(ctx context.Context, assetID string) ([]*Event, error)
	CountActive(ctx context.Context) (int, error)
}

// AssetRegistry moves deed custody. Implementations act as the escrow
// identity. A transfer out of escrow custody may be undone with
// RevertCustody until ReleaseCustody closes it.
type AssetRegistry interface {
	TransferCustody(ctx context.Context, assetID, from, to string) error
	RevertCustody(ctx context.Context, assetID, holder string) error
	ReleaseCustody(assetID string)
	CustodianOf(ctx context.Context, assetID string) (string, error)
}

// PaymentSource receives and disburses earnest money.
type PaymentSource interface {
	EscrowLock(ctx context.Context, addr, amount, reference string) error
	ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error
	RefundEscrow(ctx context.Context, addr, amount, reference string) error
}

// Publisher is notified after every committed event.
type Publisher interface {
	PublishEscrowEvent(ev *Event, snapshot *Escrow)
}

// ListRequest contains the terms a seller lists an asset with.
type ListRequest struct {
	AssetID       string `json:"assetId" binding:"required"`
	PurchasePrice string `json:"purchasePrice" binding:"required"`
	EscrowAmount  string `json:"escrowAmount" binding:"required"`
	Buyer         string `json:"buyer" binding:"required"`
}

func reference(assetID string) string {
	return "escrow:" + assetID
}
