package escrow

import (
	"context"
	"strings"
)

// Reads do not take the asset lock. Stores hand out copies of the last
// committed record, so a read never observes a half-applied mutation.

// Roles returns the fixed identities the service was built with.
func (s *Service) Roles() Roles {
	return s.roles
}

// Get returns the record for assetID, or ErrNotFound.
func (s *Service) Get(ctx context.Context, assetID string) (*Escrow, error) {
	return s.store.Get(ctx, assetID)
}

// IsListed reports whether the asset has an open escrow.
func (s *Service) IsListed(ctx context.Context, assetID string) (bool, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return false, err
	}
	return e.IsListed(), nil
}

func (s *Service) Buyer(ctx context.Context, assetID string) (string, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	return e.Buyer, nil
}

func (s *Service) PurchasePrice(ctx context.Context, assetID string) (string, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	return e.PurchasePrice, nil
}

func (s *Service) EscrowAmount(ctx context.Context, assetID string) (string, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	return e.EscrowAmount, nil
}

func (s *Service) InspectionPassed(ctx context.Context, assetID string) (bool, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return false, err
	}
	return e.InspectionPassed, nil
}

// Approval reports whether who approved the sale. Addresses outside the
// record's participants read as false.
func (s *Service) Approval(ctx context.Context, assetID, who string) (bool, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return false, err
	}
	return e.Approved(who), nil
}

// BalanceOf returns the earnest money deposited against the asset. It stays
// at its final value after settlement for audit.
func (s *Service) BalanceOf(ctx context.Context, assetID string) (string, error) {
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	return e.DepositedBalance, nil
}

// Events returns the audit trail for an asset, oldest first.
func (s *Service) Events(ctx context.Context, assetID string) ([]*Event, error) {
	if _, err := s.store.Get(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, assetID)
}

// ListByParticipant returns escrows where addr is buyer, seller or lender,
// newest first.
func (s *Service) ListByParticipant(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListByParticipant(ctx, strings.ToLower(addr), limit)
}
