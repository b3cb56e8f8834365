package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbd888/propertyescrow/internal/amount"
	"github.com/mbd888/propertyescrow/internal/idgen"
	"github.com/mbd888/propertyescrow/internal/metrics"
	"github.com/mbd888/propertyescrow/internal/retry"
	"github.com/mbd888/propertyescrow/internal/syncutil"
	"github.com/mbd888/propertyescrow/internal/traces"
)

// Service implements the escrow ledger. Mutations of one asset are
// serialized; distinct assets proceed in parallel.
type Service struct {
	roles     Roles
	store     Store
	assets    AssetRegistry
	payments  PaymentSource
	publisher Publisher
	logger    *slog.Logger
	locks     *syncutil.ContextShardedMutex
	now       func() time.Time
	compPol   retry.Policy
}

// NewService creates the escrow ledger. Roles are fixed for the life of
// the service.
func NewService(roles Roles, store Store, assets AssetRegistry, payments PaymentSource) (*Service, error) {
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	if store == nil || assets == nil || payments == nil {
		return nil, errors.New("escrow: store, asset registry and payment source are required")
	}
	return &Service{
		roles:    roles.normalized(),
		store:    store,
		assets:   assets,
		payments: payments,
		logger:   slog.Default(),
		locks:    syncutil.NewContextShardedMutex(),
		now:      time.Now,
		compPol:  retry.Compensation,
	}, nil
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithPublisher sets a sink for committed events.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithClock overrides time.Now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithCompensationPolicy overrides the backoff used to undo collaborator calls.
func (s *Service) WithCompensationPolicy(p retry.Policy) *Service {
	s.compPol = p
	return s
}

// List opens escrow for an asset and takes custody of its deed.
func (s *Service) List(ctx context.Context, caller string, req ListRequest) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.List", traces.AssetID(req.AssetID), traces.Caller(caller))
	defer s.finish("list", span, &err)

	caller = strings.ToLower(caller)
	if caller != s.roles.Seller {
		return nil, ErrUnauthorized
	}

	price, escrowAmt, buyer, err := s.validateTerms(req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.store.Get(ctx, req.AssetID); err == nil {
		return nil, ErrAlreadyListed
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.assets.TransferCustody(ctx, req.AssetID, s.roles.Seller, s.roles.Escrow); err != nil {
		return nil, fmt.Errorf("%w: take custody of asset %s: %w", ErrTransferFailed, req.AssetID, err)
	}

	now := s.now()
	e := &Escrow{
		AssetID:       req.AssetID,
		Status:        StatusListed,
		PurchasePrice: price,
		EscrowAmount:  escrowAmt,
		Seller:        s.roles.Seller,
		Buyer:         buyer,
		Lender:        s.roles.Lender,
		Approvals: map[string]bool{
			buyer:          false,
			s.roles.Seller: false,
			s.roles.Lender: false,
		},
		DepositedBalance: amount.Format(nil),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ev := s.event(e.AssetID, EventListed, caller, price, nil)

	if err := s.store.Create(ctx, e, ev); err != nil {
		s.compensate(ctx, "return_custody", e.AssetID, func() error {
			return s.assets.TransferCustody(ctx, e.AssetID, s.roles.Escrow, s.roles.Seller)
		})
		s.assets.ReleaseCustody(e.AssetID)
		return nil, fmt.Errorf("failed to persist listing: %w", err)
	}

	metrics.ActiveEscrows.Inc()
	s.publish(ev, e)
	s.logger.Info("asset listed",
		"asset_id", e.AssetID, "buyer", e.Buyer,
		"purchase_price", e.PurchasePrice, "escrow_amount", e.EscrowAmount)
	return e.Clone(), nil
}

// DepositEarnest locks amt of the buyer's funds against the asset. Deposits
// accumulate without an upper bound; Finalize is the gate.
func (s *Service) DepositEarnest(ctx context.Context, caller, assetID, amt string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.DepositEarnest", traces.AssetID(assetID), traces.Caller(caller), traces.Amount(amt))
	defer s.finish("deposit", span, &err)

	caller = strings.ToLower(caller)
	unlock, e, err := s.lockOpen(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if caller != e.Buyer {
		return nil, ErrUnauthorized
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidTerms)
	}
	normalized := amount.Format(v)

	if err := s.payments.EscrowLock(ctx, e.Buyer, normalized, reference(assetID)); err != nil {
		return nil, fmt.Errorf("%w: lock earnest money: %w", ErrTransferFailed, err)
	}

	e.DepositedBalance = amount.Add(e.DepositedBalance, normalized)
	e.UpdatedAt = s.now()
	ev := s.event(assetID, EventEarnestDeposited, caller, normalized, nil)

	if err := s.store.Update(ctx, e, ev); err != nil {
		s.compensate(ctx, "refund_deposit", assetID, func() error {
			return s.payments.RefundEscrow(ctx, e.Buyer, normalized, reference(assetID))
		})
		return nil, fmt.Errorf("failed to persist deposit: %w", err)
	}

	s.publish(ev, e)
	s.logger.Info("earnest deposited",
		"asset_id", assetID, "amount", normalized, "deposited", e.DepositedBalance)
	return e.Clone(), nil
}

// UpdateInspectionStatus records the inspector's verdict. It may be flipped
// any number of times before the record closes.
func (s *Service) UpdateInspectionStatus(ctx context.Context, caller, assetID string, passed bool) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.UpdateInspectionStatus", traces.AssetID(assetID), traces.Caller(caller))
	defer s.finish("inspection", span, &err)

	caller = strings.ToLower(caller)
	unlock, e, err := s.lockOpen(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if caller != s.roles.Inspector {
		return nil, ErrUnauthorized
	}

	e.InspectionPassed = passed
	e.UpdatedAt = s.now()
	ev := s.event(assetID, EventInspectionUpdated, caller, "", &passed)
	if err := s.store.Update(ctx, e, ev); err != nil {
		return nil, fmt.Errorf("failed to persist inspection: %w", err)
	}

	s.publish(ev, e)
	s.logger.Info("inspection updated", "asset_id", assetID, "passed", passed)
	return e.Clone(), nil
}

// ApproveSale records sign-off by the buyer, seller or lender of the asset.
// Approving twice is a no-op.
func (s *Service) ApproveSale(ctx context.Context, caller, assetID string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ApproveSale", traces.AssetID(assetID), traces.Caller(caller))
	defer s.finish("approve", span, &err)

	caller = strings.ToLower(caller)
	unlock, e, err := s.lockOpen(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !e.IsParticipant(caller) {
		return nil, ErrUnauthorized
	}
	if e.Approvals[caller] {
		return e.Clone(), nil
	}

	e.Approvals[caller] = true
	e.UpdatedAt = s.now()
	ev := s.event(assetID, EventSaleApproved, caller, "", nil)
	if err := s.store.Update(ctx, e, ev); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	s.publish(ev, e)
	s.logger.Info("sale approved", "asset_id", assetID, "by", caller)
	return e.Clone(), nil
}

// Finalize settles the sale: the deed goes to the buyer and the deposited
// earnest money to the seller. Either both legs apply or neither does.
func (s *Service) Finalize(ctx context.Context, caller, assetID string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Finalize", traces.AssetID(assetID), traces.Caller(caller))
	defer s.finish("finalize", span, &err)

	caller = strings.ToLower(caller)
	unlock, e, err := s.lockOpen(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if cond, ok := unmetCondition(e); !ok {
		span.SetAttributes(traces.Condition(string(cond)))
		return nil, &PreconditionError{Condition: cond}
	}

	if err := s.assets.TransferCustody(ctx, assetID, s.roles.Escrow, e.Buyer); err != nil {
		return nil, fmt.Errorf("%w: deliver asset to buyer: %w", ErrTransferFailed, err)
	}
	defer s.assets.ReleaseCustody(assetID)

	if err := s.payments.ReleaseEscrow(ctx, e.Buyer, e.Seller, e.DepositedBalance, reference(assetID)); err != nil {
		s.compensate(ctx, "reclaim_custody", assetID, func() error {
			return s.assets.RevertCustody(ctx, assetID, e.Buyer)
		})
		return nil, fmt.Errorf("%w: pay seller: %w", ErrTransferFailed, err)
	}

	ev := s.resolve(e, StatusFinalized, EventFinalized, caller)
	if err := s.persistResolution(ctx, e, ev); err != nil {
		return nil, err
	}

	s.publish(ev, e)
	s.logger.Info("escrow finalized",
		"asset_id", assetID, "buyer", e.Buyer, "seller", e.Seller, "paid", e.DepositedBalance)
	return e.Clone(), nil
}

// Cancel unwinds an open escrow: earnest money goes back to the buyer and
// the deed back to the seller. Only the buyer or seller may cancel.
func (s *Service) Cancel(ctx context.Context, caller, assetID string) (_ *Escrow, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.AssetID(assetID), traces.Caller(caller))
	defer s.finish("cancel", span, &err)

	caller = strings.ToLower(caller)
	unlock, e, err := s.lockOpen(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if caller != e.Buyer && caller != e.Seller {
		return nil, ErrUnauthorized
	}

	if err := s.assets.TransferCustody(ctx, assetID, s.roles.Escrow, e.Seller); err != nil {
		return nil, fmt.Errorf("%w: return asset to seller: %w", ErrTransferFailed, err)
	}
	defer s.assets.ReleaseCustody(assetID)

	if amount.Positive(e.DepositedBalance) {
		if err := s.payments.RefundEscrow(ctx, e.Buyer, e.DepositedBalance, reference(assetID)); err != nil {
			s.compensate(ctx, "reclaim_custody", assetID, func() error {
				return s.assets.RevertCustody(ctx, assetID, e.Seller)
			})
			return nil, fmt.Errorf("%w: refund buyer: %w", ErrTransferFailed, err)
		}
	}

	ev := s.resolve(e, StatusCancelled, EventCancelled, caller)
	if err := s.persistResolution(ctx, e, ev); err != nil {
		return nil, err
	}

	s.publish(ev, e)
	s.logger.Info("escrow cancelled",
		"asset_id", assetID, "by", caller, "refunded", e.DepositedBalance)
	return e.Clone(), nil
}

// lockOpen takes the asset lock and loads a record that is open for mutation.
// On error the lock is already released.
func (s *Service) lockOpen(ctx context.Context, assetID string) (func(), *Escrow, error) {
	unlock, err := s.locks.LockContext(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	e, err := s.store.Get(ctx, assetID)
	if err != nil {
		unlock()
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotListed
		}
		return nil, nil, err
	}
	if e.IsTerminal() {
		unlock()
		return nil, nil, ErrTerminal
	}
	return unlock, e, nil
}

func (s *Service) validateTerms(req ListRequest) (price, escrowAmt, buyer string, err error) {
	if req.AssetID == "" {
		return "", "", "", fmt.Errorf("%w: asset id is required", ErrInvalidTerms)
	}
	p, ok := amount.Parse(req.PurchasePrice)
	if !ok || p.Sign() <= 0 {
		return "", "", "", fmt.Errorf("%w: purchase price must be positive", ErrInvalidTerms)
	}
	ea, ok := amount.Parse(req.EscrowAmount)
	if !ok || ea.Sign() <= 0 {
		return "", "", "", fmt.Errorf("%w: escrow amount must be positive", ErrInvalidTerms)
	}
	if ea.Cmp(p) > 0 {
		return "", "", "", fmt.Errorf("%w: escrow amount exceeds purchase price", ErrInvalidTerms)
	}
	buyer = strings.ToLower(req.Buyer)
	if !strings.HasPrefix(buyer, "0x") || !common.IsHexAddress(buyer) {
		return "", "", "", fmt.Errorf("%w: buyer is not an address", ErrInvalidTerms)
	}
	if s.roles.has(buyer) {
		return "", "", "", fmt.Errorf("%w: buyer cannot hold a fixed role", ErrInvalidTerms)
	}
	return amount.Format(p), amount.Format(ea), buyer, nil
}

// unmetCondition returns the first finalize gate that does not hold.
func unmetCondition(e *Escrow) (Condition, bool) {
	switch {
	case !e.InspectionPassed:
		return CondInspectionPassed, false
	case !e.Approvals[e.Buyer]:
		return CondBuyerApproved, false
	case !e.Approvals[e.Seller]:
		return CondSellerApproved, false
	case !e.Approvals[e.Lender]:
		return CondLenderApproved, false
	case amount.Cmp(e.DepositedBalance, e.EscrowAmount) < 0:
		return CondEarnestFunded, false
	}
	return "", true
}

func (s *Service) resolve(e *Escrow, status Status, typ EventType, caller string) *Event {
	now := s.now()
	e.Status = status
	e.UpdatedAt = now
	e.ResolvedAt = &now
	return s.event(e.AssetID, typ, caller, e.DepositedBalance, nil)
}

// persistResolution stores a record whose custody and funds already moved.
func (s *Service) persistResolution(ctx context.Context, e *Escrow, ev *Event) error {
	if err := s.store.Update(ctx, e, ev); err != nil {
		// Retry once; both legs are applied and cannot be safely reversed.
		if retryErr := s.store.Update(ctx, e, ev); retryErr != nil {
			s.logger.Error("CRITICAL: escrow settled but record update failed",
				"asset_id", e.AssetID, "status", e.Status, "buyer", e.Buyer,
				"seller", e.Seller, "amount", e.DepositedBalance, "error", retryErr)
			return fmt.Errorf("failed to update escrow after settlement (requires manual resolution): %w", err)
		}
	}

	metrics.ActiveEscrows.Dec()
	metrics.EscrowsResolvedTotal.WithLabelValues(string(e.Status)).Inc()
	metrics.EscrowDuration.Observe(e.ResolvedAt.Sub(e.CreatedAt).Seconds())
	return nil
}

// compensate undoes a collaborator call that already succeeded. The caller's
// context may be cancelled, so the rollback runs detached from it.
func (s *Service) compensate(ctx context.Context, action, assetID string, fn func() error) {
	cctx := context.WithoutCancel(ctx)
	if err := s.compPol.Do(cctx, fn); err != nil {
		metrics.CompensationsTotal.WithLabelValues(action, "failed").Inc()
		s.logger.Error("CRITICAL: compensation failed",
			"action", action, "asset_id", assetID, "error", err)
		return
	}
	metrics.CompensationsTotal.WithLabelValues(action, "ok").Inc()
	s.logger.Warn("compensation applied", "action", action, "asset_id", assetID)
}

func (s *Service) event(assetID string, typ EventType, actor, amt string, passed *bool) *Event {
	return &Event{
		ID:        idgen.Event(),
		AssetID:   assetID,
		Type:      typ,
		Actor:     actor,
		Amount:    amt,
		Passed:    passed,
		CreatedAt: s.now(),
	}
}

func (s *Service) publish(ev *Event, e *Escrow) {
	if s.publisher != nil {
		s.publisher.PublishEscrowEvent(ev, e.Clone())
	}
}

func (s *Service) finish(op string, span trace.Span, errp *error) {
	err := *errp
	metrics.EscrowOperationsTotal.WithLabelValues(op, ErrorKind(err)).Inc()
	if err != nil {
		traces.RecordError(span, err)
	}
	span.End()
}
