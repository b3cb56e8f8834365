package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/propertyescrow/internal/ledger"
)

var errInjected = errors.New("injected failure")

// flakyPayments fails selected calls and otherwise delegates to a real ledger.
type flakyPayments struct {
	*ledger.Ledger
	failRelease bool
	failRefund  bool
}

func (f *flakyPayments) ReleaseEscrow(ctx context.Context, from, to, amt, ref string) error {
	if f.failRelease {
		return errInjected
	}
	return f.Ledger.ReleaseEscrow(ctx, from, to, amt, ref)
}

func (f *flakyPayments) RefundEscrow(ctx context.Context, addr, amt, ref string) error {
	if f.failRefund {
		return errInjected
	}
	return f.Ledger.RefundEscrow(ctx, addr, amt, ref)
}

// flakyStore fails the next n writes.
type flakyStore struct {
	*MemoryStore
	failCreate  int
	failUpdates int
}

func (f *flakyStore) Create(ctx context.Context, e *Escrow, ev *Event) error {
	if f.failCreate > 0 {
		f.failCreate--
		return errInjected
	}
	return f.MemoryStore.Create(ctx, e, ev)
}

func (f *flakyStore) Update(ctx context.Context, e *Escrow, ev *Event) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errInjected
	}
	return f.MemoryStore.Update(ctx, e, ev)
}

func rewire(t *testing.T, h *harness, store Store, payments PaymentSource) {
	t.Helper()
	svc, err := NewService(testRoles, store, h.deeds.Operator(escrowAddr), payments)
	require.NoError(t, err)
	h.svc = svc.WithCompensationPolicy(h.svc.compPol)
}

func TestList_PersistFailureReturnsCustody(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{MemoryStore: NewMemoryStore(), failCreate: 1}
	rewire(t, h, store, h.ledger)

	_, err := h.svc.List(context.Background(), sellerAddr, ListRequest{
		AssetID: "1", PurchasePrice: "10", EscrowAmount: "5", Buyer: buyerAddr,
	})
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, sellerAddr, h.custodian(t))

	_, err = h.svc.Get(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeposit_PersistFailureRefundsLock(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	rewire(t, h, store, h.ledger)
	h.list(t)

	store.failUpdates = 1
	_, err := h.svc.DepositEarnest(context.Background(), buyerAddr, "1", "5")
	require.ErrorIs(t, err, errInjected)

	b := h.balance(t, buyerAddr)
	assert.Equal(t, "100.000000", b.Available)
	assert.Equal(t, "0.000000", b.Escrowed)
	bal, _ := h.svc.BalanceOf(context.Background(), "1")
	assert.Equal(t, "0.000000", bal)
}

func TestFinalize_PaymentFailureReclaimsCustody(t *testing.T) {
	h := newHarness(t)
	pay := &flakyPayments{Ledger: h.ledger}
	rewire(t, h, h.store, pay)
	h.list(t)
	h.ready(t)

	pay.failRelease = true
	_, err := h.svc.Finalize(context.Background(), buyerAddr, "1")
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, escrowAddr, h.custodian(t), "custody leg rolled back")
	assert.Equal(t, "5.000000", h.balance(t, buyerAddr).Escrowed)

	e, err := h.svc.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, StatusListed, e.Status)

	// The record is untouched, so a retry after the rail recovers settles.
	pay.failRelease = false
	_, err = h.svc.Finalize(context.Background(), buyerAddr, "1")
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, h.custodian(t))
}

func TestCancel_RefundFailureReclaimsCustody(t *testing.T) {
	h := newHarness(t)
	pay := &flakyPayments{Ledger: h.ledger}
	rewire(t, h, h.store, pay)
	h.list(t)
	_, err := h.svc.DepositEarnest(context.Background(), buyerAddr, "1", "5")
	require.NoError(t, err)

	pay.failRefund = true
	_, err = h.svc.Cancel(context.Background(), sellerAddr, "1")
	require.ErrorIs(t, err, ErrTransferFailed)

	assert.Equal(t, escrowAddr, h.custodian(t))
	listed, _ := h.svc.IsListed(context.Background(), "1")
	assert.True(t, listed)
}

func TestFinalize_PersistRetriedOnce(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	rewire(t, h, store, h.ledger)
	h.list(t)
	h.ready(t)

	store.failUpdates = 1
	e, err := h.svc.Finalize(context.Background(), buyerAddr, "1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, e.Status)

	got, _ := h.svc.Get(context.Background(), "1")
	assert.Equal(t, StatusFinalized, got.Status)
}

func TestFinalize_PersistFailsTwice(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	rewire(t, h, store, h.ledger)
	h.list(t)
	h.ready(t)

	store.failUpdates = 2
	_, err := h.svc.Finalize(context.Background(), buyerAddr, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual resolution")
	// Both legs stand; the stale record needs an operator.
	assert.Equal(t, buyerAddr, h.custodian(t))
}
