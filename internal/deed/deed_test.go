package deed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	seller = "0x5000000000000000000000000000000000000001"
	buyer  = "0xb000000000000000000000000000000000000001"
	escrow = "0xe000000000000000000000000000000000000001"
	other  = "0x0000000000000000000000000000000000000bad"
)

func TestMint_SequentialIDs(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	d1, err := r.Mint(ctx, "0x5000000000000000000000000000000000000001", "ipfs://house-1.json")
	require.NoError(t, err)
	d2, err := r.Mint(ctx, seller, "ipfs://house-2.json")
	require.NoError(t, err)

	assert.Equal(t, "1", d1.ID)
	assert.Equal(t, "2", d2.ID)
	assert.Equal(t, seller, d1.Owner)

	owner, err := r.CustodianOf(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
}

func TestMint_EmptyOwner(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, err := r.Mint(context.Background(), " ", "uri")
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestApprove(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, seller, "uri")

	_, err := r.Approve(ctx, other, d.ID, escrow)
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err := r.Approve(ctx, seller, d.ID, escrow)
	require.NoError(t, err)
	assert.Equal(t, escrow, got.Approved)

	_, err = r.Approve(ctx, seller, "99", escrow)
	assert.ErrorIs(t, err, ErrDeedNotFound)
}

func TestTransferFrom_ApprovedOperator(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, seller, "uri")

	err := r.TransferFrom(ctx, escrow, d.ID, seller, escrow)
	assert.ErrorIs(t, err, ErrNotApproved, "no approval yet")

	_, err = r.Approve(ctx, seller, d.ID, escrow)
	require.NoError(t, err)
	require.NoError(t, r.TransferFrom(ctx, escrow, d.ID, seller, escrow))

	got, _ := r.Get(ctx, d.ID)
	assert.Equal(t, escrow, got.Owner)
	assert.Empty(t, got.Approved, "approval cleared on transfer")
	assert.Equal(t, seller, got.PreviousOwner)
}

func TestTransferFrom_WrongFrom(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, seller, "uri")

	err := r.TransferFrom(ctx, buyer, d.ID, buyer, escrow)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestTransferFrom_PreviousOwnerCannotTakeBack(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, escrow, "uri")

	require.NoError(t, r.TransferFrom(ctx, escrow, d.ID, escrow, buyer))

	err := r.TransferFrom(ctx, escrow, d.ID, buyer, escrow)
	assert.ErrorIs(t, err, ErrNotApproved)
	err = r.Revert(ctx, escrow, d.ID, buyer)
	assert.ErrorIs(t, err, ErrNotApproved, "plain transfers open no reversal")

	owner, _ := r.CustodianOf(ctx, d.ID)
	assert.Equal(t, buyer, owner)
}

func TestCustodian_RevertIsOneShot(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, escrow, "uri")
	c := r.Operator(escrow)

	require.NoError(t, c.TransferCustody(ctx, d.ID, escrow, buyer))
	assert.ErrorIs(t, c.RevertCustody(ctx, d.ID, other), ErrNotApproved, "wrong holder")
	assert.ErrorIs(t, r.Revert(ctx, other, d.ID, buyer), ErrNotApproved, "wrong operator")

	require.NoError(t, c.RevertCustody(ctx, d.ID, buyer))
	owner, _ := r.CustodianOf(ctx, d.ID)
	assert.Equal(t, escrow, owner)

	assert.ErrorIs(t, c.RevertCustody(ctx, d.ID, buyer), ErrNotApproved, "grant consumed")
}

func TestCustodian_ReleaseClosesReversal(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, escrow, "uri")
	c := r.Operator(escrow)

	require.NoError(t, c.TransferCustody(ctx, d.ID, escrow, buyer))
	c.ReleaseCustody(d.ID)

	assert.ErrorIs(t, c.RevertCustody(ctx, d.ID, buyer), ErrNotApproved)
	assert.ErrorIs(t, c.TransferCustody(ctx, d.ID, buyer, escrow), ErrNotApproved)
	owner, _ := r.CustodianOf(ctx, d.ID)
	assert.Equal(t, buyer, owner)
}

func TestCustodian_OwnerMoveClosesReversal(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, escrow, "uri")
	c := r.Operator(escrow)

	require.NoError(t, c.TransferCustody(ctx, d.ID, escrow, buyer))
	require.NoError(t, r.TransferFrom(ctx, buyer, d.ID, buyer, other))

	assert.ErrorIs(t, c.RevertCustody(ctx, d.ID, buyer), ErrNotApproved)
}

func TestCustodianView(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, seller, "uri")
	_, _ = r.Approve(ctx, seller, d.ID, escrow)

	c := r.Operator("0xE000000000000000000000000000000000000001")
	require.NoError(t, c.TransferCustody(ctx, d.ID, seller, escrow))

	owner, err := c.CustodianOf(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow, owner)
}

func TestListByOwner(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = r.Mint(ctx, seller, "uri")
	}
	_, _ = r.Mint(ctx, buyer, "uri")

	deeds, err := r.ListByOwner(ctx, seller, 0)
	require.NoError(t, err)
	require.Len(t, deeds, 3)
	assert.Equal(t, "1", deeds[0].ID)
	assert.Equal(t, "3", deeds[2].ID)
}

func TestConcurrentTransfers_OneWins(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()
	d, _ := r.Mint(ctx, seller, "uri")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TransferFrom(ctx, seller, d.ID, seller, buyer) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
