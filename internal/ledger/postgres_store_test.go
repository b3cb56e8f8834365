//go:build integration

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/propertyescrow/internal/amount"
	"github.com/mbd888/propertyescrow/internal/testutil"
)

func TestPostgres_DepositAndEscrowFlow(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	l := New(NewPostgresStore(db))
	ctx := context.Background()

	require.NoError(t, l.Deposit(ctx, buyer, "10.5", "0xpg1"))
	assert.ErrorIs(t, l.Deposit(ctx, buyer, "10.5", "0xpg1"), ErrDuplicateDeposit)

	require.NoError(t, l.EscrowLock(ctx, buyer, "5", "escrow:1"))
	assert.ErrorIs(t, l.EscrowLock(ctx, buyer, "6", "escrow:1"), ErrInsufficientBalance)

	require.NoError(t, l.ReleaseEscrow(ctx, buyer, seller, "5", "escrow:1"))
	assert.ErrorIs(t, l.RefundEscrow(ctx, buyer, "1", "escrow:1"), ErrInsufficientEscrow)

	bal, err := l.GetBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, "5.500000", bal.Available)
	assert.Equal(t, "0.000000", bal.Escrowed)
	assert.Equal(t, "5.000000", bal.TotalOut)

	sbal, err := l.GetBalance(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, "5.000000", sbal.Available)

	entries, err := l.GetHistory(ctx, buyer, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPostgres_UnknownAccount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	l := New(NewPostgresStore(db))
	ctx := context.Background()

	bal, err := l.GetBalance(ctx, "0x9000000000000000000000000000000000000009")
	require.NoError(t, err)
	assert.Equal(t, "0.000000", bal.Available)
	assert.ErrorIs(t, l.EscrowLock(ctx, "0x9000000000000000000000000000000000000009", "1", "escrow:1"), ErrAccountNotFound)
}

func TestPostgres_ConcurrentLocksNeverOverdraw(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	l := New(NewPostgresStore(db))
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, buyer, "5", "0xpg2"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.EscrowLock(ctx, buyer, "1", "escrow:c")
		}()
	}
	wg.Wait()

	bal, err := l.GetBalance(ctx, buyer)
	require.NoError(t, err)
	avail, escrowed := bal.Available, bal.Escrowed
	assert.NotContains(t, avail, "-")
	assert.Equal(t, "5.000000", amount.Add(avail, escrowed))
}
