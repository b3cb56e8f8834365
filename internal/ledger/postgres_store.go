package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/propertyescrow/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Balances are NUMERIC(30,6)
// columns with CHECK constraints, so an overdraft fails at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) begin(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// isCheckViolation reports a CHECK constraint failure (SQLSTATE 23514).
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, counterparty, tx_hash, reference, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(30,6), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NOW())
	`, idgen.WithPrefix("ent_"), e.Address, e.Type, e.Amount, e.Counterparty, e.TxHash, e.Reference, e.Description)
	if err != nil {
		return fmt.Errorf("failed to record %s entry: %w", e.Type, err)
	}
	return nil
}

// GetBalance retrieves an account's balance
func (p *PostgresStore) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	bal := &Balance{Address: addr}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed, total_in, total_out, updated_at
		FROM account_balances WHERE address = $1
	`, addr).Scan(&bal.Available, &bal.Escrowed, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return zeroBalance(addr), nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit adds funds to an account's available balance
func (p *PostgresStore) Credit(ctx context.Context, addr, amt, txHash, description string) error {
	tx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(30,6), $2::NUMERIC(30,6), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = account_balances.available + $2::NUMERIC(30,6),
			total_in   = account_balances.total_in  + $2::NUMERIC(30,6),
			updated_at = NOW()
	`, addr, amt)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if err := insertEntry(ctx, tx, &Entry{
		Address: addr, Type: EntryDeposit, Amount: amt, TxHash: txHash, Description: description,
	}); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateDeposit
		}
		return err
	}

	return tx.Commit()
}

// EscrowLock moves funds from available to escrowed.
func (p *PostgresStore) EscrowLock(ctx context.Context, addr, amt, reference string) error {
	tx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			available  = available - $2::NUMERIC(30,6),
			escrowed   = escrowed  + $2::NUMERIC(30,6),
			updated_at = NOW()
		WHERE address = $1
	`, addr, amt)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to lock escrow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	if err := insertEntry(ctx, tx, &Entry{
		Address: addr, Type: EntryEscrowLock, Amount: amt, Reference: reference, Description: "escrow_locked",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseEscrow moves funds from the payer's escrowed to the payee's available.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, from, to, amt, reference string) error {
	tx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			escrowed   = escrowed  - $2::NUMERIC(30,6),
			total_out  = total_out + $2::NUMERIC(30,6),
			updated_at = NOW()
		WHERE address = $1
	`, from, amt)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientEscrow
		}
		return fmt.Errorf("failed to debit escrow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(30,6), $2::NUMERIC(30,6), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = account_balances.available + $2::NUMERIC(30,6),
			total_in   = account_balances.total_in  + $2::NUMERIC(30,6),
			updated_at = NOW()
	`, to, amt)
	if err != nil {
		return fmt.Errorf("failed to credit payee: %w", err)
	}

	if err := insertEntry(ctx, tx, &Entry{
		Address: from, Type: EntryEscrowRelease, Amount: amt, Counterparty: to,
		Reference: reference, Description: "escrow_released_to_seller",
	}); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, &Entry{
		Address: to, Type: EntryEscrowReceive, Amount: amt, Counterparty: from,
		Reference: reference, Description: "escrow_payment_received",
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// RefundEscrow returns escrowed funds to available.
func (p *PostgresStore) RefundEscrow(ctx context.Context, addr, amt, reference string) error {
	tx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			escrowed   = escrowed  - $2::NUMERIC(30,6),
			available  = available + $2::NUMERIC(30,6),
			updated_at = NOW()
		WHERE address = $1
	`, addr, amt)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientEscrow
		}
		return fmt.Errorf("failed to refund escrow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	if err := insertEntry(ctx, tx, &Entry{
		Address: addr, Type: EntryEscrowRefund, Amount: amt, Reference: reference, Description: "escrow_refunded",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// GetHistory retrieves ledger entries for an account, newest first
func (p *PostgresStore) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, amount, counterparty, tx_hash, reference, description, created_at
		FROM ledger_entries
		WHERE address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var counterparty, txHash, reference, description sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &e.Amount, &counterparty, &txHash, &reference, &description, &createdAt); err != nil {
			return nil, err
		}
		e.Counterparty = counterparty.String
		e.TxHash = txHash.String
		e.Reference = reference.String
		e.Description = description.String
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasDeposit checks if a deposit tx has already been processed
func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE tx_hash = $1 AND type = 'deposit')
	`, txHash).Scan(&exists)
	return exists, err
}
