package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists escrow records and their events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `asset_id, status, purchase_price, escrow_amount, seller, buyer, lender,
	inspection_passed, buyer_approved, seller_approved, lender_approved,
	deposited_balance, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow, ev *Event) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO escrows (`+escrowColumns+`) VALUES (
				$1, $2, $3::NUMERIC(30,6), $4::NUMERIC(30,6), $5, $6, $7,
				$8, $9, $10, $11,
				$12::NUMERIC(30,6), $13, $14, $15
			)
			ON CONFLICT (asset_id) DO NOTHING`,
			e.AssetID, string(e.Status), e.PurchasePrice, e.EscrowAmount, e.Seller, e.Buyer, e.Lender,
			e.InspectionPassed, e.Approved(e.Buyer), e.Approved(e.Seller), e.Approved(e.Lender),
			e.DepositedBalance, e.CreatedAt, e.UpdatedAt, nullTime(e.ResolvedAt),
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrAlreadyListed
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (p *PostgresStore) Get(ctx context.Context, assetID string) (*Escrow, error) {
	e, err := scanEscrow(p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE asset_id = $1`, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow, ev *Event) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE escrows SET
				status = $1, inspection_passed = $2,
				buyer_approved = $3, seller_approved = $4, lender_approved = $5,
				deposited_balance = $6::NUMERIC(30,6), updated_at = $7, resolved_at = $8
			WHERE asset_id = $9 AND status = $10`,
			string(e.Status), e.InspectionPassed,
			e.Approved(e.Buyer), e.Approved(e.Seller), e.Approved(e.Lender),
			e.DepositedBalance, e.UpdatedAt, nullTime(e.ResolvedAt),
			e.AssetID, string(StatusListed),
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM escrows WHERE asset_id = $1)`, e.AssetID,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrTerminal
			}
			return ErrNotFound
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (p *PostgresStore) ListByParticipant(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE buyer = $1 OR seller = $1 OR lender = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Events(ctx context.Context, assetID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, asset_id, type, actor, amount, passed, created_at
		FROM escrow_events WHERE asset_id = $1 ORDER BY seq
	`, assetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var (
			ev     Event
			typ    string
			amt    sql.NullString
			passed sql.NullBool
		)
		if err := rows.Scan(&ev.ID, &ev.AssetID, &typ, &ev.Actor, &amt, &passed, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(typ)
		if amt.Valid {
			ev.Amount = amt.String
		}
		if passed.Valid {
			b := passed.Bool
			ev.Passed = &b
		}
		result = append(result, &ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM escrows WHERE status = $1`, string(StatusListed)).Scan(&n)
	return n, err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *Event) error {
	if ev == nil {
		return nil
	}
	var passed sql.NullBool
	if ev.Passed != nil {
		passed = sql.NullBool{Bool: *ev.Passed, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrow_events (id, asset_id, type, actor, amount, passed, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::NUMERIC(30,6), $6, $7)
	`, ev.ID, ev.AssetID, string(ev.Type), ev.Actor, ev.Amount, passed, ev.CreatedAt)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(sc scanner) (*Escrow, error) {
	var (
		e                           Escrow
		status                      string
		buyerOK, sellerOK, lenderOK bool
		resolvedAt                  sql.NullTime
	)
	err := sc.Scan(
		&e.AssetID, &status, &e.PurchasePrice, &e.EscrowAmount, &e.Seller, &e.Buyer, &e.Lender,
		&e.InspectionPassed, &buyerOK, &sellerOK, &lenderOK,
		&e.DepositedBalance, &e.CreatedAt, &e.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.Approvals = map[string]bool{
		e.Buyer:  buyerOK,
		e.Seller: sellerOK,
		e.Lender: lenderOK,
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
