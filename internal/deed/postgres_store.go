package deed

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

// PostgresStore persists deeds in PostgreSQL. IDs come from a BIGSERIAL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed deed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deedColumns = `id, owner, token_uri, approved, previous_owner, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, d *Deed) error {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO deeds (owner, token_uri, approved, previous_owner, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		RETURNING id
	`, d.Owner, d.TokenURI, d.Approved, d.PreviousOwner, d.CreatedAt, d.UpdatedAt).Scan(&id)
	if err != nil {
		return err
	}
	d.ID = strconv.FormatInt(id, 10)
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Deed, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrDeedNotFound
	}
	d, err := scanDeed(p.db.QueryRowContext(ctx, `SELECT `+deedColumns+` FROM deeds WHERE id = $1`, n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeedNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Deed) error {
	n, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return ErrDeedNotFound
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE deeds SET owner = $1, approved = NULLIF($2, ''), previous_owner = NULLIF($3, ''), updated_at = $4
		WHERE id = $5
	`, d.Owner, d.Approved, d.PreviousOwner, d.UpdatedAt, n)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrDeedNotFound
	}
	return nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*Deed, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+deedColumns+` FROM deeds WHERE owner = $1 ORDER BY id LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Deed
	for rows.Next() {
		d, err := scanDeed(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeed(sc scanner) (*Deed, error) {
	d := &Deed{}
	var (
		id                      int64
		approved, previousOwner sql.NullString
	)
	if err := sc.Scan(&id, &d.Owner, &d.TokenURI, &approved, &previousOwner, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ID = strconv.FormatInt(id, 10)
	d.Approved = approved.String
	d.PreviousOwner = previousOwner.String
	return d, nil
}
