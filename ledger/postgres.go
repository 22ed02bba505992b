package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores one row per record in goguard_attempts. Record IDs must be
// UUIDs.
//
// Rows are only ever inserted; retention is left to an external job keyed on
// occurred_at.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a ledger over db. The caller owns db and registers the
// driver (lib/pq).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, sub)
	if err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var blockedUntil sql.NullTime
	if rec.BlockedUntil != nil {
		blockedUntil = sql.NullTime{Time: rec.BlockedUntil.UTC(), Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO goguard_attempts (id, axis, axis_value, operation, outcome, occurred_at, blocked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, string(rec.Axis), rec.AxisValue, rec.Operation, string(rec.Outcome), rec.Timestamp.UTC(), blockedUntil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) CountSince(ctx context.Context, q Query) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM goguard_attempts
		WHERE axis = $1 AND axis_value = $2
		  AND blocked_until IS NULL
		  AND occurred_at >= $3
		  AND ($4 = '*' OR operation = $4)
		  AND ($5 = '' OR outcome = $5)
	`, string(q.Axis), q.Value, q.Since.UTC(), q.Operation, string(q.Outcome)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (p *Postgres) TimestampsSince(ctx context.Context, q Query) ([]time.Time, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT occurred_at FROM goguard_attempts
		WHERE axis = $1 AND axis_value = $2
		  AND blocked_until IS NULL
		  AND occurred_at >= $3
		  AND ($4 = '*' OR operation = $4)
		  AND ($5 = '' OR outcome = $5)
		ORDER BY occurred_at ASC
	`, string(q.Axis), q.Value, q.Since.UTC(), q.Operation, string(q.Outcome))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (p *Postgres) FindActiveBlock(ctx context.Context, axis Axis, value, operation string, now time.Time) (*time.Time, error) {
	var until sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT MAX(blocked_until) FROM goguard_attempts
		WHERE axis = $1 AND axis_value = $2
		  AND blocked_until > $3
		  AND operation IN ($4, '*')
	`, string(axis), value, now.UTC(), operation).Scan(&until)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !until.Valid {
		return nil, nil
	}
	return &until.Time, nil
}
