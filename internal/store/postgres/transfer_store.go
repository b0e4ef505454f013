package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swingold/escrowd/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const transferSelectCols = `id, from_addr, to_addr, amount::text, kind, occurred_at`

func scanTransferRows(rows pgx.Rows) ([]domain.TransferEntry, error) {
	var entries []domain.TransferEntry
	for rows.Next() {
		var e domain.TransferEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Amount, &kind, &e.At); err != nil {
			return nil, err
		}
		e.Kind = domain.TransferKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert appends a single journal entry.
func (s *TransferStore) Insert(ctx context.Context, entry domain.TransferEntry) error {
	const query = `
		INSERT INTO transfers (from_addr, to_addr, amount, kind, occurred_at)
		VALUES ($1, $2, $3::numeric, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		entry.From, entry.To, entry.Amount, string(entry.Kind), entry.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transfer: %w", err)
	}
	return nil
}

// ListByAccount returns journal entries where the account appears as sender
// or receiver, with pagination and optional time filtering.
func (s *TransferStore) ListByAccount(ctx context.Context, address string, opts domain.ListOpts) ([]domain.TransferEntry, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE (from_addr = $1 OR to_addr = $1)`
	args := []any{address}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY occurred_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers by account: %w", err)
	}
	defer rows.Close()

	entries, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transfers by account: %w", err)
	}
	return entries, nil
}

// ListBefore returns all entries that occurred strictly before the given time (for archiving).
func (s *TransferStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransferEntry, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE occurred_at < $1 ORDER BY occurred_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers before: %w", err)
	}
	defer rows.Close()
	return scanTransferRows(rows)
}

// DeleteBefore deletes all entries that occurred before the given time. Returns the number deleted.
func (s *TransferStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transfers before: %w", err)
	}
	return tag.RowsAffected(), nil
}
