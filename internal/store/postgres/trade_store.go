package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swingold/escrowd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, item_name, item_category, buyer, seller, price::text, status, created_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeEntry, error) {
	var entries []domain.TradeEntry
	for rows.Next() {
		var e domain.TradeEntry
		if err := rows.Scan(
			&e.ID, &e.ItemName, &e.ItemCategory, &e.Buyer, &e.Seller,
			&e.Price, &e.Status, &e.CreatedAt, &e.ClosedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert records a newly opened trade.
func (s *TradeStore) Insert(ctx context.Context, entry domain.TradeEntry) error {
	const query = `
		INSERT INTO trades (id, item_name, item_category, buyer, seller, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.ItemName, entry.ItemCategory,
		entry.Buyer, entry.Seller, entry.Price, entry.Status, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// UpdateStatus records a trade's terminal transition.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, status string, closedAt time.Time) error {
	const query = `UPDATE trades SET status = $2, closed_at = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, status, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: update trade status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update trade status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the journal row for a single trade.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeEntry, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`

	var e domain.TradeEntry
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.ItemName, &e.ItemCategory, &e.Buyer, &e.Seller,
		&e.Price, &e.Status, &e.CreatedAt, &e.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeEntry{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return e, nil
}

// ListByItem returns the trade history for an item name, newest first.
func (s *TradeStore) ListByItem(ctx context.Context, itemName string, opts domain.ListOpts) ([]domain.TradeEntry, error) {
	return s.list(ctx, `item_name = $1`, itemName, opts, "list trades by item")
}

// ListByAccount returns trades where the account appears as buyer or seller.
func (s *TradeStore) ListByAccount(ctx context.Context, address string, opts domain.ListOpts) ([]domain.TradeEntry, error) {
	return s.list(ctx, `(buyer = $1 OR seller = $1)`, address, opts, "list trades by account")
}

func (s *TradeStore) list(ctx context.Context, where, arg string, opts domain.ListOpts, op string) ([]domain.TradeEntry, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + where
	args := []any{arg}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	entries, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return entries, nil
}

// ListBefore returns all trades created strictly before the given time (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEntry, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes all trades created before the given time. Returns the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
