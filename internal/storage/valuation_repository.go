package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/stock-portfolio/internal/models"
)

// ValuationRepository stores daily portfolio valuation snapshots
type ValuationRepository struct {
	db *PostgresDB
}

// NewValuationRepository creates a new valuation repository
func NewValuationRepository(db *PostgresDB) *ValuationRepository {
	return &ValuationRepository{db: db}
}

// Upsert stores a snapshot, replacing any earlier one for the same portfolio and day
func (r *ValuationRepository) Upsert(ctx context.Context, s *models.ValuationSnapshot) error {
	query := `
		INSERT INTO portfolio_valuations (portfolio_id, snapshot_date, total_value, holding_count, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (portfolio_id, snapshot_date) DO UPDATE
		SET total_value = EXCLUDED.total_value,
		    holding_count = EXCLUDED.holding_count,
		    created_at = EXCLUDED.created_at
		RETURNING created_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		s.PortfolioID,
		s.SnapshotDate,
		s.TotalValue,
		s.HoldingCount,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert valuation snapshot: %w", err)
	}
	return nil
}

// ListRange returns snapshots of a portfolio between from and to inclusive, oldest first
func (r *ValuationRepository) ListRange(ctx context.Context, portfolioID int64, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT portfolio_id, snapshot_date, total_value, holding_count, created_at
		FROM portfolio_valuations
		WHERE portfolio_id = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date ASC
	`, portfolioID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list valuation snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.ValuationSnapshot, 0)
	for rows.Next() {
		var s models.ValuationSnapshot
		if err := rows.Scan(&s.PortfolioID, &s.SnapshotDate, &s.TotalValue, &s.HoldingCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan valuation snapshot: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating valuation snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteBefore removes snapshots older than cutoff and returns how many were removed
func (r *ValuationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM portfolio_valuations WHERE snapshot_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune valuation snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
