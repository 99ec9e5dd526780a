package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stock-portfolio/internal/models"
)

// PortfolioRepository handles portfolio data persistence
type PortfolioRepository struct {
	db *PostgresDB
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *PostgresDB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

const portfolioColumns = `portfolio_id, investor_id, name, account_balance, creation_date`

func scanPortfolio(row pgx.Row) (*models.Portfolio, error) {
	var p models.Portfolio
	err := row.Scan(
		&p.ID,
		&p.InvestorID,
		&p.Name,
		&p.AccountBalance,
		&p.CreationDate,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a portfolio dated today and fills in its ID and creation date
func (r *PortfolioRepository) Create(ctx context.Context, portfolio *models.Portfolio) error {
	query := `
		INSERT INTO portfolios (investor_id, name, account_balance, creation_date)
		VALUES ($1, $2, $3, CURRENT_DATE)
		RETURNING portfolio_id, creation_date
	`

	err := r.db.Pool().QueryRow(ctx, query,
		portfolio.InvestorID,
		portfolio.Name,
		portfolio.AccountBalance,
	).Scan(&portfolio.ID, &portfolio.CreationDate)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}

	return nil
}

// GetByID retrieves a portfolio by ID
func (r *PortfolioRepository) GetByID(ctx context.Context, id int64) (*models.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE portfolio_id = $1`

	p, err := scanPortfolio(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return p, nil
}

// List returns every portfolio, or only those of investorID when it is non-nil
func (r *PortfolioRepository) List(ctx context.Context, investorID *int64) ([]*models.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios`
	args := []any{}
	if investorID != nil {
		query += ` WHERE investor_id = $1`
		args = append(args, *investorID)
	}
	query += ` ORDER BY portfolio_id`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]*models.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

// Delete removes a portfolio; holdings, orders and snapshots cascade
func (r *PortfolioRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM portfolios WHERE portfolio_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
