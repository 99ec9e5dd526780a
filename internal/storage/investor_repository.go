package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/types"
)

// InvestorRepository handles investor data persistence
type InvestorRepository struct {
	db *PostgresDB
}

// NewInvestorRepository creates a new investor repository
func NewInvestorRepository(db *PostgresDB) *InvestorRepository {
	return &InvestorRepository{db: db}
}

const investorColumns = `investor_id, first_name, middle_initial, last_name, email, risk_profile`

func scanInvestor(row pgx.Row) (*models.Investor, error) {
	var inv models.Investor
	var risk string
	if err := row.Scan(
		&inv.ID,
		&inv.FirstName,
		&inv.MiddleInitial,
		&inv.LastName,
		&inv.Email,
		&risk,
	); err != nil {
		return nil, err
	}
	inv.RiskProfile = types.RiskProfile(risk)
	return &inv, nil
}

// GetByID retrieves an investor by ID
func (r *InvestorRepository) GetByID(ctx context.Context, id int64) (*models.Investor, error) {
	query := `SELECT ` + investorColumns + ` FROM investors WHERE investor_id = $1`

	inv, err := scanInvestor(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get investor: %w", err)
	}
	return inv, nil
}

// List returns all investors ordered by last name, then first name
func (r *InvestorRepository) List(ctx context.Context) ([]*models.Investor, error) {
	query := `SELECT ` + investorColumns + ` FROM investors ORDER BY last_name, first_name`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list investors: %w", err)
	}
	defer rows.Close()

	investors := make([]*models.Investor, 0)
	for rows.Next() {
		inv, err := scanInvestor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investor: %w", err)
		}
		investors = append(investors, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investors: %w", err)
	}
	return investors, nil
}

// Exists reports whether an investor with the given ID exists
func (r *InvestorRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM investors WHERE investor_id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check investor: %w", err)
	}
	return ok, nil
}

// UpdateContact sets the first name, email and risk profile of an investor.
// An empty lastName leaves the stored last name untouched. An email already
// used by another investor returns ErrConflict.
func (r *InvestorRepository) UpdateContact(ctx context.Context, id int64, firstName, lastName, email string, risk types.RiskProfile) error {
	query := `
		UPDATE investors
		SET first_name = $2,
		    last_name = COALESCE(NULLIF($3, ''), last_name),
		    email = $4,
		    risk_profile = $5
		WHERE investor_id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, firstName, lastName, email, string(risk))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update investor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
