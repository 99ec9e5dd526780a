package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/types"
)

// Repository interfaces for dependency injection

// PortfolioRepository interface for portfolio data operations
type PortfolioRepository interface {
	Create(ctx context.Context, portfolio *models.Portfolio) error
	GetByID(ctx context.Context, id int64) (*models.Portfolio, error)
	List(ctx context.Context, investorID *int64) ([]*models.Portfolio, error)
	Delete(ctx context.Context, id int64) error
}

// InvestorChecker reports whether an investor exists
type InvestorChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// maxBalanceScale matches the NUMERIC(18,2) account_balance column
const maxBalanceScale = 2

// maxBalance is the first value a NUMERIC(18,2) column cannot hold
var maxBalance = decimal.New(1, 18-maxBalanceScale)

// PortfolioService handles portfolio management
type PortfolioService struct {
	portfolioRepo PortfolioRepository
	investors     InvestorChecker
	cache         CacheInvalidator
}

// NewPortfolioService creates a new portfolio service. cache may be nil.
func NewPortfolioService(portfolioRepo PortfolioRepository, investors InvestorChecker, cache CacheInvalidator) *PortfolioService {
	return &PortfolioService{
		portfolioRepo: portfolioRepo,
		investors:     investors,
		cache:         cache,
	}
}

// CreatePortfolioInput represents input for creating a portfolio
type CreatePortfolioInput struct {
	InvestorID int64           `json:"investorId"`
	Name       string          `json:"name"`
	Deposit    decimal.Decimal `json:"deposit"`
}

// ListPortfolios returns every portfolio, or only those of investorID when set
func (s *PortfolioService) ListPortfolios(ctx context.Context, investorID *int64) ([]*models.Portfolio, error) {
	if investorID != nil && *investorID <= 0 {
		return nil, apperrors.NewInvalidInputError("investorId", "must be a positive integer")
	}

	portfolios, err := s.portfolioRepo.List(ctx, investorID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to list portfolios")
		return nil, apperrors.NewDatabaseError("portfolio listing", err)
	}
	return portfolios, nil
}

// CreatePortfolio opens a portfolio for an existing investor with the
// deposit as its starting balance
func (s *PortfolioService) CreatePortfolio(ctx context.Context, input *CreatePortfolioInput) (*models.Portfolio, error) {
	name := strings.TrimSpace(input.Name)
	if input.InvestorID <= 0 {
		return nil, apperrors.NewInvalidInputError("investorId", "must be a positive integer")
	}
	if name == "" {
		return nil, apperrors.NewInvalidInputError("name", "is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return nil, apperrors.NewInvalidInputError("name", "must be at most 100 characters")
	}
	if input.Deposit.IsNegative() {
		return nil, apperrors.NewInvalidInputError("deposit", "must not be negative")
	}
	if input.Deposit.Exponent() < -maxBalanceScale {
		return nil, apperrors.NewInvalidInputError("deposit", "must have at most 2 decimal places")
	}
	if input.Deposit.GreaterThanOrEqual(maxBalance) {
		return nil, apperrors.NewInvalidInputError("deposit", "must be less than "+maxBalance.String())
	}

	logger := logging.FromContext(ctx).WithField("investorId", input.InvestorID)

	exists, err := s.investors.Exists(ctx, input.InvestorID)
	if err != nil {
		logger.WithError(err).Error("Failed to check investor")
		return nil, apperrors.NewDatabaseError("portfolio creation", err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundError(types.CodeInvestorNotFound, "investor", input.InvestorID)
	}

	portfolio := &models.Portfolio{
		InvestorID:     input.InvestorID,
		Name:           name,
		AccountBalance: input.Deposit,
	}
	if err := s.portfolioRepo.Create(ctx, portfolio); err != nil {
		logger.WithError(err).Error("Failed to create portfolio")
		return nil, apperrors.NewDatabaseError("portfolio creation", err)
	}

	logger.WithField("portfolioId", portfolio.ID).Info("Portfolio created")
	return portfolio, nil
}

// GetPortfolio retrieves a portfolio by ID
func (s *PortfolioService) GetPortfolio(ctx context.Context, id int64) (*models.Portfolio, error) {
	if id <= 0 {
		return nil, apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}

	portfolio, err := s.portfolioRepo.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(types.CodePortfolioNotFound, "portfolio", id)
	}
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to get portfolio")
		return nil, apperrors.NewDatabaseError("portfolio lookup", err)
	}
	return portfolio, nil
}

// DeletePortfolio removes a portfolio together with its holdings, orders and
// snapshots, then drops its cached views
func (s *PortfolioService) DeletePortfolio(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}

	logger := logging.FromContext(ctx).WithField("portfolioId", id)

	err := s.portfolioRepo.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(types.CodePortfolioNotFound, "portfolio", id)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to delete portfolio")
		return apperrors.NewDatabaseError("portfolio deletion", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePortfolio(ctx, id); err != nil {
			logger.WithError(err).Warn("Failed to invalidate portfolio cache")
		}
	}

	logger.Info("Portfolio deleted")
	return nil
}
