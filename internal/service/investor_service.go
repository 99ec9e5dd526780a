package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/types"
)

var validate = validator.New()

// InvestorRepository interface for investor data operations
type InvestorRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Investor, error)
	List(ctx context.Context) ([]*models.Investor, error)
	UpdateContact(ctx context.Context, id int64, firstName, lastName, email string, risk types.RiskProfile) error
}

// InvestorService reads and edits investor profiles
type InvestorService struct {
	investorRepo InvestorRepository
}

// NewInvestorService creates a new investor service
func NewInvestorService(investorRepo InvestorRepository) *InvestorService {
	return &InvestorService{investorRepo: investorRepo}
}

// UpdateInvestorInput represents the editable investor fields. Name is the
// first name; FirstName is accepted as an alias and LastName is optional.
type UpdateInvestorInput struct {
	Name        string `json:"name"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"email"`
	RiskProfile string `json:"riskProfile"`
}

// GetInvestor retrieves an investor by ID
func (s *InvestorService) GetInvestor(ctx context.Context, id int64) (*models.Investor, error) {
	if id <= 0 {
		return nil, apperrors.NewInvalidInputError("investorId", "must be a positive integer")
	}

	inv, err := s.investorRepo.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(types.CodeInvestorNotFound, "investor", id)
	}
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to get investor")
		return nil, apperrors.NewDatabaseError("investor lookup", err)
	}
	return inv, nil
}

// ListInvestors returns every investor ordered by last name, then first name
func (s *InvestorService) ListInvestors(ctx context.Context) ([]*models.Investor, error) {
	investors, err := s.investorRepo.List(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to list investors")
		return nil, apperrors.NewDatabaseError("investor listing", err)
	}
	return investors, nil
}

// UpdateInvestor replaces the name, email and risk profile of an investor
func (s *InvestorService) UpdateInvestor(ctx context.Context, id int64, input *UpdateInvestorInput) error {
	if id <= 0 {
		return apperrors.NewInvalidInputError("investorId", "must be a positive integer")
	}

	firstName := strings.TrimSpace(input.Name)
	if firstName == "" {
		firstName = strings.TrimSpace(input.FirstName)
	}
	if firstName == "" {
		return apperrors.NewInvalidInputError("name", "is required")
	}
	if utf8.RuneCountInString(firstName) > 50 {
		return apperrors.NewInvalidInputError("name", "must be at most 50 characters")
	}
	lastName := strings.TrimSpace(input.LastName)
	if utf8.RuneCountInString(lastName) > 50 {
		return apperrors.NewInvalidInputError("lastName", "must be at most 50 characters")
	}

	email := strings.TrimSpace(input.Email)
	if email == "" {
		return apperrors.NewInvalidInputError("email", "is required")
	}
	if err := validate.Var(email, "email,max=100"); err != nil {
		return apperrors.NewInvalidInputError("email", "must be a valid address")
	}

	risk, err := types.ParseRiskProfile(input.RiskProfile)
	if err != nil {
		return apperrors.NewInvalidInputError("riskProfile", "must be one of Conservative, Moderate, Aggressive, Very Aggressive")
	}

	logger := logging.FromContext(ctx).WithField("investorId", id)

	err = s.investorRepo.UpdateContact(ctx, id, firstName, lastName, email, risk)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError(types.CodeInvestorNotFound, "investor", id)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.NewConflictError(types.CodeEmailInUse, "email is already used by another investor")
	case err != nil:
		logger.WithError(err).Error("Failed to update investor")
		return apperrors.NewDatabaseError("investor update", err)
	}

	logger.Info("Investor updated")
	return nil
}
