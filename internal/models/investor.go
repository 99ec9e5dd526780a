package models

import (
	"github.com/stock-portfolio/internal/types"
)

// Investor represents a person who owns portfolios
type Investor struct {
	ID            int64             `json:"id" db:"investor_id"`
	FirstName     string            `json:"firstName" db:"first_name"`
	MiddleInitial *string           `json:"middleInitial,omitempty" db:"middle_initial"`
	LastName      string            `json:"lastName" db:"last_name"`
	Email         string            `json:"email" db:"email"`
	RiskProfile   types.RiskProfile `json:"riskProfile" db:"risk_profile"`
}

// FullName joins first, middle initial and last name
func (i *Investor) FullName() string {
	name := i.FirstName
	if i.MiddleInitial != nil && *i.MiddleInitial != "" {
		name += " " + *i.MiddleInitial + "."
	}
	return name + " " + i.LastName
}
