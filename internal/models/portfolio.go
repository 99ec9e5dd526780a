package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio represents an investor's account holding stock positions
type Portfolio struct {
	ID             int64           `json:"id" db:"portfolio_id"`
	InvestorID     int64           `json:"investorId" db:"investor_id"`
	Name           string          `json:"name" db:"name"`
	AccountBalance decimal.Decimal `json:"accountBalance" db:"account_balance"`
	CreationDate   time.Time       `json:"creationDate" db:"creation_date"`
}
