package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationSnapshot represents the stored daily value of a portfolio
type ValuationSnapshot struct {
	PortfolioID  int64           `json:"portfolioId" db:"portfolio_id"`
	SnapshotDate time.Time       `json:"snapshotDate" db:"snapshot_date"`
	TotalValue   decimal.Decimal `json:"totalValue" db:"total_value"`
	HoldingCount int             `json:"holdingCount" db:"holding_count"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}
