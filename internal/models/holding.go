package models

import (
	"github.com/shopspring/decimal"
)

// Holding is the position of one stock inside one portfolio
type Holding struct {
	PortfolioID   int64           `json:"portfolioId" db:"portfolio_id"`
	StockID       int64           `json:"stockId" db:"stock_id"`
	Quantity      int64           `json:"quantity" db:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice" db:"purchase_price"`
}

// HoldingView is a holding joined with stock and listing metadata and priced at the current quote
type HoldingView struct {
	Holding
	CompanyName  string          `json:"companyName"`
	Sector       string          `json:"sector"`
	ExchangeCode *string         `json:"exchangeCode,omitempty"`
	SymbolCode   *string         `json:"symbolCode,omitempty"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	MarketValue  decimal.Decimal `json:"marketValue"`
}
