package models

// Stock represents a tradable security
type Stock struct {
	ID          int64  `json:"id" db:"stock_id"`
	CompanyName string `json:"companyName" db:"company_name"`
	Sector      string `json:"sector" db:"sector"`
}

// MarketListing holds the exchange and ticker of a stock; a stock may be listed on several exchanges
type MarketListing struct {
	StockID      int64  `json:"stockId" db:"stock_id"`
	ExchangeCode string `json:"exchangeCode" db:"exchange_code"`
	SymbolCode   string `json:"symbolCode" db:"symbol_code"`
}
