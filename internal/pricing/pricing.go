// Package pricing supplies unit prices for valuing holdings.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceSource quotes the current unit price of a stock
type PriceSource interface {
	Quote(ctx context.Context, stockID int64) (decimal.Decimal, error)
}

// DefaultPlaceholderPrice is quoted for every stock until a market data feed is wired in
var DefaultPlaceholderPrice = decimal.RequireFromString("100.00")

// FixedPriceSource quotes the same price for every stock
type FixedPriceSource struct {
	price decimal.Decimal
}

// NewFixedPriceSource creates a source quoting price
func NewFixedPriceSource(price decimal.Decimal) *FixedPriceSource {
	return &FixedPriceSource{price: price}
}

// ParseFixedPriceSource builds a FixedPriceSource from a configured decimal string
func ParseFixedPriceSource(s string) (*FixedPriceSource, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid placeholder price %q: %w", s, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("placeholder price must be positive, got %s", price)
	}
	return NewFixedPriceSource(price), nil
}

// Quote returns the fixed price regardless of stock
func (s *FixedPriceSource) Quote(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	return s.price, nil
}
