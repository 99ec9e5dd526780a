// Package types provides common type definitions for the stock portfolio service.
package types

import (
	"fmt"
	"strings"
)

// OrderType represents the side of an order
type OrderType string

const (
	// OrderTypeBuy adds shares to a holding
	OrderTypeBuy OrderType = "buy"
	// OrderTypeSell removes shares from a holding
	OrderTypeSell OrderType = "sell"
)

// ParseOrderType parses an order type case-insensitively ("BUY", "Sell", ...)
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case OrderTypeBuy:
		return OrderTypeBuy, nil
	case OrderTypeSell:
		return OrderTypeSell, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	// OrderStatusPending is assigned to every newly placed order
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusCompleted represents a settled order
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusCancelled represents an order withdrawn before settlement
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusFailed represents an order that could not be executed
	OrderStatusFailed OrderStatus = "Failed"
)

// RiskProfile represents an investor's risk tolerance classification
type RiskProfile string

const (
	RiskConservative   RiskProfile = "Conservative"
	RiskModerate       RiskProfile = "Moderate"
	RiskAggressive     RiskProfile = "Aggressive"
	RiskVeryAggressive RiskProfile = "Very Aggressive"
)

// RiskProfiles lists the accepted risk profiles in ascending order of tolerance
var RiskProfiles = []RiskProfile{RiskConservative, RiskModerate, RiskAggressive, RiskVeryAggressive}

// ParseRiskProfile matches a risk profile ignoring case and surrounding whitespace
func ParseRiskProfile(s string) (RiskProfile, error) {
	for _, p := range RiskProfiles {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown risk profile %q", s)
}

// PaymentType represents how a buy order is funded
type PaymentType string

const (
	PaymentCreditCard   PaymentType = "Credit Card"
	PaymentDebitCard    PaymentType = "Debit Card"
	PaymentBankTransfer PaymentType = "Bank Transfer"
	PaymentWireTransfer PaymentType = "Wire Transfer"
	PaymentCash         PaymentType = "Cash"
)

// DefaultPaymentType is used when a buy order does not name one
const DefaultPaymentType = PaymentCash

var paymentTypes = []PaymentType{
	PaymentCreditCard,
	PaymentDebitCard,
	PaymentBankTransfer,
	PaymentWireTransfer,
	PaymentCash,
}

// ParsePaymentType matches a payment type ignoring case; empty input yields the default
func ParsePaymentType(s string) (PaymentType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPaymentType, nil
	}
	for _, p := range paymentTypes {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown payment type %q", s)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Error codes shared by services and the HTTP layer
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidOrderType    = "INVALID_ORDER_TYPE"
	CodePortfolioNotFound   = "PORTFOLIO_NOT_FOUND"
	CodeStockNotFound       = "STOCK_NOT_FOUND"
	CodeInvestorNotFound    = "INVESTOR_NOT_FOUND"
	CodeInsufficientHolding = "INSUFFICIENT_HOLDING"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeEmailInUse          = "EMAIL_IN_USE"
)
