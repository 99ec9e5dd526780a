package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/stock-portfolio/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or missing input (400)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents a referenced entity that does not exist (404)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents a request that contradicts current state (409)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents throttled requests (429)
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryDatabase represents relational store failures (500)
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents any other internal failure (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError. The cause is never exposed.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidInputError reports a missing or malformed field
func NewInvalidInputError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInvalidInput,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewInvalidOrderTypeError reports an order type other than buy or sell
func NewInvalidOrderTypeError(orderType string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInvalidOrderType,
		Message:    "order type must be 'buy' or 'sell'",
		Details: map[string]interface{}{
			"type": orderType,
		},
	}
}

// NewNotFoundError creates a not found error for the given resource code
// (PORTFOLIO_NOT_FOUND, STOCK_NOT_FOUND, INVESTOR_NOT_FOUND).
func NewNotFoundError(code string, resource string, id int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       code,
		Message:    fmt.Sprintf("%s not found", resource),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInsufficientHoldingError reports a sell larger than the held quantity
func NewInsufficientHoldingError(held, requested int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       types.CodeInsufficientHolding,
		Message:    fmt.Sprintf("cannot sell %d shares, only %d held", requested, held),
		Details: map[string]interface{}{
			"held":      held,
			"requested": requested,
		},
	}
}

// NewConflictError reports a write that collides with existing data
func NewConflictError(code string, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error. The message stays generic so
// driver output never reaches clients; the cause is kept for logging.
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       types.CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       types.CodeServiceUnavailable,
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	out := &CategorizedError{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}

	switch err.Code {
	case types.CodeInvalidInput, types.CodeInvalidOrderType:
		out.Category, out.StatusCode = CategoryValidation, http.StatusBadRequest
	case types.CodePortfolioNotFound, types.CodeStockNotFound, types.CodeInvestorNotFound:
		out.Category, out.StatusCode = CategoryNotFound, http.StatusNotFound
	case types.CodeInsufficientHolding, types.CodeEmailInUse:
		out.Category, out.StatusCode = CategoryConflict, http.StatusConflict
	case types.CodeServiceUnavailable:
		out.Category, out.StatusCode = CategorySystem, http.StatusServiceUnavailable
	case types.CodeDatabaseError:
		out.Category, out.StatusCode = CategoryDatabase, http.StatusInternalServerError
	default:
		out.Category, out.StatusCode = CategorySystem, http.StatusInternalServerError
	}
	return out
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 500
}

// IsRetryable reports whether a startup or background operation may be retried.
// Order statements are never retried regardless of this result.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}
