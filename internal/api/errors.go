package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError writes err as {error, code}. Only the categorized message is
// sent; causes stay in the log.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code).Error("Request failed")
	}

	response := ErrorResponse{
		Error: catErr.Message,
		Code:  catErr.Code,
	}
	if catErr.StatusCode < http.StatusInternalServerError {
		response.Details = catErr.Details
	}
	if catErr.Code == "INTERNAL_ERROR" {
		response.Error = "Internal Server Error"
	}

	respondJSON(w, catErr.StatusCode, response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apperrors.NewInvalidInputError("body", "is required")
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperrors.NewInvalidInputError(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
		}
		return apperrors.NewInvalidInputError("body", "must be valid JSON")
	}
	return nil
}

// pathID reads a positive integer route variable
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInputError(name, "must be a positive integer")
	}
	return id, nil
}

// queryLimit reads ?limit, falling back to def and capping at maxLimit
func queryLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.NewInvalidInputError("limit", "must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
