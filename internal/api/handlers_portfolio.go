package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/service"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// handleListPortfolios handles GET /api/portfolios?investorId=
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	var investorID *int64
	if raw := r.URL.Query().Get("investorId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, r, apperrors.NewInvalidInputError("investorId", "must be a positive integer"))
			return
		}
		investorID = &id
	}

	portfolios, err := s.services.Portfolios.ListPortfolios(r.Context(), investorID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"portfolios": portfolios})
}

// handleCreatePortfolio handles POST /api/portfolios
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvestorID int64            `json:"investorId"`
		Name       string           `json:"name"`
		Deposit    *decimal.Decimal `json:"deposit"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if req.Deposit == nil {
		respondError(w, r, apperrors.NewInvalidInputError("deposit", "is required"))
		return
	}

	input := &service.CreatePortfolioInput{
		InvestorID: req.InvestorID,
		Name:       req.Name,
		Deposit:    *req.Deposit,
	}

	portfolio, err := s.services.Portfolios.CreatePortfolio(r.Context(), input)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"portfolio": portfolio,
	})
}

// handleGetPortfolio handles GET /api/portfolios/{id}
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	portfolio, err := s.services.Portfolios.GetPortfolio(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, portfolio)
}

// handleDeletePortfolio handles DELETE /api/portfolios/{id}
func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.services.Portfolios.DeletePortfolio(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Portfolio deleted",
	})
}

// handleGetHoldings handles GET /api/holdings/{portfolioId}
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "portfolioId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	holdings, err := s.services.Valuation.GetHoldings(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"holdings": holdings})
}

// handleGetPortfolioValue handles GET /api/portfolio-value/{portfolioId}.
// totalValue is a JSON number.
func (s *Server) handleGetPortfolioValue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "portfolioId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	total, err := s.services.Valuation.ComputeValue(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"totalValue": json.Number(total.String())})
}

// handleGetSnapshots handles GET /api/portfolios/{id}/snapshots?dateFrom&dateTo
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	from, err := parseDateParam(r, "dateFrom")
	if err != nil {
		respondError(w, r, err)
		return
	}
	to, err := parseDateParam(r, "dateTo")
	if err != nil {
		respondError(w, r, err)
		return
	}

	snapshots, err := s.services.Snapshots.GetSnapshots(r.Context(), id, from, to)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshots)
}

// handleGetTrades handles GET /api/portfolios/{id}/trades?limit
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, err := queryLimit(r, defaultTradeLimit, maxTradeLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	trades, err := s.services.Orders.ListTrades(r.Context(), id, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, trades)
}

// parseDateParam reads an optional YYYY-MM-DD query parameter
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidInputError(name, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}
