package api

import (
	"net/http"

	"github.com/stock-portfolio/internal/service"
)

// handleListInvestors handles GET /api/investors
func (s *Server) handleListInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := s.services.Investors.ListInvestors(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, investors)
}

// handleGetInvestor handles GET /api/investor/{id}
func (s *Server) handleGetInvestor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	investor, err := s.services.Investors.GetInvestor(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, investor)
}

// handleUpdateInvestor handles PUT /api/investor/{id}
func (s *Server) handleUpdateInvestor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var input service.UpdateInvestorInput
	if err := parseJSONBody(r, &input); err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.services.Investors.UpdateInvestor(r.Context(), id, &input); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
