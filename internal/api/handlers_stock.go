package api

import (
	"net/http"
)

// handleListStocks handles GET /api/stocks
func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.services.Stocks.ListStocks(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stocks": stocks})
}

// handleListListings handles GET /api/stocks/{id}/listings
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	listings, err := s.services.Stocks.ListListings(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}
