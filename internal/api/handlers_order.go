package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/service"
)

const maxOrderListLimit = 1000

// placeOrderRequest accepts the field names of both order endpoints the
// frontend has used: stockId or sId, portfolioId or pId
type placeOrderRequest struct {
	InvestorID  int64           `json:"investorId"`
	PortfolioID int64           `json:"portfolioId"`
	PID         int64           `json:"pId"`
	StockID     int64           `json:"stockId"`
	SID         int64           `json:"sId"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Type        string          `json:"type"`
	PaymentType string          `json:"paymentType"`
}

func (req *placeOrderRequest) input() service.PlaceOrderInput {
	in := service.PlaceOrderInput{
		InvestorID:  req.InvestorID,
		PortfolioID: req.PortfolioID,
		StockID:     req.StockID,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Type:        req.Type,
		PaymentType: req.PaymentType,
	}
	if in.PortfolioID == 0 {
		in.PortfolioID = req.PID
	}
	if in.StockID == 0 {
		in.StockID = req.SID
	}
	return in
}

// handleListOrders handles GET /api/orders?limit
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 0, maxOrderListLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	orders, err := s.services.Orders.ListOrders(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// handlePlaceOrder handles POST /api/orders and POST /api/place_order
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.services.Orders.PlaceOrder(r.Context(), req.input())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}
