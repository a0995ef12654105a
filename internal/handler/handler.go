// Package handler exposes the order coordinator over HTTP/JSON. Routes map
// one-to-one onto the service operations; domain errors map onto status
// codes (422 validation, 404 not found, 409 illegal transition or conflict,
// 502 booking failure).
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/giftflare/orderflow/internal/domain/order"
)

// Handler serves the order API.
type Handler struct {
	orders *order.Service
}

// NewHandler constructs a Handler over the order service.
func NewHandler(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

// Register mounts all routes on mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /api/buyers/{id}/orders", h.listBuyerOrders)
	mux.HandleFunc("POST /api/orders/{id}/transition", h.transitionOrder)
	mux.HandleFunc("POST /api/orders/{id}/book-delivery", h.bookDelivery)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, errorResponse{Code: status, Message: msg})
}
