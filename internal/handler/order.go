package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/giftflare/orderflow/internal/domain/order"
	"github.com/giftflare/orderflow/internal/notify"
)

type createOrderRequest struct {
	BuyerID          string           `json:"buyer_id"`
	Items            []order.LineItem `json:"items"`
	DeliveryType     string           `json:"delivery_type"`
	DeliveryAddress  order.Address    `json:"delivery_address"`
	FriendDelivery   *order.Recipient `json:"friend_delivery,omitempty"`
	PaymentReference string           `json:"payment_reference,omitempty"`
}

type transitionRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type orderResponse struct {
	ID                string           `json:"id"`
	BuyerID           string           `json:"buyer_id"`
	Items             []order.LineItem `json:"items"`
	TotalAmount       int64            `json:"total_amount"`
	DeliveryType      string           `json:"delivery_type"`
	DeliveryAddress   order.Address    `json:"delivery_address"`
	FriendDelivery    *order.Recipient `json:"friend_delivery,omitempty"`
	Status            string           `json:"status"`
	TrackingNumber    string           `json:"tracking_number,omitempty"`
	PaymentReference  string           `json:"payment_reference,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// notificationResult reports a single channel outcome alongside the primary
// response, so operators can see "succeeded but degraded" without digging
// through logs.
type notificationResult struct {
	Channel string `json:"channel"`
	Status  string `json:"status"` // sent | skipped | failed
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:                o.ID,
		BuyerID:           o.BuyerID,
		Items:             o.Items,
		TotalAmount:       o.TotalAmount,
		DeliveryType:      string(o.DeliveryType),
		DeliveryAddress:   o.DeliveryAddress,
		FriendDelivery:    o.FriendDelivery,
		Status:            string(o.Status),
		TrackingNumber:    o.TrackingNumber,
		PaymentReference:  o.PaymentReference,
		EstimatedDelivery: o.EstimatedDelivery,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func toNotificationResults(in []notify.ChannelResult) []notificationResult {
	out := make([]notificationResult, 0, len(in))
	for _, r := range in {
		status := "sent"
		switch {
		case r.Skipped:
			status = "skipped"
		case r.Err != nil:
			status = "failed"
		}
		out = append(out, notificationResult{Channel: string(r.Channel), Status: status})
	}
	return out
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.orders.Create(r.Context(), order.CreateRequest{
		BuyerID:          req.BuyerID,
		Items:            req.Items,
		DeliveryType:     order.DeliveryType(req.DeliveryType),
		DeliveryAddress:  req.DeliveryAddress,
		FriendDelivery:   req.FriendDelivery,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, struct {
		orderResponse
		Notifications []notificationResult `json:"notifications"`
	}{
		orderResponse: toOrderResponse(result.Order),
		Notifications: toNotificationResults(result.Notifications),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.ListByBuyer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	out := make([]orderResponse, len(list))
	for i := range list {
		out[i] = toOrderResponse(&list[i])
	}
	respondJSON(w, r, http.StatusOK, out)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.orders.Transition(r.Context(), r.PathValue("id"),
		order.Status(req.Status), req.TrackingNumber)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, struct {
		orderResponse
		Applied       bool                 `json:"applied"`
		Notifications []notificationResult `json:"notifications"`
	}{
		orderResponse: toOrderResponse(result.Order),
		Applied:       result.Applied,
		Notifications: toNotificationResults(result.Notifications),
	})
}

func (h *Handler) bookDelivery(w http.ResponseWriter, r *http.Request) {
	result, err := h.orders.BookDelivery(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, struct {
		orderResponse
		TrackingID    string               `json:"tracking_id"`
		Notifications []notificationResult `json:"notifications"`
	}{
		orderResponse: toOrderResponse(result.Order),
		TrackingID:    result.TrackingID,
		Notifications: toNotificationResults(result.Notifications),
	})
}

// mapError converts domain errors to HTTP responses.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr *order.InvalidQuantityError
		ipErr *order.InvalidPriceError
		itErr *order.IllegalTransitionError
		bkErr *order.BookingError
	)
	switch {
	case errors.Is(err, order.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrMissingTracking),
		errors.Is(err, order.ErrNotEligible),
		errors.Is(err, order.ErrFriendDetailsRequired),
		errors.As(err, &iqErr),
		errors.As(err, &ipErr):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &itErr):
		respondError(w, r, http.StatusConflict, itErr.Error())
	case errors.Is(err, order.ErrConflict):
		respondError(w, r, http.StatusConflict, "order was modified concurrently, retry")
	case errors.As(err, &bkErr):
		respondError(w, r, http.StatusBadGateway, "courier booking failed, order unchanged")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
