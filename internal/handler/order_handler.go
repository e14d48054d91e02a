package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
)

type CreateOrderRequest struct {
	ShippingAddress  string           `json:"shipping_address" validate:"required,max=500"`
	BillingAddress   string           `json:"billing_address" validate:"required,max=500"`
	BillingStateCode string           `json:"billing_state_code" validate:"omitempty,len=2,alpha"`
	ShippingAmount   *decimal.Decimal `json:"shipping_amount,omitempty"`
	PaymentMethod    string           `json:"payment_method" validate:"required,oneof=CreditCard PurchaseOrder Cash"`
	Notes            string           `json:"notes" validate:"max=1000"`
}

type UpdateStatusRequest struct {
	Status         string  `json:"status" validate:"required,oneof=Pending Confirmed Processing Shipped Delivered Cancelled Refunded"`
	TrackingNumber *string `json:"tracking_number,omitempty" validate:"omitempty,max=100"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes expects the router to run RequireUser.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Put("/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	if negativeShipping(w, req.ShippingAmount) {
		return
	}

	created, err := h.service.CreateFromCart(r.Context(), order.CreateFromCartInput{
		UserID:                 userIDFrom(r.Context()),
		ShippingAddress:        req.ShippingAddress,
		BillingAddress:         req.BillingAddress,
		BillingStateCode:       req.BillingStateCode,
		ShippingAmountOverride: req.ShippingAmount,
		PaymentMethod:          order.PaymentMethod(req.PaymentMethod),
		Notes:                  req.Notes,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), id, userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.UpdateStatus(r.Context(), id, order.Status(req.Status), req.TrackingNumber)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil || id <= 0 {
		log.Warn().Str("order_id", idParam).Msg("handler: failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return 0, false
	}
	return id, true
}
