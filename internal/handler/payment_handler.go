package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBytes = 64 << 10
)

type StartCheckoutRequest struct {
	ShippingAddress  string           `json:"shipping_address" validate:"required,max=500"`
	BillingAddress   string           `json:"billing_address" validate:"required,max=500"`
	BillingStateCode string           `json:"billing_state_code" validate:"omitempty,len=2,alpha"`
	ShippingAmount   *decimal.Decimal `json:"shipping_amount,omitempty"`
	Notes            string           `json:"notes" validate:"max=450"`
	SuccessURL       string           `json:"success_url" validate:"omitempty,url"`
	CancelURL        string           `json:"cancel_url" validate:"omitempty,url"`
}

// ConfirmPaymentRequest confirms a paid checkout session. Optional fields
// override what the session carried.
type ConfirmPaymentRequest struct {
	SessionID       string           `json:"session_id" validate:"required,max=255"`
	PaymentMethod   string           `json:"payment_method" validate:"omitempty,oneof=CreditCard PurchaseOrder Cash"`
	ShippingAddress *string          `json:"shipping_address,omitempty" validate:"omitempty,max=500"`
	BillingAddress  *string          `json:"billing_address,omitempty" validate:"omitempty,max=500"`
	Notes           *string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
	ShippingAmount  *decimal.Decimal `json:"shipping_amount,omitempty"`
}

type PaymentHandler struct {
	service  order.Service
	verifier checkout.WebhookVerifier
	validate *validator.Validate
}

func NewPaymentHandler(service order.Service, verifier checkout.WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		verifier: verifier,
		validate: validator.New(),
	}
}

// RegisterRoutes expects the router to run RequireUser.
func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/checkout", h.handleStartCheckout)
	router.Post("/payments/confirm", h.handleConfirm)
	router.Post("/payments/cancel/{sessionID}", h.handleCancel)
}

// RegisterWebhook mounts the gateway callback, which authenticates by
// signature instead of the user header.
func (h *PaymentHandler) RegisterWebhook(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	if negativeShipping(w, req.ShippingAmount) {
		return
	}

	ref, err := h.service.StartCheckout(r.Context(), userIDFrom(r.Context()), order.StartCheckoutInput{
		ShippingAddress:        req.ShippingAddress,
		BillingAddress:         req.BillingAddress,
		BillingStateCode:       req.BillingStateCode,
		ShippingAmountOverride: req.ShippingAmount,
		Notes:                  req.Notes,
		SuccessURL:             req.SuccessURL,
		CancelURL:              req.CancelURL,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to start checkout")
		return
	}

	respondWithJSON(w, http.StatusCreated, ref)
}

func (h *PaymentHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	if negativeShipping(w, req.ShippingAmount) {
		return
	}

	confirmed, err := h.service.ConfirmPayment(r.Context(), order.ConfirmPaymentInput{
		SessionID:     req.SessionID,
		UserID:        userIDFrom(r.Context()),
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		Overrides: order.Overrides{
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			Notes:           req.Notes,
			ShippingAmount:  req.ShippingAmount,
		},
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to confirm payment")
		return
	}

	respondWithJSON(w, http.StatusOK, confirmed)
}

func (h *PaymentHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	cancelled, err := h.service.CancelPayment(r.Context(), sessionID, userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel payment")
		return
	}

	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	evt, err := h.verifier.ParseEvent(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, checkout.ErrInvalidSignature) {
			log.Warn().Err(err).Msg("handler: rejected webhook with invalid signature")
		}
		respondWithServiceError(w, err, "Failed to parse webhook")
		return
	}

	reconciled, err := h.service.HandleGatewayEvent(r.Context(), evt)
	if err != nil {
		// Only failures a redelivery could fix get a non-2xx, which makes the
		// gateway retry. Duplicates are absorbed by reconciliation.
		if code := mapErrorToStatusCode(err); code >= http.StatusInternalServerError {
			log.Warn().Err(err).Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("handler: webhook event not processed, awaiting redelivery")
			respondWithServiceError(w, err, "Failed to process webhook")
			return
		}
		log.Error().Err(err).Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("handler: webhook event rejected, acknowledging without retry")
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true, "ignored": err.Error()})
		return
	}

	resp := map[string]interface{}{"received": true}
	if reconciled != nil {
		resp["order_id"] = reconciled.ID
	}
	respondWithJSON(w, http.StatusOK, resp)
}
