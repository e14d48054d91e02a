package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

// respondWithServiceError maps a service error to a status code and a
// message safe to show the client. fallback is used for unexpected errors.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	resp := ErrorResponse{Error: clientMessage(err, code, fallback)}

	if errors.Is(err, checkout.ErrGatewayUnavailable) {
		resp.Retryable = true
		w.Header().Set("Retry-After", "5")
	}
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		log.Error().Err(err).Msg("handler: " + fallback)
	}

	respondWithJSON(w, code, resp)
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidSession),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, pricing.ErrNegativeShipping),
		errors.Is(err, checkout.ErrInvalidSignature),
		errors.Is(err, notification.ErrInvalidNotification):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, notification.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrIllegalStatusTransition),
		errors.Is(err, order.ErrPaymentNotCompleted):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrGatewayUnavailable),
		errors.Is(err, checkout.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error, code int, fallback string) string {
	switch {
	case errors.Is(err, order.ErrEmptyCart):
		return "Cart is empty, add items first"
	case errors.Is(err, checkout.ErrNotConfigured):
		return "Payment not configured"
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		return "Payment gateway unavailable, please retry"
	case errors.Is(err, order.ErrPaymentNotCompleted):
		return "Payment not completed"
	case code == http.StatusInternalServerError:
		return fallback
	}
	return err.Error()
}

// negativeShipping writes a validation error and reports true when a
// shipping amount is below zero.
func negativeShipping(w http.ResponseWriter, amount *decimal.Decimal) bool {
	if amount == nil || !amount.IsNegative() {
		return false
	}
	respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: map[string]string{"shipping_amount": "cannot be negative"},
	})
	return true
}

// decodeJSON decodes and validates the request body into dst, writing the
// error response itself when it returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("handler: unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}

	return true
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		case "len":
			details[field] = "must be exactly " + fe.Param() + " characters"
		case "max":
			details[field] = "must be at most " + fe.Param() + " characters"
		case "gt":
			details[field] = "must be greater than " + fe.Param()
		case "url":
			details[field] = "must be a valid URL"
		default:
			details[field] = "failed on " + fe.Tag()
		}
	}
	return details
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
