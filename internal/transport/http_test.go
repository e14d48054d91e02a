package transport_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/handler"
	"github.com/vasiliy-maslov/checkout-service/internal/transport"
)

func newTestRouter() http.Handler {
	return transport.NewRouter(transport.Handlers{
		Orders:        handler.NewOrderHandler(nil),
		Payments:      handler.NewPaymentHandler(nil, checkout.Disabled{}),
		Cart:          handler.NewCartHandler(nil),
		Notifications: handler.NewNotificationHandler(nil, 0),
	})
}

func TestRouter(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		userID     string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "orders_require_user", method: http.MethodGet, path: "/orders", wantStatus: http.StatusUnauthorized},
		{name: "stream_requires_user", method: http.MethodGet, path: "/notifications/stream", wantStatus: http.StatusUnauthorized},
		{name: "cart_requires_user", method: http.MethodGet, path: "/cart", wantStatus: http.StatusUnauthorized},
		{name: "webhook_is_public_and_reports_disabled_gateway", method: http.MethodPost, path: "/payments/webhook", wantStatus: http.StatusServiceUnavailable},
		{name: "bad_order_id", method: http.MethodGet, path: "/orders/abc", userID: "u1", wantStatus: http.StatusBadRequest},
		{name: "unknown_route", method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
	}

	router := newTestRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			if tt.userID != "" {
				req.Header.Set(handler.UserIDHeader, tt.userID)
			}
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}
