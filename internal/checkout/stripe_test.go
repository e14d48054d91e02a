package checkout

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v76"
)

func TestToSession(t *testing.T) {
	sess := &stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
		AmountTotal:   2131,
		Metadata:      map[string]string{MetaProductIDs: "42"},
		LineItems: &stripe.LineItemList{
			Data: []*stripe.LineItem{
				{
					Description: "Widget",
					Quantity:    3,
					AmountTotal: 1500,
					Price: &stripe.Price{Product: &stripe.Product{
						Metadata: map[string]string{MetaLineProductID: "42"},
					}},
				},
				{Description: "Tax", Quantity: 1, AmountTotal: 131},
			},
		},
	}

	got := toSession(sess)

	want := &Session{
		ID:              "cs_test_1",
		PaymentStatus:   "paid",
		PaymentIntentID: "pi_1",
		AmountTotal:     2131,
		Metadata:        map[string]string{MetaProductIDs: "42"},
		LineItems: []LineItem{
			{Description: "Widget", Quantity: 3, AmountTotal: 1500, ProductRef: "42"},
			{Description: "Tax", Quantity: 1, AmountTotal: 131},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toSession() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got.IsPaid())
	assert.Equal(t, "pi_1", got.IdempotencyKey())
}

func TestToSession_TruncatedLineItemsAreNotTrusted(t *testing.T) {
	sess := &stripe.CheckoutSession{
		ID:        "cs_test_2",
		LineItems: &stripe.LineItemList{Data: []*stripe.LineItem{{Description: "Widget"}}},
	}
	sess.LineItems.HasMore = true

	got := toSession(sess)

	assert.Nil(t, got.LineItems)
	assert.Equal(t, "cs_test_2", got.IdempotencyKey())
}

func TestMapStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not_found", err: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout.session"}, want: ErrSessionNotFound},
		{name: "unauthorized", err: &stripe.Error{HTTPStatusCode: http.StatusUnauthorized}, want: ErrNotConfigured},
		{name: "server_error", err: &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, want: ErrGatewayUnavailable},
		{name: "rate_limited", err: &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, want: ErrGatewayUnavailable},
		{name: "network", err: errors.New("dial tcp: i/o timeout"), want: ErrGatewayUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapStripeError(tt.err), tt.want)
		})
	}
}
