// Package checkout abstracts the external checkout-session provider.
package checkout

import (
	"context"
	"errors"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrNotConfigured      = errors.New("payment not configured")
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

const PaymentStatusPaid = "paid"

// Metadata keys carried on a session across the gateway round-trip.
const (
	MetaUserID           = "user_id"
	MetaProductIDs       = "product_ids"
	MetaShippingAmount   = "shipping_amount"
	MetaBillingStateCode = "billing_state_code"
	MetaTaxRate          = "tax_rate"
	MetaNotes            = "notes"
	MetaShippingAddress  = "shipping_address"
	MetaBillingAddress   = "billing_address"
	MetaPaymentMethod    = "payment_method"

	// MetaLineProductID tags an individual line item with its product.
	MetaLineProductID = "product_id"
)

// Event types delivered through webhooks.
const (
	EventSessionCompleted = "checkout.session.completed"
	EventSessionExpired   = "checkout.session.expired"
)

type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	AmountTotal int64  `json:"amount_total"` // minor currency units
	// ProductRef is the per-line product tag when the gateway returns it.
	ProductRef string `json:"product_ref,omitempty"`
}

type Session struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	AmountTotal     int64             `json:"amount_total"`
	LineItems       []LineItem        `json:"line_items,omitempty"` // nil when not expanded
	Metadata        map[string]string `json:"metadata,omitempty"`
	URL             string            `json:"url,omitempty"`
}

func (s *Session) IsPaid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// IdempotencyKey is the payment intent id, or the session id for sessions
// that never produced an intent (cancelled or expired checkouts).
func (s *Session) IdempotencyKey() string {
	if s.PaymentIntentID != "" {
		return s.PaymentIntentID
	}
	return s.ID
}

type NewLineItem struct {
	Name      string
	ProductID int64 // zero for synthetic tax/shipping lines
	Quantity  int64
	UnitPrice int64 // minor currency units
}

type CreateSessionParams struct {
	LineItems  []NewLineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type SessionRef struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

type Event struct {
	ID      string
	Type    string
	Session *Session
}

type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*SessionRef, error)
	GetSession(ctx context.Context, id string, expandLineItems bool) (*Session, error)
}

type WebhookVerifier interface {
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// Disabled is used when no gateway credentials are configured.
type Disabled struct{}

func (Disabled) CreateSession(ctx context.Context, params CreateSessionParams) (*SessionRef, error) {
	return nil, ErrNotConfigured
}

func (Disabled) GetSession(ctx context.Context, id string, expandLineItems bool) (*Session, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ParseEvent(payload []byte, signature string) (*Event, error) {
	return nil, ErrNotConfigured
}
