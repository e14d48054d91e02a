package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusConfirmed  Status = "Confirmed"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
	StatusRefunded   Status = "Refunded"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s.IsValid() && len(allowedTransitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentCreditCard    PaymentMethod = "CreditCard"
	PaymentPurchaseOrder PaymentMethod = "PurchaseOrder"
	PaymentCash          PaymentMethod = "Cash"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCreditCard, PaymentPurchaseOrder, PaymentCash:
		return true
	}
	return false
}

type Item struct {
	ID          int64           `json:"id" db:"id"`
	OrderID     int64           `json:"order_id" db:"order_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"` // amount charged for the line
}

type Order struct {
	ID                    int64           `json:"id" db:"id"`
	OrderNumber           string          `json:"order_number" db:"order_number"`
	UserID                string          `json:"user_id" db:"user_id"`
	Status                Status          `json:"status" db:"status"`
	Subtotal              decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax                   decimal.Decimal `json:"tax" db:"tax"`
	Shipping              decimal.Decimal `json:"shipping" db:"shipping"`
	Total                 decimal.Decimal `json:"total" db:"total"`
	PaymentMethod         PaymentMethod   `json:"payment_method" db:"payment_method"`
	PaymentIntentID       *string         `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CheckoutSessionID     *string         `json:"checkout_session_id,omitempty" db:"checkout_session_id"`
	ShippingAddress       string          `json:"shipping_address" db:"shipping_address"`
	BillingAddress        string          `json:"billing_address" db:"billing_address"`
	Notes                 string          `json:"notes,omitempty" db:"notes"`
	EstimatedDeliveryDate *time.Time      `json:"estimated_delivery_date,omitempty" db:"estimated_delivery_date"`
	ActualDeliveryDate    *time.Time      `json:"actual_delivery_date,omitempty" db:"actual_delivery_date"`
	TrackingNumber        *string         `json:"tracking_number,omitempty" db:"tracking_number"`
	Items                 []Item          `json:"items" db:"-"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

type CreateFromCartInput struct {
	UserID                 string
	ShippingAddress        string
	BillingAddress         string
	BillingStateCode       string
	ShippingAmountOverride *decimal.Decimal
	PaymentMethod          PaymentMethod
	Notes                  string
}

// Overrides replace values otherwise taken from session metadata.
type Overrides struct {
	ShippingAddress *string
	BillingAddress  *string
	Notes           *string
	ShippingAmount  *decimal.Decimal
}

type StartCheckoutInput struct {
	ShippingAddress        string
	BillingAddress         string
	BillingStateCode       string
	ShippingAmountOverride *decimal.Decimal
	Notes                  string
	SuccessURL             string
	CancelURL              string
}

type ConfirmPaymentInput struct {
	SessionID     string
	UserID        string
	PaymentMethod PaymentMethod
	Overrides     Overrides
}
