package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/checkout-service/internal/order"
)

type Message struct {
	UserID  string
	Subject string
	Body    string
}

// Transport hands a rendered message to a delivery provider.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogTransport writes messages to the application log instead of sending them.
type LogTransport struct{}

func (LogTransport) Deliver(ctx context.Context, msg Message) error {
	log.Info().Str("user_id", msg.UserID).Str("subject", msg.Subject).Int("body_bytes", len(msg.Body)).Msg("mailer: email dispatched")
	return nil
}

// Sender renders order emails.
type Sender struct {
	transport Transport
}

func NewSender(transport Transport) *Sender {
	if transport == nil {
		transport = LogTransport{}
	}
	return &Sender{transport: transport}
}

func (s *Sender) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	msg := Message{
		UserID:  o.UserID,
		Subject: fmt.Sprintf("Your order %s", o.OrderNumber),
		Body:    confirmationBody(o),
	}
	if err := s.transport.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("mailer: failed to send confirmation for order %d: %w", o.ID, err)
	}
	return nil
}

func (s *Sender) SendOrderCancellation(ctx context.Context, o *order.Order) error {
	msg := Message{
		UserID:  o.UserID,
		Subject: fmt.Sprintf("Order %s cancelled", o.OrderNumber),
		Body:    fmt.Sprintf("Your order %s has been cancelled.\n", o.OrderNumber),
	}
	if err := s.transport.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("mailer: failed to send cancellation for order %d: %w", o.ID, err)
	}
	return nil
}

func confirmationBody(o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", o.OrderNumber)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "%d x %s  %s\n", it.Quantity, it.ProductName, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", o.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "Tax: %s\n", o.Tax.StringFixed(2))
	fmt.Fprintf(&b, "Shipping: %s\n", o.Shipping.StringFixed(2))
	fmt.Fprintf(&b, "Total: %s\n", o.Total.StringFixed(2))
	if o.ShippingAddress != "" {
		fmt.Fprintf(&b, "\nShipping to: %s\n", o.ShippingAddress)
	}
	return b.String()
}
