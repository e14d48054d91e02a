package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// StripeGateway talks to Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	currency      string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, p CreateSessionParams) (*SessionRef, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx

	for _, li := range p.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.ProductID != 0 {
			product.Metadata = map[string]string{MetaLineProductID: strconv.FormatInt(li.ProductID, 10)}
		}

		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(li.UnitPrice),
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		log.Error().Err(err).Msg("checkout: failed to create stripe session")
		return nil, mapStripeError(err)
	}

	return &SessionRef{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) GetSession(ctx context.Context, id string, expandLineItems bool) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	out := toSession(sess)

	if expandLineItems {
		items, err := g.listLineItems(ctx, id)
		if err != nil {
			return nil, err
		}
		out.LineItems = items
	}

	return out, nil
}

// listLineItems pages through every line item with product data expanded so
// the per-line product tag comes back.
func (g *StripeGateway) listLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	items := make([]LineItem, 0)
	iter := g.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		items = append(items, toLineItem(iter.LineItem()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}

	return items, nil
}

func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}

	switch out.Type {
	case EventSessionCompleted, EventSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("checkout: failed to decode session from event %s: %w", evt.ID, err)
		}
		out.Session = toSession(&sess)
	}

	return out, nil
}

func toSession(sess *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Metadata:      sess.Metadata,
		URL:           sess.URL,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.LineItems != nil && !sess.LineItems.HasMore {
		out.LineItems = make([]LineItem, 0, len(sess.LineItems.Data))
		for _, li := range sess.LineItems.Data {
			out.LineItems = append(out.LineItems, toLineItem(li))
		}
	}
	return out
}

func toLineItem(li *stripe.LineItem) LineItem {
	item := LineItem{
		Description: li.Description,
		Quantity:    li.Quantity,
		AmountTotal: li.AmountTotal,
	}
	if li.Price != nil && li.Price.Product != nil {
		item.ProductRef = li.Price.Product.Metadata[MetaLineProductID]
	}
	return item
}

func mapStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch {
		case serr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrSessionNotFound, serr.Msg)
		case serr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrNotConfigured, serr.Msg)
		case serr.HTTPStatusCode == http.StatusTooManyRequests, serr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrGatewayUnavailable, serr.Msg)
		}
		return fmt.Errorf("checkout: stripe request failed: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
