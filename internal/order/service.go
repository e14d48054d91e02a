package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrIllegalStatusTransition = errors.New("illegal order status transition")
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidPaymentMethod    = errors.New("invalid payment method")
	ErrInvalidOrder            = errors.New("invalid order request")

	// errAlreadyReconciled aborts a reconciliation transaction that lost the
	// race for a payment intent; the caller re-reads the winner.
	errAlreadyReconciled = errors.New("order already reconciled")
)

const deliveryEstimate = 3 * 24 * time.Hour

type Publisher interface {
	Publish(ctx context.Context, n *notification.Notification) error
}

type Mailer interface {
	SendOrderConfirmation(ctx context.Context, o *Order) error
	SendOrderCancellation(ctx context.Context, o *Order) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action string, orderID int64, data map[string]any) error
}

type ReconcileInput struct {
	Session           *checkout.Session
	UserID            string // falls back to the session's user_id metadata
	PaymentMethod     PaymentMethod
	TargetStatus      Status
	Overrides         Overrides
	ClearCart         bool
	SendNotifications bool
}

type Service interface {
	CreateFromCart(ctx context.Context, in CreateFromCartInput) (*Order, error)
	// ReconcileFromGatewaySession turns a checkout session into exactly one
	// order. Repeated calls for the same session return the existing order.
	ReconcileFromGatewaySession(ctx context.Context, in ReconcileInput) (*Order, error)
	UpdateStatus(ctx context.Context, id int64, newStatus Status, trackingNumber *string) (*Order, error)
	StartCheckout(ctx context.Context, userID string, in StartCheckoutInput) (*checkout.SessionRef, error)
	ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*Order, error)
	// CancelPayment is scoped to userID when it is non-empty.
	CancelPayment(ctx context.Context, sessionID, userID string) (*Order, error)
	// HandleGatewayEvent returns nil, nil for events that need no action.
	HandleGatewayEvent(ctx context.Context, evt *checkout.Event) (*Order, error)
	GetOrder(ctx context.Context, id int64, userID string) (*Order, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
}

type nopMailer struct{}

func (nopMailer) SendOrderConfirmation(context.Context, *Order) error { return nil }
func (nopMailer) SendOrderCancellation(context.Context, *Order) error { return nil }

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, int64, map[string]any) error { return nil }

type Option func(*service)

func WithMailer(m Mailer) Option {
	return func(s *service) { s.mailer = m }
}

func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *service) { s.audit = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithCheckoutURLs sets where the gateway sends the buyer after paying or
// abandoning checkout, unless the request supplies its own.
func WithCheckoutURLs(successURL, cancelURL string) Option {
	return func(s *service) {
		s.successURL = successURL
		s.cancelURL = cancelURL
	}
}

type service struct {
	store     Store
	gateway   checkout.Gateway
	publisher Publisher
	mailer    Mailer
	audit     AuditRecorder
	now       func() time.Time

	successURL string
	cancelURL  string
}

func NewService(store Store, gateway checkout.Gateway, publisher Publisher, opts ...Option) Service {
	s := &service{
		store:      store,
		gateway:    gateway,
		publisher:  publisher,
		mailer:     nopMailer{},
		audit:      nopAudit{},
		now:        func() time.Time { return time.Now().UTC() },
		successURL: "http://localhost:8080/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  "http://localhost:8080/checkout/cancel?session_id={CHECKOUT_SESSION_ID}",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateFromCart(ctx context.Context, in CreateFromCartInput) (*Order, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if !in.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.PaymentMethod)
	}
	if err := pricing.CheckShipping(in.ShippingAmountOverride); err != nil {
		return nil, err
	}

	var created *Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		items, err := tx.CartItems(ctx, in.UserID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		totals, _, err := pricing.Quote(ctx, tx, cart.Lines(items), in.BillingStateCode, in.ShippingAmountOverride)
		if err != nil {
			return err
		}

		o := &Order{
			OrderNumber:     s.newOrderNumber(),
			UserID:          in.UserID,
			Status:          StatusPending,
			Subtotal:        totals.Subtotal,
			Tax:             totals.Tax,
			Shipping:        totals.Shipping,
			Total:           totals.Total,
			PaymentMethod:   in.PaymentMethod,
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
			Notes:           in.Notes,
			Items:           make([]Item, 0, len(items)),
		}
		for _, ci := range items {
			o.Items = append(o.Items, Item{
				ProductID:   ci.ProductID,
				ProductName: ci.ProductName,
				Quantity:    ci.Quantity,
				UnitPrice:   ci.UnitPrice,
				LineTotal:   ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity))),
			})
		}

		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, in.UserID); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			log.Warn().Str("user_id", in.UserID).Msg("service: attempt to create order from empty cart")
			return nil, ErrEmptyCart
		}
		log.Error().Err(err).Str("user_id", in.UserID).Msg("service: failed to create order from cart")
		return nil, fmt.Errorf("service: failed to create order from cart: %w", err)
	}

	log.Info().Int64("order_id", created.ID).Str("order_number", created.OrderNumber).Str("user_id", created.UserID).Msg("service: order created from cart")

	title, message, kind := placedNotice(created.OrderNumber)
	s.announce(ctx, created, title, message, kind)
	s.sendMail(ctx, created)
	s.record(ctx, "order.created", created, nil)

	return created, nil
}

func (s *service) ReconcileFromGatewaySession(ctx context.Context, in ReconcileInput) (*Order, error) {
	if in.Session == nil || in.Session.ID == "" {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidSession)
	}
	if !in.TargetStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.TargetStatus)
	}
	method := resolvePaymentMethod(in.PaymentMethod, in.Session.Metadata)
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}
	if err := pricing.CheckShipping(in.Overrides.ShippingAmount); err != nil {
		return nil, err
	}

	key := in.Session.IdempotencyKey()
	logger := log.With().Str("session_id", in.Session.ID).Str("payment_intent_id", key).Logger()

	existing, err := findReconciled(ctx, s.store, in.Session)
	switch {
	case err == nil:
		logger.Info().Int64("order_id", existing.ID).Msg("service: session already reconciled")
		return s.resolveExisting(ctx, existing, in, method)
	case !errors.Is(err, ErrOrderNotFound):
		logger.Error().Err(err).Msg("service: failed to look up reconciled order")
		return nil, fmt.Errorf("service: failed to look up reconciled order: %w", err)
	}

	sess := in.Session
	if sess.LineItems == nil {
		fetched, err := s.gateway.GetSession(ctx, sess.ID, true)
		if err != nil {
			logger.Warn().Err(err).Msg("service: failed to fetch session line items")
			return nil, gatewayError(err)
		}
		expanded := *sess
		expanded.LineItems = fetched.LineItems
		sess = &expanded
	}

	userID := in.UserID
	if userID == "" {
		userID = sess.Metadata[checkout.MetaUserID]
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: session %s carries no user", ErrInvalidSession, sess.ID)
	}

	d, err := buildDraft(sess, in.Overrides)
	if err != nil {
		logger.Warn().Err(err).Msg("service: failed to rebuild order from session")
		return nil, err
	}

	var created *Order
	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := findReconciled(ctx, tx, sess); err == nil {
			return errAlreadyReconciled
		} else if !errors.Is(err, ErrOrderNotFound) {
			return err
		}

		tax := decimal.Zero
		if d.tax != nil {
			tax = *d.tax
		} else if d.stateCode != "" {
			rate, err := tx.ActiveTaxRate(ctx, d.stateCode)
			switch {
			case err == nil:
				tax = pricing.Tax(d.subtotal, rate.CombinedRate)
			case !errors.Is(err, pricing.ErrRateNotFound):
				return err
			}
		}

		intentID, sessionID := key, sess.ID
		o := &Order{
			OrderNumber:       s.newOrderNumber(),
			UserID:            userID,
			Status:            in.TargetStatus,
			Subtotal:          pricing.Round(d.subtotal),
			Tax:               pricing.Round(tax),
			Shipping:          pricing.Round(d.shipping),
			PaymentMethod:     method,
			PaymentIntentID:   &intentID,
			CheckoutSessionID: &sessionID,
			ShippingAddress:   d.shippingAddress,
			BillingAddress:    d.billingAddress,
			Notes:             d.notes,
			Items:             d.items,
		}
		o.Total = o.Subtotal.Add(o.Tax).Add(o.Shipping)

		if in.ClearCart {
			if err := tx.ClearCart(ctx, userID); err != nil {
				return err
			}
		}
		if err := tx.Insert(ctx, o); err != nil {
			if errors.Is(err, ErrDuplicatePaymentIntent) {
				return errAlreadyReconciled
			}
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyReconciled) {
			winner, getErr := findReconciled(ctx, s.store, sess)
			if getErr != nil {
				logger.Error().Err(getErr).Msg("service: failed to re-read reconciled order")
				return nil, fmt.Errorf("service: failed to re-read reconciled order: %w", getErr)
			}
			logger.Info().Int64("order_id", winner.ID).Msg("service: lost reconciliation race, returning existing order")
			return s.resolveExisting(ctx, winner, in, method)
		}
		logger.Error().Err(err).Msg("service: failed to reconcile checkout session")
		return nil, fmt.Errorf("service: failed to reconcile checkout session: %w", err)
	}

	if sess.AmountTotal > 0 && toMinor(created.Total) != sess.AmountTotal {
		logger.Warn().
			Int64("order_id", created.ID).
			Int64("session_amount_total", sess.AmountTotal).
			Str("order_total", created.Total.StringFixed(pricing.MoneyPlaces)).
			Msg("service: reconciled total differs from session amount")
	}

	logger.Info().Int64("order_id", created.ID).Stringer("status", created.Status).Str("user_id", created.UserID).Msg("service: checkout session reconciled")

	if in.SendNotifications {
		title, message, kind := StatusNotice(created.Status, created.OrderNumber, created.TrackingNumber)
		s.announce(ctx, created, title, message, kind)
		s.sendMail(ctx, created)
	}
	s.record(ctx, "order.reconciled", created, map[string]any{"session_id": sess.ID})

	return created, nil
}

// findReconciled looks up the order an earlier reconciliation of sess
// produced, by session id first and then by payment key. Orders written
// before the session id was stored are only found by the key.
func findReconciled(ctx context.Context, r reader, sess *checkout.Session) (*Order, error) {
	o, err := r.GetByCheckoutSessionID(ctx, sess.ID)
	if !errors.Is(err, ErrOrderNotFound) {
		return o, err
	}
	return r.GetByPaymentIntentID(ctx, sess.IdempotencyKey())
}

// resolveExisting handles a repeated reconciliation. A cancellation cancels
// an order that is not cancelled yet, and a paid session settles an order
// that was cancelled before any payment was captured. Anything else returns
// the order unchanged.
func (s *service) resolveExisting(ctx context.Context, o *Order, in ReconcileInput, method PaymentMethod) (*Order, error) {
	switch {
	case in.TargetStatus == StatusCancelled && o.Status != StatusCancelled:
		return s.transition(ctx, o.ID, StatusCancelled, nil)
	case in.TargetStatus != StatusCancelled && o.Status == StatusCancelled && in.Session.IsPaid() && o.unpaid(in.Session):
		return s.settle(ctx, o.ID, in, method)
	}
	return o, nil
}

// settle revives an order cancelled before payment once its session turns
// out to be paid, so the payment lands on the session's only order.
func (s *service) settle(ctx context.Context, id int64, in ReconcileInput, method PaymentMethod) (*Order, error) {
	sess := in.Session
	logger := log.With().Int64("order_id", id).Str("session_id", sess.ID).Logger()

	var (
		settled *Order
		changed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		settled = o
		if o.Status != StatusCancelled || !o.unpaid(sess) {
			return nil
		}

		intentID, sessionID := sess.IdempotencyKey(), sess.ID
		o.Status = in.TargetStatus
		o.PaymentMethod = method
		o.PaymentIntentID = &intentID
		if o.CheckoutSessionID == nil {
			o.CheckoutSessionID = &sessionID
		}
		if err := tx.Settle(ctx, o); err != nil {
			return err
		}
		if in.ClearCart {
			if err := tx.ClearCart(ctx, o.UserID); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("service: failed to settle cancelled order")
		return nil, fmt.Errorf("service: failed to settle cancelled order: %w", err)
	}
	if !changed {
		return settled, nil
	}

	logger.Info().Stringer("status", settled.Status).Str("payment_intent_id", *settled.PaymentIntentID).Msg("service: cancelled order settled by late payment")

	if in.SendNotifications {
		title, message, kind := StatusNotice(settled.Status, settled.OrderNumber, settled.TrackingNumber)
		s.announce(ctx, settled, title, message, kind)
		s.sendMail(ctx, settled)
	}
	s.record(ctx, "order.settled", settled, map[string]any{"session_id": sess.ID, "from": string(StatusCancelled)})

	return settled, nil
}

func (s *service) UpdateStatus(ctx context.Context, id int64, newStatus Status, trackingNumber *string) (*Order, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	return s.transition(ctx, id, newStatus, trackingNumber)
}

func (s *service) transition(ctx context.Context, id int64, newStatus Status, trackingNumber *string) (*Order, error) {
	var (
		updated   *Order
		oldStatus Status
		changed   bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated = o
		oldStatus = o.Status

		if o.Status == newStatus {
			return nil
		}
		if !CanTransition(o.Status, newStatus) {
			return fmt.Errorf("%w: from %s to %s", ErrIllegalStatusTransition, o.Status, newStatus)
		}

		now := s.now()
		switch newStatus {
		case StatusShipped:
			if o.ActualDeliveryDate == nil {
				estimate := now.Add(deliveryEstimate)
				o.EstimatedDeliveryDate = &estimate
			}
		case StatusDelivered:
			o.ActualDeliveryDate = &now
		}
		if trackingNumber != nil && *trackingNumber != "" {
			tn := *trackingNumber
			o.TrackingNumber = &tn
		}
		o.Status = newStatus

		if err := tx.UpdateStatus(ctx, o); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			log.Warn().Int64("order_id", id).Stringer("new_status", newStatus).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		case errors.Is(err, ErrIllegalStatusTransition):
			log.Warn().Err(err).Int64("order_id", id).Stringer("new_status", newStatus).Msg("service: invalid status transition attempt")
			return nil, err
		}
		log.Error().Err(err).Int64("order_id", id).Stringer("new_status", newStatus).Msg("service: failed to update order status")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	if !changed {
		log.Info().Int64("order_id", id).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return updated, nil
	}

	log.Info().Int64("order_id", id).Stringer("old_status", oldStatus).Stringer("new_status", newStatus).Msg("service: order status updated")

	title, message, kind := StatusNotice(updated.Status, updated.OrderNumber, updated.TrackingNumber)
	s.announce(ctx, updated, title, message, kind)
	if newStatus == StatusCancelled {
		s.sendMail(ctx, updated)
	}
	s.record(ctx, "order.status_changed", updated, map[string]any{"from": string(oldStatus), "to": string(newStatus)})

	return updated, nil
}

func (s *service) StartCheckout(ctx context.Context, userID string, in StartCheckoutInput) (*checkout.SessionRef, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if err := pricing.CheckShipping(in.ShippingAmountOverride); err != nil {
		return nil, err
	}

	items, err := s.store.CartItems(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to load cart for checkout")
		return nil, fmt.Errorf("service: failed to load cart for checkout: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	totals, rate, err := pricing.Quote(ctx, s.store, cart.Lines(items), in.BillingStateCode, in.ShippingAmountOverride)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to price cart for checkout")
		return nil, fmt.Errorf("service: failed to price cart for checkout: %w", err)
	}

	params := checkout.CreateSessionParams{
		SuccessURL: firstNonEmpty(in.SuccessURL, s.successURL),
		CancelURL:  firstNonEmpty(in.CancelURL, s.cancelURL),
		Metadata: map[string]string{
			checkout.MetaUserID:           userID,
			checkout.MetaShippingAmount:   totals.Shipping.StringFixed(pricing.MoneyPlaces),
			checkout.MetaBillingStateCode: in.BillingStateCode,
			checkout.MetaNotes:            in.Notes,
			checkout.MetaShippingAddress:  in.ShippingAddress,
			checkout.MetaBillingAddress:   in.BillingAddress,
			checkout.MetaPaymentMethod:    string(PaymentCreditCard),
		},
	}

	productIDs := make([]string, 0, len(items))
	for _, ci := range items {
		productIDs = append(productIDs, strconv.FormatInt(ci.ProductID, 10))
		params.LineItems = append(params.LineItems, checkout.NewLineItem{
			Name:      ci.ProductName,
			ProductID: ci.ProductID,
			Quantity:  int64(ci.Quantity),
			UnitPrice: toMinor(ci.UnitPrice),
		})
	}
	params.Metadata[checkout.MetaProductIDs] = strings.Join(productIDs, ",")

	if rate != nil {
		params.Metadata[checkout.MetaTaxRate] = rate.CombinedRate.String()
	}
	if totals.Tax.IsPositive() {
		params.LineItems = append(params.LineItems, checkout.NewLineItem{Name: "Tax", Quantity: 1, UnitPrice: toMinor(totals.Tax)})
	}
	if totals.Shipping.IsPositive() {
		params.LineItems = append(params.LineItems, checkout.NewLineItem{Name: "Shipping", Quantity: 1, UnitPrice: toMinor(totals.Shipping)})
	}

	ref, err := s.gateway.CreateSession(ctx, params)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("service: failed to create checkout session")
		return nil, gatewayError(err)
	}

	log.Info().Str("user_id", userID).Str("session_id", ref.ID).Str("total", totals.Total.StringFixed(pricing.MoneyPlaces)).Msg("service: checkout session created")
	return ref, nil
}

func (s *service) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*Order, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidSession)
	}
	if err := pricing.CheckShipping(in.Overrides.ShippingAmount); err != nil {
		return nil, err
	}

	sess, err := s.gateway.GetSession(ctx, in.SessionID, true)
	if err != nil {
		log.Warn().Err(err).Str("session_id", in.SessionID).Msg("service: failed to fetch session for confirmation")
		return nil, gatewayError(err)
	}
	if !sess.IsPaid() {
		log.Warn().Str("session_id", sess.ID).Str("payment_status", sess.PaymentStatus).Msg("service: confirmation for unpaid session")
		return nil, ErrPaymentNotCompleted
	}
	if owner := sess.Metadata[checkout.MetaUserID]; in.UserID != "" && owner != "" && owner != in.UserID {
		log.Warn().Str("session_id", sess.ID).Str("user_id", in.UserID).Msg("service: confirmation by a user that does not own the session")
		return nil, fmt.Errorf("%w: session belongs to another user", ErrInvalidSession)
	}

	return s.ReconcileFromGatewaySession(ctx, ReconcileInput{
		Session:           sess,
		UserID:            in.UserID,
		PaymentMethod:     in.PaymentMethod,
		TargetStatus:      StatusConfirmed,
		Overrides:         in.Overrides,
		ClearCart:         true,
		SendNotifications: true,
	})
}

func (s *service) CancelPayment(ctx context.Context, sessionID, userID string) (*Order, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidSession)
	}

	sess, err := s.gateway.GetSession(ctx, sessionID, false)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("service: failed to fetch session for cancellation")
		return nil, gatewayError(err)
	}
	if owner := sess.Metadata[checkout.MetaUserID]; userID != "" && owner != "" && owner != userID {
		log.Warn().Str("session_id", sess.ID).Str("user_id", userID).Msg("service: cancellation by a user that does not own the session")
		return nil, checkout.ErrSessionNotFound
	}

	return s.ReconcileFromGatewaySession(ctx, ReconcileInput{
		Session:           sess,
		UserID:            userID,
		TargetStatus:      StatusCancelled,
		SendNotifications: true,
	})
}

func (s *service) HandleGatewayEvent(ctx context.Context, evt *checkout.Event) (*Order, error) {
	if evt == nil || evt.Session == nil {
		return nil, nil
	}

	switch evt.Type {
	case checkout.EventSessionCompleted:
		if !evt.Session.IsPaid() {
			log.Info().Str("event_id", evt.ID).Str("session_id", evt.Session.ID).Msg("service: session completed without payment, waiting for settlement")
			return nil, nil
		}
		return s.ReconcileFromGatewaySession(ctx, ReconcileInput{
			Session:           evt.Session,
			TargetStatus:      StatusConfirmed,
			ClearCart:         true,
			SendNotifications: true,
		})
	case checkout.EventSessionExpired:
		return s.ReconcileFromGatewaySession(ctx, ReconcileInput{
			Session:           evt.Session,
			TargetStatus:      StatusCancelled,
			SendNotifications: true,
		})
	}

	log.Debug().Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("service: ignoring gateway event")
	return nil, nil
}

func (s *service) GetOrder(ctx context.Context, id int64, userID string) (*Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Int64("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Int64("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	if userID != "" && o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.store.ListByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) newOrderNumber() string {
	suffix := strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")[:8]
	return fmt.Sprintf("ORD-%s-%s", s.now().Format("20060102"), strings.ToUpper(suffix))
}

func (s *service) announce(ctx context.Context, o *Order, title, message, kind string) {
	userID := o.UserID
	n := notification.New(&userID, title, message, kind)
	actionURL := fmt.Sprintf("/orders/%d", o.ID)
	n.ActionURL = &actionURL

	if err := s.publisher.Publish(ctx, n); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Str("title", title).Msg("service: failed to publish order notification")
	}
}

func (s *service) sendMail(ctx context.Context, o *Order) {
	var err error
	if o.Status == StatusCancelled {
		err = s.mailer.SendOrderCancellation(ctx, o)
	} else {
		err = s.mailer.SendOrderConfirmation(ctx, o)
	}
	if err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Msg("service: failed to send order email")
	}
}

func (s *service) record(ctx context.Context, action string, o *Order, extra map[string]any) {
	data := map[string]any{
		"order_number": o.OrderNumber,
		"user_id":      o.UserID,
		"status":       string(o.Status),
		"total":        o.Total.StringFixed(pricing.MoneyPlaces),
	}
	if o.PaymentIntentID != nil {
		data["payment_intent_id"] = *o.PaymentIntentID
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.audit.Record(ctx, action, o.ID, data); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Str("action", action).Msg("service: failed to record audit entry")
	}
}

// gatewayError keeps the gateway's own sentinels and reports anything else
// as a retryable outage.
func gatewayError(err error) error {
	switch {
	case errors.Is(err, checkout.ErrNotConfigured),
		errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, checkout.ErrGatewayUnavailable):
		return err
	}
	return fmt.Errorf("%w: %v", checkout.ErrGatewayUnavailable, err)
}

func resolvePaymentMethod(given PaymentMethod, meta map[string]string) PaymentMethod {
	if given != "" {
		return given
	}
	if m := PaymentMethod(meta[checkout.MetaPaymentMethod]); m != "" {
		return m
	}
	return PaymentCreditCard
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
