package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicatePaymentIntent is returned by Insert and Settle when another
	// order already holds the payment intent id or the checkout session id.
	ErrDuplicatePaymentIntent = errors.New("payment intent already reconciled")
)

const (
	paymentIntentIndex   = "orders_payment_intent_id_uq"
	checkoutSessionIndex = "orders_checkout_session_id_uq"
)

// Reads shared by Store and Tx.
type reader interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error)
	GetByCheckoutSessionID(ctx context.Context, sessionID string) (*Order, error)
	CartItems(ctx context.Context, userID string) ([]cart.Item, error)
	pricing.RateSource
}

type Store interface {
	reader
	ListByUserID(ctx context.Context, userID string) ([]Order, error)
	// InTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	reader
	GetByIDForUpdate(ctx context.Context, id int64) (*Order, error)
	Insert(ctx context.Context, o *Order) error
	UpdateStatus(ctx context.Context, o *Order) error
	// Settle records the payment of an order and moves it to o.Status.
	Settle(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, userID string) error
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (r *postgresStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	pgTx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered in transaction, rolling back")
			if rbErr := pgTx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := pgTx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Msg("repository: failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(&postgresTx{q: pgTx})
}

func (r *postgresStore) GetByID(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, r.db, `WHERE id = $1`, id)
}

func (r *postgresStore) GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error) {
	return getOrder(ctx, r.db, `WHERE payment_intent_id = $1`, intentID)
}

func (r *postgresStore) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*Order, error) {
	return getOrder(ctx, r.db, `WHERE checkout_session_id = $1`, sessionID)
}

func (r *postgresStore) CartItems(ctx context.Context, userID string) ([]cart.Item, error) {
	return cart.ListItems(ctx, r.db, userID)
}

func (r *postgresStore) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	return cart.ActiveTaxRate(ctx, r.db, stateCode)
}

func (r *postgresStore) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	return cart.DefaultShippingRate(ctx, r.db)
}

func (r *postgresStore) ListByUserID(ctx context.Context, userID string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	orderRows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	defer orderRows.Close()

	ordersMap := make(map[int64]*Order)
	var orderIDs []int64

	for orderRows.Next() {
		o, err := scanOrder(orderRows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed scan order for user id %s: %w", userID, err)
		}
		o.Items = make([]Item, 0)
		ordersMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = orderRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for user id %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemRows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for user id %s: %w", userID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it Item
		if err := itemRows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for user id %s: %w", userID, err)
		}
		if o, ok := ordersMap[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err = itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items by user id %s: %w", userID, err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

type postgresTx struct {
	q pgx.Tx
}

func (t *postgresTx) GetByID(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.q, `WHERE id = $1`, id)
}

func (t *postgresTx) GetByIDForUpdate(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.q, `WHERE id = $1 FOR UPDATE`, id)
}

func (t *postgresTx) GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error) {
	return getOrder(ctx, t.q, `WHERE payment_intent_id = $1`, intentID)
}

func (t *postgresTx) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*Order, error) {
	return getOrder(ctx, t.q, `WHERE checkout_session_id = $1`, sessionID)
}

func (t *postgresTx) CartItems(ctx context.Context, userID string) ([]cart.Item, error) {
	return cart.ListItems(ctx, t.q, userID)
}

func (t *postgresTx) ClearCart(ctx context.Context, userID string) error {
	return cart.ClearItems(ctx, t.q, userID)
}

func (t *postgresTx) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	return cart.ActiveTaxRate(ctx, t.q, stateCode)
}

func (t *postgresTx) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	return cart.DefaultShippingRate(ctx, t.q)
}

func (t *postgresTx) Insert(ctx context.Context, o *Order) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO orders (order_number, user_id, status, subtotal, tax, shipping, total,
			payment_method, payment_intent_id, checkout_session_id, shipping_address, billing_address, notes,
			estimated_delivery_date, actual_delivery_date, tracking_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING id
	`
	err := t.q.QueryRow(ctx, query,
		o.OrderNumber,
		o.UserID,
		string(o.Status),
		o.Subtotal,
		o.Tax,
		o.Shipping,
		o.Total,
		string(o.PaymentMethod),
		o.PaymentIntentID,
		o.CheckoutSessionID,
		o.ShippingAddress,
		o.BillingAddress,
		o.Notes,
		o.EstimatedDeliveryDate,
		o.ActualDeliveryDate,
		o.TrackingNumber,
		now,
	).Scan(&o.ID)
	if err != nil {
		if isReconciliationConflict(err) {
			return ErrDuplicatePaymentIntent
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	o.CreatedAt = now
	o.UpdatedAt = now

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := t.q.QueryRow(ctx, itemQuery, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %d: %w", o.ID, err)
		}
	}

	return nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, o *Order) error {
	o.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE orders
		SET status = $1, estimated_delivery_date = $2, actual_delivery_date = $3,
			tracking_number = $4, updated_at = $5
		WHERE id = $6
	`
	cmdTag, err := t.q.Exec(ctx, query,
		string(o.Status),
		o.EstimatedDeliveryDate,
		o.ActualDeliveryDate,
		o.TrackingNumber,
		o.UpdatedAt,
		o.ID,
	)
	if err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Stringer("new_status", o.Status).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %d: %w", o.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *postgresTx) Settle(ctx context.Context, o *Order) error {
	o.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE orders
		SET status = $1, payment_method = $2, payment_intent_id = $3,
			checkout_session_id = $4, updated_at = $5
		WHERE id = $6
	`
	cmdTag, err := t.q.Exec(ctx, query,
		string(o.Status),
		string(o.PaymentMethod),
		o.PaymentIntentID,
		o.CheckoutSessionID,
		o.UpdatedAt,
		o.ID,
	)
	if err != nil {
		if isReconciliationConflict(err) {
			return ErrDuplicatePaymentIntent
		}
		log.Error().Err(err).Int64("order_id", o.ID).Msg("repository: failed to settle order")
		return fmt.Errorf("repository: failed to settle order %d: %w", o.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func isReconciliationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return pgErr.ConstraintName == paymentIntentIndex || pgErr.ConstraintName == checkoutSessionIndex
}

const orderColumns = `id, order_number, user_id, status, subtotal, tax, shipping, total,
	payment_method, payment_intent_id, checkout_session_id, shipping_address, billing_address, notes,
	estimated_delivery_date, actual_delivery_date, tracking_number, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, quantity, unit_price, line_total`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.Shipping,
		&o.Total,
		&o.PaymentMethod,
		&o.PaymentIntentID,
		&o.CheckoutSessionID,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.Notes,
		&o.EstimatedDeliveryDate,
		&o.ActualDeliveryDate,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func getOrder(ctx context.Context, q cart.Querier, where string, arg any) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order (%v): %w", arg, err)
	}

	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %d: %w", o.ID, err)
	}
	defer rows.Close()

	o.Items = make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %d: %w", o.ID, err)
		}
		o.Items = append(o.Items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %d: %w", o.ID, err)
	}

	return o, nil
}
