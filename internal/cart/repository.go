package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

var ErrItemNotFound = errors.New("cart item not found")

type Repository interface {
	ListItems(ctx context.Context, userID string) ([]Item, error)
	// UpsertItem adds quantity to an existing line for the same product or
	// inserts a new one.
	UpsertItem(ctx context.Context, item *Item) error
	SetQuantity(ctx context.Context, userID string, productID int64, quantity int) error
	DeleteItem(ctx context.Context, userID string, productID int64) error
	Clear(ctx context.Context, userID string) error

	pricing.RateSource
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListItems(ctx context.Context, userID string) ([]Item, error) {
	return ListItems(ctx, r.db, userID)
}

// ListItems reads a user's cart through q so callers holding a transaction
// see their own writes.
func ListItems(ctx context.Context, q Querier, userID string) ([]Item, error) {
	query := `
		SELECT id, user_id, product_id, product_name, quantity, unit_price, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, id
	`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for user %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for user %s: %w", userID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items for user %s: %w", userID, err)
	}

	return items, nil
}

// ClearItems deletes every cart line of userID through q.
func ClearItems(ctx context.Context, q Querier, userID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return nil
}

func (r *postgresRepository) UpsertItem(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO cart_items (user_id, product_id, product_name, quantity, unit_price, added_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              unit_price = EXCLUDED.unit_price,
		              product_name = EXCLUDED.product_name
		RETURNING id, quantity, added_at
	`

	err := r.db.QueryRow(ctx, query,
		item.UserID,
		item.ProductID,
		item.ProductName,
		item.Quantity,
		item.UnitPrice,
	).Scan(&item.ID, &item.Quantity, &item.AddedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert cart item for product %d: %w", item.ProductID, err)
	}

	return nil
}

func (r *postgresRepository) SetQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE cart_items SET quantity = $1 WHERE user_id = $2 AND product_id = $3`,
		quantity, userID, productID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update cart item for product %d: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteItem(ctx context.Context, userID string, productID int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart item for product %d: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Str("user_id", userID).Int64("product_id", productID).Msg("repository: cart item not found for delete")
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, userID string) error {
	return ClearItems(ctx, r.db, userID)
}

func (r *postgresRepository) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	return ActiveTaxRate(ctx, r.db, stateCode)
}

func (r *postgresRepository) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	return DefaultShippingRate(ctx, r.db)
}

// ActiveTaxRate returns the most recently created active rate for stateCode.
func ActiveTaxRate(ctx context.Context, q Querier, stateCode string) (*pricing.TaxRate, error) {
	query := `
		SELECT id, state_code, combined_rate, active, created_at
		FROM tax_rates
		WHERE state_code = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`

	var rate pricing.TaxRate
	err := q.QueryRow(ctx, query, stateCode).Scan(&rate.ID, &rate.StateCode, &rate.CombinedRate, &rate.Active, &rate.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrRateNotFound
		}
		return nil, fmt.Errorf("repository: failed to select tax rate for %s: %w", stateCode, err)
	}

	return &rate, nil
}

// DefaultShippingRate returns the most recently created active default rate.
func DefaultShippingRate(ctx context.Context, q Querier) (*pricing.ShippingRate, error) {
	query := `
		SELECT id, amount, is_default, active, created_at
		FROM shipping_rates
		WHERE is_default AND active
		ORDER BY created_at DESC
		LIMIT 1
	`

	var rate pricing.ShippingRate
	err := q.QueryRow(ctx, query).Scan(&rate.ID, &rate.Amount, &rate.IsDefault, &rate.Active, &rate.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrRateNotFound
		}
		return nil, fmt.Errorf("repository: failed to select default shipping rate: %w", err)
	}

	return &rate, nil
}
