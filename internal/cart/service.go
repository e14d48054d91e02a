package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

var ErrInvalidItem = errors.New("invalid cart item")

type Service interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	AddItem(ctx context.Context, item *Item) (*Item, error)
	// UpdateQuantity sets the quantity of a line; a quantity of zero or less
	// removes the line instead.
	UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID int64) error
	Clear(ctx context.Context, userID string) error
	Estimate(ctx context.Context, userID, stateCode string, shippingOverride *decimal.Decimal) (*pricing.Totals, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	items, err := s.repo.ListItems(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to load cart")
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	return &Cart{UserID: userID, Items: items}, nil
}

func (s *service) AddItem(ctx context.Context, item *Item) (*Item, error) {
	if item.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity for product %d must be greater than zero", ErrInvalidItem, item.ProductID)
	}
	if item.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price for product %d cannot be negative", ErrInvalidItem, item.ProductID)
	}
	if item.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product id must be positive", ErrInvalidItem)
	}

	if err := s.repo.UpsertItem(ctx, item); err != nil {
		log.Error().Err(err).Str("user_id", item.UserID).Int64("product_id", item.ProductID).Msg("service: failed to add cart item")
		return nil, fmt.Errorf("service: failed to add cart item: %w", err)
	}

	return item, nil
}

func (s *service) UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	if err := s.repo.SetQuantity(ctx, userID, productID, quantity); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		log.Error().Err(err).Str("user_id", userID).Int64("product_id", productID).Msg("service: failed to update cart item")
		return fmt.Errorf("service: failed to update cart item: %w", err)
	}
	return nil
}

func (s *service) RemoveItem(ctx context.Context, userID string, productID int64) error {
	if err := s.repo.DeleteItem(ctx, userID, productID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("service: failed to remove cart item: %w", err)
	}
	return nil
}

func (s *service) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	return nil
}

// Estimate prices the current cart the same way order creation does.
func (s *service) Estimate(ctx context.Context, userID, stateCode string, shippingOverride *decimal.Decimal) (*pricing.Totals, error) {
	items, err := s.repo.ListItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart for estimate: %w", err)
	}

	totals, _, err := pricing.Quote(ctx, s.repo, Lines(items), stateCode, shippingOverride)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("state_code", stateCode).Msg("service: failed to price cart")
		return nil, fmt.Errorf("service: failed to price cart: %w", err)
	}

	return &totals, nil
}
