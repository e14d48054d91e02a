package cart_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

type MockCartRepository struct {
	mock.Mock
}

func (m *MockCartRepository) ListItems(ctx context.Context, userID string) ([]cart.Item, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cart.Item), args.Error(1)
}

func (m *MockCartRepository) UpsertItem(ctx context.Context, item *cart.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockCartRepository) SetQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	args := m.Called(ctx, userID, productID, quantity)
	return args.Error(0)
}

func (m *MockCartRepository) DeleteItem(ctx context.Context, userID string, productID int64) error {
	args := m.Called(ctx, userID, productID)
	return args.Error(0)
}

func (m *MockCartRepository) Clear(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCartRepository) ActiveTaxRate(ctx context.Context, stateCode string) (*pricing.TaxRate, error) {
	args := m.Called(ctx, stateCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricing.TaxRate), args.Error(1)
}

func (m *MockCartRepository) DefaultShippingRate(ctx context.Context) (*pricing.ShippingRate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricing.ShippingRate), args.Error(1)
}

func TestCartService_AddItem_Validation(t *testing.T) {
	tests := []struct {
		name string
		item cart.Item
	}{
		{name: "zero_quantity", item: cart.Item{UserID: "u1", ProductID: 7, Quantity: 0, UnitPrice: decimal.NewFromInt(1)}},
		{name: "negative_price", item: cart.Item{UserID: "u1", ProductID: 7, Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}},
		{name: "missing_product", item: cart.Item{UserID: "u1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockCartRepository)
			svc := cart.NewService(repo)

			_, err := svc.AddItem(context.Background(), &tt.item)

			require.Error(t, err)
			assert.True(t, errors.Is(err, cart.ErrInvalidItem))
			repo.AssertNotCalled(t, "UpsertItem", mock.Anything, mock.Anything)
		})
	}
}

func TestCartService_AddItem_Success(t *testing.T) {
	repo := new(MockCartRepository)
	svc := cart.NewService(repo)

	item := &cart.Item{UserID: "u1", ProductID: 7, ProductName: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")}
	repo.On("UpsertItem", mock.Anything, item).Return(nil).Once()

	got, err := svc.AddItem(context.Background(), item)

	require.NoError(t, err)
	assert.Equal(t, item, got)
	repo.AssertExpectations(t)
}

func TestCartService_UpdateQuantity_NonPositiveRemoves(t *testing.T) {
	for _, qty := range []int{0, -3} {
		repo := new(MockCartRepository)
		svc := cart.NewService(repo)

		repo.On("DeleteItem", mock.Anything, "u1", int64(7)).Return(nil).Once()

		err := svc.UpdateQuantity(context.Background(), "u1", 7, qty)

		require.NoError(t, err)
		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "SetQuantity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestCartService_UpdateQuantity_NotFound(t *testing.T) {
	repo := new(MockCartRepository)
	svc := cart.NewService(repo)

	repo.On("SetQuantity", mock.Anything, "u1", int64(9), 4).Return(cart.ErrItemNotFound).Once()

	err := svc.UpdateQuantity(context.Background(), "u1", 9, 4)

	assert.ErrorIs(t, err, cart.ErrItemNotFound)
}

func TestCartService_Estimate(t *testing.T) {
	repo := new(MockCartRepository)
	svc := cart.NewService(repo)

	repo.On("ListItems", mock.Anything, "u1").Return([]cart.Item{
		{UserID: "u1", ProductID: 7, Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")},
	}, nil)
	repo.On("ActiveTaxRate", mock.Anything, "CA").Return(&pricing.TaxRate{StateCode: "CA", CombinedRate: decimal.RequireFromString("10.58"), Active: true}, nil)
	repo.On("DefaultShippingRate", mock.Anything).Return(&pricing.ShippingRate{Amount: decimal.RequireFromString("5.00"), IsDefault: true, Active: true}, nil)

	totals, err := svc.Estimate(context.Background(), "u1", "CA", nil)

	require.NoError(t, err)
	assert.Equal(t, "60.29", totals.Total.StringFixed(2))
	assert.Equal(t, "5.29", totals.Tax.StringFixed(2))
}
