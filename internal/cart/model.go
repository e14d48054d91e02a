package cart

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

type Item struct {
	ID          int64           `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"` // snapshot taken when the item was added
	AddedAt     time.Time       `json:"added_at" db:"added_at"`
}

type Cart struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Lines converts cart items into pricing input.
func Lines(items []Item) []pricing.Line {
	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return lines
}
