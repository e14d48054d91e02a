// Package pricing computes order totals. The same functions back the
// pre-checkout estimate and the post-payment reconciliation so both agree.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits used for every monetary
// result. Storage keeps four digits; presentation and settlement use two.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

var (
	ErrRateNotFound = errors.New("rate not found")
	// ErrNegativeShipping rejects a shipping amount below zero.
	ErrNegativeShipping = errors.New("shipping amount cannot be negative")
)

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type TaxRate struct {
	ID           int64           `json:"id" db:"id"`
	StateCode    string          `json:"state_code" db:"state_code"`
	CombinedRate decimal.Decimal `json:"combined_rate" db:"combined_rate"` // percent, e.g. 10.58
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type ShippingRate struct {
	ID        int64           `json:"id" db:"id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	IsDefault bool            `json:"is_default" db:"is_default"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// RateSource looks up the rates Quote needs. Implementations return
// ErrRateNotFound when nothing active matches.
type RateSource interface {
	ActiveTaxRate(ctx context.Context, stateCode string) (*TaxRate, error)
	DefaultShippingRate(ctx context.Context) (*ShippingRate, error)
}

// Round rounds to two decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Tax applies a percentage rate to subtotal.
func Tax(subtotal, percent decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Mul(percent).Div(hundred))
}

func Subtotal(lines []Line) decimal.Decimal {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return subtotal
}

// CheckShipping accepts a nil amount.
func CheckShipping(amount *decimal.Decimal) error {
	if amount != nil && amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeShipping, amount.String())
	}
	return nil
}

// Compute is pure: the same inputs always produce the same totals.
func Compute(lines []Line, rate *TaxRate, shipping decimal.Decimal) Totals {
	subtotal := Round(Subtotal(lines))

	tax := decimal.Zero
	if rate != nil {
		tax = Tax(subtotal, rate.CombinedRate)
	}

	shipping = Round(shipping)

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}

// Quote resolves the tax rate for stateCode and the shipping amount, then
// computes totals. A missing tax rate means zero tax and a missing shipping
// rate means zero shipping; neither is an error. shippingOverride, when set,
// replaces the default shipping rate and must not be negative.
func Quote(ctx context.Context, rates RateSource, lines []Line, stateCode string, shippingOverride *decimal.Decimal) (Totals, *TaxRate, error) {
	if err := CheckShipping(shippingOverride); err != nil {
		return Totals{}, nil, err
	}

	var rate *TaxRate
	if stateCode != "" {
		found, err := rates.ActiveTaxRate(ctx, stateCode)
		switch {
		case err == nil:
			rate = found
		case errors.Is(err, ErrRateNotFound):
		default:
			return Totals{}, nil, fmt.Errorf("pricing: failed to resolve tax rate for %s: %w", stateCode, err)
		}
	}

	shipping := decimal.Zero
	if shippingOverride != nil {
		shipping = *shippingOverride
	} else {
		found, err := rates.DefaultShippingRate(ctx)
		switch {
		case err == nil:
			shipping = found.Amount
		case errors.Is(err, ErrRateNotFound):
		default:
			return Totals{}, nil, fmt.Errorf("pricing: failed to resolve shipping rate: %w", err)
		}
	}

	return Compute(lines, rate, shipping), rate, nil
}
