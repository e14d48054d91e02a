package order

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/checkout-service/internal/pricing"
)

var ErrInvalidSession = errors.New("checkout session cannot be reconciled")

type lineKind int

const (
	lineProduct lineKind = iota
	lineTax
	lineShipping
)

// draft is an order reconstructed from a gateway session before any ledger
// lookups. Tax is nil when the session carries neither a tax line nor a rate
// summary, so the caller may still resolve it from the billing state.
type draft struct {
	items           []Item
	subtotal        decimal.Decimal
	tax             *decimal.Decimal
	shipping        decimal.Decimal
	shippingAddress string
	billingAddress  string
	notes           string
	stateCode       string
}

func fromMinor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func toMinor(amount decimal.Decimal) int64 {
	return pricing.Round(amount).Shift(2).IntPart()
}

// classifyLine sorts a gateway line into product, tax or shipping. Lines
// tagged with a product are always product lines; otherwise the
// description is matched word by word.
func classifyLine(li checkout.LineItem) lineKind {
	if li.ProductRef != "" {
		return lineProduct
	}
	words := strings.FieldsFunc(strings.ToLower(li.Description), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch w {
		case "tax":
			return lineTax
		case "shipping":
			return lineShipping
		}
	}
	return lineProduct
}

// productIDQueue hands out ids from the comma-separated product_ids
// metadata in order. Pairing is positional: the n-th product line takes the
// n-th id.
type productIDQueue struct {
	ids []string
}

func newProductIDQueue(raw string) *productIDQueue {
	q := &productIDQueue{}
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			q.ids = append(q.ids, tok)
		}
	}
	return q
}

func (q *productIDQueue) next() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// unpaid reports whether o was reconciled from sess before the gateway
// captured a payment, so its payment key is still the session id.
func (o *Order) unpaid(sess *checkout.Session) bool {
	return o.PaymentIntentID == nil || *o.PaymentIntentID == sess.ID
}

func buildDraft(sess *checkout.Session, ov Overrides) (*draft, error) {
	meta := sess.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	d := &draft{
		subtotal:        decimal.Zero,
		shipping:        decimal.Zero,
		shippingAddress: meta[checkout.MetaShippingAddress],
		billingAddress:  meta[checkout.MetaBillingAddress],
		notes:           meta[checkout.MetaNotes],
		stateCode:       meta[checkout.MetaBillingStateCode],
	}

	queue := newProductIDQueue(meta[checkout.MetaProductIDs])
	var taxLines, shippingLines []checkout.LineItem

	for _, li := range sess.LineItems {
		switch classifyLine(li) {
		case lineTax:
			taxLines = append(taxLines, li)
			continue
		case lineShipping:
			shippingLines = append(shippingLines, li)
			continue
		}

		// Product lines always consume a queue slot so positions stay aligned
		// even when a line carries its own tag.
		queued, hasQueued := queue.next()
		ref := li.ProductRef
		if ref == "" {
			if !hasQueued {
				return nil, fmt.Errorf("%w: no product id for line %q", ErrInvalidSession, li.Description)
			}
			ref = queued
		}

		productID, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || productID <= 0 {
			return nil, fmt.Errorf("%w: malformed product id %q", ErrInvalidSession, ref)
		}

		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		lineTotal := fromMinor(li.AmountTotal)
		unitPrice := lineTotal.DivRound(decimal.NewFromInt(qty), 4)

		d.items = append(d.items, Item{
			ProductID:   productID,
			ProductName: li.Description,
			Quantity:    int(qty),
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
		d.subtotal = d.subtotal.Add(lineTotal)
	}

	if len(d.items) == 0 {
		return nil, fmt.Errorf("%w: session %s has no product lines", ErrInvalidSession, sess.ID)
	}

	if len(taxLines) > 0 {
		tax := decimal.Zero
		for _, li := range taxLines {
			tax = tax.Add(fromMinor(li.AmountTotal))
		}
		d.tax = &tax
	} else if raw := meta[checkout.MetaTaxRate]; raw != "" {
		if rate, err := decimal.NewFromString(raw); err == nil {
			tax := pricing.Tax(d.subtotal, rate)
			d.tax = &tax
		}
	}

	if len(shippingLines) > 0 {
		for _, li := range shippingLines {
			d.shipping = d.shipping.Add(fromMinor(li.AmountTotal))
		}
	} else if raw := meta[checkout.MetaShippingAmount]; raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			d.shipping = pricing.Round(amount)
		}
	}
	if d.shipping.IsNegative() {
		return nil, fmt.Errorf("%w: negative shipping amount %s", ErrInvalidSession, d.shipping.String())
	}

	if ov.ShippingAddress != nil {
		d.shippingAddress = *ov.ShippingAddress
	}
	if ov.BillingAddress != nil {
		d.billingAddress = *ov.BillingAddress
	}
	if ov.Notes != nil {
		d.notes = *ov.Notes
	}
	if ov.ShippingAmount != nil {
		if err := pricing.CheckShipping(ov.ShippingAmount); err != nil {
			return nil, err
		}
		d.shipping = pricing.Round(*ov.ShippingAmount)
	}

	return d, nil
}
