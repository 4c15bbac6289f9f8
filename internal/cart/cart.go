// Package cart implements the in-progress sale draft. A cart has a single
// mutator (the terminal session that owns it), so methods are not
// synchronized here; the service serializes access per cart id. Simultaneous
// edits of the same line are last-write-wins.
package cart

import (
	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/money"
)

// Cart is a draft transaction. TransactionID stays empty until the ledger
// creates a backing transaction (lazily, on first discount application or
// on payment).
type Cart struct {
	ID              string
	TransactionID   string
	Cashier         string
	LocationID      string
	CustomerID      string
	Lines           []domain.LineItem
	AppliedDiscount *domain.DiscountApplication
}

func New(id string) *Cart {
	return &Cart{ID: id}
}

// FromSnapshot rebuilds a cart that was parked in the ledger.
func FromSnapshot(id string, snap domain.CartSnapshot) *Cart {
	lines := make([]domain.LineItem, len(snap.Lines))
	copy(lines, snap.Lines)
	c := &Cart{
		ID:            id,
		TransactionID: snap.TransactionID,
		CustomerID:    snap.CustomerID,
		Lines:         lines,
	}
	if snap.AppliedDiscount != nil {
		applied := *snap.AppliedDiscount
		c.AppliedDiscount = &applied
	}
	return c
}

// AddLine adds one unit of the product. An existing line for the same
// product is incremented instead of duplicated. A product without a VAT
// rate falls back to the default rate; an explicit zero rate is kept.
func (c *Cart) AddLine(p domain.Product) {
	for i := range c.Lines {
		if c.Lines[i].ProductID == p.ID {
			c.Lines[i].Quantity++
			return
		}
	}
	vatRate := money.DefaultVATRate
	if p.VATRate.Valid {
		vatRate = p.VATRate.Decimal
	}
	c.Lines = append(c.Lines, domain.LineItem{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPriceGross: p.PriceGross,
		VATRate:        vatRate,
		Quantity:       1,
		PurchaseCost:   p.PurchaseCost,
	})
}

// RemoveLine deletes the line and reports whether it existed. Whether an
// active discount must be re-applied afterwards is the discount engine's
// decision, not the cart's.
func (c *Cart) RemoveLine(productID string) bool {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// SetQuantity sets the line quantity verbatim. A quantity of zero or less
// removes the line; there is no other clamping.
func (c *Cart) SetQuantity(productID string, qty int) bool {
	if qty <= 0 {
		return c.RemoveLine(productID)
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines[i].Quantity = qty
			return true
		}
	}
	return false
}

// SetPrice overrides the line's unit price. When isNet is true the price is
// interpreted as net and converted to gross through the line's VAT rate.
// Quantity is never touched by a price edit.
func (c *Cart) SetPrice(productID string, price decimal.Decimal, isNet bool) error {
	if price.IsNegative() {
		return domain.ErrInvalidInput
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID != productID {
			continue
		}
		if isNet {
			c.Lines[i].UnitPriceGross = money.GrossFromNet(price, c.Lines[i].VATRate)
		} else {
			c.Lines[i].UnitPriceGross = price
		}
		return nil
	}
	return domain.ErrInvalidInput
}

// Line returns a copy of the line for the product.
func (c *Cart) Line(productID string) (domain.LineItem, bool) {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return domain.LineItem{}, false
}

// UnitPriceNet derives the net unit price of a line. Kept at full precision;
// round at the boundary.
func UnitPriceNet(line domain.LineItem) decimal.Decimal {
	return money.NetFromGross(line.UnitPriceGross, line.VATRate)
}

// Subtotal is the gross sum over all lines, before any discount.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.UnitPriceGross.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Snapshot serializes the cart for parking in the ledger. The cart should
// be discarded by the caller afterwards; the snapshot is owned by the
// ledger record.
func (c *Cart) Snapshot() domain.CartSnapshot {
	lines := make([]domain.LineItem, len(c.Lines))
	copy(lines, c.Lines)
	snap := domain.CartSnapshot{
		CustomerID:    c.CustomerID,
		TransactionID: c.TransactionID,
		Lines:         lines,
	}
	if c.AppliedDiscount != nil {
		applied := *c.AppliedDiscount
		snap.AppliedDiscount = &applied
	}
	return snap
}
