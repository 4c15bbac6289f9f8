package cart

import (
	"testing"

	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
)

func coffee() domain.Product {
	return domain.Product{
		ID:         "P-COFFEE",
		Name:       "Ground coffee 500g",
		PriceGross: decimal.RequireFromString("10.00"),
		VATRate:    decimal.NewNullDecimal(decimal.NewFromInt(23)),
		Active:     true,
	}
}

func roll() domain.Product {
	return domain.Product{
		ID:         "P-ROLL",
		Name:       "Wheat roll",
		PriceGross: decimal.RequireFromString("5.00"),
		VATRate:    decimal.NewNullDecimal(decimal.NewFromInt(8)),
		Active:     true,
	}
}

func TestAddLineIncrementsExisting(t *testing.T) {
	c := New("cart-1")
	c.AddLine(coffee())
	c.AddLine(coffee())
	c.AddLine(roll())

	if len(c.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(c.Lines))
	}
	line, ok := c.Line("P-COFFEE")
	if !ok || line.Quantity != 2 {
		t.Fatalf("expected coffee quantity 2, got %+v", line)
	}
}

func TestAddLineDefaultsVATRate(t *testing.T) {
	c := New("cart-1")
	c.AddLine(domain.Product{ID: "P-X", Name: "No VAT set", PriceGross: decimal.NewFromInt(10)})

	line, _ := c.Line("P-X")
	if !line.VATRate.Equal(decimal.NewFromInt(23)) {
		t.Fatalf("expected default VAT rate 23, got %s", line.VATRate)
	}
}

func TestAddLineKeepsZeroVATRate(t *testing.T) {
	c := New("cart-1")
	c.AddLine(domain.Product{
		ID:         "P-BOOK",
		Name:       "Paperback",
		PriceGross: decimal.RequireFromString("20.00"),
		VATRate:    decimal.NewNullDecimal(decimal.Zero),
		Active:     true,
	})

	line, _ := c.Line("P-BOOK")
	if !line.VATRate.IsZero() {
		t.Fatalf("expected VAT rate 0 kept, got %s", line.VATRate)
	}

	// At 0% VAT a net price edit must carry over to gross unchanged.
	if err := c.SetPrice("P-BOOK", decimal.RequireFromString("20.00"), true); err != nil {
		t.Fatalf("set net price failed: %v", err)
	}
	line, _ = c.Line("P-BOOK")
	if !line.UnitPriceGross.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected gross 20.00 at zero VAT, got %s", line.UnitPriceGross)
	}
}

func TestSetQuantityRemovesAtZeroOrBelow(t *testing.T) {
	c := New("cart-1")
	c.AddLine(coffee())

	if !c.SetQuantity("P-COFFEE", 5) {
		t.Fatalf("expected quantity update to succeed")
	}
	line, _ := c.Line("P-COFFEE")
	if line.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", line.Quantity)
	}

	c.SetQuantity("P-COFFEE", 0)
	if _, ok := c.Line("P-COFFEE"); ok {
		t.Fatalf("expected line removed at quantity 0")
	}

	c.AddLine(coffee())
	c.SetQuantity("P-COFFEE", -3)
	if _, ok := c.Line("P-COFFEE"); ok {
		t.Fatalf("expected line removed at negative quantity")
	}
}

func TestSetPriceNetRecomputesGross(t *testing.T) {
	c := New("cart-1")
	c.AddLine(coffee())
	c.SetQuantity("P-COFFEE", 3)

	if err := c.SetPrice("P-COFFEE", decimal.RequireFromString("100"), true); err != nil {
		t.Fatalf("set price failed: %v", err)
	}
	line, _ := c.Line("P-COFFEE")
	if !line.UnitPriceGross.Equal(decimal.RequireFromString("123")) {
		t.Fatalf("expected gross 123 after net edit, got %s", line.UnitPriceGross)
	}
	if line.Quantity != 3 {
		t.Fatalf("price edit must not change quantity, got %d", line.Quantity)
	}
}

func TestSetPriceGrossRoundTripsToNet(t *testing.T) {
	c := New("cart-1")
	c.AddLine(roll())

	if err := c.SetPrice("P-ROLL", decimal.RequireFromString("10.80"), false); err != nil {
		t.Fatalf("set price failed: %v", err)
	}
	line, _ := c.Line("P-ROLL")
	net := UnitPriceNet(line)
	if !net.Round(2).Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("expected net 10.00, got %s", net)
	}
}

func TestSetPriceRejectsNegative(t *testing.T) {
	c := New("cart-1")
	c.AddLine(coffee())
	if err := c.SetPrice("P-COFFEE", decimal.RequireFromString("-1"), false); err == nil {
		t.Fatalf("expected negative price to be rejected")
	}
}

func TestSubtotal(t *testing.T) {
	c := New("cart-1")
	c.AddLine(coffee())
	c.AddLine(coffee())
	c.AddLine(roll())

	if !c.Subtotal().Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected subtotal 25.00, got %s", c.Subtotal())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New("cart-1")
	c.CustomerID = "cust-7"
	c.AddLine(coffee())
	c.AppliedDiscount = &domain.DiscountApplication{
		DiscountID:     "D-PROMO10",
		Kind:           domain.DiscountKindPercent,
		Value:          decimal.NewFromInt(10),
		ComputedAmount: decimal.RequireFromString("1.00"),
		LedgerRecordID: "ledg-1",
	}

	restored := FromSnapshot("cart-2", c.Snapshot())
	if restored.CustomerID != "cust-7" || len(restored.Lines) != 1 {
		t.Fatalf("snapshot round trip lost data: %+v", restored)
	}
	if restored.AppliedDiscount == nil || restored.AppliedDiscount.DiscountID != "D-PROMO10" {
		t.Fatalf("snapshot round trip lost discount")
	}

	// The restored cart must not alias the original's lines.
	restored.SetQuantity("P-COFFEE", 9)
	if line, _ := c.Line("P-COFFEE"); line.Quantity != 1 {
		t.Fatalf("snapshot aliases original cart lines")
	}
}
