package correction

import (
	"testing"

	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
)

func sampleTx() *domain.Transaction {
	return &domain.Transaction{
		ID: "sale-1",
		Lines: []domain.TransactionLine{
			{
				PositionID: "pos-1",
				ProductID:  "P-COFFEE",
				UnitPrice:  decimal.RequireFromString("3.00"),
				Quantity:   decimal.NewFromInt(4),
				Amount:     decimal.RequireFromString("12.00"),
			},
			{
				PositionID: "pos-2",
				ProductID:  "P-SAMPLE",
				UnitPrice:  decimal.Zero,
				Quantity:   decimal.NewFromInt(1),
				Amount:     decimal.Zero,
			},
		},
	}
}

func mustDraft(t *testing.T, mode string) *Draft {
	t.Helper()
	d, err := NewDraft("cor-1", sampleTx(), mode, domain.ReasonCustomerReturn, "")
	if err != nil {
		t.Fatalf("new draft failed: %v", err)
	}
	return d
}

func TestNewDraftRejectsBadMode(t *testing.T) {
	if _, err := NewDraft("cor-1", sampleTx(), "partial", domain.ReasonOther, "x"); err == nil {
		t.Fatalf("expected unknown mode to be rejected")
	}
}

func TestSetQuantityClamps(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeQuantity)

	cases := []struct {
		in   string
		want string
	}{
		{"-5", "0"},
		{"999", "4"},
		{"2", "2"},
	}
	for _, tc := range cases {
		if err := d.SetQuantity("pos-1", decimal.RequireFromString(tc.in)); err != nil {
			t.Fatalf("set quantity failed: %v", err)
		}
		line := d.Lines[0]
		if !line.CorrectionQuantity.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("quantity %s: expected %s, got %s", tc.in, tc.want, line.CorrectionQuantity)
		}
		wantAmount := line.CorrectionQuantity.Mul(line.UnitPrice)
		if !line.CorrectionAmount.Equal(wantAmount) {
			t.Fatalf("quantity %s: amount inconsistent, got %s want %s", tc.in, line.CorrectionAmount, wantAmount)
		}
	}
}

func TestSetAmountRecomputesFractionalQuantity(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeAmount)

	if err := d.SetAmount("pos-1", decimal.RequireFromString("7.00")); err != nil {
		t.Fatalf("set amount failed: %v", err)
	}
	line := d.Lines[0]
	want := decimal.RequireFromString("7.00").Div(decimal.RequireFromString("3.00"))
	if !line.CorrectionQuantity.Equal(want) {
		t.Fatalf("expected quantity %s, got %s", want, line.CorrectionQuantity)
	}
}

func TestSetAmountClampsToOriginal(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeAmount)

	if err := d.SetAmount("pos-1", decimal.RequireFromString("20.00")); err != nil {
		t.Fatalf("set amount failed: %v", err)
	}
	line := d.Lines[0]
	if !line.CorrectionAmount.Equal(decimal.RequireFromString("12.00")) {
		t.Fatalf("expected amount clamped to 12.00, got %s", line.CorrectionAmount)
	}
	if !line.CorrectionQuantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected quantity 4 at clamped amount, got %s", line.CorrectionQuantity)
	}
}

func TestSetAmountZeroUnitPrice(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeAmount)

	if err := d.SetAmount("pos-2", decimal.RequireFromString("1.00")); err != nil {
		t.Fatalf("set amount failed: %v", err)
	}
	line := d.Lines[1]
	if !line.CorrectionQuantity.IsZero() {
		t.Fatalf("expected zero quantity for zero unit price, got %s", line.CorrectionQuantity)
	}
	if !line.CorrectionAmount.IsZero() {
		t.Fatalf("expected amount clamped to zero original, got %s", line.CorrectionAmount)
	}
}

func TestDeselectZeroesLine(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeQuantity)
	if err := d.SetQuantity("pos-1", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if err := d.DeselectLine("pos-1"); err != nil {
		t.Fatalf("deselect failed: %v", err)
	}
	line := d.Lines[0]
	if line.Selected || !line.CorrectionQuantity.IsZero() || !line.CorrectionAmount.IsZero() {
		t.Fatalf("expected deselected line zeroed, got %+v", line)
	}
}

func TestTotalCountsOnlySelected(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeQuantity)
	if err := d.SetQuantity("pos-1", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if !d.Total().Equal(decimal.RequireFromString("6.00")) {
		t.Fatalf("expected total 6.00, got %s", d.Total())
	}

	if err := d.DeselectLine("pos-1"); err != nil {
		t.Fatalf("deselect failed: %v", err)
	}
	if !d.Total().IsZero() {
		t.Fatalf("expected zero total with no selection, got %s", d.Total())
	}
}

func TestValidate(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeQuantity)
	if err := d.Validate(); err != domain.ErrNoLinesSelected {
		t.Fatalf("expected ErrNoLinesSelected, got %v", err)
	}

	if err := d.SetQuantity("pos-1", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("expected valid draft, got %v", err)
	}

	other, err := NewDraft("cor-2", sampleTx(), domain.CorrectionModeQuantity, domain.ReasonOther, "")
	if err != nil {
		t.Fatalf("new draft failed: %v", err)
	}
	if err := other.SetQuantity("pos-1", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if err := other.Validate(); err != domain.ErrReasonRequired {
		t.Fatalf("expected ErrReasonRequired for empty other-reason text, got %v", err)
	}
}

func TestDocumentCarriesOnlyPositiveSelectedLines(t *testing.T) {
	d := mustDraft(t, domain.CorrectionModeQuantity)
	if err := d.SetQuantity("pos-1", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if err := d.SelectLine("pos-2"); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	doc := d.Document()
	if len(doc.Lines) != 1 || doc.Lines[0].PositionID != "pos-1" {
		t.Fatalf("expected only pos-1 in document, got %+v", doc.Lines)
	}
	if !doc.TotalAmount.Equal(decimal.RequireFromString("9.00")) {
		t.Fatalf("expected document total 9.00, got %s", doc.TotalAmount)
	}
}
