package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/idempo"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/ledger/memory"
)

const testPIN = "2580"

func newTestService(t *testing.T) *Service {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	return New(memory.NewSeeded(), idempo.NewMemoryRegistry(), zerolog.Nop(), Options{
		SupervisorPINHash: hash,
	})
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", raw, err)
	}
	return d
}

func newCartWith(t *testing.T, svc *Service, products ...string) string {
	t.Helper()

	view, err := svc.CreateCart(context.Background(), CartCreateRequest{Cashier: "anna"})
	if err != nil {
		t.Fatalf("create cart failed: %v", err)
	}
	for _, productID := range products {
		if _, err := svc.AddCartLine(context.Background(), view.ID, productID); err != nil {
			t.Fatalf("add %s failed: %v", productID, err)
		}
	}
	return view.ID
}

func openTestShift(t *testing.T, svc *Service, counted string) domain.Shift {
	t.Helper()

	resp, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		Cashier:             "anna",
		PhysicalCashCounted: mustDecimal(t, counted),
		Confirmed:           true,
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return resp.Shift
}

func TestApplyAndRemoveDiscount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// 2x coffee at 10.00 plus a roll at 5.00.
	cartID := newCartWith(t, svc, "P-COFFEE", "P-COFFEE", "P-ROLL")

	view, err := svc.GetCart(ctx, cartID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if view.Subtotal.String() != "25" {
		t.Fatalf("expected subtotal 25, got %s", view.Subtotal)
	}

	resp, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-PROMO10"})
	if err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}
	if resp.Discount.ComputedAmount.String() != "2.5" {
		t.Fatalf("expected computed amount 2.5, got %s", resp.Discount.ComputedAmount)
	}
	if resp.FinalTotal.String() != "22.5" {
		t.Fatalf("expected final total 22.5, got %s", resp.FinalTotal)
	}
	if resp.Discount.LedgerRecordID == "" {
		t.Fatalf("expected a ledger record id")
	}

	view, err = svc.RemoveDiscount(ctx, cartID)
	if err != nil {
		t.Fatalf("remove discount failed: %v", err)
	}
	if view.AppliedDiscount != nil {
		t.Fatalf("expected no applied discount after remove")
	}
	if view.FinalTotal.String() != "25" {
		t.Fatalf("expected final total back to 25, got %s", view.FinalTotal)
	}
}

func TestApplyDiscountUnavailable(t *testing.T) {
	svc := newTestService(t)
	cartID := newCartWith(t, svc, "P-COFFEE")

	_, err := svc.ApplyDiscount(context.Background(), domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-USEDUP"})
	if !errors.Is(err, domain.ErrDiscountUnavailable) {
		t.Fatalf("expected ErrDiscountUnavailable, got %v", err)
	}
}

func TestApplyDiscountTwiceRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cartID := newCartWith(t, svc, "P-COFFEE")

	if _, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-PROMO10"}); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	_, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-PROMO10"})
	if !errors.Is(err, domain.ErrDiscountAlreadyApplied) {
		t.Fatalf("expected ErrDiscountAlreadyApplied, got %v", err)
	}
}

func TestReplaceDiscountVoidsPrevious(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cartID := newCartWith(t, svc, "P-COFFEE", "P-COFFEE", "P-ROLL")

	if _, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-PROMO10"}); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	resp, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-FIXED5"})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if resp.Discount.DiscountID != "D-FIXED5" {
		t.Fatalf("expected D-FIXED5 active, got %s", resp.Discount.DiscountID)
	}
	if resp.FinalTotal.String() != "20" {
		t.Fatalf("expected final total 20, got %s", resp.FinalTotal)
	}

	view, err := svc.GetCart(ctx, cartID)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if view.AppliedDiscount == nil || view.AppliedDiscount.DiscountID != "D-FIXED5" {
		t.Fatalf("expected exactly the replacement discount on the cart")
	}
}

func TestOversizedDiscountFloorsAtZero(t *testing.T) {
	svc := newTestService(t)
	cartID := newCartWith(t, svc, "P-WATER")

	resp, err := svc.ApplyDiscount(context.Background(), domain.DiscountApplyRequest{CartID: cartID, DiscountID: "D-FIXED5"})
	if err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}
	if !resp.FinalTotal.IsZero() {
		t.Fatalf("expected final total 0 for oversized discount, got %s", resp.FinalTotal)
	}
}

func TestApplyDiscountIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cartID := newCartWith(t, svc, "P-COFFEE")

	first, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{
		CartID: cartID, DiscountID: "D-PROMO10", IdempotencyKey: "idem-disc-1",
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	second, err := svc.ApplyDiscount(ctx, domain.DiscountApplyRequest{
		CartID: cartID, DiscountID: "D-PROMO10", IdempotencyKey: "idem-disc-1",
	})
	if err != nil {
		t.Fatalf("retried apply failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected retried apply to be flagged duplicate")
	}
	if second.Discount.LedgerRecordID != first.Discount.LedgerRecordID {
		t.Fatalf("expected replayed ledger record id")
	}
}

func TestOpenShiftRequiresConfirmation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		Cashier:             "anna",
		PhysicalCashCounted: decimal.NewFromInt(500),
	})
	if !errors.Is(err, domain.ErrCashCountNotConfirmed) {
		t.Fatalf("expected ErrCashCountNotConfirmed, got %v", err)
	}
}

func TestOpenShiftOnlyOnePerCashierLocation(t *testing.T) {
	svc := newTestService(t)

	shift := openTestShift(t, svc, "500.00")
	if shift.OpeningDiscrepancy {
		t.Fatalf("expected no discrepancy for exact count")
	}
	if shift.StartingCashExpected.String() != "500" {
		t.Fatalf("expected starting cash expected 500, got %s", shift.StartingCashExpected)
	}

	_, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		Cashier:             "anna",
		PhysicalCashCounted: decimal.NewFromInt(500),
		Confirmed:           true,
	})
	if !errors.Is(err, domain.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}
}

func TestOpenShiftRecordsDiscrepancy(t *testing.T) {
	svc := newTestService(t)

	shift := openTestShift(t, svc, "485.00")
	if !shift.OpeningDiscrepancy {
		t.Fatalf("expected discrepancy for 15 under the float")
	}
	if shift.OpeningDifference.String() != "-15" {
		t.Fatalf("expected difference -15, got %s", shift.OpeningDifference)
	}
}

func TestOpenShiftCountsDenominations(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		Cashier:       "anna",
		Denominations: map[string]int{"200": 2, "50": 2},
		Confirmed:     true,
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if resp.Shift.StartingCashPhysical.String() != "500" {
		t.Fatalf("expected counted 500 from denominations, got %s", resp.Shift.StartingCashPhysical)
	}
	if resp.Shift.OpeningDiscrepancy {
		t.Fatalf("expected no discrepancy")
	}
}

func TestOpenShiftUnknownLocationRejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		Cashier:             "anna",
		LocationID:          "loc-ghost",
		PhysicalCashCounted: decimal.NewFromInt(100),
		Confirmed:           true,
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a location without a drawer float, got %v", err)
	}
}

func TestSubmitSaleRequiresOpenShift(t *testing.T) {
	svc := newTestService(t)
	cartID := newCartWith(t, svc, "P-COFFEE")

	_, err := svc.SubmitSale(context.Background(), domain.SaleSubmitRequest{
		CartID:        cartID,
		Cashier:       "anna",
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, domain.ErrNoOpenShift) {
		t.Fatalf("expected ErrNoOpenShift, got %v", err)
	}
}

func TestSubmitSaleIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	cartID := newCartWith(t, svc, "P-COFFEE", "P-ROLL")

	first, err := svc.SubmitSale(ctx, domain.SaleSubmitRequest{
		CartID:         cartID,
		Cashier:        "anna",
		PaymentMethod:  domain.PaymentCash,
		IdempotencyKey: "idem-sale-1",
	})
	if err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}
	if first.Total.String() != "15" {
		t.Fatalf("expected total 15, got %s", first.Total)
	}

	if _, err := svc.GetCart(ctx, cartID); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected cart gone after sale, got %v", err)
	}

	second, err := svc.SubmitSale(ctx, domain.SaleSubmitRequest{
		CartID:         cartID,
		Cashier:        "anna",
		PaymentMethod:  domain.PaymentCash,
		IdempotencyKey: "idem-sale-1",
	})
	if err != nil {
		t.Fatalf("retried submit failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on retry")
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("expected replayed transaction id")
	}
}

func TestCloseShiftIdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")

	req := domain.ShiftCloseRequest{
		Cashier:            "anna",
		EndingCashPhysical: mustDecimal(t, "500.00"),
		IdempotencyKey:     "idem-close-1",
	}
	first, err := svc.CloseShift(ctx, req)
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}

	// The close archived the shift; a retry with the same key must replay
	// the recorded outcome instead of reporting no open shift.
	second, err := svc.CloseShift(ctx, req)
	if err != nil {
		t.Fatalf("retried close failed: %v", err)
	}
	if second.Shift.ID != first.Shift.ID {
		t.Fatalf("expected replayed shift id %s, got %s", first.Shift.ID, second.Shift.ID)
	}
	if second.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed status on replay, got %s", second.Shift.Status)
	}
}

func TestCloseShiftExactReconciliation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")

	cartID := newCartWith(t, svc, "P-COFFEE", "P-COFFEE", "P-ROLL")
	if _, err := svc.SubmitSale(ctx, domain.SaleSubmitRequest{
		CartID: cartID, Cashier: "anna", PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}

	resp, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		Cashier:            "anna",
		EndingCashPhysical: mustDecimal(t, "525.00"),
		FiscalActual:       mustDecimal(t, "25.00"),
	})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if resp.Shift.OutOfTolerance {
		t.Fatalf("expected in-tolerance close, differences %s/%s/%s",
			resp.Shift.CashDifference, resp.Shift.TerminalDifference, resp.Shift.FiscalDifference)
	}
	if resp.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed status, got %s", resp.Shift.Status)
	}
	if resp.Shift.CashExpected.String() != "525" {
		t.Fatalf("expected cash expected 525, got %s", resp.Shift.CashExpected)
	}
}

func TestCloseShiftPennyOffRequiresOverride(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")

	req := domain.ShiftCloseRequest{
		Cashier:            "anna",
		EndingCashPhysical: mustDecimal(t, "499.99"),
	}
	_, err := svc.CloseShift(ctx, req)
	if !errors.Is(err, domain.ErrOverrideRequired) {
		t.Fatalf("expected ErrOverrideRequired, got %v", err)
	}

	req.Override = true
	req.SupervisorPIN = "0000"
	if _, err := svc.CloseShift(ctx, req); !errors.Is(err, domain.ErrPINMismatch) {
		t.Fatalf("expected ErrPINMismatch for wrong pin, got %v", err)
	}

	req.SupervisorPIN = testPIN
	resp, err := svc.CloseShift(ctx, req)
	if err != nil {
		t.Fatalf("override close failed: %v", err)
	}
	if !resp.Shift.OutOfTolerance || !resp.Shift.Overridden {
		t.Fatalf("expected out-of-tolerance overridden close")
	}
	if resp.Shift.CashDifference.String() != "-0.01" {
		t.Fatalf("expected cash difference -0.01, got %s", resp.Shift.CashDifference)
	}
}

func TestCloseShiftSafebagCountsAsDrawerCash(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")

	cartID := newCartWith(t, svc, "P-COFFEE", "P-COFFEE", "P-ROLL")
	if _, err := svc.SubmitSale(ctx, domain.SaleSubmitRequest{
		CartID: cartID, Cashier: "anna", PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}

	resp, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		Cashier:            "anna",
		EndingCashPhysical: mustDecimal(t, "325.00"),
		SafebagAmount:      mustDecimal(t, "200.00"),
		FiscalActual:       mustDecimal(t, "25.00"),
	})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if resp.Shift.OutOfTolerance {
		t.Fatalf("expected safebag to count toward drawer cash, difference %s", resp.Shift.CashDifference)
	}
	if resp.Shift.SafebagAmount.String() != "200" {
		t.Fatalf("expected safebag amount 200 on the shift, got %s", resp.Shift.SafebagAmount)
	}
}

func TestCloseShiftCardSalesReconcileTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")

	cartID := newCartWith(t, svc, "P-COFFEE")
	if _, err := svc.SubmitSale(ctx, domain.SaleSubmitRequest{
		CartID: cartID, Cashier: "anna", PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("submit card sale failed: %v", err)
	}

	resp, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		Cashier:            "anna",
		EndingCashPhysical: mustDecimal(t, "500.00"),
		TerminalActual:     mustDecimal(t, "10.00"),
		FiscalActual:       mustDecimal(t, "10.00"),
	})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if resp.Shift.OutOfTolerance {
		t.Fatalf("expected terminal settlement to match card sales")
	}
	if resp.Shift.TerminalExpected.String() != "10" {
		t.Fatalf("expected terminal expected 10, got %s", resp.Shift.TerminalExpected)
	}
}

func submitTestSale(t *testing.T, svc *Service, products ...string) domain.Transaction {
	t.Helper()

	cartID := newCartWith(t, svc, products...)
	resp, err := svc.SubmitSale(context.Background(), domain.SaleSubmitRequest{
		CartID: cartID, Cashier: "anna", PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}
	tx, err := svc.ledger.FindTransaction(context.Background(), resp.TransactionID)
	if err != nil {
		t.Fatalf("find transaction failed: %v", err)
	}
	return *tx
}

func TestCorrectionFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	tx := submitTestSale(t, svc, "P-COFFEE", "P-COFFEE", "P-COFFEE")

	draft, err := svc.StartCorrection(ctx, domain.CorrectionStartRequest{
		TransactionID: tx.ID,
		Mode:          domain.CorrectionModeQuantity,
		ReasonCode:    domain.ReasonDamagedGoods,
	})
	if err != nil {
		t.Fatalf("start correction failed: %v", err)
	}
	if len(draft.Lines) != 1 {
		t.Fatalf("expected one correction line, got %d", len(draft.Lines))
	}
	posID := draft.Lines[0].PositionID

	updated, err := svc.SetCorrectionQuantity(ctx, draft.ID, posID, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if updated.TotalAmount.String() != "10" {
		t.Fatalf("expected correction total 10, got %s", updated.TotalAmount)
	}

	resp, err := svc.SubmitCorrection(ctx, domain.CorrectionSubmitRequest{
		CorrectionID:  draft.ID,
		SupervisorPIN: testPIN,
	})
	if err != nil {
		t.Fatalf("submit correction failed: %v", err)
	}
	if resp.DocumentNumber == "" {
		t.Fatalf("expected a document number")
	}
	if resp.TotalAmount.String() != "10" {
		t.Fatalf("expected total 10, got %s", resp.TotalAmount)
	}

	parent, err := svc.ledger.FindTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("find parent failed: %v", err)
	}
	if parent.Status != domain.SaleStatusCorrected {
		t.Fatalf("expected parent marked corrected, got %s", parent.Status)
	}

	// The audit entry carries the parent sale's location and cashier, so
	// the location-filtered list surfaces the correction.
	logs, err := svc.ListAuditLogs(ctx, "loc-main", "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "correction_submit" && entry.EntityID == resp.CorrectionID {
			if entry.Cashier != "anna" {
				t.Fatalf("expected correction audit entry attributed to anna, got %q", entry.Cashier)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a correction_submit audit entry for loc-main")
	}
}

func TestSubmitCorrectionIdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	tx := submitTestSale(t, svc, "P-COFFEE")

	draft, err := svc.StartCorrection(ctx, domain.CorrectionStartRequest{
		TransactionID: tx.ID,
		Mode:          domain.CorrectionModeQuantity,
		ReasonCode:    domain.ReasonCustomerReturn,
	})
	if err != nil {
		t.Fatalf("start correction failed: %v", err)
	}
	if _, err := svc.SetCorrectionQuantity(ctx, draft.ID, draft.Lines[0].PositionID, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}

	req := domain.CorrectionSubmitRequest{
		CorrectionID:   draft.ID,
		SupervisorPIN:  testPIN,
		IdempotencyKey: "idem-cor-1",
	}
	first, err := svc.SubmitCorrection(ctx, req)
	if err != nil {
		t.Fatalf("submit correction failed: %v", err)
	}

	// The submission deleted the draft; the retry must replay the recorded
	// outcome instead of reporting the draft missing.
	second, err := svc.SubmitCorrection(ctx, req)
	if err != nil {
		t.Fatalf("retried submit failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on retry")
	}
	if second.DocumentNumber != first.DocumentNumber {
		t.Fatalf("expected replayed document number %s, got %s", first.DocumentNumber, second.DocumentNumber)
	}
}

func TestSubmitCorrectionNoLinesSelected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	tx := submitTestSale(t, svc, "P-COFFEE")

	draft, err := svc.StartCorrection(ctx, domain.CorrectionStartRequest{
		TransactionID: tx.ID,
		Mode:          domain.CorrectionModeQuantity,
		ReasonCode:    domain.ReasonCustomerReturn,
	})
	if err != nil {
		t.Fatalf("start correction failed: %v", err)
	}

	_, err = svc.SubmitCorrection(ctx, domain.CorrectionSubmitRequest{
		CorrectionID:  draft.ID,
		SupervisorPIN: testPIN,
	})
	if !errors.Is(err, domain.ErrNoLinesSelected) {
		t.Fatalf("expected ErrNoLinesSelected, got %v", err)
	}
}

func TestSubmitCorrectionOtherNeedsReasonText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	tx := submitTestSale(t, svc, "P-COFFEE")

	draft, err := svc.StartCorrection(ctx, domain.CorrectionStartRequest{
		TransactionID: tx.ID,
		Mode:          domain.CorrectionModeQuantity,
		ReasonCode:    domain.ReasonOther,
	})
	if err != nil {
		t.Fatalf("start correction failed: %v", err)
	}
	if _, err := svc.SetCorrectionQuantity(ctx, draft.ID, draft.Lines[0].PositionID, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}

	_, err = svc.SubmitCorrection(ctx, domain.CorrectionSubmitRequest{
		CorrectionID:  draft.ID,
		SupervisorPIN: testPIN,
	})
	if !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
}

func TestOverCorrectionRejectedByLedger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	openTestShift(t, svc, "500.00")
	tx := submitTestSale(t, svc, "P-COFFEE", "P-COFFEE")

	correctAll := func() (domain.CorrectionSubmitResponse, error) {
		draft, err := svc.StartCorrection(ctx, domain.CorrectionStartRequest{
			TransactionID: tx.ID,
			Mode:          domain.CorrectionModeQuantity,
			ReasonCode:    domain.ReasonDamagedGoods,
		})
		if err != nil {
			t.Fatalf("start correction failed: %v", err)
		}
		if _, err := svc.SetCorrectionQuantity(ctx, draft.ID, draft.Lines[0].PositionID, decimal.NewFromInt(2)); err != nil {
			t.Fatalf("set quantity failed: %v", err)
		}
		return svc.SubmitCorrection(ctx, domain.CorrectionSubmitRequest{
			CorrectionID:  draft.ID,
			SupervisorPIN: testPIN,
		})
	}

	if _, err := correctAll(); err != nil {
		t.Fatalf("first full correction failed: %v", err)
	}
	if _, err := correctAll(); err == nil {
		t.Fatalf("expected second full correction to be rejected")
	}
}

func TestHoldAndResumeCart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cartID := newCartWith(t, svc, "P-COFFEE", "P-ROLL")

	held, err := svc.HoldCart(ctx, cartID, "customer went for wallet")
	if err != nil {
		t.Fatalf("hold cart failed: %v", err)
	}
	if _, err := svc.GetCart(ctx, cartID); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected held cart gone from active set, got %v", err)
	}

	list, err := svc.ListHeldCarts(ctx, "anna", "")
	if err != nil {
		t.Fatalf("list held carts failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one held cart, got %d", len(list))
	}

	view, err := svc.ResumeHeldCart(ctx, held.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected two lines after resume, got %d", len(view.Lines))
	}
	if view.Subtotal.String() != "15" {
		t.Fatalf("expected subtotal 15 after resume, got %s", view.Subtotal)
	}

	if _, err := svc.ListHeldCarts(ctx, "anna", ""); err != nil {
		t.Fatalf("list after resume failed: %v", err)
	}
}
