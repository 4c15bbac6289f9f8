// Package service implements the POS core operations on top of the
// ledger: cart editing, the single-active-discount engine, the shift
// open/close reconciliation workflow and post-sale corrections. Every
// mutating operation is serialized per cart id, per correction draft or
// per (cashier, location) shift key, and every submit-like operation is
// idempotent under a caller-supplied or generated key.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasapos/backend/internal/cart"
	"kasapos/backend/internal/correction"
	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/idempo"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/money"
	"kasapos/backend/internal/xid"
)

// openTolerance is the soft drawer tolerance at shift open. A larger
// difference is recorded as a discrepancy but does not block opening.
var openTolerance = decimal.NewFromInt(10)

type Options struct {
	DefaultLocationID string
	SupervisorPINHash []byte
	IdempotencyTTL    time.Duration
}

type Service struct {
	ledger ledger.Ledger
	keys   idempo.Registry
	log    zerolog.Logger
	opts   Options
	locks  *keyedMutex

	mu          sync.Mutex
	carts       map[string]*cart.Cart
	corrections map[string]*correction.Draft
}

func New(ldg ledger.Ledger, keys idempo.Registry, logger zerolog.Logger, opts Options) *Service {
	if opts.DefaultLocationID == "" {
		opts.DefaultLocationID = "loc-main"
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Service{
		ledger:      ldg,
		keys:        keys,
		log:         logger,
		opts:        opts,
		locks:       newKeyedMutex(),
		carts:       map[string]*cart.Cart{},
		corrections: map[string]*correction.Draft{},
	}
}

// ---- carts ----

type CartCreateRequest struct {
	Cashier    string `json:"cashier"`
	LocationID string `json:"location_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

func (s *Service) CreateCart(_ context.Context, req CartCreateRequest) (domain.CartView, error) {
	if strings.TrimSpace(req.Cashier) == "" {
		return domain.CartView{}, domain.ErrInvalidInput
	}
	c := cart.New(xid.New("cart"))
	c.Cashier = req.Cashier
	c.LocationID = s.location(req.LocationID)
	c.CustomerID = strings.TrimSpace(req.CustomerID)

	s.mu.Lock()
	s.carts[c.ID] = c
	s.mu.Unlock()

	return s.cartView(c), nil
}

func (s *Service) GetCart(_ context.Context, cartID string) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	return s.cartView(c), nil
}

func (s *Service) AddCartLine(ctx context.Context, cartID string, productID string) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	product, err := s.ledger.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("load product: %w", err)
	}
	c.AddLine(*product)
	return s.cartView(c), nil
}

func (s *Service) RemoveCartLine(_ context.Context, cartID string, productID string) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !c.RemoveLine(productID) {
		return domain.CartView{}, domain.ErrInvalidInput
	}
	return s.cartView(c), nil
}

func (s *Service) SetCartQuantity(_ context.Context, cartID string, productID string, qty int) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !c.SetQuantity(productID, qty) && qty > 0 {
		return domain.CartView{}, domain.ErrInvalidInput
	}
	return s.cartView(c), nil
}

func (s *Service) SetCartPrice(_ context.Context, cartID string, productID string, price decimal.Decimal, isNet bool) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := c.SetPrice(productID, price, isNet); err != nil {
		return domain.CartView{}, err
	}
	return s.cartView(c), nil
}

func (s *Service) cartByID(cartID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return c, nil
}

func (s *Service) cartView(c *cart.Cart) domain.CartView {
	lines := make([]domain.LineItem, len(c.Lines))
	copy(lines, c.Lines)
	view := domain.CartView{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		CustomerID:    c.CustomerID,
		Lines:         lines,
		Subtotal:      money.Round2(c.Subtotal()),
		FinalTotal:    money.Round2(finalTotal(c)),
	}
	if c.AppliedDiscount != nil {
		applied := *c.AppliedDiscount
		view.AppliedDiscount = &applied
	}
	return view
}

// finalTotal is subtotal minus the ledger-computed discount amount,
// floored at zero so an oversized discount can never drive the total
// negative.
func finalTotal(c *cart.Cart) decimal.Decimal {
	total := c.Subtotal()
	if c.AppliedDiscount != nil {
		total = total.Sub(c.AppliedDiscount.ComputedAmount)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ---- discount engine ----

// ApplyDiscount applies a discount to the cart, creating the ledger draft
// transaction lazily on first use. Replacing an existing discount is
// strictly sequential: the previous ledger record is voided first and a
// failed void aborts the whole apply, so there is never a window with two
// chargeable discounts.
func (s *Service) ApplyDiscount(ctx context.Context, req domain.DiscountApplyRequest) (domain.DiscountApplyResponse, error) {
	if strings.TrimSpace(req.CartID) == "" || strings.TrimSpace(req.DiscountID) == "" {
		return domain.DiscountApplyResponse{}, domain.ErrInvalidInput
	}

	unlock := s.locks.Lock("cart:" + req.CartID)
	defer unlock()

	idemKey := s.idempotencyKey(req.IdempotencyKey)
	var replay domain.DiscountApplyResponse
	if found, err := s.replay(ctx, idemKey, &replay); err != nil {
		return domain.DiscountApplyResponse{}, err
	} else if found {
		replay.Duplicate = true
		return replay, nil
	}

	c, err := s.cartByID(req.CartID)
	if err != nil {
		return domain.DiscountApplyResponse{}, err
	}

	disc, err := s.ledger.GetDiscount(ctx, req.DiscountID)
	if err != nil {
		return domain.DiscountApplyResponse{}, fmt.Errorf("load discount: %w", err)
	}
	if disc.Availability != domain.DiscountAvailable {
		return domain.DiscountApplyResponse{}, domain.ErrDiscountUnavailable
	}
	if c.AppliedDiscount != nil && c.AppliedDiscount.DiscountID == req.DiscountID {
		return domain.DiscountApplyResponse{}, domain.ErrDiscountAlreadyApplied
	}

	if err := s.ensureLedgerTransaction(ctx, c); err != nil {
		return domain.DiscountApplyResponse{}, err
	}

	if prev := c.AppliedDiscount; prev != nil {
		if err := s.ledger.RemoveDiscount(ctx, c.TransactionID, prev.LedgerRecordID); err != nil {
			return domain.DiscountApplyResponse{}, fmt.Errorf("void previous discount: %w", err)
		}
		c.AppliedDiscount = nil
	}

	grant, err := s.ledger.ApplyDiscount(ctx, c.TransactionID, req.DiscountID, req.Note)
	if err != nil {
		// The cart is now discount-free; the caller re-applies once the
		// ledger recovers.
		if errors.Is(err, ledger.ErrUnavailable) {
			return domain.DiscountApplyResponse{}, domain.ErrDiscountUnavailable
		}
		return domain.DiscountApplyResponse{}, fmt.Errorf("apply discount: %w", err)
	}

	c.AppliedDiscount = &domain.DiscountApplication{
		DiscountID:     req.DiscountID,
		Kind:           disc.Kind,
		Value:          disc.Value,
		ComputedAmount: grant.ComputedAmount,
		LedgerRecordID: grant.LedgerRecordID,
		Note:           req.Note,
	}

	resp := domain.DiscountApplyResponse{
		Discount:   *c.AppliedDiscount,
		FinalTotal: money.Round2(finalTotal(c)),
	}
	s.recordOutcome(ctx, idemKey, resp)
	s.logAudit(ctx, c.LocationID, c.Cashier, "discount_apply", "cart", c.ID,
		fmt.Sprintf("discount=%s,amount=%s", req.DiscountID, grant.ComputedAmount))

	return resp, nil
}

// RemoveDiscount voids the active discount against the ledger. The local
// application is cleared only after the ledger acknowledged the void; on
// failure the discount stays active and the error is surfaced.
func (s *Service) RemoveDiscount(ctx context.Context, cartID string) (domain.CartView, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.CartView{}, err
	}
	if c.AppliedDiscount == nil {
		return domain.CartView{}, domain.ErrNoDiscountApplied
	}

	if err := s.ledger.RemoveDiscount(ctx, c.TransactionID, c.AppliedDiscount.LedgerRecordID); err != nil {
		return domain.CartView{}, fmt.Errorf("void discount: %w", err)
	}
	removed := c.AppliedDiscount.DiscountID
	c.AppliedDiscount = nil

	s.logAudit(ctx, c.LocationID, c.Cashier, "discount_remove", "cart", c.ID, "discount="+removed)
	return s.cartView(c), nil
}

// ensureLedgerTransaction lazily creates the backing draft transaction and
// mirrors every cart line into it. The transaction id is kept only after
// all lines were accepted; any failure leaves the cart without a persisted
// id so the caller retries the compound operation from scratch.
func (s *Service) ensureLedgerTransaction(ctx context.Context, c *cart.Cart) error {
	if c.TransactionID != "" {
		return nil
	}
	txID, err := s.ledger.CreateDraftTransaction(ctx, c.Cashier, c.LocationID)
	if err != nil {
		return fmt.Errorf("create draft transaction: %w", err)
	}
	for _, line := range c.Lines {
		if err := s.ledger.AddTransactionLine(ctx, txID, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("add transaction line %s: %w", line.ProductID, err)
		}
	}
	c.TransactionID = txID
	return nil
}

// ---- sales ----

func (s *Service) SubmitSale(ctx context.Context, req domain.SaleSubmitRequest) (domain.SaleSubmitResponse, error) {
	if strings.TrimSpace(req.CartID) == "" || strings.TrimSpace(req.Cashier) == "" {
		return domain.SaleSubmitResponse{}, domain.ErrInvalidInput
	}
	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentBLIK:
	default:
		return domain.SaleSubmitResponse{}, domain.ErrInvalidInput
	}
	locationID := s.location(req.LocationID)

	unlock := s.locks.Lock("cart:" + req.CartID)
	defer unlock()

	// Replay before resolving the cart: the first submission removed it,
	// so a retry after a lost response must not reach the lookup.
	idemKey := s.idempotencyKey(req.IdempotencyKey)
	var replay domain.SaleSubmitResponse
	if found, err := s.replay(ctx, idemKey, &replay); err != nil {
		return domain.SaleSubmitResponse{}, err
	} else if found {
		replay.Duplicate = true
		return replay, nil
	}

	shift, err := s.ledger.GetActiveShift(ctx, req.Cashier, locationID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.SaleSubmitResponse{}, domain.ErrNoOpenShift
		}
		return domain.SaleSubmitResponse{}, err
	}

	c, err := s.cartByID(req.CartID)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}
	if len(c.Lines) == 0 {
		return domain.SaleSubmitResponse{}, domain.ErrInvalidInput
	}

	if err := s.ensureLedgerTransaction(ctx, c); err != nil {
		return domain.SaleSubmitResponse{}, err
	}

	subtotal := money.Round2(c.Subtotal())
	discountAmount := decimal.Zero
	if c.AppliedDiscount != nil {
		discountAmount = c.AppliedDiscount.ComputedAmount
	}
	total := money.Round2(finalTotal(c))

	lines := make([]domain.TransactionLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		unitPrice := money.Round2(line.UnitPriceGross)
		lines = append(lines, domain.TransactionLine{
			PositionID: xid.New("pos"),
			ProductID:  line.ProductID,
			Name:       line.Name,
			UnitPrice:  unitPrice,
			Quantity:   qty,
			Amount:     money.Round2(unitPrice.Mul(qty)),
		})
	}

	created, err := s.ledger.FinalizeSale(ctx, domain.Transaction{
		ID:             c.TransactionID,
		Cashier:        req.Cashier,
		LocationID:     locationID,
		ShiftID:        shift.ID,
		CustomerID:     c.CustomerID,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		Total:          total,
		Lines:          lines,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.SaleSubmitResponse{}, fmt.Errorf("finalize sale: %w", err)
	}

	s.mu.Lock()
	delete(s.carts, c.ID)
	s.mu.Unlock()

	resp := domain.SaleSubmitResponse{
		TransactionID:  created.ID,
		ShiftID:        shift.ID,
		Subtotal:       created.Subtotal,
		DiscountAmount: created.DiscountAmount,
		Total:          created.Total,
	}
	s.recordOutcome(ctx, idemKey, resp)
	s.logAudit(ctx, locationID, req.Cashier, "sale_submit", "transaction", created.ID,
		fmt.Sprintf("total=%s,payment=%s,discount=%s", created.Total, created.PaymentMethod, created.DiscountAmount))

	return resp, nil
}

// ---- shift lifecycle ----

// OpenShift transitions Closed -> Open for the (cashier, location) key.
// The counted drawer is compared against the ledger's expected float with
// a soft 10-unit tolerance; a larger difference is recorded, not blocking.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if !req.Confirmed {
		return domain.ShiftResponse{}, domain.ErrCashCountNotConfirmed
	}
	if strings.TrimSpace(req.Cashier) == "" {
		return domain.ShiftResponse{}, domain.ErrInvalidInput
	}
	locationID := s.location(req.LocationID)

	counted := req.PhysicalCashCounted
	if counted.IsZero() && len(req.Denominations) > 0 {
		total, err := money.TotalFromDenominations(req.Denominations)
		if err != nil {
			return domain.ShiftResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		counted = total
	}
	if counted.IsNegative() {
		return domain.ShiftResponse{}, domain.ErrInvalidInput
	}

	unlock := s.locks.Lock("shift:" + req.Cashier + "|" + locationID)
	defer unlock()

	if _, err := s.ledger.GetActiveShift(ctx, req.Cashier, locationID); err == nil {
		return domain.ShiftResponse{}, domain.ErrShiftAlreadyOpen
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return domain.ShiftResponse{}, err
	}

	expected, err := s.ledger.GetExpectedDrawerCash(ctx, locationID, time.Now().UTC(), "")
	if err != nil {
		return domain.ShiftResponse{}, fmt.Errorf("expected drawer cash: %w", err)
	}
	difference := money.Round2(counted.Sub(expected))
	discrepancy := difference.Abs().GreaterThan(openTolerance)

	created, err := s.ledger.CreateShift(ctx, domain.Shift{
		ID:                   xid.New("shift"),
		Cashier:              req.Cashier,
		LocationID:           locationID,
		Status:               domain.ShiftStatusOpen,
		OpenedAt:             time.Now().UTC(),
		StartingCashExpected: money.Round2(expected),
		StartingCashPhysical: money.Round2(counted),
		OpeningDifference:    difference,
		OpeningDiscrepancy:   discrepancy,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return domain.ShiftResponse{}, domain.ErrShiftAlreadyOpen
		}
		return domain.ShiftResponse{}, err
	}

	if discrepancy {
		s.log.Warn().
			Str("shift_id", created.ID).
			Str("cashier", req.Cashier).
			Str("difference", difference.String()).
			Msg("drawer discrepancy at shift open")
	}
	s.logAudit(ctx, locationID, req.Cashier, "shift_open", "shift", created.ID,
		fmt.Sprintf("counted=%s,expected=%s,discrepancy=%t", counted, expected, discrepancy))

	return domain.ShiftResponse{Shift: *created}, nil
}

// CloseShift reconciles the cash drawer, the card/BLIK terminal and the
// fiscal register against the ledger's expected figures, each penny-exact.
// Any non-zero difference demands an explicit override confirmed by the
// supervisor PIN; the signed differences are persisted either way. A
// positive safebag amount is deposited before the close is recorded.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if strings.TrimSpace(req.Cashier) == "" {
		return domain.ShiftResponse{}, domain.ErrInvalidInput
	}
	if req.EndingCashPhysical.IsNegative() || req.SafebagAmount.IsNegative() {
		return domain.ShiftResponse{}, domain.ErrInvalidInput
	}
	locationID := s.location(req.LocationID)

	unlock := s.locks.Lock("shift:" + req.Cashier + "|" + locationID)
	defer unlock()

	// Replay before the active-shift lookup: the first close archived the
	// shift, so a retry would otherwise see no open shift.
	idemKey := s.idempotencyKey(req.IdempotencyKey)
	var replay domain.ShiftResponse
	if found, err := s.replay(ctx, idemKey, &replay); err != nil {
		return domain.ShiftResponse{}, err
	} else if found {
		return replay, nil
	}

	shift, err := s.ledger.GetActiveShift(ctx, req.Cashier, locationID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.ShiftResponse{}, domain.ErrNoOpenShift
		}
		return domain.ShiftResponse{}, err
	}

	// Expected figures are read fresh inside the critical section; they
	// are the ledger's, never cached or recomputed locally.
	expectedCash, err := s.ledger.GetExpectedDrawerCash(ctx, locationID, time.Now().UTC(), shift.ID)
	if err != nil {
		return domain.ShiftResponse{}, fmt.Errorf("expected drawer cash: %w", err)
	}
	terminal, err := s.ledger.GetShiftTerminalTotals(ctx, shift.ID)
	if err != nil {
		return domain.ShiftResponse{}, fmt.Errorf("terminal totals: %w", err)
	}
	fiscal, err := s.ledger.GetShiftFiscalTotals(ctx, shift.ID)
	if err != nil {
		return domain.ShiftResponse{}, fmt.Errorf("fiscal totals: %w", err)
	}

	cashActual := req.EndingCashPhysical.Add(req.SafebagAmount)
	cashDifference := money.Round2(cashActual.Sub(expectedCash))
	terminalExpected := terminal.CardSales.Add(terminal.BLIKSales)
	terminalDifference := money.Round2(req.TerminalActual.Sub(terminalExpected))
	fiscalExpected := fiscal.Sales.Sub(fiscal.Returns)
	fiscalDifference := money.Round2(req.FiscalActual.Sub(fiscalExpected))

	outOfTolerance := !cashDifference.IsZero() || !terminalDifference.IsZero() || !fiscalDifference.IsZero()
	if outOfTolerance {
		if !req.Override {
			return domain.ShiftResponse{}, domain.ErrOverrideRequired
		}
		if err := s.verifySupervisorPIN(req.SupervisorPIN); err != nil {
			return domain.ShiftResponse{}, err
		}
		s.log.Warn().
			Str("shift_id", shift.ID).
			Str("cashier", req.Cashier).
			Str("cash_difference", cashDifference.String()).
			Str("terminal_difference", terminalDifference.String()).
			Str("fiscal_difference", fiscalDifference.String()).
			Msg("shift closed out of tolerance with override")
	}

	if req.SafebagAmount.IsPositive() {
		if _, err := s.ledger.RecordSafebagDeposit(ctx, domain.SafebagDeposit{
			LocationID: locationID,
			ShiftID:    shift.ID,
			Cashier:    req.Cashier,
			Amount:     money.Round2(req.SafebagAmount),
		}); err != nil {
			return domain.ShiftResponse{}, fmt.Errorf("record safebag deposit: %w", err)
		}
	}

	now := time.Now().UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &now
	shift.EndingCashPhysical = money.Round2(req.EndingCashPhysical)
	shift.SafebagAmount = money.Round2(req.SafebagAmount)
	shift.CashExpected = money.Round2(expectedCash)
	shift.CashDifference = cashDifference
	shift.TerminalExpected = money.Round2(terminalExpected)
	shift.TerminalActual = money.Round2(req.TerminalActual)
	shift.TerminalDifference = terminalDifference
	shift.FiscalExpected = money.Round2(fiscalExpected)
	shift.FiscalActual = money.Round2(req.FiscalActual)
	shift.FiscalDifference = fiscalDifference
	shift.OutOfTolerance = outOfTolerance
	shift.Overridden = outOfTolerance && req.Override
	shift.Notes = strings.TrimSpace(req.Notes)

	closed, err := s.ledger.CloseShift(ctx, *shift)
	if err != nil {
		return domain.ShiftResponse{}, fmt.Errorf("close shift: %w", err)
	}

	resp := domain.ShiftResponse{Shift: *closed}
	s.recordOutcome(ctx, idemKey, resp)
	s.logAudit(ctx, locationID, req.Cashier, "shift_close", "shift", closed.ID,
		fmt.Sprintf("cash_diff=%s,terminal_diff=%s,fiscal_diff=%s,override=%t",
			cashDifference, terminalDifference, fiscalDifference, closed.Overridden))

	return resp, nil
}

func (s *Service) ActiveShift(ctx context.Context, cashier string, locationID string) (domain.ShiftResponse, error) {
	if strings.TrimSpace(cashier) == "" {
		return domain.ShiftResponse{}, domain.ErrInvalidInput
	}
	shift, err := s.ledger.GetActiveShift(ctx, cashier, s.location(locationID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.ShiftResponse{}, domain.ErrNoOpenShift
		}
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ShiftReport(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shift, err := s.ledger.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

// ---- corrections ----

func (s *Service) StartCorrection(ctx context.Context, req domain.CorrectionStartRequest) (domain.Correction, error) {
	tx, err := s.ledger.FindTransaction(ctx, req.TransactionID)
	if err != nil {
		return domain.Correction{}, fmt.Errorf("load transaction: %w", err)
	}
	draft, err := correction.NewDraft(xid.New("cor"), tx, req.Mode, req.ReasonCode, req.ReasonText)
	if err != nil {
		return domain.Correction{}, err
	}

	s.mu.Lock()
	s.corrections[draft.ID] = draft
	s.mu.Unlock()

	return correctionView(draft), nil
}

func (s *Service) SelectCorrectionLine(_ context.Context, correctionID string, positionID string, selected bool) (domain.Correction, error) {
	unlock := s.locks.Lock("correction:" + correctionID)
	defer unlock()

	draft, err := s.correctionByID(correctionID)
	if err != nil {
		return domain.Correction{}, err
	}
	if selected {
		err = draft.SelectLine(positionID)
	} else {
		err = draft.DeselectLine(positionID)
	}
	if err != nil {
		return domain.Correction{}, err
	}
	return correctionView(draft), nil
}

func (s *Service) SetCorrectionQuantity(_ context.Context, correctionID string, positionID string, qty decimal.Decimal) (domain.Correction, error) {
	unlock := s.locks.Lock("correction:" + correctionID)
	defer unlock()

	draft, err := s.correctionByID(correctionID)
	if err != nil {
		return domain.Correction{}, err
	}
	if err := draft.SetQuantity(positionID, qty); err != nil {
		return domain.Correction{}, err
	}
	return correctionView(draft), nil
}

func (s *Service) SetCorrectionAmount(_ context.Context, correctionID string, positionID string, amount decimal.Decimal) (domain.Correction, error) {
	unlock := s.locks.Lock("correction:" + correctionID)
	defer unlock()

	draft, err := s.correctionByID(correctionID)
	if err != nil {
		return domain.Correction{}, err
	}
	if err := draft.SetAmount(positionID, amount); err != nil {
		return domain.Correction{}, err
	}
	return correctionView(draft), nil
}

// SubmitCorrection sends the correction document to the ledger once. The
// draft is validated, supervisor-confirmed and rounded at the boundary;
// the ledger clamps against previously corrected amounts and issues the
// document number.
func (s *Service) SubmitCorrection(ctx context.Context, req domain.CorrectionSubmitRequest) (domain.CorrectionSubmitResponse, error) {
	unlock := s.locks.Lock("correction:" + req.CorrectionID)
	defer unlock()

	// Replay before resolving the draft: the first submission deleted it.
	idemKey := s.idempotencyKey(req.IdempotencyKey)
	var replay domain.CorrectionSubmitResponse
	if found, err := s.replay(ctx, idemKey, &replay); err != nil {
		return domain.CorrectionSubmitResponse{}, err
	} else if found {
		replay.Duplicate = true
		return replay, nil
	}

	draft, err := s.correctionByID(req.CorrectionID)
	if err != nil {
		return domain.CorrectionSubmitResponse{}, err
	}
	if err := draft.Validate(); err != nil {
		return domain.CorrectionSubmitResponse{}, err
	}
	if err := s.verifySupervisorPIN(req.SupervisorPIN); err != nil {
		return domain.CorrectionSubmitResponse{}, err
	}

	doc := draft.Document()
	for i := range doc.Lines {
		doc.Lines[i].CorrectionAmount = money.Round2(doc.Lines[i].CorrectionAmount)
	}
	doc.TotalAmount = money.Round2(doc.TotalAmount)

	submitted, err := s.ledger.SubmitCorrection(ctx, doc)
	if err != nil {
		return domain.CorrectionSubmitResponse{}, fmt.Errorf("submit correction: %w", err)
	}

	s.mu.Lock()
	delete(s.corrections, draft.ID)
	s.mu.Unlock()

	resp := domain.CorrectionSubmitResponse{
		CorrectionID:   submitted.ID,
		DocumentNumber: submitted.DocumentNumber,
		TotalAmount:    submitted.TotalAmount,
	}
	s.recordOutcome(ctx, idemKey, resp)
	s.logAudit(ctx, draft.LocationID, draft.Cashier, "correction_submit", "correction", submitted.ID,
		fmt.Sprintf("parent=%s,document=%s,total=%s", submitted.ParentTransactionID, submitted.DocumentNumber, submitted.TotalAmount))

	return resp, nil
}

func (s *Service) correctionByID(correctionID string) (*correction.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.corrections[correctionID]
	if !ok {
		return nil, domain.ErrCorrectionNotFound
	}
	return draft, nil
}

func correctionView(d *correction.Draft) domain.Correction {
	lines := make([]domain.CorrectionLine, len(d.Lines))
	copy(lines, d.Lines)
	return domain.Correction{
		ID:                  d.ID,
		ParentTransactionID: d.ParentTransactionID,
		Mode:                d.Mode,
		ReasonCode:          d.ReasonCode,
		ReasonText:          d.ReasonText,
		Lines:               lines,
		TotalAmount:         d.Total(),
	}
}

// ---- held carts ----

func (s *Service) HoldCart(ctx context.Context, cartID string, label string) (domain.HeldCart, error) {
	unlock := s.locks.Lock("cart:" + cartID)
	defer unlock()

	c, err := s.cartByID(cartID)
	if err != nil {
		return domain.HeldCart{}, err
	}
	if len(c.Lines) == 0 {
		return domain.HeldCart{}, domain.ErrInvalidInput
	}

	held, err := s.ledger.CreateHeldCart(ctx, domain.HeldCart{
		Cashier:    c.Cashier,
		LocationID: c.LocationID,
		Label:      strings.TrimSpace(label),
		Snapshot:   c.Snapshot(),
	})
	if err != nil {
		return domain.HeldCart{}, fmt.Errorf("hold cart: %w", err)
	}

	s.mu.Lock()
	delete(s.carts, c.ID)
	s.mu.Unlock()

	s.logAudit(ctx, c.LocationID, c.Cashier, "cart_hold", "held_cart", held.ID, "")
	return *held, nil
}

func (s *Service) ListHeldCarts(ctx context.Context, cashier string, locationID string) ([]domain.HeldCart, error) {
	return s.ledger.ListHeldCarts(ctx, cashier, s.location(locationID), 50)
}

func (s *Service) ResumeHeldCart(ctx context.Context, holdID string) (domain.CartView, error) {
	held, err := s.ledger.PopHeldCart(ctx, holdID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("resume held cart: %w", err)
	}

	c := cart.FromSnapshot(xid.New("cart"), held.Snapshot)
	c.Cashier = held.Cashier
	c.LocationID = held.LocationID

	s.mu.Lock()
	s.carts[c.ID] = c
	s.mu.Unlock()

	s.logAudit(ctx, c.LocationID, c.Cashier, "cart_resume", "held_cart", holdID, "")
	return s.cartView(c), nil
}

func (s *Service) DiscardHeldCart(ctx context.Context, holdID string) error {
	return s.ledger.DeleteHeldCart(ctx, holdID)
}

// ---- audit ----

func (s *Service) ListAuditLogs(ctx context.Context, locationID string, date string, limit int) ([]domain.AuditLog, error) {
	var from, to time.Time
	if strings.TrimSpace(date) != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		from = day
		to = day.Add(24 * time.Hour)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListAuditLogs(ctx, s.location(locationID), from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, locationID string, cashier string, action string, entityType string, entityID string, detail string) {
	err := s.ledger.CreateAuditLog(ctx, domain.AuditLog{
		LocationID: locationID,
		Cashier:    cashier,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}

// ---- helpers ----

func (s *Service) location(locationID string) string {
	if strings.TrimSpace(locationID) == "" {
		return s.opts.DefaultLocationID
	}
	return locationID
}

func (s *Service) verifySupervisorPIN(pin string) error {
	if len(s.opts.SupervisorPINHash) == 0 {
		return domain.ErrPINMismatch
	}
	if bcrypt.CompareHashAndPassword(s.opts.SupervisorPINHash, []byte(pin)) != nil {
		return domain.ErrPINMismatch
	}
	return nil
}

func (s *Service) idempotencyKey(key string) string {
	if strings.TrimSpace(key) != "" {
		return key
	}
	return uuid.NewString()
}

// replay loads a previously recorded outcome for the key, if any.
func (s *Service) replay(ctx context.Context, key string, dest any) (bool, error) {
	payload, found, err := s.keys.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("idempotency payload: %w", err)
	}
	return true, nil
}

// recordOutcome stores the operation result under its idempotency key.
// Failures are logged, not fatal: the operation itself already succeeded.
func (s *Service) recordOutcome(ctx context.Context, key string, outcome any) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		s.log.Warn().Err(err).Msg("idempotency payload marshal failed")
		return
	}
	if err := s.keys.Set(ctx, key, payload, s.opts.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Msg("idempotency record failed")
	}
}
