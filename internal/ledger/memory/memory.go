// Package memory is the in-memory ledger implementation. It backs the
// service tests and dev mode without PostgreSQL and implements the same
// authoritative rules: discount amounts are computed here, expected cash
// is derived from recorded cash sales and safebag withdrawals, and
// corrections are clamped against what was already corrected.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/money"
	"kasapos/backend/internal/xid"
)

type draftLine struct {
	productID string
	quantity  int
	unitPrice decimal.Decimal
}

type draft struct {
	id         string
	cashier    string
	locationID string
	lines      []draftLine
}

type discountRecord struct {
	id            string
	transactionID string
	discountID    string
	amount        decimal.Decimal
	voided        bool
}

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	discounts        map[string]domain.Discount
	drafts           map[string]*draft
	discountRecords  map[string]*discountRecord
	transactionsByID map[string]domain.Transaction
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	safebagsByShift  map[string][]domain.SafebagDeposit
	correctionsByID  map[string]domain.Correction
	correctedByPos   map[string]decimal.Decimal
	heldCartsByID    map[string]domain.HeldCart
	auditLogs        []domain.AuditLog
	drawerFloats     map[string]decimal.Decimal
	correctionSeq    int
}

func New() *Store {
	return &Store{
		products:         map[string]domain.Product{},
		discounts:        map[string]domain.Discount{},
		drafts:           map[string]*draft{},
		discountRecords:  map[string]*discountRecord{},
		transactionsByID: map[string]domain.Transaction{},
		shiftsByID:       map[string]domain.Shift{},
		activeShiftByKey: map[string]string{},
		safebagsByShift:  map[string][]domain.SafebagDeposit{},
		correctionsByID:  map[string]domain.Correction{},
		correctedByPos:   map[string]decimal.Decimal{},
		heldCartsByID:    map[string]domain.HeldCart{},
		drawerFloats:     map[string]decimal.Decimal{},
	}
}

// NewSeeded returns a store with a small demo catalog, the standard
// discounts and a base drawer float for the default location.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "P-COFFEE", Name: "Ground coffee 500g", PriceGross: decimal.RequireFromString("10.00"), VATRate: decimal.NewNullDecimal(decimal.NewFromInt(23)), PurchaseCost: decimal.RequireFromString("6.20"), Active: true},
		{ID: "P-ROLL", Name: "Wheat roll", PriceGross: decimal.RequireFromString("5.00"), VATRate: decimal.NewNullDecimal(decimal.NewFromInt(8)), PurchaseCost: decimal.RequireFromString("2.10"), Active: true},
		{ID: "P-SUGAR", Name: "Sugar 1kg", PriceGross: decimal.RequireFromString("4.50"), VATRate: decimal.NewNullDecimal(decimal.NewFromInt(23)), PurchaseCost: decimal.RequireFromString("3.00"), Active: true},
		{ID: "P-WATER", Name: "Still water 1.5l", PriceGross: decimal.RequireFromString("2.30"), VATRate: decimal.NewNullDecimal(decimal.NewFromInt(5)), PurchaseCost: decimal.RequireFromString("1.10"), Active: true},
	} {
		s.products[p.ID] = p
	}
	for _, d := range []domain.Discount{
		{ID: "D-PROMO10", Kind: domain.DiscountKindPercent, Value: decimal.NewFromInt(10), Availability: domain.DiscountAvailable},
		{ID: "D-FIXED5", Kind: domain.DiscountKindFixed, Value: decimal.RequireFromString("5.00"), Availability: domain.DiscountAvailable},
		{ID: "D-USEDUP", Kind: domain.DiscountKindPercent, Value: decimal.NewFromInt(15), Availability: domain.DiscountExhausted},
	} {
		s.discounts[d.ID] = d
	}
	s.drawerFloats["loc-main"] = decimal.RequireFromString("500.00")
	return s
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok || !p.Active {
		return nil, ledger.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *Store) GetDiscount(_ context.Context, discountID string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.discounts[discountID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := d
	return &out, nil
}

func (s *Store) CreateDraftTransaction(_ context.Context, cashier string, locationID string) (string, error) {
	if strings.TrimSpace(cashier) == "" || strings.TrimSpace(locationID) == "" {
		return "", ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := &draft{id: xid.New("tx"), cashier: cashier, locationID: locationID}
	s.drafts[d.id] = d
	return d.id, nil
}

func (s *Store) AddTransactionLine(_ context.Context, transactionID string, productID string, quantity int) error {
	if quantity < 1 {
		return ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[transactionID]
	if !ok {
		return ledger.ErrNotFound
	}
	p, ok := s.products[productID]
	if !ok || !p.Active {
		return ledger.ErrNotFound
	}
	for i := range d.lines {
		if d.lines[i].productID == productID {
			d.lines[i].quantity += quantity
			return nil
		}
	}
	d.lines = append(d.lines, draftLine{productID: productID, quantity: quantity, unitPrice: p.PriceGross})
	return nil
}

// ApplyDiscount computes the authoritative discount amount against the
// draft's current lines and opens a ledger record for it.
func (s *Store) ApplyDiscount(_ context.Context, transactionID string, discountID string, _ string) (domain.DiscountGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[transactionID]
	if !ok {
		return domain.DiscountGrant{}, ledger.ErrNotFound
	}
	disc, ok := s.discounts[discountID]
	if !ok {
		return domain.DiscountGrant{}, ledger.ErrNotFound
	}
	if disc.Availability != domain.DiscountAvailable {
		return domain.DiscountGrant{}, ledger.ErrUnavailable
	}

	subtotal := decimal.Zero
	for _, line := range d.lines {
		subtotal = subtotal.Add(line.unitPrice.Mul(decimal.NewFromInt(int64(line.quantity))))
	}

	var amount decimal.Decimal
	switch disc.Kind {
	case domain.DiscountKindPercent:
		amount = money.Round2(subtotal.Mul(disc.Value).Div(decimal.NewFromInt(100)))
	case domain.DiscountKindFixed:
		amount = money.Round2(disc.Value)
	default:
		return domain.DiscountGrant{}, ledger.ErrInvalidRecord
	}

	rec := &discountRecord{
		id:            xid.New("ledg"),
		transactionID: transactionID,
		discountID:    discountID,
		amount:        amount,
	}
	s.discountRecords[rec.id] = rec

	return domain.DiscountGrant{ComputedAmount: amount, LedgerRecordID: rec.id}, nil
}

// RemoveDiscount voids the ledger record. Voiding twice is a no-op so a
// retried remove after a lost acknowledgment stays safe.
func (s *Store) RemoveDiscount(_ context.Context, transactionID string, ledgerRecordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.discountRecords[ledgerRecordID]
	if !ok || rec.transactionID != transactionID {
		return ledger.ErrNotFound
	}
	rec.voided = true
	return nil
}

func (s *Store) FinalizeSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || len(tx.Lines) == 0 {
		return nil, ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, ledger.ErrConflict
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Status = domain.SaleStatusCompleted
	tx.Lines = append([]domain.TransactionLine(nil), tx.Lines...)

	delete(s.drafts, tx.ID)
	s.transactionsByID[tx.ID] = tx
	out := tx
	return &out, nil
}

func (s *Store) FindTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := tx
	out.Lines = append([]domain.TransactionLine(nil), tx.Lines...)
	return &out, nil
}

func shiftKey(cashier string, locationID string) string {
	return cashier + "|" + locationID
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.Cashier) == "" || strings.TrimSpace(shift.LocationID) == "" {
		return nil, ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.Cashier, shift.LocationID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, ledger.ErrConflict
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	out := shift
	return &out, nil
}

func (s *Store) CloseShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.Cashier, shift.LocationID)
	activeID, exists := s.activeShiftByKey[key]
	if !exists || activeID != shift.ID {
		return nil, ledger.ErrNotFound
	}
	if shift.ClosedAt == nil {
		now := time.Now().UTC()
		shift.ClosedAt = &now
	}
	shift.Status = domain.ShiftStatusClosed

	s.shiftsByID[shift.ID] = shift
	delete(s.activeShiftByKey, key)
	out := shift
	return &out, nil
}

func (s *Store) GetActiveShift(_ context.Context, cashier string, locationID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftKey(cashier, locationID)]
	if !exists {
		return nil, ledger.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, ledger.ErrNotFound
	}
	out := shift
	return &out, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, ledger.ErrNotFound
	}
	out := shift
	return &out, nil
}

// GetExpectedDrawerCash returns what the drawer should hold. Before a
// shift exists (shiftID empty) it is the location's base float; during a
// shift it is the counted opening cash plus cash sales minus safebag
// withdrawals. A location without a configured float is not found.
func (s *Store) GetExpectedDrawerCash(_ context.Context, locationID string, _ time.Time, shiftID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if shiftID == "" {
		base, ok := s.drawerFloats[locationID]
		if !ok {
			return decimal.Zero, ledger.ErrNotFound
		}
		return base, nil
	}

	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return decimal.Zero, ledger.ErrNotFound
	}
	expected := shift.StartingCashPhysical
	for _, tx := range s.transactionsByID {
		if tx.ShiftID == shiftID && tx.PaymentMethod == domain.PaymentCash {
			expected = expected.Add(tx.Total)
		}
	}
	for _, deposit := range s.safebagsByShift[shiftID] {
		expected = expected.Sub(deposit.Amount)
	}
	return expected, nil
}

func (s *Store) GetShiftTerminalTotals(_ context.Context, shiftID string) (domain.TerminalTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.TerminalTotals{CardSales: decimal.Zero, BLIKSales: decimal.Zero}
	for _, tx := range s.transactionsByID {
		if tx.ShiftID != shiftID {
			continue
		}
		switch tx.PaymentMethod {
		case domain.PaymentCard:
			totals.CardSales = totals.CardSales.Add(tx.Total)
		case domain.PaymentBLIK:
			totals.BLIKSales = totals.BLIKSales.Add(tx.Total)
		}
	}
	return totals, nil
}

func (s *Store) GetShiftFiscalTotals(_ context.Context, shiftID string) (domain.FiscalTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.FiscalTotals{Sales: decimal.Zero, Returns: decimal.Zero}
	for _, tx := range s.transactionsByID {
		if tx.ShiftID == shiftID {
			totals.Sales = totals.Sales.Add(tx.Total)
		}
	}
	for _, cor := range s.correctionsByID {
		parent, ok := s.transactionsByID[cor.ParentTransactionID]
		if ok && parent.ShiftID == shiftID {
			totals.Returns = totals.Returns.Add(cor.TotalAmount)
		}
	}
	return totals, nil
}

func (s *Store) RecordSafebagDeposit(_ context.Context, deposit domain.SafebagDeposit) (*domain.SafebagDeposit, error) {
	if deposit.ShiftID == "" || !deposit.Amount.IsPositive() {
		return nil, ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shiftsByID[deposit.ShiftID]; !ok {
		return nil, ledger.ErrNotFound
	}
	if deposit.ID == "" {
		deposit.ID = xid.New("bag")
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}
	s.safebagsByShift[deposit.ShiftID] = append(s.safebagsByShift[deposit.ShiftID], deposit)
	out := deposit
	return &out, nil
}

func posKey(transactionID string, positionID string) string {
	return transactionID + "|" + positionID
}

// SubmitCorrection records the correction document and rejects any line
// that would exceed the parent position's still-correctable amount.
func (s *Store) SubmitCorrection(_ context.Context, cor domain.Correction) (*domain.Correction, error) {
	if len(cor.Lines) == 0 {
		return nil, ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.transactionsByID[cor.ParentTransactionID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	originals := make(map[string]domain.TransactionLine, len(parent.Lines))
	for _, pos := range parent.Lines {
		originals[pos.PositionID] = pos
	}

	for _, line := range cor.Lines {
		original, ok := originals[line.PositionID]
		if !ok {
			return nil, ledger.ErrInvalidRecord
		}
		already := s.correctedByPos[posKey(parent.ID, line.PositionID)]
		if already.Add(line.CorrectionAmount).GreaterThan(original.Amount) {
			return nil, ledger.ErrConflict
		}
	}

	if cor.ID == "" {
		cor.ID = xid.New("cor")
	}
	if cor.CreatedAt.IsZero() {
		cor.CreatedAt = time.Now().UTC()
	}
	s.correctionSeq++
	cor.DocumentNumber = fmt.Sprintf("COR/%d/%06d", cor.CreatedAt.Year(), s.correctionSeq)
	cor.Lines = append([]domain.CorrectionLine(nil), cor.Lines...)

	for _, line := range cor.Lines {
		key := posKey(parent.ID, line.PositionID)
		s.correctedByPos[key] = s.correctedByPos[key].Add(line.CorrectionAmount)
	}
	parent.Status = domain.SaleStatusCorrected
	s.transactionsByID[parent.ID] = parent
	s.correctionsByID[cor.ID] = cor

	out := cor
	return &out, nil
}

func (s *Store) CreateHeldCart(_ context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	if strings.TrimSpace(held.Cashier) == "" || strings.TrimSpace(held.LocationID) == "" {
		return nil, ledger.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	s.heldCartsByID[held.ID] = held
	out := held
	return &out, nil
}

func (s *Store) ListHeldCarts(_ context.Context, cashier string, locationID string, limit int) ([]domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held := make([]domain.HeldCart, 0, len(s.heldCartsByID))
	for _, h := range s.heldCartsByID {
		if cashier != "" && h.Cashier != cashier {
			continue
		}
		if locationID != "" && h.LocationID != locationID {
			continue
		}
		held = append(held, h)
	}
	sort.Slice(held, func(i, j int) bool { return held[i].HeldAt.After(held[j].HeldAt) })
	if limit > 0 && len(held) > limit {
		held = held[:limit]
	}
	return held, nil
}

func (s *Store) PopHeldCart(_ context.Context, holdID string) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.heldCartsByID[holdID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	out := held
	return &out, nil
}

func (s *Store) DeleteHeldCart(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heldCartsByID[holdID]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, locationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if locationID != "" && entry.LocationID != locationID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
