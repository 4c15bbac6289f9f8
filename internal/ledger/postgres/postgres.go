package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
	"kasapos/backend/internal/ledger"
	"kasapos/backend/internal/money"
	"kasapos/backend/internal/xid"
)

type Ledger struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Ledger, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := l.db.QueryRowContext(ctx, `
		SELECT id, name, price_gross, vat_rate, purchase_cost, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.PriceGross, &p.VATRate, &p.PurchaseCost, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	if !p.Active {
		return nil, ledger.ErrNotFound
	}
	return &p, nil
}

func (l *Ledger) GetDiscount(ctx context.Context, discountID string) (*domain.Discount, error) {
	var d domain.Discount
	var startsAt, endsAt sql.NullTime
	var usageLimit, usageCount int
	var active bool
	err := l.db.QueryRowContext(ctx, `
		SELECT id, kind, value, starts_at, ends_at, usage_limit, usage_count, active
		FROM discounts
		WHERE id = $1
	`, discountID).Scan(&d.ID, &d.Kind, &d.Value, &startsAt, &endsAt, &usageLimit, &usageCount, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}

	d.Availability = availability(active, startsAt, endsAt, usageLimit, usageCount, time.Now().UTC())
	return &d, nil
}

// availability collapses the discount's lifecycle columns into the single
// state the client acts on. Checks run in precedence order; the first
// failing one wins.
func availability(active bool, startsAt, endsAt sql.NullTime, usageLimit, usageCount int, now time.Time) string {
	switch {
	case !active:
		return domain.DiscountDeactivated
	case startsAt.Valid && now.Before(startsAt.Time):
		return domain.DiscountNotStarted
	case endsAt.Valid && now.After(endsAt.Time):
		return domain.DiscountExpired
	case usageLimit > 0 && usageCount >= usageLimit:
		return domain.DiscountExhausted
	default:
		return domain.DiscountAvailable
	}
}

func (l *Ledger) CreateDraftTransaction(ctx context.Context, cashier string, locationID string) (string, error) {
	if strings.TrimSpace(cashier) == "" || strings.TrimSpace(locationID) == "" {
		return "", ledger.ErrInvalidRecord
	}

	id := xid.New("tx")
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO draft_transactions (id, cashier, location_id, created_at)
		VALUES ($1,$2,$3,now())
	`, id, cashier, locationID)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (l *Ledger) AddTransactionLine(ctx context.Context, transactionID string, productID string, quantity int) error {
	if quantity < 1 {
		return ledger.ErrInvalidRecord
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO draft_lines (transaction_id, product_id, quantity)
		SELECT id, $2, $3 FROM draft_transactions WHERE id = $1
		ON CONFLICT (transaction_id, product_id)
		DO UPDATE SET quantity = draft_lines.quantity + EXCLUDED.quantity
	`, transactionID, productID, quantity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (l *Ledger) ApplyDiscount(ctx context.Context, transactionID string, discountID string, note string) (domain.DiscountGrant, error) {
	var grant domain.DiscountGrant

	pgTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return grant, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM draft_transactions WHERE id = $1)
	`, transactionID).Scan(&exists); err != nil {
		return grant, err
	}
	if !exists {
		return grant, ledger.ErrNotFound
	}

	var kind string
	var value decimal.Decimal
	var startsAt, endsAt sql.NullTime
	var usageLimit, usageCount int
	var active bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT kind, value, starts_at, ends_at, usage_limit, usage_count, active
		FROM discounts
		WHERE id = $1
		FOR UPDATE
	`, discountID).Scan(&kind, &value, &startsAt, &endsAt, &usageLimit, &usageCount, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return grant, ledger.ErrNotFound
		}
		return grant, err
	}
	if availability(active, startsAt, endsAt, usageLimit, usageCount, time.Now().UTC()) != domain.DiscountAvailable {
		return grant, ledger.ErrUnavailable
	}

	var subtotal decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.price_gross * dl.quantity), 0)
		FROM draft_lines dl
		JOIN products p ON p.id = dl.product_id
		WHERE dl.transaction_id = $1
	`, transactionID).Scan(&subtotal)
	if err != nil {
		return grant, err
	}

	amount := value
	if kind == domain.DiscountKindPercent {
		amount = money.Round2(subtotal.Mul(value).Div(decimal.NewFromInt(100)))
	}

	recordID := xid.New("dr")
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO discount_records (id, transaction_id, discount_id, computed_amount, note, voided, created_at)
		VALUES ($1,$2,$3,$4,$5,false,now())
	`, recordID, transactionID, discountID, amount, strings.TrimSpace(note))
	if err != nil {
		return grant, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE discounts SET usage_count = usage_count + 1 WHERE id = $1
	`, discountID)
	if err != nil {
		return grant, err
	}

	if err := pgTx.Commit(); err != nil {
		return grant, err
	}

	grant.ComputedAmount = amount
	grant.LedgerRecordID = recordID
	return grant, nil
}

func (l *Ledger) RemoveDiscount(ctx context.Context, transactionID string, ledgerRecordID string) error {
	pgTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var discountID string
	var voided bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT discount_id, voided
		FROM discount_records
		WHERE id = $1 AND transaction_id = $2
		FOR UPDATE
	`, ledgerRecordID, transactionID).Scan(&discountID, &voided)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		return err
	}
	if voided {
		return pgTx.Commit()
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE discount_records SET voided = true, voided_at = now() WHERE id = $1
	`, ledgerRecordID)
	if err != nil {
		return err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE discounts
		SET usage_count = GREATEST(usage_count - 1, 0)
		WHERE id = $1
	`, discountID)
	if err != nil {
		return err
	}

	return pgTx.Commit()
}

func (l *Ledger) FinalizeSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Lines) == 0 {
		return nil, ledger.ErrInvalidRecord
	}
	if tx.ID == "" {
		tx.ID = xid.New("sale")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.SaleStatusCompleted
	}

	pgTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, cashier, location_id, shift_id, customer_id, payment_method,
			subtotal, discount_amount, total, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, tx.ID, tx.Cashier, tx.LocationID, tx.ShiftID, nullIfEmpty(tx.CustomerID), tx.PaymentMethod,
		tx.Subtotal, tx.DiscountAmount, tx.Total, tx.Status, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrConflict
		}
		return nil, err
	}

	for _, line := range tx.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, position_id, product_id, name, unit_price, quantity, amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, tx.ID, line.PositionID, line.ProductID, line.Name, line.UnitPrice, line.Quantity, line.Amount)
		if err != nil {
			return nil, err
		}
	}

	// The draft made it into the books; its scratch rows are done.
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM draft_lines WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM draft_transactions WHERE id = $1`, tx.ID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := tx
	return &saved, nil
}

func (l *Ledger) FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var customerID sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, cashier, location_id, shift_id, customer_id, payment_method,
			subtotal, discount_amount, total, status, created_at
		FROM transactions
		WHERE id = $1
	`, transactionID).Scan(
		&tx.ID,
		&tx.Cashier,
		&tx.LocationID,
		&tx.ShiftID,
		&customerID,
		&tx.PaymentMethod,
		&tx.Subtotal,
		&tx.DiscountAmount,
		&tx.Total,
		&tx.Status,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		tx.CustomerID = customerID.String
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	rows, err := l.db.QueryContext(ctx, `
		SELECT position_id, product_id, name, unit_price, quantity, amount
		FROM transaction_lines
		WHERE transaction_id = $1
		ORDER BY position_id ASC
	`, tx.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.TransactionLine, 0, 8)
	for rows.Next() {
		var line domain.TransactionLine
		if err := rows.Scan(&line.PositionID, &line.ProductID, &line.Name, &line.UnitPrice, &line.Quantity, &line.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tx.Lines = lines

	return &tx, nil
}

func (l *Ledger) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.Cashier) == "" || strings.TrimSpace(shift.LocationID) == "" {
		return nil, ledger.ErrInvalidRecord
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	// A partial unique index on (cashier, location_id) WHERE status = 'open'
	// enforces the one-open-shift rule.
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, cashier, location_id, status, opened_at,
			starting_cash_expected, starting_cash_physical, opening_difference, opening_discrepancy
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.Cashier, shift.LocationID, shift.Status, shift.OpenedAt,
		shift.StartingCashExpected, shift.StartingCashPhysical, shift.OpeningDifference, shift.OpeningDiscrepancy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrConflict
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (l *Ledger) CloseShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	closedAt := time.Now().UTC()
	if shift.ClosedAt != nil {
		closedAt = shift.ClosedAt.UTC()
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closed_at = $2,
			ending_cash_physical = $3, safebag_amount = $4,
			cash_expected = $5, cash_difference = $6,
			terminal_expected = $7, terminal_actual = $8, terminal_difference = $9,
			fiscal_expected = $10, fiscal_actual = $11, fiscal_difference = $12,
			out_of_tolerance = $13, overridden = $14, notes = $15
		WHERE id = $1 AND status = 'open'
	`, shift.ID, closedAt,
		shift.EndingCashPhysical, shift.SafebagAmount,
		shift.CashExpected, shift.CashDifference,
		shift.TerminalExpected, shift.TerminalActual, shift.TerminalDifference,
		shift.FiscalExpected, shift.FiscalActual, shift.FiscalDifference,
		shift.OutOfTolerance, shift.Overridden, shift.Notes)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ledger.ErrNotFound
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt
	saved := shift
	return &saved, nil
}

func (l *Ledger) GetActiveShift(ctx context.Context, cashier string, locationID string) (*domain.Shift, error) {
	return l.getShift(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE cashier = $1 AND location_id = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, cashier, locationID)
}

func (l *Ledger) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	return l.getShift(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1
	`, shiftID)
}

const shiftColumns = `id, cashier, location_id, status, opened_at, closed_at,
	starting_cash_expected, starting_cash_physical, opening_difference, opening_discrepancy,
	ending_cash_physical, safebag_amount,
	cash_expected, cash_difference,
	terminal_expected, terminal_actual, terminal_difference,
	fiscal_expected, fiscal_actual, fiscal_difference,
	out_of_tolerance, overridden, COALESCE(notes, '')`

func (l *Ledger) getShift(ctx context.Context, query string, args ...any) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&shift.ID,
		&shift.Cashier,
		&shift.LocationID,
		&shift.Status,
		&shift.OpenedAt,
		&closedAt,
		&shift.StartingCashExpected,
		&shift.StartingCashPhysical,
		&shift.OpeningDifference,
		&shift.OpeningDiscrepancy,
		&shift.EndingCashPhysical,
		&shift.SafebagAmount,
		&shift.CashExpected,
		&shift.CashDifference,
		&shift.TerminalExpected,
		&shift.TerminalActual,
		&shift.TerminalDifference,
		&shift.FiscalExpected,
		&shift.FiscalActual,
		&shift.FiscalDifference,
		&shift.OutOfTolerance,
		&shift.Overridden,
		&shift.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

// GetExpectedDrawerCash returns the base float for the location when shiftID
// is empty (shift open), or the running drawer expectation for the shift
// (shift close): opening count plus cash sales minus safebag deposits.
func (l *Ledger) GetExpectedDrawerCash(ctx context.Context, locationID string, date time.Time, shiftID string) (decimal.Decimal, error) {
	if shiftID == "" {
		var amount decimal.Decimal
		err := l.db.QueryRowContext(ctx, `
			SELECT amount
			FROM drawer_floats
			WHERE location_id = $1
		`, locationID).Scan(&amount)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return decimal.Zero, ledger.ErrNotFound
			}
			return decimal.Zero, err
		}
		return amount, nil
	}

	var opening decimal.Decimal
	err := l.db.QueryRowContext(ctx, `
		SELECT starting_cash_physical
		FROM shifts
		WHERE id = $1
	`, shiftID).Scan(&opening)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ledger.ErrNotFound
		}
		return decimal.Zero, err
	}

	var cashSales decimal.Decimal
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM transactions
		WHERE shift_id = $1 AND payment_method = $2
	`, shiftID, domain.PaymentCash).Scan(&cashSales)
	if err != nil {
		return decimal.Zero, err
	}

	var safebags decimal.Decimal
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM safebag_deposits
		WHERE shift_id = $1
	`, shiftID).Scan(&safebags)
	if err != nil {
		return decimal.Zero, err
	}

	return opening.Add(cashSales).Sub(safebags), nil
}

func (l *Ledger) GetShiftTerminalTotals(ctx context.Context, shiftID string) (domain.TerminalTotals, error) {
	var totals domain.TerminalTotals
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN payment_method = $2 THEN total ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN payment_method = $3 THEN total ELSE 0 END), 0)
		FROM transactions
		WHERE shift_id = $1
	`, shiftID, domain.PaymentCard, domain.PaymentBLIK).Scan(&totals.CardSales, &totals.BLIKSales)
	if err != nil {
		return totals, err
	}
	return totals, nil
}

func (l *Ledger) GetShiftFiscalTotals(ctx context.Context, shiftID string) (domain.FiscalTotals, error) {
	var totals domain.FiscalTotals
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM transactions
		WHERE shift_id = $1
	`, shiftID).Scan(&totals.Sales)
	if err != nil {
		return totals, err
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(c.total_amount), 0)
		FROM corrections c
		JOIN transactions t ON t.id = c.parent_transaction_id
		WHERE t.shift_id = $1
	`, shiftID).Scan(&totals.Returns)
	if err != nil {
		return totals, err
	}
	return totals, nil
}

func (l *Ledger) RecordSafebagDeposit(ctx context.Context, deposit domain.SafebagDeposit) (*domain.SafebagDeposit, error) {
	if deposit.Amount.IsNegative() || deposit.Amount.IsZero() {
		return nil, ledger.ErrInvalidRecord
	}
	if deposit.ID == "" {
		deposit.ID = xid.New("bag")
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO safebag_deposits (id, location_id, shift_id, cashier, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, deposit.ID, deposit.LocationID, deposit.ShiftID, deposit.Cashier, deposit.Amount, deposit.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := deposit
	return &saved, nil
}

func (l *Ledger) SubmitCorrection(ctx context.Context, cor domain.Correction) (*domain.Correction, error) {
	if len(cor.Lines) == 0 {
		return nil, ledger.ErrInvalidRecord
	}
	if cor.ID == "" {
		cor.ID = xid.New("cor")
	}
	if cor.CreatedAt.IsZero() {
		cor.CreatedAt = time.Now().UTC()
	}

	pgTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var parentStatus string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, cor.ParentTransactionID).Scan(&parentStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}

	// Cumulative cap per position. Prior corrections plus this one can never
	// exceed the position's original quantity.
	for _, line := range cor.Lines {
		var original decimal.Decimal
		err := pgTx.QueryRowContext(ctx, `
			SELECT quantity
			FROM transaction_lines
			WHERE transaction_id = $1 AND position_id = $2
		`, cor.ParentTransactionID, line.PositionID).Scan(&original)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ledger.ErrInvalidRecord
			}
			return nil, err
		}

		var corrected decimal.Decimal
		err = pgTx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(cl.correction_quantity), 0)
			FROM correction_lines cl
			JOIN corrections c ON c.id = cl.correction_id
			WHERE c.parent_transaction_id = $1 AND cl.position_id = $2
		`, cor.ParentTransactionID, line.PositionID).Scan(&corrected)
		if err != nil {
			return nil, err
		}
		if corrected.Add(line.CorrectionQuantity).GreaterThan(original) {
			return nil, ledger.ErrConflict
		}
	}

	docYear := cor.CreatedAt.Year()
	var docSeq int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(doc_seq), 0) + 1
		FROM corrections
		WHERE doc_year = $1
	`, docYear).Scan(&docSeq)
	if err != nil {
		return nil, err
	}
	cor.DocumentNumber = documentNumber(docYear, docSeq)

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO corrections (
			id, parent_transaction_id, mode, reason_code, reason_text,
			document_number, doc_year, doc_seq, total_amount, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, cor.ID, cor.ParentTransactionID, cor.Mode, cor.ReasonCode, cor.ReasonText,
		cor.DocumentNumber, docYear, docSeq, cor.TotalAmount, cor.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrConflict
		}
		return nil, err
	}

	for _, line := range cor.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO correction_lines (
				correction_id, position_id, product_id, unit_price,
				original_quantity, original_amount, correction_quantity, correction_amount
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, cor.ID, line.PositionID, line.ProductID, line.UnitPrice,
			line.OriginalQuantity, line.OriginalAmount, line.CorrectionQuantity, line.CorrectionAmount)
		if err != nil {
			return nil, err
		}
	}

	if parentStatus != domain.SaleStatusCorrected {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions SET status = $2 WHERE id = $1
		`, cor.ParentTransactionID, domain.SaleStatusCorrected)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := cor
	return &saved, nil
}

func documentNumber(year int, seq int) string {
	return fmt.Sprintf("COR/%d/%06d", year, seq)
}

func (l *Ledger) CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}

	snapshot, err := json.Marshal(held.Snapshot)
	if err != nil {
		return nil, err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO held_carts (id, cashier, location_id, label, snapshot, held_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, held.ID, held.Cashier, held.LocationID, held.Label, snapshot, held.HeldAt)
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

func (l *Ledger) ListHeldCarts(ctx context.Context, cashier string, locationID string, limit int) ([]domain.HeldCart, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, cashier, location_id, label, snapshot, held_at
		FROM held_carts
		WHERE ($1 = '' OR cashier = $1)
			AND ($2 = '' OR location_id = $2)
		ORDER BY held_at ASC
		LIMIT $3
	`, cashier, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	held := make([]domain.HeldCart, 0, limit)
	for rows.Next() {
		var h domain.HeldCart
		var snapshot []byte
		if err := rows.Scan(&h.ID, &h.Cashier, &h.LocationID, &h.Label, &snapshot, &h.HeldAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &h.Snapshot); err != nil {
			return nil, err
		}
		h.HeldAt = h.HeldAt.UTC()
		held = append(held, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return held, nil
}

func (l *Ledger) PopHeldCart(ctx context.Context, holdID string) (*domain.HeldCart, error) {
	var h domain.HeldCart
	var snapshot []byte
	err := l.db.QueryRowContext(ctx, `
		DELETE FROM held_carts
		WHERE id = $1
		RETURNING id, cashier, location_id, label, snapshot, held_at
	`, holdID).Scan(&h.ID, &h.Cashier, &h.LocationID, &h.Label, &snapshot, &h.HeldAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &h.Snapshot); err != nil {
		return nil, err
	}
	h.HeldAt = h.HeldAt.UTC()
	return &h, nil
}

func (l *Ledger) DeleteHeldCart(ctx context.Context, holdID string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM held_carts WHERE id = $1`, holdID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (l *Ledger) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, location_id, cashier, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.LocationID, entry.Cashier, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (l *Ledger) ListAuditLogs(ctx context.Context, locationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	// Zero bounds mean unbounded, matching the memory ledger.
	query := `
		SELECT id, location_id, cashier, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE location_id = $1`
	args := []any{locationID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.LocationID, &entry.Cashier, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
