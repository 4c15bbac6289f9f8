// Package ledger defines the authoritative backend the POS core talks to.
// Discount amounts, expected drawer cash and the shift totals all come
// from here; the client side never computes them independently and reads
// them fresh before any validation decision.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict with ledger state")
	ErrUnavailable   = errors.New("resource unavailable")
	ErrInvalidRecord = errors.New("invalid record")
)

type Ledger interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetDiscount(ctx context.Context, discountID string) (*domain.Discount, error)

	CreateDraftTransaction(ctx context.Context, cashier string, locationID string) (string, error)
	AddTransactionLine(ctx context.Context, transactionID string, productID string, quantity int) error
	ApplyDiscount(ctx context.Context, transactionID string, discountID string, note string) (domain.DiscountGrant, error)
	RemoveDiscount(ctx context.Context, transactionID string, ledgerRecordID string) error

	FinalizeSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, cashier string, locationID string) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)

	GetExpectedDrawerCash(ctx context.Context, locationID string, date time.Time, shiftID string) (decimal.Decimal, error)
	GetShiftTerminalTotals(ctx context.Context, shiftID string) (domain.TerminalTotals, error)
	GetShiftFiscalTotals(ctx context.Context, shiftID string) (domain.FiscalTotals, error)
	RecordSafebagDeposit(ctx context.Context, deposit domain.SafebagDeposit) (*domain.SafebagDeposit, error)

	SubmitCorrection(ctx context.Context, cor domain.Correction) (*domain.Correction, error)

	CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error)
	ListHeldCarts(ctx context.Context, cashier string, locationID string, limit int) ([]domain.HeldCart, error)
	PopHeldCart(ctx context.Context, holdID string) (*domain.HeldCart, error)
	DeleteHeldCart(ctx context.Context, holdID string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, locationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
