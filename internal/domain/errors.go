package domain

import "errors"

// Client-detectable validation failures. These block an operation before
// any ledger call is made.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrCashCountNotConfirmed  = errors.New("cash count not confirmed")
	ErrShiftAlreadyOpen       = errors.New("shift already open for cashier and location")
	ErrNoOpenShift            = errors.New("no open shift for cashier and location")
	ErrDiscountUnavailable    = errors.New("discount unavailable")
	ErrDiscountAlreadyApplied = errors.New("discount already applied to cart")
	ErrNoDiscountApplied      = errors.New("no discount applied to cart")
	ErrNoLinesSelected        = errors.New("no correction lines selected")
	ErrReasonRequired         = errors.New("reason text required")
	ErrOverrideRequired       = errors.New("reconciliation out of tolerance, override required")
	ErrPINMismatch            = errors.New("supervisor pin mismatch")
	ErrCartNotFound           = errors.New("cart not found")
	ErrCorrectionNotFound     = errors.New("correction draft not found")
)
