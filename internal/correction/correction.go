// Package correction builds partial-return documents against finalized
// sales. A draft is edited line by line in quantity mode or amount mode;
// the two fields stay consistent (amount = quantity * unit price) and each
// entry is clamped to the original line values. The draft never touches
// the parent transaction.
package correction

import (
	"strings"

	"github.com/shopspring/decimal"

	"kasapos/backend/internal/domain"
)

type Draft struct {
	ID                  string
	ParentTransactionID string
	Cashier             string
	LocationID          string
	Mode                string
	ReasonCode          string
	ReasonText          string
	Lines               []domain.CorrectionLine
}

// NewDraft builds an editable correction draft from a finalized
// transaction. All lines start deselected with zero correction values.
func NewDraft(id string, tx *domain.Transaction, mode, reasonCode, reasonText string) (*Draft, error) {
	if mode != domain.CorrectionModeQuantity && mode != domain.CorrectionModeAmount {
		return nil, domain.ErrInvalidInput
	}
	if tx == nil || len(tx.Lines) == 0 {
		return nil, domain.ErrInvalidInput
	}
	if strings.TrimSpace(reasonCode) == "" {
		return nil, domain.ErrInvalidInput
	}

	lines := make([]domain.CorrectionLine, 0, len(tx.Lines))
	for _, pos := range tx.Lines {
		lines = append(lines, domain.CorrectionLine{
			PositionID:       pos.PositionID,
			ProductID:        pos.ProductID,
			UnitPrice:        pos.UnitPrice,
			OriginalQuantity: pos.Quantity,
			OriginalAmount:   pos.Amount,
		})
	}

	return &Draft{
		ID:                  id,
		ParentTransactionID: tx.ID,
		Cashier:             tx.Cashier,
		LocationID:          tx.LocationID,
		Mode:                mode,
		ReasonCode:          strings.TrimSpace(reasonCode),
		ReasonText:          strings.TrimSpace(reasonText),
		Lines:               lines,
	}, nil
}

// SelectLine includes the position in the correction.
func (d *Draft) SelectLine(positionID string) error {
	line := d.line(positionID)
	if line == nil {
		return domain.ErrInvalidInput
	}
	line.Selected = true
	return nil
}

// DeselectLine excludes the position and zeroes its correction values.
func (d *Draft) DeselectLine(positionID string) error {
	line := d.line(positionID)
	if line == nil {
		return domain.ErrInvalidInput
	}
	line.Selected = false
	line.CorrectionQuantity = decimal.Zero
	line.CorrectionAmount = decimal.Zero
	return nil
}

// SetQuantity enters a correction quantity, clamped to
// [0, OriginalQuantity], and recomputes the amount. Entering a value
// selects the line.
func (d *Draft) SetQuantity(positionID string, qty decimal.Decimal) error {
	line := d.line(positionID)
	if line == nil {
		return domain.ErrInvalidInput
	}
	line.CorrectionQuantity = clamp(qty, line.OriginalQuantity)
	line.CorrectionAmount = line.CorrectionQuantity.Mul(line.UnitPrice)
	line.Selected = true
	return nil
}

// SetAmount enters a correction amount, clamped to [0, OriginalAmount],
// and recomputes the quantity (zero when the unit price is zero).
func (d *Draft) SetAmount(positionID string, amount decimal.Decimal) error {
	line := d.line(positionID)
	if line == nil {
		return domain.ErrInvalidInput
	}
	line.CorrectionAmount = clamp(amount, line.OriginalAmount)
	if line.UnitPrice.IsZero() {
		line.CorrectionQuantity = decimal.Zero
	} else {
		line.CorrectionQuantity = line.CorrectionAmount.Div(line.UnitPrice)
	}
	line.Selected = true
	return nil
}

// Total sums correction amounts over the selected lines.
func (d *Draft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		if line.Selected {
			total = total.Add(line.CorrectionAmount)
		}
	}
	return total
}

// Validate applies the submit-time rules: at least one selected line with
// a positive correction value, and free-text justification when the reason
// code is "other".
func (d *Draft) Validate() error {
	any := false
	for _, line := range d.Lines {
		if line.Selected && line.CorrectionAmount.IsPositive() {
			any = true
			break
		}
	}
	if !any {
		return domain.ErrNoLinesSelected
	}
	if d.ReasonCode == domain.ReasonOther && strings.TrimSpace(d.ReasonText) == "" {
		return domain.ErrReasonRequired
	}
	return nil
}

// Document assembles the immutable correction record to submit. Only
// selected lines with positive values are carried.
func (d *Draft) Document() domain.Correction {
	lines := make([]domain.CorrectionLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		if line.Selected && line.CorrectionAmount.IsPositive() {
			lines = append(lines, line)
		}
	}
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

func (d *Draft) line(positionID string) *domain.CorrectionLine {
	for i := range d.Lines {
		if d.Lines[i].PositionID == positionID {
			return &d.Lines[i]
		}
	}
	return nil
}

func clamp(v, max decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
