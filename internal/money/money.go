// Package money holds the pure monetary helpers shared by the POS core:
// net/gross VAT conversion, boundary rounding and the cash denomination
// calculator. Amounts keep full decimal precision internally; rounding to
// two places happens only at display and submission boundaries.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is applied when a product carries no VAT rate of its own.
var DefaultVATRate = decimal.NewFromInt(23)

var oneHundred = decimal.NewFromInt(100)

// GrossFromNet converts a net amount to gross: net * (1 + rate/100).
func GrossFromNet(net, vatRatePercent decimal.Decimal) decimal.Decimal {
	return net.Mul(vatFactor(vatRatePercent))
}

// NetFromGross converts a gross amount to net: gross / (1 + rate/100).
func NetFromGross(gross, vatRatePercent decimal.Decimal) decimal.Decimal {
	return gross.Div(vatFactor(vatRatePercent))
}

func vatFactor(vatRatePercent decimal.Decimal) decimal.Decimal {
	return decimal.New(1, 0).Add(vatRatePercent.Div(oneHundred))
}

// Round2 rounds to two decimal places, half away from zero. All amounts
// are rounded this way before comparison or submission.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Denominations lists the accepted cash face values, coins 0.01 through 5
// and notes 10 through 500.
var Denominations = []decimal.Decimal{
	decimal.RequireFromString("0.01"),
	decimal.RequireFromString("0.02"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.50"),
	decimal.NewFromInt(1),
	decimal.NewFromInt(2),
	decimal.NewFromInt(5),
	decimal.NewFromInt(10),
	decimal.NewFromInt(20),
	decimal.NewFromInt(50),
	decimal.NewFromInt(100),
	decimal.NewFromInt(200),
	decimal.NewFromInt(500),
}

// TotalFromDenominations sums count*faceValue over the given counts, keyed
// by the face value's canonical string form ("0.50", "100"). It pre-fills
// physical-cash fields on the shift forms and is never authoritative.
func TotalFromDenominations(counts map[string]int) (decimal.Decimal, error) {
	total := decimal.Zero
	for face, count := range counts {
		if count < 0 {
			return decimal.Zero, fmt.Errorf("negative count for denomination %s", face)
		}
		value, ok := denominationByKey(face)
		if !ok {
			return decimal.Zero, fmt.Errorf("unknown denomination %s", face)
		}
		total = total.Add(value.Mul(decimal.NewFromInt(int64(count))))
	}
	return total, nil
}

func denominationByKey(key string) (decimal.Decimal, bool) {
	parsed, err := decimal.NewFromString(key)
	if err != nil {
		return decimal.Zero, false
	}
	for _, face := range Denominations {
		if face.Equal(parsed) {
			return face, true
		}
	}
	return decimal.Zero, false
}
