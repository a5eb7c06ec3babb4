package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places of the invoicing
// currency. All monetary values are held as integer minor units so that
// incremental totals agree exactly with a full recomputation.
const MinorUnitExponent = 2

// MaxRecords caps the number of invoices a single ledger holds.
const MaxRecords = 1 << 20

// MaxAmount is the largest single invoice amount accepted, in minor units.
// MaxRecords invoices of MaxAmount each still sum within int64.
const MaxAmount Money = math.MaxInt64 / MaxRecords

// Money is an amount in minor currency units (paise, cents).
type Money int64

// MoneyFromDecimal converts a decimal major-unit amount to minor units,
// rounding half away from zero at the minor unit. Amounts whose magnitude
// exceeds MaxAmount are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(MinorUnitExponent).Round(0)
	if minor.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("exceeds maximum of %s", MaxAmount)
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnitExponent)
}

// String renders the amount in major units with exactly two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnitExponent)
}

func isPositiveNumber(s string) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	return err == nil && d.IsPositive()
}
