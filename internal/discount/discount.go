// Package discount computes final payable amounts and derives the
// deterministic processor coupon identifiers used by hosted invoices.
package discount

import (
	"fmt"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply computes the final payable amount for a base amount and a
// discount. The result is never negative and never exceeds base.
// Unknown types and out-of-range values leave the base untouched.
func Apply(base decimal.Decimal, discountType string, value decimal.Decimal) decimal.Decimal {
	if base.Sign() < 0 {
		return decimal.Zero
	}
	switch discountType {
	case domain.DiscountPercentage:
		if value.Sign() < 0 || value.GreaterThan(hundred) {
			return base
		}
		factor := hundred.Sub(value).Div(hundred)
		return base.Mul(factor).Round(2)
	case domain.DiscountFixed:
		if value.Sign() < 0 {
			return base
		}
		final := base.Sub(value)
		if final.Sign() < 0 {
			return decimal.Zero
		}
		return final.Round(2)
	default:
		return base
	}
}

// MinorUnits converts a major-unit amount to integer minor units,
// rounding half away from zero. The conversion happens exactly once,
// at the processor boundary.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// MajorUnits converts processor minor units back to a major-unit amount.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// CouponID derives the stable processor coupon identifier for a
// discount. The same type and value always map to the same identifier,
// so repeated hosted-invoice requests reuse one coupon instead of
// minting duplicates.
func CouponID(discountType string, value decimal.Decimal) string {
	switch discountType {
	case domain.DiscountPercentage:
		return fmt.Sprintf("pct_%d", MinorUnits(value))
	case domain.DiscountFixed:
		return fmt.Sprintf("fixed_%d", MinorUnits(value))
	default:
		return ""
	}
}
