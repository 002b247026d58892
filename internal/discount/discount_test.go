package discount

import (
	"testing"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApply(t *testing.T) {
	tests := []struct {
		name         string
		base         string
		discountType string
		value        string
		want         string
	}{
		{"ten percent off hundred", "100.00", domain.DiscountPercentage, "10", "90.00"},
		{"fixed larger than base clamps to zero", "50.00", domain.DiscountFixed, "60", "0"},
		{"no discount", "75.50", domain.DiscountNone, "0", "75.50"},
		{"full percentage", "80.00", domain.DiscountPercentage, "100", "0.00"},
		{"zero percentage", "80.00", domain.DiscountPercentage, "0", "80.00"},
		{"fixed exact base", "25.00", domain.DiscountFixed, "25", "0.00"},
		{"fractional percentage rounds to cents", "19.99", domain.DiscountPercentage, "12.5", "17.49"},
		{"percentage over hundred ignored", "40.00", domain.DiscountPercentage, "150", "40.00"},
		{"negative value ignored", "40.00", domain.DiscountFixed, "-5", "40.00"},
		{"unknown type ignored", "40.00", "loyalty", "10", "40.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(dec(tt.base), tt.discountType, dec(tt.value))
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestApplyMonotonicNonIncreasing(t *testing.T) {
	base := dec("123.45")
	for _, typ := range []string{domain.DiscountPercentage, domain.DiscountFixed} {
		prev := Apply(base, typ, decimal.Zero)
		for v := int64(1); v <= 100; v++ {
			got := Apply(base, typ, decimal.NewFromInt(v))
			assert.True(t, got.LessThanOrEqual(prev),
				"%s %d: %s should not exceed %s", typ, v, got, prev)
			assert.True(t, got.Sign() >= 0, "%s %d went negative", typ, v)
			prev = got
		}
	}
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.01", "9.99", "90.00", "1234.56"} {
		amount := dec(s)
		assert.True(t, MajorUnits(MinorUnits(amount)).Equal(amount), "round trip of %s", s)
	}
}

func TestMinorUnitsScenarioCharge(t *testing.T) {
	final := Apply(dec("100.00"), domain.DiscountPercentage, dec("10"))
	assert.Equal(t, int64(9000), MinorUnits(final))
}

func TestCouponIDDeterministic(t *testing.T) {
	a := CouponID(domain.DiscountPercentage, dec("10"))
	b := CouponID(domain.DiscountPercentage, dec("10.00"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CouponID(domain.DiscountFixed, dec("10")))
	assert.Empty(t, CouponID(domain.DiscountNone, decimal.Zero))
}
