package rgbrpc

import (
	"fmt"
	"math"
	"math/big"

	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/shopspring/decimal"
)

// maxAmount is the largest amount in smallest units.
var maxAmount = decimal.NewFromBigInt(
	new(big.Int).SetUint64(math.MaxUint64), 0,
)

// FormatAmount formats an amount in smallest units as a decimal number with
// the given precision, e.g. 1050 with precision 2 is "10.50".
func FormatAmount(amount uint64, precision uint8) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)

	return d.Shift(-int32(precision)).StringFixed(int32(precision))
}

// ParseAmount parses a decimal number into smallest units of an asset with
// the given precision. Amounts with more decimal places than the precision
// allows are rejected rather than rounded.
func ParseAmount(s string, precision uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, rgb.NewValidationError("invalid amount %q: %v", s,
			err)
	}

	units := d.Shift(int32(precision))
	switch {
	case units.IsNegative():
		return 0, rgb.NewValidationError("amount %v is negative", s)

	case !units.Equal(units.Truncate(0)):
		return 0, rgb.NewValidationError("amount %v has more than %d "+
			"decimal places", s, precision)

	case units.GreaterThan(maxAmount):
		return 0, rgb.NewValidationError("amount %v overflows", s)
	}

	amount := units.BigInt()
	if !amount.IsUint64() {
		return 0, fmt.Errorf("amount %v out of range", s)
	}

	return amount.Uint64(), nil
}
