package x402

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits parses a base-10 integer amount of smallest units.
func ParseUnits(units string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(units, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, units)
	}
	return v, nil
}

// UnitsToUSD formats USDC smallest units as dollars with two decimals.
// "5000000" becomes "5.00".
func UnitsToUSD(units string) (string, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return d.Shift(-USDCDecimals).StringFixed(2), nil
}

// USDToUnits converts a dollar amount such as "10" or "2.5" to smallest units.
// Amounts with more precision than USDC supports are rejected.
func USDToUnits(usd string) (string, error) {
	d, err := decimal.NewFromString(usd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	units := d.Shift(USDCDecimals)
	if !units.Equal(units.Truncate(0)) {
		return "", fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, usd, USDCDecimals)
	}
	return units.String(), nil
}
