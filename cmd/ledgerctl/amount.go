package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// coinDecimals is the number of fractional digits of one coin in base units.
const coinDecimals = 8

// parseAmount converts a decimal coin amount such as "1.25" into base units.
// Amounts with more precision than coinDecimals are rejected.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	scaled := d.Shift(coinDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", raw, coinDecimals)
	}
	return scaled.BigInt(), nil
}

// formatAmount renders base units as a decimal coin amount.
func formatAmount(units *big.Int) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -coinDecimals).String()
}
