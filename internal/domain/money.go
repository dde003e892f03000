/**
 * @description
 * Monetary arithmetic helpers. All conversions round half-up to a fixed number
 * of decimal places per asset so that repeated swaps never accumulate drift.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Exact decimal arithmetic.
 */

package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// assetScale maps a currency symbol to the number of decimal places its
// amounts are quoted at. Unknown symbols fall back to DefaultScale.
var assetScale = map[string]int32{
	"USD":  2,
	"EUR":  2,
	"NGN":  2,
	"USDC": 2,
	"USDT": 2,
	"SUI":  4,
	"SOL":  6,
	"BTC":  8,
	"ETH":  8,
}

// DefaultScale is applied to currencies without an explicit entry.
const DefaultScale int32 = 8

// ScaleFor returns the quoting scale for a currency symbol.
func ScaleFor(currency string) int32 {
	if scale, ok := assetScale[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return scale
	}
	return DefaultScale
}

// NormalizeCurrency canonicalizes a currency symbol for account keys.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Convert applies an exchange rate to an amount and rounds half-up to the
// target asset's scale. decimal.Round rounds half away from zero, which is
// half-up for the positive amounts the engine permits.
func Convert(amount, rate decimal.Decimal, toCurrency string) decimal.Decimal {
	return amount.Mul(rate).Round(ScaleFor(toCurrency))
}

// IsPositive reports whether an amount is strictly greater than zero, the
// precondition every balance-affecting operation enforces before mutating.
func IsPositive(amount decimal.Decimal) bool {
	return amount.Sign() > 0
}
