// Package money holds the USD conversions between Stripe's minor-unit
// integers and the major-unit decimals printed on invoices and stamped on
// CRM objects. Everything goes through shopspring/decimal; float math never
// touches an amount.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorToMajorUSD converts an amount in cents to major units rounded
// half-up at the cent.
func MinorToMajorUSD(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred).Round(2)
}

// FormatUSD renders a decimal amount with exactly two places, e.g. "25.00".
func FormatUSD(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// MinorToMajorString is the display form of MinorToMajorUSD.
func MinorToMajorString(minor int64) string {
	return FormatUSD(MinorToMajorUSD(minor))
}

// ToUnitAmountUSD parses a human major-unit amount (thousands separators
// allowed) and returns the Stripe unit_amount_decimal string in cents,
// rounded half-up: "2,366.85" -> "236685", "50" -> "5000", "10.999" ->
// "1100".
func ToUnitAmountUSD(amount string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	if cleaned == "" {
		return "", fmt.Errorf("amount is empty")
	}
	parsed, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	return parsed.Round(2).Mul(hundred).StringFixed(0), nil
}
