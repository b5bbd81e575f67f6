// Package money regroupe les conversions entre unités décimales et unités mineures (centimes).
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinor convertit 12.345 en 1235 (demi vers le haut).
func ToMinor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// Format affiche un montant avec deux décimales et la devise en majuscules.
func Format(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + strings.ToUpper(currency)
}
