package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CurrencyScale returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyScale(currency string) int32 {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "JPY", "KRW", "VND", "CLP", "ISK", "UGX", "XAF", "XOF", "PYG":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

// RoundMoney rounds half-up to the smallest unit of currency. Amounts in the
// ledger are never negative, so decimal's half-away-from-zero is half-up here.
func RoundMoney(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyScale(currency))
}

// MinorUnits converts an amount into integer minor units for gateway calls.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return RoundMoney(amount, currency).Shift(CurrencyScale(currency)).IntPart()
}

// PercentOf returns amount*rate/100 without rounding.
func PercentOf(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

func NormalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
