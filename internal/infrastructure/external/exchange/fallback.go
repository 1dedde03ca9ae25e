package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// fallbackTables are used when the rate API cannot be reached
var fallbackTables = map[string]map[string]string{
	"USD": {
		"USD": "1", "EUR": "0.85", "GBP": "0.73", "INR": "83.0", "CAD": "1.35",
		"AUD": "1.50", "JPY": "110.0", "CNY": "6.45", "BRL": "5.20", "MXN": "20.0",
	},
	"EUR": {
		"USD": "1.18", "EUR": "1", "GBP": "0.86", "INR": "97.5", "CAD": "1.59",
		"AUD": "1.76", "JPY": "129.4", "CNY": "7.59", "BRL": "6.12", "MXN": "23.5",
	},
	"GBP": {
		"USD": "1.37", "EUR": "1.16", "GBP": "1", "INR": "113.4", "CAD": "1.85",
		"AUD": "2.05", "JPY": "150.7", "CNY": "8.84", "BRL": "7.12", "MXN": "27.4",
	},
}

// FallbackRates returns the static table for base. Bases without a table
// only know themselves.
func FallbackRates(base string, now time.Time) *Rates {
	out := &Rates{
		Base:  base,
		Date:  now.Format("2006-01-02"),
		Rates: map[string]decimal.Decimal{base: decimal.NewFromInt(1)},
	}
	for code, r := range fallbackTables[base] {
		out.Rates[code] = decimal.RequireFromString(r)
	}
	return out
}
