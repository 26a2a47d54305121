package enums

import (
	"fmt"
	"strings"
)

// Currency is the ISO 4217 settlement currency a payment webhook reports.
// Credits are currency-agnostic; the code is kept on the ledger entry as a
// label only.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyINR Currency = "INR"
)

func (c Currency) String() string { return string(c) }

// IsValid is case-sensitive; use ParseCurrency for raw input.
func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyINR:
		return true
	}
	return false
}

func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("unsupported currency %q", value)
	}
	return c, nil
}
