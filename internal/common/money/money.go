package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	NGN Currency = "NGN"
	USD Currency = "USD"
	GHS Currency = "GHS"
	KES Currency = "KES"
	ZAR Currency = "ZAR"
	ETB Currency = "ETB"
	GBP Currency = "GBP"
	EUR Currency = "EUR"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int32 // Number of decimal places
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	NGN: {Code: NGN, MinorUnits: 2, Symbol: "₦"},
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	GHS: {Code: GHS, MinorUnits: 2, Symbol: "GH₵"},
	KES: {Code: KES, MinorUnits: 2, Symbol: "KSh"},
	ZAR: {Code: ZAR, MinorUnits: 2, Symbol: "R"},
	ETB: {Code: ETB, MinorUnits: 2, Symbol: "Br"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
}

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrFractionalMinor = errors.New("amount has more precision than the currency allows")
)

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}

func (c Currency) String() string { return string(c) }

// Money is an amount in minor units (kobo, cents). Minor units are the only
// representation stored or compared; major units exist at processor boundaries.
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// FromMajor converts a major-unit decimal (naira, dollars) into minor units.
// Amounts finer than the currency's minor unit are rejected rather than rounded.
func FromMajor(major decimal.Decimal, currency Currency) (Money, error) {
	info, ok := currencies[currency]
	if !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	minor := major.Shift(info.MinorUnits)
	if !minor.Equal(minor.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s %s", ErrFractionalMinor, major.String(), currency)
	}
	return Money{AmountMinor: minor.IntPart(), Currency: currency}, nil
}

// ParseMajor parses a major-unit string such as "1500.50".
func ParseMajor(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return FromMajor(d, currency)
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	info, ok := currencies[m.Currency]
	if !ok {
		info = CurrencyInfo{MinorUnits: 2}
	}
	return decimal.New(m.AmountMinor, -info.MinorUnits)
}

// MajorNumber renders the major amount as a JSON number, for processor APIs
// that take amounts like 1500.5 rather than strings.
func (m Money) MajorNumber() json.Number {
	return json.Number(m.Major().String())
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%s %d", m.Currency, m.AmountMinor)
	}
	return info.Symbol + m.Major().StringFixed(info.MinorUnits)
}
