// Package core provides money parsing and handling utilities.
//
// This file contains the Money value used on every wire and display path,
// plus helpers for parsing user input and formatting amounts with their
// currency symbol.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when the backend omits a currency code.
const DefaultCurrency = "BRL"

// Money is an amount tagged with its ISO currency code.
// Wire format: {"amount": 1500.00, "currency": "BRL"}.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

var currencySymbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
	"GBP": "£",
}

func init() {
	// Percentages travel as JSON numbers like the money amounts.
	decimal.MarshalJSONWithoutQuotes = true
}

// NewMoney builds a Money value, defaulting the currency when empty.
func NewMoney(amount decimal.Decimal, currency string) Money {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// Symbol returns the display symbol for the money's currency.
func (m Money) Symbol() string {
	if s, ok := currencySymbols[m.Currency]; ok {
		return s
	}
	if m.Currency == "" {
		return currencySymbols[DefaultCurrency]
	}
	return m.Currency
}

// String renders the amount the way the dashboard shows it, e.g. "R$ 1.500,00".
// The currency symbol is always present.
func (m Money) String() string {
	return FormatAmount(m.Amount, m.Symbol())
}

// Add returns m+o. Currencies must match; the receiver's currency wins when o is empty.
func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is below zero (e.g. an overspent goal).
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

type moneyJSON struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	currency := m.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return json.Marshal(moneyJSON{
		Amount:   json.RawMessage(m.Amount.StringFixed(2)),
		Currency: currency,
	})
}

// UnmarshalJSON accepts the amount as a number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	amount := bytes.Trim(raw.Amount, `"`)
	if len(amount) == 0 || string(amount) == "null" {
		amount = []byte("0")
	}
	d, err := decimal.NewFromString(string(amount))
	if err != nil {
		return fmt.Errorf("decode money amount %q: %w", amount, err)
	}
	*m = NewMoney(d, raw.Currency)
	return nil
}

// FormatAmount formats a decimal with "." thousands and "," decimal separators
// prefixed by symbol, rounding half away from zero to cents.
func FormatAmount(d decimal.Decimal, symbol string) string {
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := symbol + " " + b.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// FormatPercent renders a percentage with up to two decimals, e.g. "60%" or "12,5%".
func FormatPercent(d decimal.Decimal) string {
	s := d.Round(2).String()
	return strings.Replace(s, ".", ",", 1) + "%"
}

// MaxAmount is the largest amount ParseAmount accepts.
var MaxAmount = decimal.New(1, 12)

// ParseAmount converts user input to a positive decimal rounded to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("0")      -> ErrInvalidAmount
//	ParseAmount("1000000000000.01") -> ErrAmountTooLarge
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrAmountTooLarge
	}
	return d, nil
}
