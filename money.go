package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code (e.g. "EUR", "USD").
type Currency string

// Money is an exact, fixed-point monetary amount in a single currency.
// Every Money value carried across the pipeline is quantized to two
// fractional digits; there is no floating point anywhere in this package.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

var twoDecimals = decimal.New(1, -2)

// NewMoney builds a Money value from a decimal.Decimal, quantizing it to
// two fractional digits using half-away-from-zero rounding.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount.Round(2), currency: currency}
}

// ZeroMoney returns the additive identity for currency.
func ZeroMoney(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// moneyJSON is the wire shape Money marshals to/from: its fields are
// unexported, so encoding/json cannot see amount/currency directly.
type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(2), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var wire moneyJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(wire.Amount)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q: %w", wire.Amount, err)
	}
	m.amount = amount
	m.currency = wire.Currency
	return nil
}

// ParseMoney parses a decimal string (accepting both '.' and ',' as the
// fractional separator, per the bank-CSV convention) into a Money value.
func ParseMoney(s string, currency Currency) (Money, error) {
	normalised := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			normalised = append(normalised, '.')
		} else {
			normalised = append(normalised, s[i])
		}
	}
	d, err := decimal.NewFromString(string(normalised))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoney(d, currency), nil
}

// Currency reports the money value's currency.
func (m Money) Currency() Currency { return m.currency }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// Decimal returns the underlying decimal value, for callers (storage,
// reporting) that need to serialize or format it directly.
func (m Money) Decimal() decimal.Decimal { return m.amount }

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

// checkCurrency reports an error when the currencies differ; crossing
// currencies is a programming error at this system's boundary (a single
// currency is configured globally), so every arithmetic method below
// returns an error rather than silently truncating.
func (m Money) checkCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Add(other.amount), m.currency), nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Sub(other.amount), m.currency), nil
}

// Cmp returns -1, 0, or 1 as m is less than, equal to, or greater than other.
// Panics if the currencies differ, mirroring decimal.Decimal.Cmp's contract
// that callers are expected to have already checked compatibility; use
// Equal/LessThan for the common comparisons, which surface the error instead.
func (m Money) Cmp(other Money) int {
	if m.currency != other.currency {
		panic(fmt.Sprintf("reconcile: Cmp on mismatched currencies %s vs %s", m.currency, other.currency))
	}
	return m.amount.Cmp(other.amount)
}

// Equal reports whether m and other have the same currency and amount.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// LessThan reports whether m < other. Returns an error on currency mismatch.
func (m Money) LessThan(other Money) (bool, error) {
	if err := m.checkCurrency(other); err != nil {
		return false, err
	}
	return m.amount.LessThan(other.amount), nil
}

// Min returns whichever of m, other is smaller.
func Min(m, other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	if m.amount.LessThan(other.amount) {
		return m, nil
	}
	return other, nil
}

// SumMoney adds up a slice of Money values, all of which must share
// currency. Returns the zero value for currency if the slice is empty.
func SumMoney(currency Currency, values ...Money) (Money, error) {
	total := ZeroMoney(currency)
	for _, v := range values {
		var err error
		total, err = total.Add(v)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
