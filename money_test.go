package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoneyAcceptsCommaOrDotSeparator(t *testing.T) {
	a, err := ParseMoney("12,50", "EUR")
	require.NoError(t, err)
	b, err := ParseMoney("12.50", "EUR")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestParseMoneyQuantizesToTwoDecimals(t *testing.T) {
	m, err := ParseMoney("12.3456", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "12.35", m.Decimal().StringFixed(2))
}

func TestParseMoneyRejectsGarbage(t *testing.T) {
	_, err := ParseMoney("not-a-number", "EUR")
	assert.Error(t, err)
}

func TestMoneyAddSubMismatchedCurrencyErrors(t *testing.T) {
	eur := NewMoney(decimal.NewFromInt(10), "EUR")
	usd := NewMoney(decimal.NewFromInt(10), "USD")
	_, err := eur.Add(usd)
	assert.Error(t, err)
	_, err = eur.Sub(usd)
	assert.Error(t, err)
}

func TestMoneyMin(t *testing.T) {
	a := NewMoney(decimal.NewFromInt(5), "EUR")
	b := NewMoney(decimal.NewFromInt(10), "EUR")
	min, err := Min(a, b)
	require.NoError(t, err)
	assert.True(t, min.Equal(a))
}

func TestMoneyOrderingAndSigns(t *testing.T) {
	zero := ZeroMoney("EUR")
	pos := NewMoney(decimal.NewFromInt(1), "EUR")
	neg := NewMoney(decimal.NewFromInt(-1), "EUR")

	assert.True(t, zero.IsZero())
	assert.True(t, pos.IsPositive())
	assert.True(t, neg.IsNegative())

	lt, err := zero.LessThan(pos)
	require.NoError(t, err)
	assert.True(t, lt)
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m, err := ParseMoney("123.45", "EUR")
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"123.45","currency":"EUR"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(m))
	assert.Equal(t, Currency("EUR"), back.Currency())
}

func TestMoneyJSONRoundTripInsideStruct(t *testing.T) {
	type wrapper struct {
		Amount Money `json:"amount"`
	}
	m, err := ParseMoney("7", "USD")
	require.NoError(t, err)
	w := wrapper{Amount: m}

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Amount.Equal(m), "Money embedded in a struct must not silently marshal as {}")
}

func TestSumMoney(t *testing.T) {
	values := []Money{
		NewMoney(decimal.NewFromInt(10), "EUR"),
		NewMoney(decimal.NewFromInt(20), "EUR"),
		NewMoney(decimal.NewFromInt(30), "EUR"),
	}
	total, err := SumMoney("EUR", values...)
	require.NoError(t, err)
	assert.True(t, total.Equal(NewMoney(decimal.NewFromInt(60), "EUR")))
}
