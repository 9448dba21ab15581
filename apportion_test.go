package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eur(n int64) Money {
	return NewMoney(decimal.NewFromInt(n), "EUR")
}

func at(daysFromEpoch int) time.Time {
	return time.Date(2024, 1, 1+daysFromEpoch, 0, 0, 0, 0, time.UTC)
}

func TestApportionScenarioS1ExactMatchDominates(t *testing.T) {
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(30)}
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(0), TotalAmount: eur(50)}
	p1 := &Payment{ID: 1, PartyID: 1, Timestamp: at(1), TotalAmount: eur(50)}
	p2 := &Payment{ID: 2, PartyID: 1, Timestamp: at(2), TotalAmount: eur(30)}

	splits, result, err := Apportion([]*Debt{d1, d2}, []*Payment{p1, p2}, DefaultBinding, true, false)
	require.NoError(t, err)
	require.Len(t, splits, 2)

	byPayment := map[int64]Split{}
	for _, s := range splits {
		byPayment[s.PaymentID] = s
	}
	assert.Equal(t, d2.ID, byPayment[p1.ID].DebtID)
	assert.True(t, byPayment[p1.ID].Amount.Equal(eur(50)))
	assert.Equal(t, d1.ID, byPayment[p2.ID].DebtID)
	assert.True(t, byPayment[p2.ID].Amount.Equal(eur(30)))

	assert.Len(t, result.FullyUsedPayments, 2)
	assert.Len(t, result.FullyPaidDebts, 2)
	assert.Empty(t, result.RemainingPayments)
	assert.Empty(t, result.RemainingDebts)
}

func TestApportionScenarioS2ChronologyBlocksExactMatch(t *testing.T) {
	p := &Payment{ID: 1, PartyID: 1, Timestamp: at(1), TotalAmount: eur(20)}
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(2), TotalAmount: eur(20)} // future debt
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(0), TotalAmount: eur(20)}

	splits, result, err := Apportion([]*Debt{d1, d2}, []*Payment{p}, DefaultBinding, true, false)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, d2.ID, splits[0].DebtID)
	assert.True(t, splits[0].Amount.Equal(eur(20)))

	assert.Len(t, result.FullyUsedPayments, 1)
	assert.Contains(t, idsOfDebts(result.RemainingDebts), d1.ID)
	assert.Contains(t, idsOfDebts(result.FullyPaidDebts), d2.ID)
}

func TestApportionScenarioS3GreedyCarryOver(t *testing.T) {
	p := &Payment{ID: 1, PartyID: 1, Timestamp: at(2), TotalAmount: eur(100)}
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(30)}
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(1), TotalAmount: eur(40)}
	d3 := &Debt{ID: 3, PartyID: 1, Timestamp: at(2), TotalAmount: eur(50)}

	splits, result, err := Apportion([]*Debt{d1, d2, d3}, []*Payment{p}, DefaultBinding, true, false)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	byDebt := map[int64]Split{}
	for _, s := range splits {
		byDebt[s.DebtID] = s
	}
	assert.True(t, byDebt[d1.ID].Amount.Equal(eur(30)))
	assert.True(t, byDebt[d2.ID].Amount.Equal(eur(40)))
	assert.True(t, byDebt[d3.ID].Amount.Equal(eur(30)))

	d3Balance, err := d3.Balance()
	require.NoError(t, err)
	assert.True(t, d3Balance.Equal(eur(20)))

	assert.Len(t, result.FullyUsedPayments, 1)
	assert.Contains(t, idsOfDebts(result.RemainingDebts), d3.ID)
}

func TestApportionInvariantChronology(t *testing.T) {
	p := &Payment{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(50)}
	d := &Debt{ID: 1, PartyID: 1, Timestamp: at(5), TotalAmount: eur(50)}

	splits, _, err := Apportion([]*Debt{d}, []*Payment{p}, DefaultBinding, true, false)
	require.NoError(t, err)
	assert.Empty(t, splits, "a payment must never be applied to a debt incurred after it")
}

func TestApportionInvariantConservation(t *testing.T) {
	p := &Payment{ID: 1, PartyID: 1, Timestamp: at(5), TotalAmount: eur(1000)}
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(10)}
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(1), TotalAmount: eur(15)}

	splits, _, err := Apportion([]*Debt{d1, d2}, []*Payment{p}, DefaultBinding, true, false)
	require.NoError(t, err)

	total := ZeroMoney("EUR")
	for _, s := range splits {
		total, err = total.Add(s.Amount)
		require.NoError(t, err)
	}
	debtTotal, err := SumMoney("EUR", d1.TotalAmount, d2.TotalAmount)
	require.NoError(t, err)
	lt, err := total.LessThan(debtTotal)
	require.NoError(t, err)
	assert.False(t, lt)
	assert.True(t, total.Equal(debtTotal), "splits must not exceed the sum of debts")
}

func TestApportionInvariantPartition(t *testing.T) {
	p1 := &Payment{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(10)}
	p2 := &Payment{ID: 2, PartyID: 1, Timestamp: at(1), TotalAmount: eur(20)}
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(5)}

	_, result, err := Apportion([]*Debt{d1}, []*Payment{p1, p2}, DefaultBinding, true, false)
	require.NoError(t, err)

	seen := map[int64]int{}
	for _, p := range result.FullyUsedPayments {
		seen[p.ID]++
	}
	for _, p := range result.RemainingPayments {
		seen[p.ID]++
	}
	assert.Equal(t, 1, seen[p1.ID])
	assert.Equal(t, 1, seen[p2.ID])
}

func TestApportionExactAmountMatchOnlySkipsSweep(t *testing.T) {
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(30)}
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(0), TotalAmount: eur(50)}
	p := &Payment{ID: 1, PartyID: 1, Timestamp: at(1), TotalAmount: eur(50)}

	splits, result, err := Apportion([]*Debt{d1, d2}, []*Payment{p}, DefaultBinding, true, true)
	require.NoError(t, err)
	require.Len(t, splits, 1, "only the exact match against d2 should be emitted; no sweep against d1's leftover")
	assert.Equal(t, d2.ID, splits[0].DebtID)
	assert.Contains(t, idsOfDebts(result.RemainingDebts), d1.ID, "d1 is left untouched since the sweep phase never runs")
}

func TestApportionNeitherFlagSetSkipsExactPhaseAndSweeps(t *testing.T) {
	d1 := &Debt{ID: 1, PartyID: 1, Timestamp: at(0), TotalAmount: eur(30)}
	d2 := &Debt{ID: 2, PartyID: 1, Timestamp: at(1), TotalAmount: eur(50)}
	p1 := &Payment{ID: 1, PartyID: 1, Timestamp: at(2), TotalAmount: eur(50)}
	p2 := &Payment{ID: 2, PartyID: 1, Timestamp: at(3), TotalAmount: eur(30)}

	splits, _, err := Apportion([]*Debt{d1, d2}, []*Payment{p1, p2}, DefaultBinding, false, false)
	require.NoError(t, err)
	require.NotEmpty(t, splits)
	assert.Equal(t, d1.ID, splits[0].DebtID, "with no exact-match phase, the sweep applies the first payment to the oldest debt first regardless of amount equality")
	assert.True(t, splits[0].Amount.Equal(eur(30)), "p1 fully covers d1's 30 balance before any credit reaches d2")
}

func idsOfDebts(debts []*Debt) []int64 {
	ids := make([]int64, len(debts))
	for i, d := range debts {
		ids[i] = d.ID
	}
	return ids
}
