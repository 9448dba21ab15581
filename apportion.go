package reconcile

import "sort"

// ApportionmentResult classifies every debt and payment fed into Apportion
// by how the run left it: fully settled/used, or still open with a
// nonzero balance/credit remaining.
type ApportionmentResult struct {
	FullyUsedPayments []*Payment
	FullyPaidDebts    []*Debt
	RemainingPayments []*Payment
	RemainingDebts    []*Debt
}

// Apportion applies payments against debts for a single party (or any
// group of debts/payments already known to belong to one party), producing
// the Splits that cover as much of each debt as possible.
//
// Phase 1 looks for exact amount matches: a debt whose outstanding balance
// equals exactly one payment's remaining credit, honouring the chronology
// constraint (§3) that a payment can never apply to a debt incurred after
// it. Exact matches are settled first because they're the least ambiguous
// outcome and removing them shrinks the pool the greedy sweep in phase 2
// has to reason about.
//
// Phase 2 sweeps debts and payments in chronological order: each payment's
// remaining credit is applied to the oldest open debt it's allowed to
// touch, carrying over into the next-oldest debt if the payment covers the
// first one with credit to spare.
//
// prioritiseExactAmountMatch runs phase 1 before the sweep; exactAmountMatchOnly
// additionally skips phase 2 entirely, leaving anything the exact pass
// didn't settle as remaining. The default caller wants both phases, so it
// passes prioritiseExactAmountMatch=true, exactAmountMatchOnly=false.
func Apportion(debts []*Debt, payments []*Payment, binding DoubleBookBinding, prioritiseExactAmountMatch, exactAmountMatchOnly bool) ([]Split, ApportionmentResult, error) {
	sortedDebts := append([]*Debt(nil), debts...)
	sort.Slice(sortedDebts, func(i, j int) bool { return sortedDebts[i].Timestamp.Before(sortedDebts[j].Timestamp) })
	sortedPayments := append([]*Payment(nil), payments...)
	sort.Slice(sortedPayments, func(i, j int) bool { return sortedPayments[i].Timestamp.Before(sortedPayments[j].Timestamp) })

	var splits []Split

	if prioritiseExactAmountMatch || exactAmountMatchOnly {
		if err := exactMatchPhase(sortedDebts, sortedPayments, binding, &splits); err != nil {
			return nil, ApportionmentResult{}, err
		}
	}
	if !exactAmountMatchOnly {
		if err := sweepPhase(sortedDebts, sortedPayments, binding, &splits); err != nil {
			return nil, ApportionmentResult{}, err
		}
	}

	result := ApportionmentResult{}
	for _, d := range sortedDebts {
		paid, err := d.Paid()
		if err != nil {
			return nil, ApportionmentResult{}, err
		}
		if paid {
			result.FullyPaidDebts = append(result.FullyPaidDebts, d)
		} else {
			result.RemainingDebts = append(result.RemainingDebts, d)
		}
	}
	for _, p := range sortedPayments {
		used, err := p.FullyUsed()
		if err != nil {
			return nil, ApportionmentResult{}, err
		}
		if used {
			result.FullyUsedPayments = append(result.FullyUsedPayments, p)
		} else {
			result.RemainingPayments = append(result.RemainingPayments, p)
		}
	}
	return splits, result, nil
}

func applySplit(d *Debt, p *Payment, amount Money, binding DoubleBookBinding, splits *[]Split) error {
	split := binding.NewSplit(d.ID, p.ID, amount)
	*splits = append(*splits, split)

	debtMatched, err := d.MatchedBalance()
	if err != nil {
		return err
	}
	newDebtMatched, err := debtMatched.Add(amount)
	if err != nil {
		return err
	}
	d.matchedBalance = &newDebtMatched

	payUsed, err := p.CreditUsed()
	if err != nil {
		return err
	}
	newPayUsed, err := payUsed.Add(amount)
	if err != nil {
		return err
	}
	p.matchedBalance = &newPayUsed
	return nil
}

func exactMatchPhase(debts []*Debt, payments []*Payment, binding DoubleBookBinding, splits *[]Split) error {
	for _, d := range debts {
		paid, err := d.Paid()
		if err != nil {
			return err
		}
		if paid {
			continue
		}
		balance, err := d.Balance()
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Timestamp.Before(d.Timestamp) {
				continue
			}
			fullyUsed, err := p.FullyUsed()
			if err != nil {
				return err
			}
			if fullyUsed {
				continue
			}
			remaining, err := p.CreditRemaining()
			if err != nil {
				return err
			}
			if !remaining.Equal(balance) {
				continue
			}
			if err := ValidateSplit(d, p, d.PartyID, p.PartyID, balance); err != nil {
				continue
			}
			if err := applySplit(d, p, balance, binding, splits); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func sweepPhase(debts []*Debt, payments []*Payment, binding DoubleBookBinding, splits *[]Split) error {
	debtIdx := 0
	for _, p := range payments {
		for {
			fullyUsed, err := p.FullyUsed()
			if err != nil {
				return err
			}
			if fullyUsed {
				break
			}
			for debtIdx < len(debts) {
				paid, err := debts[debtIdx].Paid()
				if err != nil {
					return err
				}
				if paid {
					debtIdx++
					continue
				}
				break
			}
			if debtIdx >= len(debts) {
				break
			}
			d := debts[debtIdx]
			if d.Timestamp.After(p.Timestamp) {
				break
			}

			debtBalance, err := d.Balance()
			if err != nil {
				return err
			}
			paymentRemaining, err := p.CreditRemaining()
			if err != nil {
				return err
			}
			amount, err := Min(debtBalance, paymentRemaining)
			if err != nil {
				return err
			}
			if !amount.IsPositive() {
				break
			}
			if err := ValidateSplit(d, p, d.PartyID, p.PartyID, amount); err != nil {
				break
			}
			if err := applySplit(d, p, amount, binding, splits); err != nil {
				return err
			}

			debtSettled, err := d.Paid()
			if err != nil {
				return err
			}
			if debtSettled {
				debtIdx++
			}
			// else: this payment is now exhausted against a still-open debt;
			// the outer loop sees FullyUsed and moves on to the next payment.
		}
	}
	return nil
}
