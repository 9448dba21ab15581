package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// Reporter answers the outstanding-balance questions a committee member
// or treasurer actually asks after a batch lands: what does this party
// still owe, and how does that break down by category?
type Reporter struct {
	store *Store
}

// NewReporter wraps store for balance queries.
func NewReporter(store *Store) *Reporter {
	return &Reporter{store: store}
}

// OutstandingBalance sums the unpaid balance of every debt a party owes.
func (r *Reporter) OutstandingBalance(partyID int64, currency Currency) (Money, error) {
	debts, err := r.store.UnpaidDebtsForParty(partyID)
	if err != nil {
		return Money{}, err
	}
	total := ZeroMoney(currency)
	for _, d := range debts {
		bal, err := d.Balance()
		if err != nil {
			return Money{}, err
		}
		total, err = total.Add(bal)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// SlugBalance is one row of a BalancesByFilterSlug report.
type SlugBalance struct {
	FilterSlug string
	Total      Money
}

// BalancesByFilterSlug sums a party's outstanding debt balances grouped by
// FilterSlug (e.g. "rehearsal-weekend", "membership-fee"), mirroring the
// original model layer's balances_by_filter_slug rollup.
func (r *Reporter) BalancesByFilterSlug(partyID int64, currency Currency) ([]SlugBalance, error) {
	debts, err := r.store.UnpaidDebtsForParty(partyID)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]Money)
	for _, d := range debts {
		bal, err := d.Balance()
		if err != nil {
			return nil, err
		}
		running, ok := totals[d.FilterSlug]
		if !ok {
			running = ZeroMoney(currency)
		}
		running, err = running.Add(bal)
		if err != nil {
			return nil, err
		}
		totals[d.FilterSlug] = running
	}

	slugs := make([]string, 0, len(totals))
	for slug := range totals {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	result := make([]SlugBalance, 0, len(slugs))
	for _, slug := range slugs {
		result = append(result, SlugBalance{FilterSlug: slug, Total: totals[slug]})
	}
	return result, nil
}

// FormatErrorReport renders a batch's accumulated errors as the plain-text
// report a CLI driver prints or a caller emails to whoever ran the import.
// Errors are rendered in the order given — ErrorCollector already hands
// them back most-recently-reported first.
func FormatErrorReport(errs []LineError) string {
	if len(errs) == 0 {
		return "No errors.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s):\n", len(errs))
	for _, e := range errs {
		lines := make([]string, len(e.Lines))
		for i, l := range e.Lines {
			lines[i] = fmt.Sprintf("%d", l)
		}
		fmt.Fprintf(&b, "  line %s: %s\n", strings.Join(lines, ", "), e.Message)
	}
	return b.String()
}
