package reconcile

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PaymentNature classifies how a payment physically arrived.
type PaymentNature int

const (
	NatureCash PaymentNature = iota
	NatureTransfer
	NatureOther
)

// Party is an identified counterparty — typically a member of the
// organization this ledger belongs to.
type Party struct {
	ID int64
	// OGM is this party's canonical structured payment reference.
	OGM string
	// LookupKeys are free-text strings (emails, full names) that rows in
	// an imported CSV may use to identify this party.
	LookupKeys []string
}

// Debt is one half of a double-entry ledger: an amount a Party owes.
type Debt struct {
	ID          int64
	Timestamp   time.Time
	TotalAmount Money
	PartyID     int64
	Comment     string
	FilterSlug  string
	Category    string

	// MatchedBalance is the sum of all splits pointing at this debt. It is
	// populated either by WithRemoteAccounts (batch-friendly) or lazily via
	// the fallback path in MatchedBalance().
	matchedBalance    *Money
	matchedBalanceSrc func(debtID int64) (Money, error)
}

// Payment is the other half of a double-entry ledger: an amount a Party
// paid in.
type Payment struct {
	ID          int64
	Timestamp   time.Time
	TotalAmount Money
	PartyID     int64
	Nature      PaymentNature

	matchedBalance    *Money
	matchedBalanceSrc func(paymentID int64) (Money, error)
}

// Split links exactly one Debt to exactly one Payment for a specific
// Money amount. Both ends must belong to the same party, and a payment
// can never be applied to a debt incurred after it.
type Split struct {
	ID        int64
	DebtID    int64
	PaymentID int64
	Amount    Money
}

// DoubleBookBinding names the debt side, payment side, and split
// constructor for one flavour of double-entry ledger, replacing the
// reflective relation discovery of the original source with an explicit
// declaration supplied once at setup.
type DoubleBookBinding struct {
	DebtOf    func(s Split) int64
	PaymentOf func(s Split) int64
	NewSplit  func(debtID, paymentID int64, amount Money) Split
}

// DefaultBinding is the single DoubleBookBinding used throughout this
// package; there is exactly one split shape (Debt <-> Payment), so unlike
// the original's per-model-pair reflection there is nothing to discover.
var DefaultBinding = DoubleBookBinding{
	DebtOf:    func(s Split) int64 { return s.DebtID },
	PaymentOf: func(s Split) int64 { return s.PaymentID },
	NewSplit: func(debtID, paymentID int64, amount Money) Split {
		return Split{DebtID: debtID, PaymentID: paymentID, Amount: amount}
	},
}

var logger = logrus.StandardLogger()

// MatchedBalance returns the sum of all splits against this debt. If the
// debt was not annotated by WithRemoteAccounts, it falls back to an
// individual lookup and logs a performance warning, per §4.2.
func (d *Debt) MatchedBalance() (Money, error) {
	if d.matchedBalance != nil {
		return *d.matchedBalance, nil
	}
	if d.ID == 0 {
		zero := ZeroMoney(d.TotalAmount.Currency())
		return zero, nil
	}
	if d.matchedBalanceSrc == nil {
		return Money{}, fmt.Errorf("ledger: debt %d has no balance source and no annotation", d.ID)
	}
	logger.WithFields(logrus.Fields{
		"component": "ledger",
		"debt_id":   d.ID,
	}).Warn("PERFORMANCE WARNING: falling back to per-record matched_balance computation; review batch annotation usage")
	m, err := d.matchedBalanceSrc(d.ID)
	if err != nil {
		return Money{}, err
	}
	d.matchedBalance = &m
	return m, nil
}

// Balance returns total_amount - matched_balance.
func (d *Debt) Balance() (Money, error) {
	matched, err := d.MatchedBalance()
	if err != nil {
		return Money{}, err
	}
	return d.TotalAmount.Sub(matched)
}

// Paid reports whether the debt's balance is zero or less.
func (d *Debt) Paid() (bool, error) {
	bal, err := d.Balance()
	if err != nil {
		return false, err
	}
	return !bal.IsPositive(), nil
}

// CreditUsed is the payment-side name for MatchedBalance.
func (p *Payment) CreditUsed() (Money, error) {
	if p.matchedBalance != nil {
		return *p.matchedBalance, nil
	}
	if p.ID == 0 {
		zero := ZeroMoney(p.TotalAmount.Currency())
		return zero, nil
	}
	if p.matchedBalanceSrc == nil {
		return Money{}, fmt.Errorf("ledger: payment %d has no balance source and no annotation", p.ID)
	}
	logger.WithFields(logrus.Fields{
		"component":  "ledger",
		"payment_id": p.ID,
	}).Warn("PERFORMANCE WARNING: falling back to per-record credit_used computation; review batch annotation usage")
	m, err := p.matchedBalanceSrc(p.ID)
	if err != nil {
		return Money{}, err
	}
	p.matchedBalance = &m
	return m, nil
}

// CreditRemaining is total_amount - credit_used.
func (p *Payment) CreditRemaining() (Money, error) {
	used, err := p.CreditUsed()
	if err != nil {
		return Money{}, err
	}
	return p.TotalAmount.Sub(used)
}

// FullyUsed reports whether the payment's remaining credit is zero or less.
func (p *Payment) FullyUsed() (bool, error) {
	rem, err := p.CreditRemaining()
	if err != nil {
		return false, err
	}
	return !rem.IsPositive(), nil
}

// SplitSums is the shape a store's batch-annotation query must return: the
// total of all existing splits keyed by debt id and by payment id.
type SplitSums struct {
	ByDebtID    map[int64]Money
	ByPaymentID map[int64]Money
}

// WithRemoteAccountsDebts annotates every debt in place with its matched
// balance in a single pass, given the aggregate split sums for this batch
// of debt ids. This is the batch-friendly counterpart to the per-record
// fallback in MatchedBalance, mirroring with_remote_accounts in the
// original model layer.
func WithRemoteAccountsDebts(debts []*Debt, sums SplitSums) {
	for _, d := range debts {
		total, ok := sums.ByDebtID[d.ID]
		if !ok {
			total = ZeroMoney(d.TotalAmount.Currency())
		}
		d.matchedBalance = &total
	}
}

// WithRemoteAccountsPayments is the payment-side counterpart of
// WithRemoteAccountsDebts.
func WithRemoteAccountsPayments(payments []*Payment, sums SplitSums) {
	for _, p := range payments {
		total, ok := sums.ByPaymentID[p.ID]
		if !ok {
			total = ZeroMoney(p.TotalAmount.Currency())
		}
		p.matchedBalance = &total
	}
}

// SetBalanceSource wires the fallback, per-record balance lookup used when
// a Debt was obtained outside of WithRemoteAccountsDebts (e.g. fetched
// individually by a caller outside the bulk-import pipeline).
func (d *Debt) SetBalanceSource(src func(debtID int64) (Money, error)) {
	d.matchedBalanceSrc = src
}

// SetBalanceSource is the Payment-side counterpart of Debt.SetBalanceSource.
func (p *Payment) SetBalanceSource(src func(paymentID int64) (Money, error)) {
	p.matchedBalanceSrc = src
}

// ValidateSplit checks the global split invariants from §3 against a
// proposed split, given the debt and payment it would join and their
// current balances (which must already reflect every other split applied
// so far, i.e. callers validate splits one at a time in emission order).
func ValidateSplit(debt *Debt, payment *Payment, debtPartyID, paymentPartyID int64, amount Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("ledger: split amount %s is not strictly positive", amount)
	}
	if debtPartyID != paymentPartyID {
		return fmt.Errorf("ledger: split links debt of party %d to payment of party %d", debtPartyID, paymentPartyID)
	}
	if payment.Timestamp.Before(debt.Timestamp) {
		return fmt.Errorf("ledger: split would retroactively apply payment at %s to debt at %s", payment.Timestamp, debt.Timestamp)
	}
	debtBalance, err := debt.Balance()
	if err != nil {
		return err
	}
	if lt, err := debtBalance.LessThan(amount); err != nil {
		return err
	} else if lt {
		return fmt.Errorf("ledger: split amount %s exceeds debt balance %s", amount, debtBalance)
	}
	paymentRemaining, err := payment.CreditRemaining()
	if err != nil {
		return err
	}
	if lt, err := paymentRemaining.LessThan(amount); err != nil {
		return err
	} else if lt {
		return fmt.Errorf("ledger: split amount %s exceeds payment credit remaining %s", amount, paymentRemaining)
	}
	return nil
}
