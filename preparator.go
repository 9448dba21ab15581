package reconcile

import "sort"

// ErrorCollector is the standard ErrorSink: it prepends every reported
// error, so Errors() yields the most-recently-added error first, matching
// the ordering guarantee the original's insert-at-head error list gave
// callers (§5).
type ErrorCollector struct {
	errors []LineError
}

func (c *ErrorCollector) ErrorAtLines(lines []int, message string) {
	c.errors = append([]LineError{{Lines: lines, Message: message}}, c.errors...)
}

// Errors returns every error reported so far, most recent first.
func (c *ErrorCollector) Errors() []LineError {
	return c.errors
}

// RowCapability turns one resolved transaction row into a not-yet-persisted
// Payment. It is the one piece of a Preparator that genuinely differs
// between import variants (bank transfer vs. cash/member payment); the
// rest of the pipeline — resolution, validation, review — is shared.
type RowCapability interface {
	BuildPayment(tinfo *TransactionInfo, party Party, errs ErrorSink) (*Payment, bool)
}

// ReviewCapability is the §4.8 review() hook: it runs after apportionment,
// with visibility into both the batch's pending payments and the splits
// apportionment actually produced for them, and flags (via errs) anything
// worth an operator's attention without altering either.
type ReviewCapability interface {
	Review(pending []PendingPayment, splits []Split, errs ErrorSink)
}

// Preparator composes a RowCapability with zero or more ReviewCapabilities
// into one import pipeline. This stands in for the multiple-inheritance
// mixin composition (FetchMembersMixin, ValidatesOverpaymentMixin, and
// friends) the original preparators used: each capability here is an
// explicit field set once at construction rather than a base class merged
// in at the class-definition site.
type Preparator struct {
	Resolver      *Resolver
	RowCapability RowCapability
	Reviewers     []ReviewCapability
}

// Prepare resolves every row's party and builds a Payment candidate for
// each one that resolved successfully. Review runs separately, via
// Preparator.Review, once apportionment has produced splits for this batch.
func (p *Preparator) Prepare(rows []*TransactionInfo, store PartyStore, errs ErrorSink) ([]PendingPayment, error) {
	if err := p.Resolver.Resolve(rows, store, errs); err != nil {
		return nil, err
	}

	var pending []PendingPayment
	for _, t := range rows {
		party, ok := p.Resolver.Lookup(t.AccountLookupStr)
		if !ok {
			// unresolved rows were already reported by the resolver.
			continue
		}
		payment, ok := p.RowCapability.BuildPayment(t, party, errs)
		if !ok {
			continue
		}
		t.LedgerEntry = payment
		pending = append(pending, PendingPayment{LineNo: t.LineNo, Payment: payment})
	}
	return pending, nil
}

// Review runs every ReviewCapability over pending and the splits
// apportionment produced for it. Called once apportionment has run, per
// §4.8: review sees the batch as it will actually be committed.
func (p *Preparator) Review(pending []PendingPayment, splits []Split, errs ErrorSink) {
	for _, r := range p.Reviewers {
		r.Review(pending, splits, errs)
	}
}

// TransferRowCapability builds Payments from OGM-resolved bank transfer
// rows, per §4.3's BankExtra row shape.
type TransferRowCapability struct{}

func (TransferRowCapability) BuildPayment(t *TransactionInfo, party Party, errs ErrorSink) (*Payment, bool) {
	return &Payment{
		Timestamp:   t.Timestamp,
		TotalAmount: t.Amount,
		PartyID:     party.ID,
		Nature:      NatureTransfer,
	}, true
}

// CashRowCapability builds Payments from free-text, member-lookup rows,
// per §4.3's MemberExtra row shape.
type CashRowCapability struct{}

func (CashRowCapability) BuildPayment(t *TransactionInfo, party Party, errs ErrorSink) (*Payment, bool) {
	return &Payment{
		Timestamp:   t.Timestamp,
		TotalAmount: t.Amount,
		PartyID:     party.ID,
		Nature:      NatureCash,
	}, true
}

// OverpaymentReviewer flags, per party, a batch whose payments settled less
// credit than they carried once apportionment has run: total_used (the sum
// of the splits apportionment actually produced for a party's payments in
// this batch) falling short of total_credit (the sum of those payments),
// per §4.6. This is advisory rather than batch-fatal (§7's post-validation
// category): the batch still commits, the excess simply becomes unmatched
// credit on the party's account. Computing this from splits rather than
// raw payment/debt totals means it reflects the batch as actually
// committed — duplicate rows dropped before apportionment never count
// against the party, and credit apportionment's chronology rule left
// unmatched (a payment older than every open debt) is reported rather than
// missed.
type OverpaymentReviewer struct{}

func (OverpaymentReviewer) Review(pending []PendingPayment, splits []Split, errs ErrorSink) {
	type partyTotal struct {
		credit Money
		used   Money
		lines  []int
	}
	byParty := make(map[int64]*partyTotal)
	partyOfPayment := make(map[int64]int64)
	for _, pp := range pending {
		pt, ok := byParty[pp.Payment.PartyID]
		if !ok {
			currency := pp.Payment.TotalAmount.Currency()
			pt = &partyTotal{credit: ZeroMoney(currency), used: ZeroMoney(currency)}
			byParty[pp.Payment.PartyID] = pt
		}
		sum, err := pt.credit.Add(pp.Payment.TotalAmount)
		if err != nil {
			continue
		}
		pt.credit = sum
		pt.lines = append(pt.lines, pp.LineNo)
		partyOfPayment[pp.Payment.ID] = pp.Payment.PartyID
	}

	for _, s := range splits {
		partyID, ok := partyOfPayment[s.PaymentID]
		if !ok {
			continue
		}
		pt := byParty[partyID]
		sum, err := pt.used.Add(s.Amount)
		if err != nil {
			continue
		}
		pt.used = sum
	}

	partyIDs := make([]int64, 0, len(byParty))
	for id := range byParty {
		partyIDs = append(partyIDs, id)
	}
	sort.Slice(partyIDs, func(i, j int) bool { return partyIDs[i] < partyIDs[j] })

	for _, partyID := range partyIDs {
		pt := byParty[partyID]
		if lt, err := pt.used.LessThan(pt.credit); err == nil && lt {
			errs.ErrorAtLines(pt.lines, "This batch pays more than the party currently owes; the excess will be recorded as unmatched credit.")
		}
	}
}
