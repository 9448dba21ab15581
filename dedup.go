package reconcile

import (
	"fmt"
	"sort"
	"time"
)

// DupSignature is the identity a duplicate-payment check groups rows by:
// same calendar day, same amount, same resolved party, same payment
// nature. Two rows (or a row
// and a historical payment) sharing a signature are indistinguishable from
// each other absent some other disambiguating detail the import doesn't
// carry.
type DupSignature struct {
	Date    string // YYYY-MM-DD, local calendar day
	Amount  string // Money.String(), so currency-qualified
	PartyID int64
	Nature  PaymentNature
}

func signatureOf(partyID int64, amount Money, ts time.Time, nature PaymentNature) DupSignature {
	return DupSignature{
		Date:    ts.Format("2006-01-02"),
		Amount:  amount.String(),
		PartyID: partyID,
		Nature:  nature,
	}
}

// PendingPayment pairs a not-yet-committed Payment with the CSV line
// number it was built from, preserving file order through the pipeline.
type PendingPayment struct {
	LineNo  int
	Payment *Payment
}

// DuplicateDetector flags payments in an import batch that look like
// re-submissions of something already on record, per §4.5: bucket the
// batch by signature, bucket matching history by the same signature
// across the batch's full date span, and treat min(count_in_history,
// count_in_batch) rows — the first that many in file order — as probable
// duplicates.
type DuplicateDetector struct{}

// Check flags likely-duplicate rows among pending and reports, via errs,
// every line of each signature that also occurs in history. It returns
// the set of line numbers flagged (the first min(count_in_history,
// count_in_batch) of each such signature), so the caller can drop those
// rows from the apportionment and commit phases.
func (DuplicateDetector) Check(pending []PendingPayment, store LedgerStore, errs ErrorSink) (map[int]bool, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	byNature := make(map[PaymentNature][]PendingPayment)
	for _, pp := range pending {
		byNature[pp.Payment.Nature] = append(byNature[pp.Payment.Nature], pp)
	}

	// bucket the batch itself, preserving file order within each bucket.
	importBuckets := make(map[DupSignature][]int)
	for _, pp := range pending {
		sig := signatureOf(pp.Payment.PartyID, pp.Payment.TotalAmount, pp.Payment.Timestamp, pp.Payment.Nature)
		importBuckets[sig] = append(importBuckets[sig], pp.LineNo)
	}

	// bucket matching history, one query per nature present in the batch.
	histBuckets := make(map[DupSignature]int)
	for nature, rows := range byNature {
		lo, hi := rows[0].Payment.Timestamp, rows[0].Payment.Timestamp
		for _, pp := range rows {
			if pp.Payment.Timestamp.Before(lo) {
				lo = pp.Payment.Timestamp
			}
			if pp.Payment.Timestamp.After(hi) {
				hi = pp.Payment.Timestamp
			}
		}
		history, err := store.PaymentsInDateRange(lo, hi, nature)
		if err != nil {
			return nil, err
		}
		for _, h := range history {
			sig := signatureOf(h.PartyID, h.TotalAmount, h.Timestamp, nature)
			histBuckets[sig]++
		}
	}

	flagged := make(map[int]bool)
	for sig, lines := range importBuckets {
		occImport := len(lines)
		occHist := histBuckets[sig]
		dupcount := occHist
		if occImport < dupcount {
			dupcount = occImport
		}
		if dupcount == 0 {
			continue
		}
		sorted := append([]int(nil), lines...)
		sort.Ints(sorted)
		toFlag := sorted[:dupcount]
		for _, l := range toFlag {
			flagged[l] = true
		}
		errs.ErrorAtLines(sorted, duplicateMessage(dupcount, occHist, occImport))
	}

	return flagged, nil
}

func duplicateMessage(dupcount, occHist, occImport int) string {
	if occHist == 1 && occImport == 1 {
		return "This payment looks like a duplicate of one already on record and was not processed."
	}
	return fmt.Sprintf(
		"%d payments in this batch look like duplicates of payments already on record (history: %d, batch: %d); the first %d in file order were not processed.",
		occImport, occHist, occImport, dupcount,
	)
}
