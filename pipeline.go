package reconcile

import "io"

// EngineConfig names the fixed facts one deployment of the engine needs:
// which currency its ledger is denominated in, which OGM payment-class
// prefix its bank transfer imports carry, and which DoubleBookBinding
// describes its split shape.
type EngineConfig struct {
	Currency    Currency
	PrefixDigit byte
	Binding     DoubleBookBinding
}

// Engine wires every component (C1-C12) into the two entry points a
// caller actually uses: importing a bank-statement CSV, and importing a
// cash/member-payment CSV. This replaces the teacher's AccountingEngine,
// which wired together posting, AML, compliance, ZBB, and multi-company
// services none of which this system needs; here the composition root
// wires only the reconciliation pipeline itself.
type Engine struct {
	Store  *Store
	Config EngineConfig
}

// NewEngine builds an Engine over an already-open Store.
func NewEngine(store *Store, cfg EngineConfig) *Engine {
	return &Engine{Store: store, Config: cfg}
}

// ImportBankTransactions reads a bank-statement CSV (amount/date columns
// plus a free-text details column an OGM is extracted from) and runs it
// through resolution, duplicate detection, and apportionment, committing
// whatever cleanly resolved in one transaction.
func (e *Engine) ImportBankTransactions(r io.Reader, detailsColumnName, sourceDescription string) (*ImportBatch, []LineError, error) {
	parser := NewFinancialCSVParser(e.Config.Currency)
	parser.ParseRowExtra = BankExtra(detailsColumnName)
	return e.runImport(parser, r, TransferRowCapability{}, sourceDescription)
}

// ImportMemberPayments reads a cash/member-payment CSV (amount/date
// columns plus a free-text member-lookup column) through the same
// pipeline, substituting CashRowCapability for the row-build step.
func (e *Engine) ImportMemberPayments(r io.Reader, memberColumnName, sourceDescription string) (*ImportBatch, []LineError, error) {
	parser := NewFinancialCSVParser(e.Config.Currency)
	parser.ParseRowExtra = MemberExtra(memberColumnName)
	return e.runImport(parser, r, CashRowCapability{}, sourceDescription)
}

func (e *Engine) runImport(parser *FinancialCSVParser, r io.Reader, rowCap RowCapability, sourceDescription string) (*ImportBatch, []LineError, error) {
	errs := &ErrorCollector{}
	rows := parser.ParsedData(r)
	parseErrors := parser.Errors(nil)
	for i := len(parseErrors) - 1; i >= 0; i-- {
		errs.ErrorAtLines(parseErrors[i].Lines, parseErrors[i].Message)
	}

	batch := NewImportBatch(sourceDescription)
	if len(rows) == 0 {
		batch.RecordErrorCount(len(errs.Errors()))
		return batch, errs.Errors(), nil
	}

	resolver := NewResolver(e.Config.PrefixDigit)
	preparator := &Preparator{
		Resolver:      resolver,
		RowCapability: rowCap,
		Reviewers:     []ReviewCapability{OverpaymentReviewer{}},
	}
	pending, err := preparator.Prepare(rows, e.Store, errs)
	if err != nil {
		return nil, nil, err
	}

	flagged, err := (DuplicateDetector{}).Check(pending, e.Store, errs)
	if err != nil {
		return nil, nil, err
	}
	var clean []PendingPayment
	for _, pp := range pending {
		if !flagged[pp.LineNo] {
			clean = append(clean, pp)
		}
	}

	byParty := make(map[int64][]*Payment)
	var allPayments []*Payment
	for _, pp := range clean {
		byParty[pp.Payment.PartyID] = append(byParty[pp.Payment.PartyID], pp.Payment)
		allPayments = append(allPayments, pp.Payment)
	}
	// splits must carry real payment IDs, but payments and splits only
	// become visible together in CommitBatch; reserve the IDs now.
	if err := e.Store.AssignPaymentIDs(allPayments); err != nil {
		return nil, nil, err
	}
	// the new payments carry no splits yet: annotate them with zero credit used.
	WithRemoteAccountsPayments(allPayments, SplitSums{})

	var allSplits []Split
	for partyID, payments := range byParty {
		debts, err := e.Store.UnpaidDebtsForParty(partyID)
		if err != nil {
			return nil, nil, err
		}
		splits, _, err := Apportion(debts, payments, e.Config.Binding, true, false)
		if err != nil {
			return nil, nil, err
		}
		allSplits = append(allSplits, splits...)
	}

	preparator.Review(clean, allSplits, errs)

	batch.RecordErrorCount(len(errs.Errors()))
	batch.RecordPartyCount(len(byParty))
	splitPtrs := make([]*Split, len(allSplits))
	for i := range allSplits {
		splitPtrs[i] = &allSplits[i]
	}
	if err := e.Store.CommitBatch(batch, nil, allPayments, splitPtrs); err != nil {
		return nil, nil, err
	}
	return batch, errs.Errors(), nil
}
