// Command reconcile-import is a thin composition root: it opens a bbolt
// database, reads one CSV file, runs it through the reconciliation
// pipeline, and prints the error report and audit summary. It carries no
// business logic of its own.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"reconcile"
)

func main() {
	var (
		dbPath     = flag.String("db", "reconcile.db", "path to the bbolt database file")
		csvPath    = flag.String("csv", "", "path to the CSV file to import")
		kind       = flag.String("kind", "bank", "import flavour: bank or member")
		currency   = flag.String("currency", "EUR", "ISO 4217 currency code")
		prefix     = flag.Uint("prefix", 1, "OGM prefix digit this import resolves")
		detailsCol = flag.String("details-column", "details", "bank CSV: free-text column carrying the OGM")
		memberCol  = flag.String("member-column", "member", "member CSV: free-text party-lookup column")
	)
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reconcile-import -csv <file> [-db <path>] [-kind bank|member]")
		os.Exit(2)
	}

	store, err := reconcile.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	engine := reconcile.NewEngine(store, reconcile.EngineConfig{
		Currency:    reconcile.Currency(*currency),
		PrefixDigit: byte('0' + *prefix),
		Binding:     reconcile.DefaultBinding,
	})

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("failed to open CSV file: %v", err)
	}
	defer f.Close()

	var (
		batch *reconcile.ImportBatch
		errs  []reconcile.LineError
	)
	switch *kind {
	case "bank":
		batch, errs, err = engine.ImportBankTransactions(f, *detailsCol, *csvPath)
	case "member":
		batch, errs, err = engine.ImportMemberPayments(f, *memberCol, *csvPath)
	default:
		log.Fatalf("unknown -kind %q: want bank or member", *kind)
	}
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	fmt.Print(reconcile.FormatErrorReport(errs))
	fmt.Printf("\nbatch %s committed at %s\n", batch.BatchID, batch.CommittedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("parties=%d payments=%d debts=%d splits=%d errors=%d\n",
		batch.PartyCount, batch.PaymentCount, batch.DebtCount, batch.SplitCount, batch.ErrorCount)
}
