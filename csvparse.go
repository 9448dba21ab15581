package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

// TransactionInfo is the intermediate, in-memory record produced by
// parsing a single CSV row. LedgerEntry is filled in later, during
// preparation, with a not-yet-persisted Debt or Payment.
type TransactionInfo struct {
	LineNo           int
	Amount           Money
	Timestamp        time.Time
	AccountLookupStr string

	// Nature and OGM are populated only for bank-style rows.
	Nature PaymentNature
	OGM    string

	LedgerEntry interface{}
}

// LineError pairs a set of 1-based CSV line numbers with one formatted
// message, the unit the pipeline's error report is built from.
type LineError struct {
	Lines   []int
	Message string
}

// Clock abstracts "now" so date-less rows are testable.
type Clock func() time.Time

// FinancialCSVParser reads transactions out of a CSV stream, applying the
// row rules from §4.3: flexible decimal separators on the amount column,
// dd/mm/YYYY dates (defaulting to now when the column is empty), and a
// structural, batch-aborting error when a required column is missing.
type FinancialCSVParser struct {
	Delimiter        rune
	AmountColumnName string
	DateColumnName   string
	Currency         Currency
	Now              Clock

	errors []LineError
	rows   []*TransactionInfo
	read   bool

	// ParseRowExtra lets subtype parsers (bank, member) pull additional
	// fields out of the row after the common ones have been parsed; it
	// returns false to drop the row without an error (e.g. a row whose OGM
	// is simply absent).
	ParseRowExtra func(p *FinancialCSVParser, lineNo int, row map[string]string, info *TransactionInfo) bool
}

// NewFinancialCSVParser builds a parser with the conventional defaults
// (comma delimiter, real wall-clock fallback).
func NewFinancialCSVParser(currency Currency) *FinancialCSVParser {
	return &FinancialCSVParser{
		Delimiter:        ',',
		AmountColumnName: "amount",
		DateColumnName:   "date",
		Currency:         currency,
		Now:              time.Now,
	}
}

func (p *FinancialCSVParser) error(lineNo int, format string, args ...interface{}) {
	p.errors = append([]LineError{{Lines: []int{lineNo}, Message: fmt.Sprintf(format, args...)}}, p.errors...)
}

// Errors returns the parser's accumulated errors, most-recently-added
// first, reading the stream first if it hasn't been read yet.
func (p *FinancialCSVParser) Errors(r io.Reader) []LineError {
	p.ensureRead(r)
	return p.errors
}

// ParsedData returns the successfully parsed rows, reading the stream
// first if it hasn't been read yet.
func (p *FinancialCSVParser) ParsedData(r io.Reader) []*TransactionInfo {
	p.ensureRead(r)
	return p.rows
}

func (p *FinancialCSVParser) ensureRead(r io.Reader) {
	if p.read {
		return
	}
	p.read = true
	if r == nil {
		return
	}
	p.readAll(r)
}

func (p *FinancialCSVParser) readAll(r io.Reader) {
	cr := csv.NewReader(r)
	if p.Delimiter != 0 {
		cr.Comma = p.Delimiter
	}
	header, err := cr.Read()
	if err == io.EOF {
		return
	}
	if err != nil {
		p.error(0, "Could not read CSV header: %v", err)
		return
	}
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[h] = i
	}
	if _, ok := colIndex[p.AmountColumnName]; !ok {
		p.errors = []LineError{{Lines: []int{0}, Message: fmt.Sprintf("Missing column: %s. No data processed.", p.AmountColumnName)}}
		return
	}

	lineNo := 1
	for {
		lineNo++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.error(lineNo, "Could not parse CSV row: %v", err)
			continue
		}
		row := make(map[string]string, len(header))
		for col, idx := range colIndex {
			if idx < len(record) {
				row[col] = record[idx]
			}
		}
		info := p.parseRow(lineNo, row)
		if info != nil {
			p.rows = append(p.rows, info)
		}
	}
}

func (p *FinancialCSVParser) parseRow(lineNo int, row map[string]string) *TransactionInfo {
	amount, ok := p.parseAmount(lineNo, row[p.AmountColumnName])
	if !ok {
		return nil
	}
	timestamp, ok := p.parseDate(lineNo, row[p.DateColumnName])
	if !ok {
		return nil
	}
	info := &TransactionInfo{LineNo: lineNo, Amount: amount, Timestamp: timestamp}
	if p.ParseRowExtra != nil {
		if !p.ParseRowExtra(p, lineNo, row, info) {
			return nil
		}
	}
	return info
}

func (p *FinancialCSVParser) parseAmount(lineNo int, raw string) (Money, bool) {
	m, err := ParseMoney(raw, p.Currency)
	if err != nil {
		p.error(lineNo, "Invalid amount %s", raw)
		return Money{}, false
	}
	if m.IsNegative() {
		p.error(lineNo, "Invalid amount %s", raw)
		return Money{}, false
	}
	return m, true
}

func (p *FinancialCSVParser) parseDate(lineNo int, raw string) (time.Time, bool) {
	if raw == "" {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		return now(), true
	}
	t, err := time.Parse("02/01/2006", raw)
	if err != nil {
		p.error(lineNo, "Invalid date %s, please use dd/mm/YYYY.", raw)
		return time.Time{}, false
	}
	return t, true
}

// MemberExtra is a ParseRowExtra implementation for cash/member payment
// imports, which carry a free-text party-lookup column instead of an OGM.
func MemberExtra(memberColumnName string) func(*FinancialCSVParser, int, map[string]string, *TransactionInfo) bool {
	return func(p *FinancialCSVParser, lineNo int, row map[string]string, info *TransactionInfo) bool {
		lookup, ok := row[memberColumnName]
		if !ok || lookup == "" {
			p.error(lineNo, "Missing column: %s. No data processed.", memberColumnName)
			return false
		}
		info.AccountLookupStr = lookup
		info.Nature = NatureCash
		return true
	}
}

// ogmPattern matches a bare 12-digit OGM or its "+++NNN/NNNN/NNNNN+++"
// grouped rendering, embedded anywhere in a free-text details column.
var ogmPattern = regexp.MustCompile(`\+{0,3}\d{3}[/ ]?\d{4}[/ ]?\d{5}\+{0,3}`)

// BankExtra is a ParseRowExtra implementation for bank-statement imports:
// it extracts an OGM from a free-text details column via regex. A row
// whose details simply don't contain anything OGM-shaped is dropped
// silently (a normal, unrelated transfer); a row whose OGM-shaped
// substring fails checksum validation is a per-line error.
func BankExtra(detailsColumnName string) func(*FinancialCSVParser, int, map[string]string, *TransactionInfo) bool {
	return func(p *FinancialCSVParser, lineNo int, row map[string]string, info *TransactionInfo) bool {
		info.Nature = NatureTransfer
		details := row[detailsColumnName]
		match := ogmPattern.FindString(details)
		if match == "" {
			// missing OGM: silently skip, per §4.3.
			logger.WithFields(logrus.Fields{
				"component": "csvparse",
				"line":      lineNo,
				"reason":    "missing-ogm",
			}).Debug("no OGM in details column; dropping row silently")
			return false
		}
		prefix, recordID, _, err := Parse(match)
		if err != nil {
			p.error(lineNo, "Illegal OGM string %s.", match)
			return false
		}
		canonical, err := Encode(prefix, recordID)
		if err != nil {
			p.error(lineNo, "Illegal OGM string %s.", match)
			return false
		}
		info.OGM = canonical
		info.AccountLookupStr = canonical
		return true
	}
}
