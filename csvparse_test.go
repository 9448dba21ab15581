package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVParserMissingColumnAbortsBatch(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	input := "wrong,date\n10,01/01/2024\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)

	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Equal(t, []int{0}, errs[0].Lines)
	assert.Contains(t, errs[0].Message, "Missing column: amount")
}

func TestCSVParserLineNumberingAccountsForHeader(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	input := "amount,date\n10,01/01/2024\nbad,01/01/2024\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)

	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].LineNo, "the first data row is line 2")
	require.Len(t, errs, 1)
	assert.Equal(t, []int{3}, errs[0].Lines)
}

func TestCSVParserAcceptsCommaDecimalAmountWithSemicolonDelimiter(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	p.Delimiter = ';'
	input := "amount;date\n10,50;01/01/2024\n"
	rows := p.ParsedData(strings.NewReader(input))
	require.Len(t, rows, 1)
	want, err := ParseMoney("10.50", "EUR")
	require.NoError(t, err)
	assert.True(t, rows[0].Amount.Equal(want))
}

func TestCSVParserRejectsNegativeAmount(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	input := "amount,date\n-10,01/01/2024\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)
	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Invalid amount")
}

func TestCSVParserMissingDateDefaultsToNow(t *testing.T) {
	fixedNow := time.Date(2030, 5, 5, 12, 0, 0, 0, time.UTC)
	p := NewFinancialCSVParser("EUR")
	p.Now = func() time.Time { return fixedNow }
	input := "amount,date\n10,\n"
	rows := p.ParsedData(strings.NewReader(input))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Timestamp.Equal(fixedNow))
}

func TestCSVParserInvalidDateIsPerLineError(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	input := "amount,date\n10,2024-01-01\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)
	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "dd/mm/YYYY")
}

func TestBankExtraDropsMissingOGMSilently(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	p.ParseRowExtra = BankExtra("details")
	input := "amount,date,details\n10,01/01/2024,regular grocery purchase\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)
	assert.Empty(t, rows)
	assert.Empty(t, errs, "a row with no OGM-shaped substring is dropped silently, not an error")
}

func TestBankExtraExtractsValidOGM(t *testing.T) {
	ogm, err := Encode('1', 42)
	require.NoError(t, err)

	p := NewFinancialCSVParser("EUR")
	p.ParseRowExtra = BankExtra("details")
	input := "amount,date,details\n10,01/01/2024," + Format(ogm) + "\n"
	rows := p.ParsedData(strings.NewReader(input))
	require.Len(t, rows, 1)
	assert.Equal(t, ogm, rows[0].OGM)
	assert.Equal(t, NatureTransfer, rows[0].Nature)
}

func TestBankExtraInvalidOGMChecksumIsPerLineError(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	p.ParseRowExtra = BankExtra("details")
	// well-formed shape, wrong checksum
	input := "amount,date,details\n10,01/01/2024,+++100/0000/00001+++\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)
	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Illegal OGM string")
}

func TestMemberExtraMissingColumnIsPerLineError(t *testing.T) {
	p := NewFinancialCSVParser("EUR")
	p.ParseRowExtra = MemberExtra("member")
	input := "amount,date,member\n10,01/01/2024,\n"
	rows := p.ParsedData(strings.NewReader(input))
	errs := p.Errors(nil)
	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Missing column: member")
}
