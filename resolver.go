package reconcile

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrorSink accumulates the (line numbers, message) pairs a preparator
// reports back to its caller. Errors are meant to be prepended by
// implementations, so that the most-recently-added error surfaces first
// at the reporting boundary (§5).
type ErrorSink interface {
	ErrorAtLines(lines []int, message string)
}

// IndexBuilder is responsible for recognising and resolving one shape of
// lookup key (OGM, email, full name) across a batch of transaction rows.
// Exactly one builder claims each row; resolver phase A (Append) walks
// every row offering it to each builder in turn until one accepts it.
type IndexBuilder interface {
	// Append offers a row to this builder. It returns true if the builder
	// recognises tinfo.AccountLookupStr's shape and has claimed the row
	// (regardless of whether the key will ultimately resolve to a party).
	Append(tinfo *TransactionInfo) bool
	// ExecuteQuery issues the builder's single bulk query against the
	// party store and reports any errors for unresolved/ambiguous keys.
	ExecuteQuery(store PartyStore, errs ErrorSink) error
	// Lookup returns the resolved party for a claimed key, if any.
	Lookup(key string) (Party, bool)
}

// Resolver runs the two-phase party-resolution design from §4.4 over a
// fixed list of IndexBuilders.
type Resolver struct {
	Builders []IndexBuilder
}

// NewResolver builds a Resolver that tries OGM lookups first (for
// bank-transfer imports), then email, then full-name lookups.
func NewResolver(prefixDigit byte) *Resolver {
	return &Resolver{
		Builders: []IndexBuilder{
			NewOGMIndexBuilder(prefixDigit),
			NewEmailIndexBuilder(),
			NewFullNameIndexBuilder(),
		},
	}
}

// Resolve runs phase A then phase B over rows, reporting errors to errs.
func (r *Resolver) Resolve(rows []*TransactionInfo, store PartyStore, errs ErrorSink) error {
	for _, t := range rows {
		for _, b := range r.Builders {
			if b.Append(t) {
				break
			}
		}
	}
	for _, b := range r.Builders {
		if err := b.ExecuteQuery(store, errs); err != nil {
			return err
		}
	}
	return nil
}

// Lookup tries every builder in order and returns the first resolved
// party for key.
func (r *Resolver) Lookup(key string) (Party, bool) {
	for _, b := range r.Builders {
		if p, ok := b.Lookup(key); ok {
			return p, true
		}
	}
	return Party{}, false
}

// --- OGM index builder -----------------------------------------------

// OGMIndexBuilder claims rows whose lookup string is a syntactically valid
// 12-digit OGM, regardless of prefix class. Only rows carrying this
// builder's configured prefix digit are actually queried against the
// party store; rows whose OGM is well-formed but tagged for a different
// payment class are claimed (so no other builder mistakes them for a
// name or email) and then silently dropped, per §7's "not ours" rule and
// the prefix-mismatch resolution in SPEC_FULL.md §9.
type OGMIndexBuilder struct {
	prefixDigit byte
	lineIndex   map[string][]int
	byOGM       map[string]Party
}

// NewOGMIndexBuilder builds an OGMIndexBuilder for one payment-class prefix.
func NewOGMIndexBuilder(prefixDigit byte) *OGMIndexBuilder {
	return &OGMIndexBuilder{
		prefixDigit: prefixDigit,
		lineIndex:   make(map[string][]int),
		byOGM:       make(map[string]Party),
	}
}

func (b *OGMIndexBuilder) Append(tinfo *TransactionInfo) bool {
	prefix, _, _, err := Parse(tinfo.AccountLookupStr)
	if err != nil {
		return false
	}
	if prefix != b.prefixDigit {
		logger.WithFields(logrus.Fields{
			"component": "resolver",
			"ogm":       tinfo.AccountLookupStr,
			"line":      tinfo.LineNo,
			"reason":    "prefix-mismatch",
		}).Debug("OGM belongs to a different payment class; dropping row silently")
		return true
	}
	b.lineIndex[tinfo.AccountLookupStr] = append(b.lineIndex[tinfo.AccountLookupStr], tinfo.LineNo)
	return true
}

func (b *OGMIndexBuilder) ExecuteQuery(store PartyStore, errs ErrorSink) error {
	ogms := make([]string, 0, len(b.lineIndex))
	for k := range b.lineIndex {
		ogms = append(ogms, k)
	}
	byOGM, unseen, err := store.PartiesByOGMs(ogms)
	if err != nil {
		return err
	}
	b.byOGM = byOGM
	if len(unseen) > 0 {
		sort.Strings(unseen)
		logger.WithFields(logrus.Fields{
			"component": "resolver",
			"unseen":    strings.Join(unseen, ", "),
		}).Info("OGMs not corresponding to valid party records")
	}
	return nil
}

func (b *OGMIndexBuilder) Lookup(key string) (Party, bool) {
	p, ok := b.byOGM[key]
	return p, ok
}

// --- Email index builder -----------------------------------------------

// EmailIndexBuilder claims rows whose lookup string contains '@'.
type EmailIndexBuilder struct {
	lineIndex map[string][]int
	byEmail   map[string]Party
}

func NewEmailIndexBuilder() *EmailIndexBuilder {
	return &EmailIndexBuilder{lineIndex: make(map[string][]int), byEmail: make(map[string]Party)}
}

func (b *EmailIndexBuilder) Append(tinfo *TransactionInfo) bool {
	if !strings.Contains(tinfo.AccountLookupStr, "@") {
		return false
	}
	b.lineIndex[tinfo.AccountLookupStr] = append(b.lineIndex[tinfo.AccountLookupStr], tinfo.LineNo)
	return true
}

func (b *EmailIndexBuilder) ExecuteQuery(store PartyStore, errs ErrorSink) error {
	emails := make([]string, 0, len(b.lineIndex))
	for k := range b.lineIndex {
		emails = append(emails, k)
	}
	byEmail, unseen, err := store.PartiesByEmails(emails)
	if err != nil {
		return err
	}
	b.byEmail = byEmail
	for _, email := range unseen {
		errs.ErrorAtLines(b.lineIndex[email], email+" does not designate a registered member.")
	}
	return nil
}

func (b *EmailIndexBuilder) Lookup(key string) (Party, bool) {
	p, ok := b.byEmail[key]
	return p, ok
}

// --- Full-name index builder --------------------------------------------

// FullNameIndexBuilder claims every remaining row (anything not
// recognised as an OGM or an email), comparing names case-folded.
type FullNameIndexBuilder struct {
	lineIndex map[string][]int
	byName    map[string]Party
}

func NewFullNameIndexBuilder() *FullNameIndexBuilder {
	return &FullNameIndexBuilder{lineIndex: make(map[string][]int), byName: make(map[string]Party)}
}

func (b *FullNameIndexBuilder) Append(tinfo *TransactionInfo) bool {
	key := strings.ToLower(tinfo.AccountLookupStr)
	b.lineIndex[key] = append(b.lineIndex[key], tinfo.LineNo)
	return true
}

func (b *FullNameIndexBuilder) ExecuteQuery(store PartyStore, errs ErrorSink) error {
	names := make([]string, 0, len(b.lineIndex))
	for k := range b.lineIndex {
		names = append(names, k)
	}
	byName, unseen, duplicates, err := store.PartiesByFullNames(names)
	if err != nil {
		return err
	}
	b.byName = byName
	for _, name := range unseen {
		errs.ErrorAtLines(b.lineIndex[strings.ToLower(name)], name+" does not designate a registered member.")
	}
	for _, name := range duplicates {
		errs.ErrorAtLines(b.lineIndex[strings.ToLower(name)], name+" designates multiple registered members. Skipped processing.")
	}
	return nil
}

func (b *FullNameIndexBuilder) Lookup(key string) (Party, bool) {
	p, ok := b.byName[strings.ToLower(key)]
	return p, ok
}
