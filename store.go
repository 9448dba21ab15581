package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// PartyStore is the subset of the persistent store contract (§6) the
// resolver (C5) depends on: bulk lookups by the three lookup-key shapes,
// each reporting which requested keys matched nothing.
type PartyStore interface {
	PartiesByOGMs(ogms []string) (byOGM map[string]Party, unseen []string, err error)
	PartiesByEmails(emails []string) (byEmail map[string]Party, unseen []string, err error)
	PartiesByFullNames(names []string) (byName map[string]Party, unseen []string, duplicates []string, err error)
}

// LedgerStore is the subset of the persistent store contract the
// duplicate detector (C6), apportionment (C7), and preparator (C9) depend
// on, plus the atomic batch-commit path used at the end of a successful
// import.
type LedgerStore interface {
	UnpaidDebtsForParty(partyID int64) ([]*Debt, error)
	PaymentsForPartyInRange(partyID int64, lo, hi time.Time) ([]*Payment, error)
	PaymentsInDateRange(lo, hi time.Time, nature PaymentNature) ([]*Payment, error)
	CommitBatch(batch *ImportBatch, debts []*Debt, payments []*Payment, splits []*Split) error
}

// Store is the embedded, bbolt-backed implementation of PartyStore and
// LedgerStore: one bucket per entity, records JSON-encoded, keyed by a
// decimal rendering of their ID (see DESIGN.md for why JSON rather than
// the teacher's protobuf scheme).
type Store struct {
	db *bbolt.DB
}

var (
	bucketParties  = []byte("parties")
	bucketDebts    = []byte("debts")
	bucketPayments = []byte("payments")
	bucketSplits   = []byte("splits")
	bucketBatches  = []byte("batches")
)

// NewStore opens (creating if necessary) a bbolt database at path and
// ensures all required buckets exist.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initBuckets(); err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketParties, bucketDebts, bucketPayments, bucketSplits, bucketBatches} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func idKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// SaveParty upserts a party record, used to seed the member roster outside
// of the import pipeline itself.
func (s *Store) SaveParty(p *Party) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal party: %w", err)
		}
		return tx.Bucket(bucketParties).Put(idKey(p.ID), data)
	})
}

func (s *Store) allParties(tx *bbolt.Tx) ([]Party, error) {
	var parties []Party
	err := tx.Bucket(bucketParties).ForEach(func(_, v []byte) error {
		var p Party
		if err := json.Unmarshal(v, &p); err != nil {
			return fmt.Errorf("failed to unmarshal party: %w", err)
		}
		parties = append(parties, p)
		return nil
	})
	return parties, err
}

// PartiesByOGMs bulk-resolves the given canonical OGM strings.
func (s *Store) PartiesByOGMs(ogms []string) (map[string]Party, []string, error) {
	wanted := make(map[string]bool, len(ogms))
	for _, o := range ogms {
		wanted[o] = true
	}
	byOGM := make(map[string]Party)

	err := s.db.View(func(tx *bbolt.Tx) error {
		parties, err := s.allParties(tx)
		if err != nil {
			return err
		}
		for _, p := range parties {
			if wanted[p.OGM] {
				byOGM[p.OGM] = p
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var unseen []string
	for _, o := range ogms {
		if _, ok := byOGM[o]; !ok {
			unseen = append(unseen, o)
		}
	}
	return byOGM, unseen, nil
}

// PartiesByEmails bulk-resolves the given exact email addresses against
// every party's lookup keys that look like an email (contain '@').
func (s *Store) PartiesByEmails(emails []string) (map[string]Party, []string, error) {
	wanted := make(map[string]bool, len(emails))
	for _, e := range emails {
		wanted[e] = true
	}
	byEmail := make(map[string]Party)

	err := s.db.View(func(tx *bbolt.Tx) error {
		parties, err := s.allParties(tx)
		if err != nil {
			return err
		}
		for _, p := range parties {
			for _, key := range p.LookupKeys {
				if strings.Contains(key, "@") && wanted[key] {
					byEmail[key] = p
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var unseen []string
	for _, e := range emails {
		if _, ok := byEmail[e]; !ok {
			unseen = append(unseen, e)
		}
	}
	return byEmail, unseen, nil
}

// PartiesByFullNames bulk-resolves the given names, case-folded, also
// reporting names that match more than one distinct party as duplicates.
func (s *Store) PartiesByFullNames(names []string) (map[string]Party, []string, []string, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	matches := make(map[string][]Party)

	err := s.db.View(func(tx *bbolt.Tx) error {
		parties, err := s.allParties(tx)
		if err != nil {
			return err
		}
		for _, p := range parties {
			for _, key := range p.LookupKeys {
				if strings.Contains(key, "@") {
					continue
				}
				folded := strings.ToLower(key)
				if wanted[folded] {
					matches[folded] = append(matches[folded], p)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	byName := make(map[string]Party)
	var unseen, duplicates []string
	for _, n := range names {
		folded := strings.ToLower(n)
		ps := matches[folded]
		switch len(ps) {
		case 0:
			unseen = append(unseen, n)
		case 1:
			byName[folded] = ps[0]
		default:
			duplicates = append(duplicates, n)
		}
	}
	return byName, unseen, duplicates, nil
}

func (s *Store) splitSumsFor(tx *bbolt.Tx, debtIDs, paymentIDs map[int64]bool) (SplitSums, error) {
	sums := SplitSums{ByDebtID: make(map[int64]Money), ByPaymentID: make(map[int64]Money)}
	err := tx.Bucket(bucketSplits).ForEach(func(_, v []byte) error {
		var sp Split
		if err := json.Unmarshal(v, &sp); err != nil {
			return fmt.Errorf("failed to unmarshal split: %w", err)
		}
		if debtIDs[sp.DebtID] {
			total, ok := sums.ByDebtID[sp.DebtID]
			if !ok {
				total = ZeroMoney(sp.Amount.Currency())
			}
			var err error
			total, err = total.Add(sp.Amount)
			if err != nil {
				return err
			}
			sums.ByDebtID[sp.DebtID] = total
		}
		if paymentIDs[sp.PaymentID] {
			total, ok := sums.ByPaymentID[sp.PaymentID]
			if !ok {
				total = ZeroMoney(sp.Amount.Currency())
			}
			var err error
			total, err = total.Add(sp.Amount)
			if err != nil {
				return err
			}
			sums.ByPaymentID[sp.PaymentID] = total
		}
		return nil
	})
	return sums, err
}

// UnpaidDebtsForParty returns every debt owed by partyID that is not yet
// fully matched, annotated in a single pass via WithRemoteAccountsDebts,
// ordered by timestamp ascending.
func (s *Store) UnpaidDebtsForParty(partyID int64) ([]*Debt, error) {
	var debts []*Debt
	err := s.db.View(func(tx *bbolt.Tx) error {
		var all []*Debt
		err := tx.Bucket(bucketDebts).ForEach(func(_, v []byte) error {
			var d Debt
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal debt: %w", err)
			}
			if d.PartyID == partyID {
				all = append(all, &d)
			}
			return nil
		})
		if err != nil {
			return err
		}

		debtIDs := make(map[int64]bool, len(all))
		for _, d := range all {
			debtIDs[d.ID] = true
		}
		sums, err := s.splitSumsFor(tx, debtIDs, nil)
		if err != nil {
			return err
		}
		WithRemoteAccountsDebts(all, sums)

		for _, d := range all {
			paid, err := d.Paid()
			if err != nil {
				return err
			}
			if !paid {
				debts = append(debts, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDebtsByTimestamp(debts)
	return debts, nil
}

// PaymentsForPartyInRange returns partyID's payments with timestamps in
// [lo, hi], annotated with credit_used in a single pass.
func (s *Store) PaymentsForPartyInRange(partyID int64, lo, hi time.Time) ([]*Payment, error) {
	var payments []*Payment
	err := s.db.View(func(tx *bbolt.Tx) error {
		var all []*Payment
		err := tx.Bucket(bucketPayments).ForEach(func(_, v []byte) error {
			var p Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal payment: %w", err)
			}
			if p.PartyID == partyID && !p.Timestamp.Before(lo) && !p.Timestamp.After(hi) {
				all = append(all, &p)
			}
			return nil
		})
		if err != nil {
			return err
		}
		paymentIDs := make(map[int64]bool, len(all))
		for _, p := range all {
			paymentIDs[p.ID] = true
		}
		sums, err := s.splitSumsFor(tx, nil, paymentIDs)
		if err != nil {
			return err
		}
		WithRemoteAccountsPayments(all, sums)
		payments = all
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// PaymentsInDateRange returns every payment of the given nature whose
// timestamp falls in [lo, hi], across all parties — the historical
// population the duplicate detector (C6) compares a batch against.
func (s *Store) PaymentsInDateRange(lo, hi time.Time, nature PaymentNature) ([]*Payment, error) {
	var payments []*Payment
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPayments).ForEach(func(_, v []byte) error {
			var p Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal payment: %w", err)
			}
			if p.Nature == nature && !p.Timestamp.Before(lo) && !p.Timestamp.After(hi) {
				payments = append(payments, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// AssignPaymentIDs reserves a store-unique ID for every payment that
// doesn't already have one, without writing anything to the payments
// bucket yet. The apportionment pass needs real payment IDs to stamp onto
// the splits it builds, but splits and payments are only meant to become
// visible together, atomically, in CommitBatch — so ID assignment is
// split out as its own short transaction.
func (s *Store) AssignPaymentIDs(payments []*Payment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, p := range payments {
			if p.ID != 0 {
				continue
			}
			id, err := nextID(tx, bucketPayments)
			if err != nil {
				return err
			}
			p.ID = id
		}
		return nil
	})
}

// ImportBatch is the audit-log record written once per successful commit.
type ImportBatch struct {
	BatchID           string
	CommittedAt       time.Time
	PartyCount        int
	PaymentCount      int
	DebtCount         int
	SplitCount        int
	ErrorCount        int
	SourceDescription string
}

// CommitBatch persists every new debt, payment, and split from a batch,
// plus one ImportBatch audit record, inside a single bbolt transaction —
// the atomic write path §5 requires. Payments already assigned an ID by
// AssignPaymentIDs keep it; everything else is assigned here via a
// monotonically increasing counter per bucket.
func (s *Store) CommitBatch(batch *ImportBatch, debts []*Debt, payments []*Payment, splits []*Split) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, p := range payments {
			if p.ID == 0 {
				id, err := nextID(tx, bucketPayments)
				if err != nil {
					return err
				}
				p.ID = id
			}
			if err := putJSON(tx, bucketPayments, idKey(p.ID), p); err != nil {
				return err
			}
		}
		for _, d := range debts {
			id, err := nextID(tx, bucketDebts)
			if err != nil {
				return err
			}
			d.ID = id
			if err := putJSON(tx, bucketDebts, idKey(id), d); err != nil {
				return err
			}
		}
		for _, sp := range splits {
			id, err := nextID(tx, bucketSplits)
			if err != nil {
				return err
			}
			sp.ID = id
			if err := putJSON(tx, bucketSplits, idKey(id), sp); err != nil {
				return err
			}
		}

		batch.CommittedAt = time.Now()
		batch.PaymentCount = len(payments)
		batch.DebtCount = len(debts)
		batch.SplitCount = len(splits)
		key := []byte(fmt.Sprintf("%d_%s", batch.CommittedAt.UnixNano(), batch.BatchID))
		return putJSON(tx, bucketBatches, key, batch)
	})
}

func nextID(tx *bbolt.Tx, bucket []byte) (int64, error) {
	seq, err := tx.Bucket(bucket).NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

func putJSON(tx *bbolt.Tx, bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", bucket, err)
	}
	return tx.Bucket(bucket).Put(key, data)
}

// ListBatches returns audit-log entries committed in [from, to].
func (s *Store) ListBatches(from, to time.Time) ([]*ImportBatch, error) {
	var batches []*ImportBatch
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBatches).Cursor()
		fromKey := []byte(fmt.Sprintf("%d", from.UnixNano()))
		for k, v := c.Seek(fromKey); k != nil; k, v = c.Next() {
			var b ImportBatch
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("failed to unmarshal batch: %w", err)
			}
			if b.CommittedAt.After(to) {
				break
			}
			batches = append(batches, &b)
		}
		return nil
	})
	return batches, err
}

func sortDebtsByTimestamp(debts []*Debt) {
	for i := 1; i < len(debts); i++ {
		for j := i; j > 0 && debts[j].Timestamp.Before(debts[j-1].Timestamp); j-- {
			debts[j], debts[j-1] = debts[j-1], debts[j]
		}
	}
}
