package reconcile

import "time"

// NewImportBatch starts an audit record for one import run, populated as
// the pipeline progresses and finalised by Store.CommitBatch.
func NewImportBatch(sourceDescription string) *ImportBatch {
	return &ImportBatch{SourceDescription: sourceDescription}
}

// RecordErrorCount stamps the number of row-level errors the batch
// produced onto its audit record, regardless of whether the batch still
// went on to commit.
func (b *ImportBatch) RecordErrorCount(n int) {
	b.ErrorCount = n
}

// RecordPartyCount stamps the number of distinct parties touched by the
// batch, computed once apportionment has resolved every payment to a
// party.
func (b *ImportBatch) RecordPartyCount(n int) {
	b.PartyCount = n
}

// AuditLog is a thin, read-oriented wrapper over a Store's batch history,
// grounded in the append-only event-log idea the teacher used for its
// own audit trail, narrowed here to one record per committed batch rather
// than one record per domain event.
type AuditLog struct {
	store *Store
}

// NewAuditLog wraps store for audit queries.
func NewAuditLog(store *Store) *AuditLog {
	return &AuditLog{store: store}
}

// Since returns every batch committed on or after t, oldest first.
func (a *AuditLog) Since(t time.Time) ([]*ImportBatch, error) {
	return a.store.ListBatches(t, time.Now())
}

// Between returns every batch committed in [from, to], oldest first.
func (a *AuditLog) Between(from, to time.Time) ([]*ImportBatch, error) {
	return a.store.ListBatches(from, to)
}
