package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const (
	EntryStatusQueued     = "queued"
	EntryStatusProcessing = "processing"
	EntryStatusCompleted  = "completed"
	EntryStatusFailed     = "failed"
)

// QueueEntry is one unit of document processing work: a single
// (contract, document URL) pair waiting to be fetched, extracted and
// indexed. Entries are created by the populator, claimed and resolved by
// processor workers, and repaired by the reconciler. Terminal states are
// completed and failed; the only way back out of processing without a
// terminal outcome is a stuck reset, which returns the entry to queued
// and bumps RetryCount.
type QueueEntry struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	ContractRef    string     `db:"contract_ref"     json:"contract_ref"`
	DocumentURL    string     `db:"document_url"     json:"document_url"`
	DisplayName    string     `db:"display_name"     json:"display_name"`
	Status         string     `db:"status"           json:"status"`
	RetryCount     int        `db:"retry_count"      json:"retry_count"`
	ErrorDetail    *string    `db:"error_detail"     json:"error_detail,omitempty"`
	ResultPayload  *string    `db:"result_payload"   json:"result_payload,omitempty"`
	QueuedAt       time.Time  `db:"queued_at"        json:"queued_at"`
	StartedAt      *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	FailedAt       *time.Time `db:"failed_at"        json:"failed_at,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// DocumentKey derives the dedup key for a (contract, document URL) pair.
// The same key guards against duplicate queue entries and addresses the
// extracted content in the document index, so a document processed once is
// never fetched again for the same contract.
func DocumentKey(contractRef, documentURL string) string {
	h := sha256.Sum256([]byte(contractRef + "\n" + documentURL))
	return hex.EncodeToString(h[:])
}

// Elapsed returns how long the entry has been in flight. Zero if the entry
// was never claimed.
func (e *QueueEntry) Elapsed(now time.Time) time.Duration {
	if e.StartedAt == nil {
		return 0
	}
	return now.Sub(*e.StartedAt)
}

// Terminal reports whether the entry reached a final outcome.
func (e *QueueEntry) Terminal() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusFailed
}
