package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const (
	JobTypePopulate = "populate"
	JobTypeProcess  = "process"
)

// ProcessingJob summarizes one invocation of the populator or the parallel
// processor. POST /api/v1/queue/process returns a job_id immediately; the
// client polls GET /api/v1/jobs/{job_id} while processing continues in the
// background. Jobs are audit records only; per-document state lives on the
// queue entries.
type ProcessingJob struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	Type          string     `db:"type"           json:"type"`
	Status        string     `db:"status"         json:"status"`
	DocumentCount int        `db:"document_count" json:"document_count"`
	Succeeded     int        `db:"succeeded"      json:"succeeded"`
	Failed        int        `db:"failed"         json:"failed"`
	CacheHits     int        `db:"cache_hits"     json:"cache_hits"`
	ErrorMessage  *string    `db:"error_message"  json:"error_message,omitempty"`
	StartedAt     time.Time  `db:"started_at"     json:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
}
