package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/harperwn/contraq/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrClaimConflict is returned when a claim races another worker: the entry
// was not in queued state at the moment of the conditional update. Callers
// skip the entry silently; the conflict is the concurrency control working
// as intended, not a failure.
var ErrClaimConflict = errors.New("entry already claimed")

// ErrStateConflict is returned when a terminal transition (complete/fail)
// or a reset targets an entry that is not currently processing.
var ErrStateConflict = errors.New("entry not in expected state")

// Store is the data access interface. All database operations go through
// here. Every queue mutation is a single atomic conditional write; the
// affected-row count decides whether the transition landed.
type Store interface {
	Ping(ctx context.Context) error

	// Queue entries.
	CreateEntries(ctx context.Context, entries []*models.QueueEntry) (created, skipped int, err error)
	GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error)
	RecentByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error)
	Claim(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, resultPayload string) error
	Fail(ctx context.Context, id uuid.UUID, errorDetail string) error
	ResetEntry(ctx context.Context, id uuid.UUID) (retryCount int, err error)
	ResetStuck(ctx context.Context, olderThan time.Duration) (int, error)
	ListStuck(ctx context.Context, olderThan time.Duration) ([]*models.QueueEntry, error)
	Purge(ctx context.Context, statuses []string) (int64, error)
	StatusCounts(ctx context.Context) (map[string]int, error)

	// Contracts (read-mostly; owned by the ingestion service).
	CreateContract(ctx context.Context, c *models.Contract) error
	ListContractsWithDocuments(ctx context.Context, limit int) ([]*models.Contract, error)

	// Processing jobs.
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	UpdateJob(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
}

type jobUpdateParams struct {
	ErrorMessage  *string
	DocumentCount *int
	Succeeded     *int
	Failed        *int
	CacheHits     *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithJobError(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithDocumentCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.DocumentCount = &n
	}
}

func WithJobCounts(succeeded, failed, cacheHits int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Succeeded = &succeeded
		p.Failed = &failed
		p.CacheHits = &cacheHits
	}
}
