package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harperwn/contraq/pkg/models"
)

const entryColumns = `id, contract_ref, document_url, display_name, status, retry_count,
	 error_detail, result_payload, queued_at, started_at, completed_at, failed_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Queue entries ---

// CreateEntries inserts new queued entries, silently skipping any whose
// (contract_ref, document_url) pair collides with a live entry. The partial
// unique index on non-failed entries enforces the dedup invariant; the
// affected-row count per insert tells created from skipped apart.
func (s *PostgresStore) CreateEntries(ctx context.Context, entries []*models.QueueEntry) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin create entries: %w", err)
	}
	defer tx.Rollback(ctx)

	created, skipped := 0, 0
	for _, e := range entries {
		tag, err := tx.Exec(ctx,
			`INSERT INTO document_queue (id, contract_ref, document_url, display_name, status, queued_at, updated_at)
			 VALUES ($1, $2, $3, $4, 'queued', $5, $5)
			 ON CONFLICT (contract_ref, document_url) WHERE status <> 'failed' DO NOTHING`,
			e.ID, e.ContractRef, e.DocumentURL, e.DisplayName, e.QueuedAt)
		if err != nil {
			return 0, 0, fmt.Errorf("insert queue entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			skipped++
		} else {
			created++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit create entries: %w", err)
	}
	return created, skipped, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM document_queue WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

// ListByStatus returns up to limit entries in the given status, oldest
// queued first, preserving FIFO claim fairness across populator runs.
func (s *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM document_queue
		 WHERE status = $1 ORDER BY queued_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// RecentByStatus returns the most recently touched entries in the given
// status, for observability endpoints.
func (s *PostgresStore) RecentByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM document_queue
		 WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent queue entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Claim atomically transitions queued -> processing. The conditional UPDATE
// is the sole mutual-exclusion point between workers: exactly one claim per
// entry can observe status = 'queued'.
func (s *PostgresStore) Claim(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_queue
		 SET status = 'processing', started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return fmt.Errorf("claim queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEntry(ctx, id); err != nil {
			return err
		}
		return ErrClaimConflict
	}
	return nil
}

// Complete transitions processing -> completed and records the extracted
// payload. Completed entries are immutable: the status guard means a stale
// worker can never overwrite a terminal outcome.
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, resultPayload string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_queue
		 SET status = 'completed', completed_at = NOW(), result_payload = $2,
		     error_detail = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, resultPayload)
	if err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEntry(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// Fail transitions processing -> failed with the captured error detail.
func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, errorDetail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_queue
		 SET status = 'failed', failed_at = NOW(), error_detail = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, errorDetail)
	if err != nil {
		return fmt.Errorf("fail queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEntry(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// ResetEntry returns a single processing entry to queued on operator
// request, regardless of how long it has been in flight.
func (s *PostgresStore) ResetEntry(ctx context.Context, id uuid.UUID) (int, error) {
	var retryCount int
	err := s.pool.QueryRow(ctx,
		`UPDATE document_queue
		 SET status = 'queued', started_at = NULL, retry_count = retry_count + 1,
		     error_detail = CONCAT('manual reset (attempt ', retry_count + 1, ')',
		         CASE WHEN error_detail IS NULL OR error_detail = '' THEN ''
		              ELSE '; last: ' || error_detail END),
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'
		 RETURNING retry_count`, id).Scan(&retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.GetEntry(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrStateConflict
	}
	if err != nil {
		return 0, fmt.Errorf("reset queue entry: %w", err)
	}
	return retryCount, nil
}

// ResetStuck bulk-returns stale processing entries to queued. The staleness
// predicate is evaluated inside the UPDATE itself, so concurrent or repeated
// invocations cannot double-increment an entry: once reset, started_at is
// NULL and the entry no longer matches.
func (s *PostgresStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_queue
		 SET status = 'queued', started_at = NULL, retry_count = retry_count + 1,
		     error_detail = CONCAT('auto-reset after stuck timeout (attempt ', retry_count + 1, ')',
		         CASE WHEN error_detail IS NULL OR error_detail = '' THEN ''
		              ELSE '; last: ' || error_detail END),
		     updated_at = NOW()
		 WHERE status = 'processing'
		   AND started_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reset stuck entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListStuck returns processing entries older than the threshold, longest
// stuck first.
func (s *PostgresStore) ListStuck(ctx context.Context, olderThan time.Duration) ([]*models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM document_queue
		 WHERE status = 'processing'
		   AND started_at < NOW() - make_interval(secs => $1)
		 ORDER BY started_at ASC`,
		olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list stuck entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Purge deletes entries whose status is in the given set.
func (s *PostgresStore) Purge(ctx context.Context, statuses []string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_queue WHERE status = ANY($1)`, statuses)
	if err != nil {
		return 0, fmt.Errorf("purge queue entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StatusCounts returns the queue histogram. Statuses with no entries are
// present with a zero count.
func (s *PostgresStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{
		models.EntryStatusQueued:     0,
		models.EntryStatusProcessing: 0,
		models.EntryStatusCompleted:  0,
		models.EntryStatusFailed:     0,
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM document_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Contracts ---

func (s *PostgresStore) CreateContract(ctx context.Context, c *models.Contract) error {
	links := c.ResourceLinks
	if links == nil {
		// jsonb_array_length chokes on a JSON null.
		links = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (notice_id, title, agency, resource_links, posted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.NoticeID, c.Title, c.Agency, links, c.PostedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// ListContractsWithDocuments returns up to limit contracts that carry at
// least one document link, newest first.
func (s *PostgresStore) ListContractsWithDocuments(ctx context.Context, limit int) ([]*models.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT notice_id, title, agency, resource_links, posted_at
		 FROM contracts
		 WHERE jsonb_array_length(resource_links) > 0
		 ORDER BY posted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list contracts with documents: %w", err)
	}
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		var c models.Contract
		if err := rows.Scan(&c.NoticeID, &c.Title, &c.Agency, &c.ResourceLinks, &c.PostedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		contracts = append(contracts, &c)
	}
	return contracts, rows.Err()
}

// --- Processing jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, type, status, document_count, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Type, job.Status, job.DocumentCount, job.StartedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	var j models.ProcessingJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, status, document_count, succeeded, failed, cache_hits,
		        error_message, started_at, completed_at
		 FROM processing_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Type, &j.Status, &j.DocumentCount, &j.Succeeded, &j.Failed,
		&j.CacheHits, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

var validJobTransitions = map[string][]string{
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM processing_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	valid := false
	for _, allowed := range validJobTransitions[currentStatus] {
		if allowed == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	query := `UPDATE processing_jobs SET status = $2, completed_at = $3`
	args := []any{id, status, time.Now().UTC()}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.DocumentCount != nil {
		query += fmt.Sprintf(", document_count = $%d", argIdx)
		args = append(args, *params.DocumentCount)
		argIdx++
	}
	if params.Succeeded != nil {
		query += fmt.Sprintf(", succeeded = $%d, failed = $%d, cache_hits = $%d",
			argIdx, argIdx+1, argIdx+2)
		args = append(args, *params.Succeeded, *params.Failed, *params.CacheHits)
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// --- helpers ---

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := row.Scan(&e.ID, &e.ContractRef, &e.DocumentURL, &e.DisplayName, &e.Status,
		&e.RetryCount, &e.ErrorDetail, &e.ResultPayload, &e.QueuedAt,
		&e.StartedAt, &e.CompletedAt, &e.FailedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
