package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/cache"
	"github.com/harperwn/contraq/internal/docai"
	"github.com/harperwn/contraq/internal/index"
	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

// unsupportedFailurePrefix tags failures caused by document formats the
// extraction service cannot process. These are terminal by nature and are
// excluded from retry-oriented alerting.
const unsupportedFailurePrefix = "unsupported format"

// IsUnsupportedFailure reports whether an entry's error detail marks an
// unsupported-format failure rather than a retriable one.
func IsUnsupportedFailure(errorDetail string) bool {
	return len(errorDetail) >= len(unsupportedFailurePrefix) &&
		errorDetail[:len(unsupportedFailurePrefix)] == unsupportedFailurePrefix
}

const jobStatusTTL = 30 * time.Minute

// Processor drives queued entries through their lifecycle: claim, fetch,
// index, complete. Each invocation pulls a bounded batch and fans it out
// across a semaphore-bounded worker set, so at most `concurrency` documents
// are in flight against the extraction service at once. The processor keeps
// no state between invocations; all coordination goes through the store's
// atomic claim.
type Processor struct {
	store        store.Store
	fetcher      docai.Fetcher
	index        index.Index
	cache        cache.Cache
	fetchTimeout time.Duration
}

// NewProcessor creates a Processor. fetchTimeout bounds each individual
// extraction call so a hung call fails the entry instead of occupying a
// worker slot until the stuck-reset threshold.
func NewProcessor(st store.Store, fetcher docai.Fetcher, idx index.Index, ca cache.Cache, fetchTimeout time.Duration) *Processor {
	return &Processor{
		store:        st,
		fetcher:      fetcher,
		index:        idx,
		cache:        ca,
		fetchTimeout: fetchTimeout,
	}
}

// entryOutcome classifies how one entry's processing ended.
type entryOutcome int

const (
	outcomeSucceeded entryOutcome = iota
	outcomeFailed
	outcomeCacheHit
	// outcomeSkipped means another worker claimed the entry first. Benign.
	outcomeSkipped
	// outcomeStalled means the index was unreachable after a successful
	// fetch. The entry stays in processing for the stuck-reset path rather
	// than completing without a confirmed index write.
	outcomeStalled
)

// StartBatch pulls up to batchSize queued entries, records a processing job
// and dispatches the batch in the background. It returns immediately; the
// caller polls the job or the queue status.
func (p *Processor) StartBatch(ctx context.Context, concurrency, batchSize int) (*models.ProcessingJob, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	entries, err := p.store.ListByStatus(ctx, models.EntryStatusQueued, batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing queued entries: %w", err)
	}

	job := &models.ProcessingJob{
		ID:            uuid.New(),
		Type:          models.JobTypeProcess,
		Status:        models.JobStatusRunning,
		DocumentCount: len(entries),
		StartedAt:     time.Now().UTC(),
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating process job: %w", err)
	}
	_ = p.cache.SetJobStatus(ctx, job.ID, models.JobStatusRunning, jobStatusTTL)

	go p.runBatch(entries, job.ID, concurrency)

	return job, nil
}

// runBatch processes the batch in a background goroutine. It recovers from
// panics and always leaves the job in a terminal state.
func (p *Processor) runBatch(entries []*models.QueueEntry, jobID uuid.UUID, concurrency int) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in batch processing", "error", r, "job_id", jobID)
			_ = p.store.UpdateJob(ctx, jobID, models.JobStatusFailed,
				store.WithJobError(fmt.Sprintf("panic: %v", r)))
			_ = p.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, jobStatusTTL)
		}
	}()

	slog.Info("starting batch processing",
		"job_id", jobID, "documents", len(entries), "concurrency", concurrency)

	var mu sync.Mutex
	var succeeded, failed, cacheHits int

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e *models.QueueEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := p.processEntry(ctx, e)

			mu.Lock()
			switch outcome {
			case outcomeSucceeded:
				succeeded++
			case outcomeCacheHit:
				succeeded++
				cacheHits++
			case outcomeFailed, outcomeStalled:
				failed++
			}
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	if err := p.store.UpdateJob(ctx, jobID, models.JobStatusCompleted,
		store.WithJobCounts(succeeded, failed, cacheHits)); err != nil {
		slog.Error("updating process job failed", "job_id", jobID, "error", err)
	}
	_ = p.cache.SetJobStatus(ctx, jobID, models.JobStatusCompleted, jobStatusTTL)

	slog.Info("batch processing finished",
		"job_id", jobID, "succeeded", succeeded, "failed", failed, "cache_hits", cacheHits)
}

// processEntry drives one entry to an outcome. Failures here never
// propagate: each entry's fate is isolated from the rest of the batch.
func (p *Processor) processEntry(ctx context.Context, e *models.QueueEntry) entryOutcome {
	if err := p.store.Claim(ctx, e.ID); err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			// Another worker got there first.
			return outcomeSkipped
		}
		slog.Error("claim failed", "entry_id", e.ID, "error", err)
		return outcomeFailed
	}

	docKey := models.DocumentKey(e.ContractRef, e.DocumentURL)

	exists, err := p.index.Exists(ctx, docKey)
	if err != nil {
		// Index unreachable. Leave the entry in processing; the reconciler
		// will requeue it once it exceeds the stuck threshold.
		slog.Warn("index existence check failed, leaving entry in processing",
			"entry_id", e.ID, "error", err)
		return outcomeStalled
	}

	if exists {
		return p.completeFromIndex(ctx, e, docKey)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	result, err := p.fetcher.Fetch(fetchCtx, e.DocumentURL, e.DisplayName)
	if err != nil {
		return p.failEntry(ctx, e, err)
	}

	metadata := map[string]string{
		"contract_ref":      e.ContractRef,
		"document_url":      e.DocumentURL,
		"display_name":      e.DisplayName,
		"pages":             strconv.Itoa(result.Pages),
		"processing_method": result.ProcessingMethod,
	}
	if err := p.index.Store(ctx, docKey, result.Content, metadata); err != nil {
		// Fetched but not indexed. Completing now would risk data loss, so
		// the entry stays in processing for the stuck-reset path.
		slog.Warn("index store failed, leaving entry in processing",
			"entry_id", e.ID, "error", err)
		return outcomeStalled
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return p.failEntry(ctx, e, fmt.Errorf("encoding result payload: %w", err))
	}

	if err := p.store.Complete(ctx, e.ID, string(payload)); err != nil {
		// A concurrent reset moved the entry out of processing; the next
		// run will redo it against the now-populated index.
		slog.Warn("complete lost to concurrent transition", "entry_id", e.ID, "error", err)
		return outcomeFailed
	}

	slog.Info("document processed", "entry_id", e.ID, "display_name", e.DisplayName)
	return outcomeSucceeded
}

// completeFromIndex resolves an entry whose content is already indexed,
// without touching the extraction service.
func (p *Processor) completeFromIndex(ctx context.Context, e *models.QueueEntry, docKey string) entryOutcome {
	content, metadata, err := p.index.Get(ctx, docKey)
	if err != nil {
		slog.Warn("cached content read failed, leaving entry in processing",
			"entry_id", e.ID, "error", err)
		return outcomeStalled
	}

	payload, err := json.Marshal(map[string]any{
		"content":  content,
		"metadata": metadata,
		"cached":   true,
	})
	if err != nil {
		return p.failEntry(ctx, e, fmt.Errorf("encoding cached payload: %w", err))
	}

	if err := p.store.Complete(ctx, e.ID, string(payload)); err != nil {
		slog.Warn("cached complete lost to concurrent transition", "entry_id", e.ID, "error", err)
		return outcomeFailed
	}

	slog.Info("document already indexed, completed from cache",
		"entry_id", e.ID, "display_name", e.DisplayName)
	return outcomeCacheHit
}

// failEntry records a terminal failure, tagging unsupported-format errors
// so they stay out of retry-oriented dashboards.
func (p *Processor) failEntry(ctx context.Context, e *models.QueueEntry, cause error) entryOutcome {
	detail := cause.Error()
	if errors.Is(cause, docai.ErrUnsupportedFormat) {
		detail = fmt.Sprintf("%s: %v", unsupportedFailurePrefix, cause)
	}

	if err := p.store.Fail(ctx, e.ID, detail); err != nil {
		slog.Warn("fail lost to concurrent transition", "entry_id", e.ID, "error", err)
	}

	slog.Warn("document processing failed",
		"entry_id", e.ID, "display_name", e.DisplayName, "error", cause)
	return outcomeFailed
}
