// Package queue implements the document processing queue: population from
// indexed contract records, bounded-concurrency processing against the
// document-AI service, and recovery of work abandoned by crashed workers.
// The queue keeps no in-process state; everything round-trips through the
// store, so a restart loses nothing beyond what the reconciler reclaims.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

// Populator scans contract records and turns their document links into
// queued entries. Pure metadata work: no network calls, safe to run
// repeatedly; duplicate pairs are skipped against live entries.
type Populator struct {
	store              store.Store
	maxDocsPerContract int
}

// NewPopulator creates a Populator. maxDocsPerContract caps per-contract
// fan-out so one contract with dozens of attachments cannot starve the rest.
func NewPopulator(st store.Store, maxDocsPerContract int) *Populator {
	if maxDocsPerContract < 1 {
		maxDocsPerContract = 3
	}
	return &Populator{store: st, maxDocsPerContract: maxDocsPerContract}
}

// PopulateResult reports the outcome of one populate run.
type PopulateResult struct {
	JobID              uuid.UUID      `json:"job_id"`
	QueuedCount        int            `json:"queued_count"`
	SkippedCount       int            `json:"skipped_count"`
	ContractsProcessed int            `json:"contracts_processed"`
	StatusCounts       map[string]int `json:"status_counts"`
}

// Populate reads up to limit contracts carrying document links and creates
// one queued entry per (contract, document) pair, skipping pairs that
// already have a live entry. When clearExisting is set, queued entries are
// purged first; in-flight and terminal entries are never touched.
func (p *Populator) Populate(ctx context.Context, limit int, clearExisting bool) (*PopulateResult, error) {
	if limit < 1 {
		limit = 50
	}

	if clearExisting {
		deleted, err := p.store.Purge(ctx, []string{models.EntryStatusQueued})
		if err != nil {
			return nil, fmt.Errorf("clearing queued entries: %w", err)
		}
		slog.Info("cleared existing queued entries", "deleted", deleted)
	}

	contracts, err := p.store.ListContractsWithDocuments(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning contracts: %w", err)
	}

	job := &models.ProcessingJob{
		ID:        uuid.New(),
		Type:      models.JobTypePopulate,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating populate job: %w", err)
	}

	now := time.Now().UTC()
	var entries []*models.QueueEntry
	for _, contract := range contracts {
		links := contract.ResourceLinks
		if len(links) > p.maxDocsPerContract {
			links = links[:p.maxDocsPerContract]
		}
		for _, link := range links {
			entries = append(entries, &models.QueueEntry{
				ID:          uuid.New(),
				ContractRef: contract.NoticeID,
				DocumentURL: link,
				DisplayName: displayName(contract, link),
				Status:      models.EntryStatusQueued,
				QueuedAt:    now,
			})
		}
	}

	created, skipped, err := p.store.CreateEntries(ctx, entries)
	if err != nil {
		_ = p.store.UpdateJob(ctx, job.ID, models.JobStatusFailed, store.WithJobError(err.Error()))
		return nil, fmt.Errorf("creating queue entries: %w", err)
	}

	if err := p.store.UpdateJob(ctx, job.ID, models.JobStatusCompleted,
		store.WithDocumentCount(created)); err != nil {
		slog.Warn("updating populate job failed", "job_id", job.ID, "error", err)
	}

	counts, err := p.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading status counts: %w", err)
	}

	slog.Info("queue populated",
		"contracts", len(contracts), "queued", created, "skipped", skipped)

	return &PopulateResult{
		JobID:              job.ID,
		QueuedCount:        created,
		SkippedCount:       skipped,
		ContractsProcessed: len(contracts),
		StatusCounts:       counts,
	}, nil
}

// displayName builds a human-readable label from the contract and the
// document's filename. Observability only; never parsed.
func displayName(contract *models.Contract, link string) string {
	name := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	if contract.Title != "" {
		return fmt.Sprintf("%s - %s", contract.Title, name)
	}
	return fmt.Sprintf("%s - %s", contract.NoticeID, name)
}
