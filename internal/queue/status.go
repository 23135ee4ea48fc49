package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

const statusSampleLimit = 10

// QueueStatus is the observability snapshot returned by the status
// endpoint. Built purely from store reads; it never blocks on in-flight
// extraction calls.
type QueueStatus struct {
	Queued       int             `json:"queued"`
	Processing   int             `json:"processing"`
	Completed    int             `json:"completed"`
	Failed       int             `json:"failed"`
	Total        int             `json:"total"`
	IsProcessing bool            `json:"is_processing"`
	InFlight     []InFlightEntry `json:"in_flight"`
	RecentDone   []RecentEntry   `json:"recent_completed"`
	RecentFailed []RecentEntry   `json:"recent_failed"`
}

// InFlightEntry is a currently-processing entry with its elapsed duration.
type InFlightEntry struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"display_name"`
	RetryCount     int       `json:"retry_count"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
}

// RecentEntry is a recently finished entry.
type RecentEntry struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	RetryCount  int       `json:"retry_count"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	// Retriable is false for unsupported-format failures.
	Retriable bool `json:"retriable"`
}

// StatusReporter assembles queue status snapshots from the store.
type StatusReporter struct {
	store store.Store
}

func NewStatusReporter(st store.Store) *StatusReporter {
	return &StatusReporter{store: st}
}

// Status returns the current histogram plus in-flight and recent samples.
func (s *StatusReporter) Status(ctx context.Context) (*QueueStatus, error) {
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading status counts: %w", err)
	}

	status := &QueueStatus{
		Queued:     counts[models.EntryStatusQueued],
		Processing: counts[models.EntryStatusProcessing],
		Completed:  counts[models.EntryStatusCompleted],
		Failed:     counts[models.EntryStatusFailed],
	}
	status.Total = status.Queued + status.Processing + status.Completed + status.Failed
	status.IsProcessing = status.Processing > 0

	now := time.Now().UTC()
	inFlight, err := s.store.ListByStatus(ctx, models.EntryStatusProcessing, statusSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("listing in-flight entries: %w", err)
	}
	status.InFlight = make([]InFlightEntry, 0, len(inFlight))
	for _, e := range inFlight {
		status.InFlight = append(status.InFlight, InFlightEntry{
			ID:             e.ID,
			DisplayName:    e.DisplayName,
			RetryCount:     e.RetryCount,
			ElapsedSeconds: int(e.Elapsed(now).Seconds()),
		})
	}

	status.RecentDone, err = s.recent(ctx, models.EntryStatusCompleted)
	if err != nil {
		return nil, err
	}
	status.RecentFailed, err = s.recent(ctx, models.EntryStatusFailed)
	if err != nil {
		return nil, err
	}

	return status, nil
}

func (s *StatusReporter) recent(ctx context.Context, entryStatus string) ([]RecentEntry, error) {
	entries, err := s.store.RecentByStatus(ctx, entryStatus, statusSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("listing recent %s entries: %w", entryStatus, err)
	}

	recent := make([]RecentEntry, 0, len(entries))
	for _, e := range entries {
		r := RecentEntry{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			RetryCount:  e.RetryCount,
			Retriable:   true,
		}
		if e.ErrorDetail != nil {
			r.ErrorDetail = *e.ErrorDetail
			if IsUnsupportedFailure(*e.ErrorDetail) {
				r.Retriable = false
			}
		}
		recent = append(recent, r)
	}
	return recent, nil
}
