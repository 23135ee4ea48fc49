// Package handler contains the HTTP handlers for the queue API. Handlers
// depend on narrow interfaces so tests can stub the queue services without
// a database.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/harperwn/contraq/internal/api/response"
	"github.com/harperwn/contraq/internal/queue"
	"github.com/harperwn/contraq/pkg/models"
)

const (
	maxPopulateLimit = 500
	maxConcurrency   = 20
	maxBatchSize     = 200
)

// Populator triggers a queue population run.
type Populator interface {
	Populate(ctx context.Context, limit int, clearExisting bool) (*queue.PopulateResult, error)
}

// BatchStarter kicks off asynchronous batch processing.
type BatchStarter interface {
	StartBatch(ctx context.Context, concurrency, batchSize int) (*models.ProcessingJob, error)
}

// StatusProvider builds queue status snapshots.
type StatusProvider interface {
	Status(ctx context.Context) (*queue.QueueStatus, error)
}

// Purger deletes entries by status.
type Purger interface {
	Purge(ctx context.Context, statuses []string) (int64, error)
}

// QueueDefaults carries the configured fallbacks for process requests.
type QueueDefaults struct {
	Concurrency int
	BatchSize   int
}

// NewPopulateHandler returns the handler for POST /api/v1/queue.
func NewPopulateHandler(svc Populator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit         int  `json:"limit"`
			ClearExisting bool `json:"clear_existing"`
		}
		if err := decodeBody(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}
		if limit > maxPopulateLimit {
			limit = maxPopulateLimit
		}

		result, err := svc.Populate(r.Context(), limit, req.ClearExisting)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "POPULATE_FAILED",
				"Queue population failed", nil)
			return
		}

		response.JSON(w, result)
	}
}

// NewProcessHandler returns the handler for POST /api/v1/queue/process.
// Responds 202 with a job id; processing continues in the background.
func NewProcessHandler(svc BatchStarter, defaults QueueDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Concurrency int `json:"concurrency"`
			BatchSize   int `json:"batch_size"`
		}
		if err := decodeBody(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		concurrency := req.Concurrency
		if concurrency <= 0 {
			concurrency = defaults.Concurrency
		}
		if concurrency > maxConcurrency {
			concurrency = maxConcurrency
		}

		batchSize := req.BatchSize
		if batchSize <= 0 {
			batchSize = defaults.BatchSize
		}
		if batchSize > maxBatchSize {
			batchSize = maxBatchSize
		}

		job, err := svc.StartBatch(r.Context(), concurrency, batchSize)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "PROCESS_FAILED",
				"Failed to start batch processing", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id":          job.ID,
			"documents_count": job.DocumentCount,
		})
	}
}

// NewQueueStatusHandler returns the handler for GET /api/v1/queue/status.
func NewQueueStatusHandler(svc StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Status(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "STATUS_FAILED",
				"Failed to read queue status", nil)
			return
		}
		response.JSON(w, status)
	}
}

// NewClearHandler returns the handler for POST /api/v1/queue/clear.
func NewClearHandler(svc Purger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClearCompleted bool `json:"clear_completed"`
			ClearFailed    bool `json:"clear_failed"`
			ClearAll       bool `json:"clear_all"`
		}
		if err := decodeBody(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		var statuses []string
		switch {
		case req.ClearAll:
			statuses = []string{
				models.EntryStatusQueued,
				models.EntryStatusProcessing,
				models.EntryStatusCompleted,
				models.EntryStatusFailed,
			}
		default:
			if req.ClearCompleted {
				statuses = append(statuses, models.EntryStatusCompleted)
			}
			if req.ClearFailed {
				statuses = append(statuses, models.EntryStatusFailed)
			}
		}

		if len(statuses) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Specify clear_completed, clear_failed, or clear_all", nil)
			return
		}

		deleted, err := svc.Purge(r.Context(), statuses)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "CLEAR_FAILED",
				"Failed to clear queue entries", nil)
			return
		}

		response.JSON(w, map[string]any{"deleted_count": deleted})
	}
}

// decodeBody decodes a JSON request body, tolerating an empty body so every
// field can rely on its default.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
