package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/api/response"
	"github.com/harperwn/contraq/internal/cache"
	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

// JobReader loads processing job records.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
}

// NewJobStatusHandler returns the handler for GET /api/v1/jobs/{jobID}.
// The Redis status mirror answers polls for jobs that are still running
// without a database read; terminal jobs come from the store with full
// counters.
func NewJobStatusHandler(jobs JobReader, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID",
				"Job ID must be a valid UUID", nil)
			return
		}

		if c != nil {
			status, found, err := c.GetJobStatus(r.Context(), id)
			if err == nil && found && status == models.JobStatusRunning {
				response.JSON(w, map[string]any{
					"id":     id,
					"status": status,
				})
				return
			}
		}

		job, err := jobs.GetJob(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
				"Processing job not found", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "JOB_LOOKUP_FAILED",
				"Failed to load job", nil)
			return
		}

		response.JSON(w, job)
	}
}
