package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/api/response"
	"github.com/harperwn/contraq/internal/queue"
	"github.com/harperwn/contraq/internal/store"
)

// StuckReconciler exposes the operator-facing recovery operations.
type StuckReconciler interface {
	ListStuck(ctx context.Context) ([]queue.StuckEntry, error)
	ResetAll(ctx context.Context) (int, error)
	Reset(ctx context.Context, id uuid.UUID) (int, error)
	Threshold() time.Duration
}

// NewStuckHandler returns the handler for GET /api/v1/admin/queue/stuck.
func NewStuckHandler(svc StuckReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stuck, err := svc.ListStuck(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "STUCK_LIST_FAILED",
				"Failed to list stuck entries", nil)
			return
		}

		response.JSON(w, map[string]any{
			"stuck":             stuck,
			"count":             len(stuck),
			"threshold_minutes": int(svc.Threshold().Minutes()),
		})
	}
}

// NewResetEntryHandler returns the handler for
// POST /api/v1/admin/queue/reset/{entryID}.
func NewResetEntryHandler(svc StuckReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "entryID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ENTRY_ID",
				"Entry ID must be a valid UUID", nil)
			return
		}

		retryCount, err := svc.Reset(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "ENTRY_NOT_FOUND",
				"Queue entry not found", nil)
			return
		case errors.Is(err, store.ErrStateConflict):
			response.Error(w, http.StatusConflict, "ENTRY_NOT_PROCESSING",
				"Only processing entries can be reset", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "RESET_FAILED",
				"Failed to reset entry", nil)
			return
		}

		response.JSON(w, map[string]any{
			"id":          id,
			"retry_count": retryCount,
		})
	}
}

// NewResetAllStuckHandler returns the handler for
// POST /api/v1/admin/queue/reset-all-stuck.
func NewResetAllStuckHandler(svc StuckReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.ResetAll(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "RESET_FAILED",
				"Failed to reset stuck entries", nil)
			return
		}

		response.JSON(w, map[string]any{"reset_count": count})
	}
}
