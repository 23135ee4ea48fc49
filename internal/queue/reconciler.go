package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/store"
)

// Reconciler repairs entries abandoned in processing by crashed or hung
// workers. It only ever moves entries whose started_at exceeds the
// threshold; a claim racing a reset is resolved by the store's conditional
// updates, with the loser failing harmlessly.
type Reconciler struct {
	store     store.Store
	threshold time.Duration
}

// NewReconciler creates a Reconciler. The threshold should comfortably
// exceed the slowest expected extraction round trip: too short requeues
// healthy in-flight work, too long delays recovery from real crashes.
func NewReconciler(st store.Store, threshold time.Duration) *Reconciler {
	return &Reconciler{store: st, threshold: threshold}
}

// StuckEntry is a processing entry past the staleness threshold, annotated
// for operator dashboards.
type StuckEntry struct {
	ID             uuid.UUID `json:"id"`
	ContractRef    string    `json:"contract_ref"`
	DisplayName    string    `json:"display_name"`
	RetryCount     int       `json:"retry_count"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	// Retriable is false for entries whose last failure was an unsupported
	// document format; resetting those only burns external-call budget.
	Retriable bool `json:"retriable"`
}

// ListStuck returns processing entries older than the threshold.
func (r *Reconciler) ListStuck(ctx context.Context) ([]StuckEntry, error) {
	entries, err := r.store.ListStuck(ctx, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("listing stuck entries: %w", err)
	}

	now := time.Now().UTC()
	stuck := make([]StuckEntry, 0, len(entries))
	for _, e := range entries {
		retriable := true
		if e.ErrorDetail != nil && IsUnsupportedFailure(*e.ErrorDetail) {
			retriable = false
		}
		stuck = append(stuck, StuckEntry{
			ID:             e.ID,
			ContractRef:    e.ContractRef,
			DisplayName:    e.DisplayName,
			RetryCount:     e.RetryCount,
			ElapsedMinutes: int(e.Elapsed(now).Minutes()),
			Retriable:      retriable,
		})
	}
	return stuck, nil
}

// ResetAll requeues every entry past the threshold. Safe to call repeatedly
// and concurrently with processing: the staleness predicate is re-checked
// inside the store's bulk update, so each stuck entry is reset exactly once
// per eligibility.
func (r *Reconciler) ResetAll(ctx context.Context) (int, error) {
	count, err := r.store.ResetStuck(ctx, r.threshold)
	if err != nil {
		return 0, fmt.Errorf("resetting stuck entries: %w", err)
	}
	if count > 0 {
		slog.Warn("reset stuck entries", "count", count, "threshold", r.threshold)
	}
	return count, nil
}

// Reset requeues a single processing entry on operator request, regardless
// of age. Returns the entry's new retry count.
func (r *Reconciler) Reset(ctx context.Context, id uuid.UUID) (int, error) {
	retryCount, err := r.store.ResetEntry(ctx, id)
	if err != nil {
		return 0, err
	}
	slog.Info("entry reset to queued", "entry_id", id, "retry_count", retryCount)
	return retryCount, nil
}

// Run executes ResetAll on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reconciler started", "interval", interval, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.ResetAll(ctx); err != nil {
				slog.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// Threshold returns the configured staleness threshold.
func (r *Reconciler) Threshold() time.Duration {
	return r.threshold
}
