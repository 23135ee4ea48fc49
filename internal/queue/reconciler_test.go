package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

func backdate(e *models.QueueEntry, age time.Duration) {
	past := time.Now().UTC().Add(-age)
	e.StartedAt = &past
}

func TestListStuckFiltersByThreshold(t *testing.T) {
	st := newMemStore()

	stale := seedEntry(st, models.EntryStatusProcessing, func(e *models.QueueEntry) {
		backdate(e, 45*time.Minute)
	})
	seedEntry(st, models.EntryStatusProcessing) // fresh, under threshold
	seedEntry(st, models.EntryStatusQueued)

	r := NewReconciler(st, 20*time.Minute)
	stuck, err := r.ListStuck(context.Background())
	require.NoError(t, err)

	require.Len(t, stuck, 1)
	assert.Equal(t, stale.ID, stuck[0].ID)
	assert.GreaterOrEqual(t, stuck[0].ElapsedMinutes, 44)
	assert.True(t, stuck[0].Retriable)
}

func TestListStuckFlagsUnsupportedAsNotRetriable(t *testing.T) {
	st := newMemStore()

	detail := "unsupported format: .zip"
	seedEntry(st, models.EntryStatusProcessing, func(e *models.QueueEntry) {
		backdate(e, 45*time.Minute)
		e.ErrorDetail = &detail
	})

	r := NewReconciler(st, 20*time.Minute)
	stuck, err := r.ListStuck(context.Background())
	require.NoError(t, err)

	require.Len(t, stuck, 1)
	assert.False(t, stuck[0].Retriable)
}

func TestResetAllRequeuesOnlyStale(t *testing.T) {
	st := newMemStore()

	stale := seedEntry(st, models.EntryStatusProcessing, func(e *models.QueueEntry) {
		backdate(e, 45*time.Minute)
	})
	fresh := seedEntry(st, models.EntryStatusProcessing)

	r := NewReconciler(st, 20*time.Minute)
	count, err := r.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := st.GetEntry(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	got, err = st.GetEntry(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusProcessing, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestResetAllIsIdempotent(t *testing.T) {
	st := newMemStore()
	stale := seedEntry(st, models.EntryStatusProcessing, func(e *models.QueueEntry) {
		backdate(e, 45*time.Minute)
	})

	r := NewReconciler(st, 20*time.Minute)

	count, err := r.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second pass finds nothing stale; the retry count is bumped once.
	count, err = r.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := st.GetEntry(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
}

func TestResetSingleEntry(t *testing.T) {
	st := newMemStore()
	entry := seedEntry(st, models.EntryStatusProcessing)

	r := NewReconciler(st, 20*time.Minute)

	// Manual reset ignores the staleness threshold.
	retryCount, err := r.Reset(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retryCount)

	got, err := st.GetEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusQueued, got.Status)
}

func TestResetRejectsNonProcessingEntry(t *testing.T) {
	st := newMemStore()
	done := seedEntry(st, models.EntryStatusCompleted)

	r := NewReconciler(st, 20*time.Minute)

	_, err := r.Reset(context.Background(), done.ID)
	assert.ErrorIs(t, err, store.ErrStateConflict)

	// Terminal state is immutable.
	got, err := st.GetEntry(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCompleted, got.Status)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := newMemStore()
	r := NewReconciler(st, 20*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
}
