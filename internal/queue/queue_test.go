package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harperwn/contraq/internal/store"
	"github.com/harperwn/contraq/pkg/models"
)

// memStore is an in-memory store.Store used by the queue tests. It mirrors
// the conditional-update semantics of the real store: transitions only land
// when the entry is in the expected state, and duplicate live pairs are
// skipped on insert.
type memStore struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*models.QueueEntry
	contracts []*models.Contract
	jobs      map[uuid.UUID]*models.ProcessingJob

	failCreateEntries bool
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[uuid.UUID]*models.QueueEntry),
		jobs:    make(map[uuid.UUID]*models.ProcessingJob),
	}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) CreateEntries(ctx context.Context, entries []*models.QueueEntry) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreateEntries {
		return 0, 0, context.DeadlineExceeded
	}

	live := make(map[string]bool)
	for _, e := range m.entries {
		if e.Status != models.EntryStatusFailed {
			live[models.DocumentKey(e.ContractRef, e.DocumentURL)] = true
		}
	}

	var created, skipped int
	for _, e := range entries {
		key := models.DocumentKey(e.ContractRef, e.DocumentURL)
		if live[key] {
			skipped++
			continue
		}
		cp := *e
		m.entries[e.ID] = &cp
		live[key] = true
		created++
	}
	return created, skipped, nil
}

func (m *memStore) GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range m.entries {
		if e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) RecentByStatus(ctx context.Context, status string, limit int) ([]*models.QueueEntry, error) {
	return m.ListByStatus(ctx, status, limit)
}

func (m *memStore) Claim(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != models.EntryStatusQueued {
		return store.ErrClaimConflict
	}
	now := time.Now().UTC()
	e.Status = models.EntryStatusProcessing
	e.StartedAt = &now
	return nil
}

func (m *memStore) Complete(ctx context.Context, id uuid.UUID, resultPayload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != models.EntryStatusProcessing {
		return store.ErrStateConflict
	}
	now := time.Now().UTC()
	e.Status = models.EntryStatusCompleted
	e.ResultPayload = &resultPayload
	e.CompletedAt = &now
	return nil
}

func (m *memStore) Fail(ctx context.Context, id uuid.UUID, errorDetail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != models.EntryStatusProcessing {
		return store.ErrStateConflict
	}
	now := time.Now().UTC()
	e.Status = models.EntryStatusFailed
	e.ErrorDetail = &errorDetail
	e.FailedAt = &now
	return nil
}

func (m *memStore) ResetEntry(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	if e.Status != models.EntryStatusProcessing {
		return 0, store.ErrStateConflict
	}
	e.Status = models.EntryStatusQueued
	e.RetryCount++
	e.StartedAt = nil
	return e.RetryCount, nil
}

func (m *memStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var count int
	for _, e := range m.entries {
		if e.Status == models.EntryStatusProcessing && e.StartedAt != nil && e.StartedAt.Before(cutoff) {
			e.Status = models.EntryStatusQueued
			e.RetryCount++
			e.StartedAt = nil
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListStuck(ctx context.Context, olderThan time.Duration) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*models.QueueEntry
	for _, e := range m.entries {
		if e.Status == models.EntryStatusProcessing && e.StartedAt != nil && e.StartedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Purge(ctx context.Context, statuses []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, e := range m.entries {
		for _, s := range statuses {
			if e.Status == s {
				delete(m.entries, id)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}

func (m *memStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{
		models.EntryStatusQueued:     0,
		models.EntryStatusProcessing: 0,
		models.EntryStatusCompleted:  0,
		models.EntryStatusFailed:     0,
	}
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *memStore) CreateContract(ctx context.Context, c *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contracts = append(m.contracts, &cp)
	return nil
}

func (m *memStore) ListContractsWithDocuments(ctx context.Context, limit int) ([]*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Contract
	for _, c := range m.contracts {
		if len(c.ResourceLinks) == 0 {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) UpdateJob(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	now := time.Now().UTC()
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		j.CompletedAt = &now
	}
	return nil
}

var _ store.Store = (*memStore)(nil)

// memIndex is an in-memory index.Index with switchable failure modes.
type memIndex struct {
	mu       sync.Mutex
	content  map[string]string
	metadata map[string]map[string]string

	failExists bool
	failStore  bool
}

func newMemIndex() *memIndex {
	return &memIndex{
		content:  make(map[string]string),
		metadata: make(map[string]map[string]string),
	}
}

func (m *memIndex) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failExists {
		return false, context.DeadlineExceeded
	}
	_, ok := m.content[key]
	return ok, nil
}

func (m *memIndex) Get(ctx context.Context, key string) (string, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[key]
	if !ok {
		return "", nil, context.DeadlineExceeded
	}
	return c, m.metadata[key], nil
}

func (m *memIndex) Store(ctx context.Context, key, content string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStore {
		return context.DeadlineExceeded
	}
	m.content[key] = content
	m.metadata[key] = metadata
	return nil
}

func (m *memIndex) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.content)), nil
}

func (m *memIndex) Ping(ctx context.Context) error { return nil }

// memCache is a minimal in-memory cache.Cache.
type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMemCache() *memCache {
	return &memCache{statuses: make(map[uuid.UUID]string)}
}

func (m *memCache) Ping(ctx context.Context) error { return nil }

func (m *memCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[jobID] = status
	return nil
}

func (m *memCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[jobID]
	return s, ok, nil
}

func (m *memCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return 1, nil
}

// seedEntry inserts an entry directly into the store in the given status.
func seedEntry(m *memStore, status string, opts ...func(*models.QueueEntry)) *models.QueueEntry {
	e := &models.QueueEntry{
		ID:          uuid.New(),
		ContractRef: "N-" + uuid.NewString()[:8],
		DocumentURL: "https://docs.example.gov/" + uuid.NewString() + ".pdf",
		DisplayName: "test document",
		Status:      status,
		QueuedAt:    time.Now().UTC(),
	}
	if status == models.EntryStatusProcessing {
		now := time.Now().UTC()
		e.StartedAt = &now
	}
	for _, opt := range opts {
		opt(e)
	}
	m.mu.Lock()
	m.entries[e.ID] = e
	m.mu.Unlock()
	return e
}
