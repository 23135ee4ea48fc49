package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentKeyIsDeterministic(t *testing.T) {
	a := DocumentKey("N-001", "https://docs.example.gov/spec.pdf")
	b := DocumentKey("N-001", "https://docs.example.gov/spec.pdf")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDocumentKeyVariesPerPair(t *testing.T) {
	base := DocumentKey("N-001", "https://docs.example.gov/spec.pdf")

	assert.NotEqual(t, base, DocumentKey("N-002", "https://docs.example.gov/spec.pdf"))
	assert.NotEqual(t, base, DocumentKey("N-001", "https://docs.example.gov/terms.pdf"))

	// The separator keeps ambiguous concatenations apart.
	assert.NotEqual(t, DocumentKey("ab", "c"), DocumentKey("a", "bc"))
}

func TestElapsed(t *testing.T) {
	now := time.Now().UTC()

	e := &QueueEntry{Status: EntryStatusQueued}
	assert.Equal(t, time.Duration(0), e.Elapsed(now))

	started := now.Add(-5 * time.Minute)
	e = &QueueEntry{Status: EntryStatusProcessing, StartedAt: &started}
	assert.Equal(t, 5*time.Minute, e.Elapsed(now))
}

func TestTerminal(t *testing.T) {
	assert.False(t, (&QueueEntry{Status: EntryStatusQueued}).Terminal())
	assert.False(t, (&QueueEntry{Status: EntryStatusProcessing}).Terminal())
	assert.True(t, (&QueueEntry{Status: EntryStatusCompleted}).Terminal())
	assert.True(t, (&QueueEntry{Status: EntryStatusFailed}).Terminal())
}
