// Package index is the content-index collaborator. Extracted document
// content is persisted here keyed by the same dedup key the queue uses, so
// an existence check is enough to skip re-fetching an already-processed
// document.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index is the document index interface. Implementations must be safe for
// concurrent use. Failures are transient from the queue's perspective: an
// entry is never marked completed without a confirmed Store.
type Index interface {
	Exists(ctx context.Context, documentKey string) (bool, error)
	Get(ctx context.Context, documentKey string) (content string, metadata map[string]string, err error)
	Store(ctx context.Context, documentKey, content string, metadata map[string]string) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// ErrNotIndexed is returned by Get when no content exists for the key.
var ErrNotIndexed = errors.New("document not indexed")

const keySetName = "docindex:keys"

func documentKeyName(documentKey string) string {
	return fmt.Sprintf("docindex:doc:%s", documentKey)
}

// RedisIndex implements Index using go-redis/v9.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex creates a RedisIndex from a Redis URL.
func NewRedisIndex(redisURL string) (*RedisIndex, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisIndex{client: redis.NewClient(opts)}, nil
}

func (i *RedisIndex) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

func (i *RedisIndex) Close() error {
	return i.client.Close()
}

// Exists checks whether content for the document key is already indexed.
func (i *RedisIndex) Exists(ctx context.Context, documentKey string) (bool, error) {
	ok, err := i.client.SIsMember(ctx, keySetName, documentKey).Result()
	if err != nil {
		return false, fmt.Errorf("index exists check: %w", err)
	}
	return ok, nil
}

// Get returns previously indexed content and metadata for the key.
func (i *RedisIndex) Get(ctx context.Context, documentKey string) (string, map[string]string, error) {
	fields, err := i.client.HGetAll(ctx, documentKeyName(documentKey)).Result()
	if err != nil {
		return "", nil, fmt.Errorf("index get: %w", err)
	}
	if len(fields) == 0 {
		return "", nil, ErrNotIndexed
	}

	metadata := map[string]string{}
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return "", nil, fmt.Errorf("decode index metadata: %w", err)
		}
	}
	return fields["content"], metadata, nil
}

// Store persists extracted content and its metadata. The key-set membership
// is written in the same pipeline as the content, so Exists never observes
// a key whose content is missing.
func (i *RedisIndex) Store(ctx context.Context, documentKey, content string, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode index metadata: %w", err)
	}

	pipe := i.client.TxPipeline()
	pipe.HSet(ctx, documentKeyName(documentKey), map[string]any{
		"content":    content,
		"metadata":   string(meta),
		"indexed_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.SAdd(ctx, keySetName, documentKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index store: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (i *RedisIndex) Count(ctx context.Context) (int64, error) {
	n, err := i.client.SCard(ctx, keySetName).Result()
	if err != nil {
		return 0, fmt.Errorf("index count: %w", err)
	}
	return n, nil
}

// Compile-time check that RedisIndex implements Index.
var _ Index = (*RedisIndex)(nil)
