package mock

import (
	"context"
	"fmt"

	"github.com/harperwn/contraq/internal/docai"
)

// MockFetcher satisfies docai.Fetcher for testing.
type MockFetcher struct {
	Name_     string
	FetchFunc func(ctx context.Context, documentURL, displayName string) (*docai.Result, error)
}

func (m *MockFetcher) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *MockFetcher) Fetch(ctx context.Context, documentURL, displayName string) (*docai.Result, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, documentURL, displayName)
	}
	return &docai.Result{
		Content:          fmt.Sprintf("extracted content for %s", displayName),
		Pages:            1,
		ProcessingMethod: "mock",
	}, nil
}

// NewFailingFetcher returns a MockFetcher that always returns the given error.
func NewFailingFetcher(err error) *MockFetcher {
	return &MockFetcher{
		Name_: "mock-failing",
		FetchFunc: func(_ context.Context, _, _ string) (*docai.Result, error) {
			return nil, err
		},
	}
}

// NewBlockingFetcher returns a MockFetcher that blocks until the context is
// cancelled, simulating a hung extraction call.
func NewBlockingFetcher() *MockFetcher {
	return &MockFetcher{
		Name_: "mock-blocking",
		FetchFunc: func(ctx context.Context, _, _ string) (*docai.Result, error) {
			<-ctx.Done()
			return nil, docai.ErrTimeout
		},
	}
}

// Compile-time check that MockFetcher implements Fetcher.
var _ docai.Fetcher = (*MockFetcher)(nil)
