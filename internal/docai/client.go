// Package docai is the client for the external document-AI extraction
// service. It takes a document URL and returns the extracted text content;
// the service downloads, OCRs and parses the document on its side.
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Fetcher is the collaborator interface consumed by the queue processor.
type Fetcher interface {
	Fetch(ctx context.Context, documentURL, displayName string) (*Result, error)
	Name() string
}

// Result is the extracted content for one document.
type Result struct {
	Content          string         `json:"content"`
	Pages            int            `json:"pages"`
	ProcessingMethod string         `json:"processing_method"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// unsupportedExtensions lists formats the extraction service rejects.
// Checked before any network work so archives never burn an external call.
var unsupportedExtensions = []string{
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".exe", ".dmg", ".iso",
}

// HTTPClient implements Fetcher against the extraction service's HTTP API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	client     *http.Client
}

// NewHTTPClient creates a new extraction service client. timeout bounds a
// single extraction round trip including retries.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *HTTPClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string {
	return "docai"
}

// Fetch submits a document for extraction and waits for the result.
// Transient transport and 5xx failures are retried with backoff; client
// errors and unsupported formats are not.
func (c *HTTPClient) Fetch(ctx context.Context, documentURL, displayName string) (*Result, error) {
	if err := checkSupported(documentURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result *Result
	err := retry.Do(
		func() error {
			r, err := c.fetchOnce(ctx, documentURL, displayName)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(2*time.Second),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrUnavailable)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) fetchOnce(ctx context.Context, documentURL, displayName string) (*Result, error) {
	body, err := json.Marshal(extractRequest{
		DocumentURL: documentURL,
		Filename:    displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%w: service rejected %q", ErrUnsupportedFormat, displayName)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("document extraction failed: status %d", resp.StatusCode)
	}

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}
	if !er.Success || strings.TrimSpace(er.Content) == "" {
		return nil, ErrEmptyResult
	}

	return &Result{
		Content:          er.Content,
		Pages:            er.Pages,
		ProcessingMethod: er.ProcessingMethod,
		Metadata:         er.Metadata,
	}, nil
}

// checkSupported rejects document URLs pointing at formats the extraction
// service cannot process.
func checkSupported(documentURL string) error {
	u, err := url.Parse(documentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid document URL %q", documentURL)
	}
	path := strings.ToLower(u.Path)
	for _, ext := range unsupportedExtensions {
		if strings.HasSuffix(path, ext) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

type extractRequest struct {
	DocumentURL string `json:"document_url"`
	Filename    string `json:"filename"`
}

type extractResponse struct {
	Success          bool           `json:"success"`
	Content          string         `json:"content"`
	Pages            int            `json:"pages"`
	ProcessingMethod string         `json:"processing_method"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Compile-time check that HTTPClient implements Fetcher.
var _ Fetcher = (*HTTPClient)(nil)
