package docai

import "errors"

// Sentinel errors for document extraction failures. Handlers and the queue
// processor branch on these with errors.Is.
var (
	// ErrUnsupportedFormat marks documents the extraction service cannot
	// handle (archives, executables, raw binaries). Not retriable: repeating
	// the call can never succeed, so the queue excludes these from
	// retry-oriented alerting.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrUnavailable covers network and 5xx failures reaching the service.
	ErrUnavailable = errors.New("document service unavailable")

	// ErrTimeout marks a fetch that exceeded its deadline.
	ErrTimeout = errors.New("document extraction timeout")

	// ErrEmptyResult marks a nominally successful extraction that produced
	// no content. Treated as a failure: a completed entry must carry a
	// non-empty payload.
	ErrEmptyResult = errors.New("document extraction returned no content")
)
