// Package api assembles the HTTP router. Route handlers are injected so the
// router itself stays free of storage and queue concerns.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/harperwn/contraq/internal/api/middleware"
	"github.com/harperwn/contraq/internal/api/response"
)

// Dependencies carries the handlers the router mounts. Nil handlers respond
// 501 so the server can come up with a partial surface during development.
type Dependencies struct {
	Populate      http.HandlerFunc
	QueueStatus   http.HandlerFunc
	Process       http.HandlerFunc
	Clear         http.HandlerFunc
	JobStatus     http.HandlerFunc
	StuckList     http.HandlerFunc
	ResetEntry    http.HandlerFunc
	ResetAllStuck http.HandlerFunc
	Health        http.HandlerFunc

	RateLimit *mw.RateLimit
}

// NewRouter builds the chi router with logging, recovery, and rate limiting
// wired in.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(deps.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", orNotImplemented(deps.QueueStatus))

			// Mutating endpoints sit behind the rate limiter.
			r.Group(func(r chi.Router) {
				if deps.RateLimit != nil {
					r.Use(deps.RateLimit.Limit)
				}
				r.Post("/", orNotImplemented(deps.Populate))
				r.Post("/process", orNotImplemented(deps.Process))
				r.Post("/clear", orNotImplemented(deps.Clear))
			})
		})

		r.Get("/jobs/{jobID}", orNotImplemented(deps.JobStatus))

		r.Route("/admin/queue", func(r chi.Router) {
			r.Get("/stuck", orNotImplemented(deps.StuckList))
			r.Post("/reset/{entryID}", orNotImplemented(deps.ResetEntry))
			r.Post("/reset-all-stuck", orNotImplemented(deps.ResetAllStuck))
		})
	})

	return r
}

func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented,
			"NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
