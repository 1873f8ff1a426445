// Package http is a chi-routed long-poll transport fronting the manager,
// meant for local development and manual testing rather than production
// consumer traffic (spec §6.2 names the consumer-facing transport opaque;
// this is one dev-only implementation of it).
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/manager"
)

// pollInterval is how often a blocked /events request re-checks for new
// data before its own request context expires.
const pollInterval = 250 * time.Millisecond

// NewRouter builds the dev HTTP surface:
//
//	GET /connections/{alias}/events?after={id}&instance={id}&wait={duration}
//	GET /connections/{alias}/status?instance={id}
//	GET /status
func NewRouter(mgr *manager.Manager) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/connections/{alias}/events", handleEvents(mgr))
	r.Get("/connections/{alias}/status", handleConnectionStatus(mgr))
	r.Get("/status", handleAllStatus(mgr))

	return r
}

func handleEvents(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "alias")
		instance := r.URL.Query().Get("instance")

		afterID := int64(-1)
		if v := r.URL.Query().Get("after"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid after id", http.StatusBadRequest)
				return
			}
			afterID = parsed
		}

		wait := time.Duration(0)
		if v := r.URL.Query().Get("wait"); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				http.Error(w, "invalid wait duration", http.StatusBadRequest)
				return
			}
			wait = parsed
		}

		deadline := time.Now().Add(wait)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			events, err := mgr.ListEvents(alias, afterID, instance)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			if len(events) > 0 || wait == 0 || time.Now().After(deadline) {
				writeJSON(w, http.StatusOK, events)
				return
			}

			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func handleConnectionStatus(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "alias")
		statuses := mgr.Status(alias)
		if instance := r.URL.Query().Get("instance"); instance != "" {
			filtered := statuses[:0]
			for _, s := range statuses {
				if s.InstanceID == instance {
					filtered = append(filtered, s)
				}
			}
			statuses = filtered
		}
		if len(statuses) == 0 {
			http.Error(w, "unknown connection", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

func handleAllStatus(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mgr.Status(""))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
