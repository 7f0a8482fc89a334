package api

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck is one dependency consulted by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const readinessTimeout = 5 * time.Second

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz.
// Runs every check and returns 200 if all pass, 503 with a Retry-After
// header and the failing checks otherwise.
func ReadyzHandler(checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		failed := make(map[string]string)
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				failed[c.Name] = err.Error()
			}
		}

		if len(failed) > 0 {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"checks": failed,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
