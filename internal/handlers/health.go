package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is a named dependency check reported by the health endpoint.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Health responds with status 200 when every check passes and 503 otherwise.
func Health(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[check.Name] = err.Error()
				continue
			}
			results[check.Name] = "ok"
		}

		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if status != http.StatusOK {
			payload["status"] = "degraded"
		}
		if len(results) > 0 {
			payload["checks"] = results
		}
		writeJSON(w, status, payload)
	}
}
