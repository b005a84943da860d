package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

// ServeHTTP godoc
// @Summary Health Check
// @Description Check if the service and its dependencies are up and running.
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "{"status": "ok"}"
// @Failure 503 {object} map[string]interface{} "{"status": "degraded"}"
// @Router /health [get]
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]interface{}{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(results) > 0 {
		body["checks"] = results
	}

	JSON(w, r, status, body)
}

func RegisterHealthHandler(mux *http.ServeMux, checks map[string]HealthCheck) {
	mux.Handle("GET /health", &HealthHandler{checks: checks})
}
